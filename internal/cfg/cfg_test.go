package cfg

import (
	"flag"
	"math"
	"reflect"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:           60,
		ShutdownBudgetSeconds:  90,
		APIPort:                8080,
		CRMEndpoint:            "http://crm",
		TranscriptEndpoint:     "http://transcripts",
		PolicyEndpoint:         "http://policy",
		FulfillmentEndpoint:    "http://fulfillment",
		PaymentEndpoint:        "http://payments",
		NotifyEndpoint:         "http://notify",
		ClaudeModel:            "claude-sonnet-4-20250514",
		ToolTimeoutSeconds:     10,
		ToolMaxAttempts:        4,
		TriageTimeoutSeconds:   30,
		SolutionTimeoutSeconds: 60,
		ActionTimeoutSeconds:   120,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.AlertsTopic != "sentiment-alerts" {
		t.Errorf("AlertsTopic = %q, want %q", c.AlertsTopic, "sentiment-alerts")
	}
	if c.ToolMaxAttempts != 4 {
		t.Errorf("ToolMaxAttempts = %d, want 4", c.ToolMaxAttempts)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-crm-endpoint", "http://crm.internal",
		"-kafka-brokers", "broker-1:9092,broker-2:9092",
		"-claude-api-key", "sk-override",
		"-tool-max-attempts", "6",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.CRMEndpoint != "http://crm.internal" {
		t.Errorf("CRMEndpoint = %q, want %q", c.CRMEndpoint, "http://crm.internal")
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.ToolMaxAttempts != 6 {
		t.Errorf("ToolMaxAttempts = %d, want 6", c.ToolMaxAttempts)
	}
	want := []string{"broker-1:9092", "broker-2:9092"}
	if got := c.Brokers(); !reflect.DeepEqual(got, want) {
		t.Errorf("Brokers() = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "base is valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			mutate:    func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 302 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget zero",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port zero",
			mutate:    func(c *Config) { c.APIPort = 0 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			mutate:    func(c *Config) { c.APIPort = 65536 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "empty crm endpoint",
			mutate:    func(c *Config) { c.CRMEndpoint = "" },
			wantErr:   true,
			errSubstr: []string{"CRM_ENDPOINT"},
		},
		{
			name:      "empty payment endpoint",
			mutate:    func(c *Config) { c.PaymentEndpoint = "" },
			wantErr:   true,
			errSubstr: []string{"PAYMENT_ENDPOINT"},
		},
		{
			name:      "claude key without model",
			mutate:    func(c *Config) { c.ClaudeAPIKey = "sk-x"; c.ClaudeModel = "" },
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:    "no claude key is valid",
			mutate:  func(c *Config) { c.ClaudeAPIKey = ""; c.ClaudeModel = "" },
			wantErr: false,
		},
		{
			name:      "brokers without topic",
			mutate:    func(c *Config) { c.KafkaBrokers = "b:9092"; c.AlertsTopic = "" },
			wantErr:   true,
			errSubstr: []string{"ALERTS_TOPIC"},
		},
		{
			name:      "brokers without group",
			mutate:    func(c *Config) { c.KafkaBrokers = "b:9092"; c.ConsumerGroup = "" },
			wantErr:   true,
			errSubstr: []string{"CONSUMER_GROUP"},
		},
		{
			name:      "malformed api tokens",
			mutate:    func(c *Config) { c.APITokens = "justatoken" },
			wantErr:   true,
			errSubstr: []string{"API_TOKENS"},
		},
		{
			name:    "well-formed api tokens",
			mutate:  func(c *Config) { c.APITokens = "tok-1=alice, tok-2=bob" },
			wantErr: false,
		},
		{
			name:      "tool timeout above max",
			mutate:    func(c *Config) { c.ToolTimeoutSeconds = 121 },
			wantErr:   true,
			errSubstr: []string{"TOOL_TIMEOUT_SECONDS"},
		},
		{
			name:      "tool attempts zero",
			mutate:    func(c *Config) { c.ToolMaxAttempts = 0 },
			wantErr:   true,
			errSubstr: []string{"TOOL_MAX_ATTEMPTS"},
		},
		{
			name:      "triage timeout zero",
			mutate:    func(c *Config) { c.TriageTimeoutSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"TRIAGE_TIMEOUT_SECONDS"},
		},
		{
			name:      "action timeout above max",
			mutate:    func(c *Config) { c.ActionTimeoutSeconds = 601 },
			wantErr:   true,
			errSubstr: []string{"ACTION_TIMEOUT_SECONDS"},
		},
		{
			name: "all fields invalid accumulate",
			mutate: func(c *Config) {
				*c = Config{DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32, APIPort: math.MinInt32}
			},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"CRM_ENDPOINT", "PAYMENT_ENDPOINT", "NOTIFY_ENDPOINT",
				"TOOL_TIMEOUT_SECONDS", "TOOL_MAX_ATTEMPTS",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    map[string]string
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single", "tok=ops", map[string]string{"tok": "ops"}, false},
		{"multiple with spaces", "a=alice, b=bob", map[string]string{"a": "alice", "b": "bob"}, false},
		{"trailing comma", "a=alice,", map[string]string{"a": "alice"}, false},
		{"missing principal", "a=", nil, true},
		{"missing separator", "alice", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Config{APITokens: tt.in}
			got, err := c.Tokens()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Tokens() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokens() = %v, want %v", got, tt.want)
			}
		})
	}
}

func FuzzValidateBudgets(f *testing.F) {
	seeds := []struct{ drain, budget, port int }{
		{60, 90, 8080},
		{1, 2, 1},
		{299, 300, 65535},
		{0, 0, 0},
		{-1, -1, -1},
		{300, 300, 65535},
		{301, 302, 65536},
		{150, 100, 8080},
		{math.MinInt32, math.MinInt32, math.MinInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain

		allValid := drainOK && budgetOK && portOK && crossOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
