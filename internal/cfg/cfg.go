// Package cfg holds the application-level configuration for the redress
// server, following the shared Registerable/Validatable flag conventions.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds redress-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string
	RedisURL    string
	RulesFile   string

	ClaudeAPIKey string
	ClaudeModel  string

	SlackWebhookURL string

	KafkaBrokers  string
	AlertsTopic   string
	AuditTopic    string
	ConsumerGroup string

	APITokens string

	CRMEndpoint         string
	CRMAPIKey           string
	TranscriptEndpoint  string
	TranscriptAPIKey    string
	PolicyEndpoint      string
	PolicyAPIKey        string
	FulfillmentEndpoint string
	FulfillmentAPIKey   string
	PaymentEndpoint     string
	PaymentAPIKey       string
	NotifyEndpoint      string
	NotifyAPIKey        string

	ToolTimeoutSeconds     int
	ToolMaxAttempts        int
	TriageTimeoutSeconds   int
	SolutionTimeoutSeconds int
	ActionTimeoutSeconds   int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory case store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis connection URL for the idempotency ledger (empty = in-memory ledger)")
	fs.StringVar(&c.RulesFile, "rules-file", "", "path to the YAML escalation rules file (empty = built-in defaults)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude drafter (empty = deterministic fallbacks only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for attention notifications")

	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka broker addresses (empty = HTTP ingest only)")
	fs.StringVar(&c.AlertsTopic, "alerts-topic", "sentiment-alerts", "Kafka topic for inbound sentiment alerts")
	fs.StringVar(&c.AuditTopic, "audit-topic", "case-audit", "Kafka topic for finished-case audit records")
	fs.StringVar(&c.ConsumerGroup, "consumer-group", "redress", "Kafka consumer group for alert ingest")

	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated token=principal pairs for API bearer auth (empty = no auth)")

	fs.StringVar(&c.CRMEndpoint, "crm-endpoint", "", "CRM API base URL (customer profiles, notes, orders)")
	fs.StringVar(&c.CRMAPIKey, "crm-api-key", "", "CRM API bearer token")
	fs.StringVar(&c.TranscriptEndpoint, "transcript-endpoint", "", "transcript service base URL")
	fs.StringVar(&c.TranscriptAPIKey, "transcript-api-key", "", "transcript service bearer token")
	fs.StringVar(&c.PolicyEndpoint, "policy-endpoint", "", "policy search service base URL")
	fs.StringVar(&c.PolicyAPIKey, "policy-api-key", "", "policy search service bearer token")
	fs.StringVar(&c.FulfillmentEndpoint, "fulfillment-endpoint", "", "fulfillment API base URL (inventory, shipments)")
	fs.StringVar(&c.FulfillmentAPIKey, "fulfillment-api-key", "", "fulfillment API bearer token")
	fs.StringVar(&c.PaymentEndpoint, "payment-endpoint", "", "payment provider base URL")
	fs.StringVar(&c.PaymentAPIKey, "payment-api-key", "", "payment provider bearer token")
	fs.StringVar(&c.NotifyEndpoint, "notify-endpoint", "", "customer messaging provider base URL")
	fs.StringVar(&c.NotifyAPIKey, "notify-api-key", "", "customer messaging provider bearer token")

	fs.IntVar(&c.ToolTimeoutSeconds, "tool-timeout-seconds", 10, "per-attempt timeout for gateway tool calls (1..120)")
	fs.IntVar(&c.ToolMaxAttempts, "tool-max-attempts", 4, "max attempts per gateway tool call (1..10)")
	fs.IntVar(&c.TriageTimeoutSeconds, "triage-timeout-seconds", 30, "triage stage deadline (1..600)")
	fs.IntVar(&c.SolutionTimeoutSeconds, "solution-timeout-seconds", 60, "solution stage deadline (1..600)")
	fs.IntVar(&c.ActionTimeoutSeconds, "action-timeout-seconds", 120, "action stage deadline (1..600)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Provider endpoints the pipeline cannot run without
	if c.CRMEndpoint == "" {
		errs = append(errs, errors.New("CRM_ENDPOINT is required"))
	}
	if c.TranscriptEndpoint == "" {
		errs = append(errs, errors.New("TRANSCRIPT_ENDPOINT is required"))
	}
	if c.PolicyEndpoint == "" {
		errs = append(errs, errors.New("POLICY_ENDPOINT is required"))
	}
	if c.PaymentEndpoint == "" {
		errs = append(errs, errors.New("PAYMENT_ENDPOINT is required"))
	}
	if c.FulfillmentEndpoint == "" {
		errs = append(errs, errors.New("FULFILLMENT_ENDPOINT is required"))
	}
	if c.NotifyEndpoint == "" {
		errs = append(errs, errors.New("NOTIFY_ENDPOINT is required"))
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.KafkaBrokers != "" {
		if c.AlertsTopic == "" {
			errs = append(errs, errors.New("ALERTS_TOPIC is required when KAFKA_BROKERS is set"))
		}
		if c.ConsumerGroup == "" {
			errs = append(errs, errors.New("CONSUMER_GROUP is required when KAFKA_BROKERS is set"))
		}
	}

	if _, err := c.Tokens(); err != nil {
		errs = append(errs, err)
	}

	if c.ToolTimeoutSeconds <= 0 || c.ToolTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid TOOL_TIMEOUT_SECONDS %d (must be 1..120)", c.ToolTimeoutSeconds))
	}
	if c.ToolMaxAttempts <= 0 || c.ToolMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid TOOL_MAX_ATTEMPTS %d (must be 1..10)", c.ToolMaxAttempts))
	}
	for _, v := range []struct {
		name string
		val  int
	}{
		{"TRIAGE_TIMEOUT_SECONDS", c.TriageTimeoutSeconds},
		{"SOLUTION_TIMEOUT_SECONDS", c.SolutionTimeoutSeconds},
		{"ACTION_TIMEOUT_SECONDS", c.ActionTimeoutSeconds},
	} {
		if v.val <= 0 || v.val > 600 {
			errs = append(errs, fmt.Errorf("invalid %s %d (must be 1..600)", v.name, v.val))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Brokers splits the broker list, dropping empty entries.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Tokens parses the api-tokens flag into a token -> principal map.
func (c *Config) Tokens() (map[string]string, error) {
	if c.APITokens == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(c.APITokens, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, principal, ok := strings.Cut(pair, "=")
		if !ok || tok == "" || principal == "" {
			return nil, fmt.Errorf("invalid API_TOKENS entry %q (want token=principal)", pair)
		}
		out[tok] = principal
	}
	return out, nil
}
