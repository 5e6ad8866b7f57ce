// Package rules holds the tunable business rules for the resolution
// pipeline: escalation thresholds, dissatisfaction patterns, and the
// authority ceiling for automated execution. Values ship with defaults and
// can be overridden from a YAML file.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the full rule set consulted by the triage, solution, and action
// stages. All thresholds are configuration, not code.
type Rules struct {
	// SentimentThreshold is the minimum sentiment score (alert and stored
	// transcript both) for an interaction to count as high severity.
	SentimentThreshold float64 `yaml:"sentiment_threshold"`

	// SeverityThreshold is the secondary cutoff for the severity score
	// derived independently from the transcript text.
	SeverityThreshold float64 `yaml:"severity_threshold"`

	// LTVThreshold is the lifetime-value dollar amount above which a
	// customer counts as high value regardless of tier.
	LTVThreshold float64 `yaml:"ltv_threshold"`

	// EscalateTiers are customer tiers that count as high value on their own.
	EscalateTiers []string `yaml:"escalate_tiers"`

	// DissatisfactionPatterns are case-insensitive regular expressions
	// matched against the transcript for explicit dissatisfaction.
	DissatisfactionPatterns []string `yaml:"dissatisfaction_patterns"`

	// SeverityMarkers feed the derived severity score: the score is the
	// fraction of markers present in the transcript.
	SeverityMarkers []string `yaml:"severity_markers"`

	// AuthorityCeiling is the highest solution authority level the action
	// stage may execute without human approval.
	AuthorityCeiling int `yaml:"authority_ceiling"`

	// MinPolicyRelevance is the floor below which policy search results are
	// treated as no coverage.
	MinPolicyRelevance float64 `yaml:"min_policy_relevance"`

	// PolicyTopK is how many policy passages the solution stage requests.
	PolicyTopK int `yaml:"policy_top_k"`

	patterns []*regexp.Regexp
}

// Default returns the rule set used when no rules file is configured.
func Default() *Rules {
	r := &Rules{
		SentimentThreshold: 0.8,
		SeverityThreshold:  0.5,
		LTVThreshold:       500,
		EscalateTiers:      []string{"Gold", "VIP"},
		DissatisfactionPatterns: []string{
			`never (shopping|buying|ordering) .*again`,
			`never again`,
			`worst experience`,
			`reporting you`,
			`cancel my account`,
			`speak (to|with) (a |your )?manager`,
			`switch(ing)? to (a )?competitor`,
		},
		SeverityMarkers: []string{
			"refund", "unacceptable", "furious", "terrible",
			"lawsuit", "chargeback", "disgusted", "scam",
		},
		AuthorityCeiling:   2,
		MinPolicyRelevance: 0.35,
		PolicyTopK:         5,
	}
	if err := r.compile(); err != nil {
		panic(err) // defaults must compile
	}
	return r
}

// Load reads a rule set from a YAML file. Fields absent from the file keep
// their defaults.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	r := Default()
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks threshold sanity.
func (r *Rules) Validate() error {
	if r.SentimentThreshold < 0 || r.SentimentThreshold > 1 {
		return fmt.Errorf("sentiment_threshold %v out of range [0,1]", r.SentimentThreshold)
	}
	if r.SeverityThreshold < 0 || r.SeverityThreshold > 1 {
		return fmt.Errorf("severity_threshold %v out of range [0,1]", r.SeverityThreshold)
	}
	if r.LTVThreshold < 0 {
		return fmt.Errorf("ltv_threshold must not be negative")
	}
	if r.MinPolicyRelevance < 0 || r.MinPolicyRelevance > 1 {
		return fmt.Errorf("min_policy_relevance %v out of range [0,1]", r.MinPolicyRelevance)
	}
	if r.PolicyTopK <= 0 {
		return fmt.Errorf("policy_top_k must be positive")
	}
	if r.AuthorityCeiling < 0 {
		return fmt.Errorf("authority_ceiling must not be negative")
	}
	return nil
}

func (r *Rules) compile() error {
	r.patterns = r.patterns[:0]
	for _, p := range r.DissatisfactionPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("dissatisfaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return nil
}

// HighValueTier reports whether the tier alone marks a customer high value.
func (r *Rules) HighValueTier(tier string) bool {
	for _, t := range r.EscalateTiers {
		if strings.EqualFold(t, tier) {
			return true
		}
	}
	return false
}

// MatchesDissatisfaction reports whether the transcript contains at least one
// explicit dissatisfaction pattern.
func (r *Rules) MatchesDissatisfaction(text string) bool {
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// SeverityScore derives a severity score in [0,1] from the transcript text:
// the fraction of configured severity markers present. Deterministic.
func (r *Rules) SeverityScore(text string) float64 {
	if len(r.SeverityMarkers) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	var hits int
	for _, m := range r.SeverityMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			hits++
		}
	}
	return float64(hits) / float64(len(r.SeverityMarkers))
}
