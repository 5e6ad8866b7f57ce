package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/gateway"
	"github.com/linnemanlabs/redress/internal/rules"
	"github.com/linnemanlabs/redress/internal/tools"
)

// TriageStage validates an alert against customer value and transcript
// severity and decides escalate vs. suppress. Read-only: no side effects.
type TriageStage struct {
	gw     *gateway.Gateway
	rules  *rules.Rules
	logger log.Logger
}

// NewTriageStage creates the triage stage.
func NewTriageStage(gw *gateway.Gateway, r *rules.Rules, logger log.Logger) *TriageStage {
	if logger == nil {
		logger = log.Nop()
	}
	return &TriageStage{gw: gw, rules: r, logger: logger}
}

// Run fetches the customer profile and the transcript (concurrently, both
// are independent reads) and applies the escalation rule. Escalate only if
// all three hold:
//  1. the alert's sentiment, re-confirmed against the stored transcript's
//     own sentiment, exceeds the high-severity threshold;
//  2. the customer is high value (LTV above threshold or escalating tier);
//  3. the transcript matches an explicit dissatisfaction pattern, or its
//     derived severity exceeds the secondary threshold.
//
// A lookup failing irrecoverably fails the stage; triage never guesses a
// default verdict.
func (s *TriageStage) Run(ctx context.Context, al *alert.Alert) (*TriageVerdict, error) {
	var (
		profile    *tools.CustomerProfile
		transcript *tools.Transcript
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := tools.LookupCustomer(gctx, s.gw, al.CustomerID)
		if err != nil {
			return fmt.Errorf("customer lookup: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		t, err := tools.FetchTranscript(gctx, s.gw, al.TranscriptID)
		if err != nil {
			return fmt.Errorf("transcript fetch: %w", err)
		}
		transcript = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	severity := s.rules.SeverityScore(transcript.Text)
	verdict := &TriageVerdict{
		CustomerTier:  profile.Tier,
		SeverityScore: severity,
		Profile:       profile,
		Transcript:    transcript,
		Category:      classifyIssue(transcript.Text),
	}

	sentimentConfirmed := al.SentimentScore > s.rules.SentimentThreshold &&
		transcript.SentimentScore > s.rules.SentimentThreshold
	highValue := profile.LifetimeValue > s.rules.LTVThreshold || s.rules.HighValueTier(profile.Tier)
	dissatisfied := s.rules.MatchesDissatisfaction(transcript.Text) ||
		severity > s.rules.SeverityThreshold

	switch {
	case !sentimentConfirmed:
		verdict.Reason = "sentiment below high-severity threshold"
	case !highValue:
		verdict.Reason = "customer below value threshold"
	case !dissatisfied:
		verdict.Reason = "no explicit dissatisfaction found in transcript"
	default:
		verdict.Escalate = true
		verdict.Reason = fmt.Sprintf("high-value %s customer with confirmed severe dissatisfaction", profile.Tier)
	}

	s.logger.Info(ctx, "triage verdict",
		"customer_id", al.CustomerID,
		"escalate", verdict.Escalate,
		"reason", verdict.Reason,
		"tier", profile.Tier,
		"severity", severity,
	)
	return verdict, nil
}
