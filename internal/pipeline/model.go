package pipeline

import (
	"time"

	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/tools"
)

// Stage tracks where a case is in its lifecycle.
type Stage string

const (
	// StageReceived means the alert was accepted and nothing has run yet.
	StageReceived Stage = "received"

	// StageTriaged means triage decided escalation is warranted.
	StageTriaged Stage = "triaged"

	// StageSolved means ranked solutions were produced.
	StageSolved Stage = "solved"

	// StageActed means a solution executed; closure is pending.
	StageActed Stage = "acted"

	// StageClosed means the case finished successfully.
	StageClosed Stage = "closed"

	// StageSuppressed means triage decided escalation was not warranted.
	StageSuppressed Stage = "suppressed"

	// StagePendingApproval means the chosen solution exceeds the automated
	// authority ceiling and waits for an external decision.
	StagePendingApproval Stage = "pending_approval"

	// StageFailed means an irrecoverable stage error. Retained with full
	// audit trail for manual follow-up.
	StageFailed Stage = "failed"
)

// Terminal reports whether the stage is immutable once reached.
// PendingApproval blocks the automated pipeline but stays mutable: an
// external approval decision moves it forward.
func (s Stage) Terminal() bool {
	return s == StageClosed || s == StageSuppressed || s == StageFailed
}

// ActionType is the closed set of remediation actions. Declaration order is
// the deterministic ranking tie-break, so new types go at the end.
type ActionType string

const (
	ActionRefund   ActionType = "refund"
	ActionCredit   ActionType = "credit"
	ActionReship   ActionType = "reship"
	ActionExpedite ActionType = "expedite"
	ActionCoupon   ActionType = "coupon"
	ActionNone     ActionType = "no_action"
)

var actionOrder = map[ActionType]int{
	ActionRefund:   0,
	ActionCredit:   1,
	ActionReship:   2,
	ActionExpedite: 3,
	ActionCoupon:   4,
	ActionNone:     5,
}

// Order returns the tie-break position of the action type. Unknown types
// sort last.
func (t ActionType) Order() int {
	if o, ok := actionOrder[t]; ok {
		return o
	}
	return len(actionOrder)
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	_, ok := actionOrder[t]
	return ok
}

// TriageVerdict is the triage stage's output: the escalation decision plus
// the customer and transcript context the later stages work from.
type TriageVerdict struct {
	Escalate      bool    `json:"escalate"`
	Reason        string  `json:"reason"`
	CustomerTier  string  `json:"customer_tier"`
	SeverityScore float64 `json:"severity_score"`

	Profile    *tools.CustomerProfile `json:"profile,omitempty"`
	Transcript *tools.Transcript      `json:"transcript,omitempty"`
	Category   string                 `json:"category,omitempty"`
}

// Solution is one candidate remediation with everything needed to execute it.
type Solution struct {
	ActionType ActionType     `json:"action_type"`
	Params     map[string]any `json:"params,omitempty"`

	// AuthorityLevel is the approval tier required to execute this remedy.
	// Above the configured ceiling the solution needs a human.
	AuthorityLevel int `json:"authority_level"`

	// Rank is the execution order, 0 first. Assigned by the solution stage.
	Rank int `json:"rank"`

	// Impact and Cost are the ranking inputs: expected satisfaction impact
	// from policy authority match, and estimated dollar cost.
	Impact float64 `json:"impact"`
	Cost   float64 `json:"cost"`

	Explanation      string `json:"explanation,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`

	// Reason is set for no-action solutions, e.g. "insufficient policy coverage".
	Reason string `json:"reason,omitempty"`
}

// ParamString returns a string parameter, or "" when absent.
func (s *Solution) ParamString(key string) string {
	v, _ := s.Params[key].(string)
	return v
}

// ParamFloat returns a numeric parameter, or 0 when absent. JSON decoding
// stores numbers as float64.
func (s *Solution) ParamFloat(key string) float64 {
	switch v := s.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Action outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// ActionResult is the action stage's output.
type ActionResult struct {
	ExecutedSolution *Solution `json:"executed_solution,omitempty"`

	// ExternalTransactionID is the provider's ID for the side-effecting
	// call (payment transaction, shipment), empty for no-action.
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`

	CommunicationStatus string `json:"communication_status,omitempty"`
	Outcome             string `json:"outcome"`
	FailureReason       string `json:"failure_reason,omitempty"`
}

// Transition is one audit-trail entry: a stage change with reasoning.
type Transition struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// CaseRecord is the durable working state for one alert. Owned exclusively
// by the orchestrator; stages receive read views and return results, never
// mutating the record directly.
type CaseRecord struct {
	ID    string      `json:"id"`
	Alert alert.Alert `json:"alert"`
	Stage Stage       `json:"stage"`

	Verdict   *TriageVerdict `json:"verdict,omitempty"`
	Solutions []Solution     `json:"solutions,omitempty"`
	Result    *ActionResult  `json:"result,omitempty"`

	Audit []Transition `json:"audit"`

	// Token is the case idempotency token derived from the alert identity.
	Token string `json:"token"`

	// Version is the optimistic-concurrency token enforced by the store.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the alert identity key the case is deduplicated on.
func (c *CaseRecord) Key() string { return c.Alert.Key() }

// Clone returns a deep copy, so stores can hand out records without
// aliasing their internal state.
func (c *CaseRecord) Clone() *CaseRecord {
	cp := *c
	if c.Verdict != nil {
		v := *c.Verdict
		if c.Verdict.Profile != nil {
			p := *c.Verdict.Profile
			v.Profile = &p
		}
		if c.Verdict.Transcript != nil {
			tr := *c.Verdict.Transcript
			v.Transcript = &tr
		}
		cp.Verdict = &v
	}
	if c.Result != nil {
		r := *c.Result
		if c.Result.ExecutedSolution != nil {
			s := *c.Result.ExecutedSolution
			r.ExecutedSolution = &s
		}
		cp.Result = &r
	}
	cp.Solutions = append([]Solution(nil), c.Solutions...)
	cp.Audit = append([]Transition(nil), c.Audit...)
	return &cp
}

// Transition moves the case to a new stage and appends the audit entry.
func (c *CaseRecord) Transition(to Stage, note string) {
	c.Audit = append(c.Audit, Transition{From: c.Stage, To: to, At: time.Now().UTC(), Note: note})
	c.Stage = to
}

// PendingSolution returns the solution awaiting approval, if any.
func (c *CaseRecord) PendingSolution() *Solution {
	for i := range c.Solutions {
		if c.Solutions[i].RequiresApproval {
			return &c.Solutions[i]
		}
	}
	return nil
}

// AuditRecord is the structured record emitted for every finished case.
type AuditRecord struct {
	CaseID           string        `json:"case_id"`
	Alert            alert.Alert   `json:"alert"`
	FinalState       Stage         `json:"final_state"`
	StageHistory     []Transition  `json:"stage_history"`
	ExecutedSolution *Solution     `json:"executed_solution,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	FinishedAt       time.Time     `json:"finished_at"`
}

// NewAuditRecord builds the outbound audit record for a case.
func NewAuditRecord(c *CaseRecord) *AuditRecord {
	rec := &AuditRecord{
		CaseID:       c.ID,
		Alert:        c.Alert,
		FinalState:   c.Stage,
		StageHistory: c.Audit,
		CreatedAt:    c.CreatedAt,
		FinishedAt:   time.Now().UTC(),
	}
	if c.Result != nil {
		rec.ExecutedSolution = c.Result.ExecutedSolution
	}
	return rec
}
