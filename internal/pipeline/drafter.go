package pipeline

import (
	"context"

	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/tools"
)

// CaseContext is the read view handed to the drafter and the action stage:
// everything gathered about the case, nothing writable.
type CaseContext struct {
	Alert     alert.Alert
	Verdict   TriageVerdict
	Passages  []tools.PolicyPassage
	Order     *tools.OrderStatus
	Inventory map[string]int // sku -> available qty
	Token     string
}

// Drafter is the opaque language capability behind the pipeline: it proposes
// candidate solutions and drafts customer-facing messages. Control logic
// never depends on how the drafter reasons, only on its typed output. A nil
// drafter is valid; the stages fall back to deterministic behavior.
type Drafter interface {
	// ProposeSolutions returns candidate remediations for the case. Rank,
	// RequiresApproval, and final ordering are the solution stage's job;
	// proposals only need ActionType, Params, Impact, Cost, Explanation.
	ProposeSolutions(ctx context.Context, cc *CaseContext) ([]Solution, error)

	// DraftMessage writes the customer-facing message describing the
	// executed remedy.
	DraftMessage(ctx context.Context, cc *CaseContext, executed *Solution) (string, error)
}

// AuditSink receives the audit record of every finished case. The exact
// downstream (topic, log pipeline, warehouse) is a collaborator concern.
type AuditSink interface {
	Emit(ctx context.Context, rec *AuditRecord) error
}

// Notifier alerts operators about cases needing human attention
// (PendingApproval, Failed).
type Notifier interface {
	Send(ctx context.Context, c *CaseRecord) error
}
