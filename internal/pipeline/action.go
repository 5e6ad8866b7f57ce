package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/redress/internal/gateway"
	"github.com/linnemanlabs/redress/internal/tools"
)

// executor dispatches one action type to its gateway tool. The table is the
// closed mapping from the ActionType enum to external calls; there is no
// open-ended dispatch.
type executor func(ctx context.Context, gw *gateway.Gateway, cc *CaseContext, sol *Solution, key string) (txID string, err error)

var executors = map[ActionType]executor{
	ActionRefund:   execPayment(tools.PaymentRefund),
	ActionCredit:   execPayment(tools.PaymentCredit),
	ActionCoupon:   execPayment(tools.PaymentCoupon),
	ActionReship:   execShipping(tools.ShippingReship),
	ActionExpedite: execShipping(tools.ShippingExpedite),
}

func execPayment(kind string) executor {
	return func(ctx context.Context, gw *gateway.Gateway, cc *CaseContext, sol *Solution, key string) (string, error) {
		resp, err := tools.ExecutePayment(ctx, gw, tools.PaymentRequest{
			Kind:       kind,
			OrderID:    sol.ParamString("order_id"),
			CustomerID: cc.Alert.CustomerID,
			Amount:     sol.ParamFloat("amount"),
			Reason:     sol.ParamString("reason"),
		}, key)
		if err != nil {
			return "", err
		}
		return resp.TransactionID, nil
	}
}

func execShipping(kind string) executor {
	return func(ctx context.Context, gw *gateway.Gateway, cc *CaseContext, sol *Solution, key string) (string, error) {
		resp, err := tools.ExecuteShipping(ctx, gw, tools.ShippingRequest{
			Kind:    kind,
			OrderID: sol.ParamString("order_id"),
			Method:  sol.ParamString("method"),
		}, key)
		if err != nil {
			return "", err
		}
		return resp.ShipmentID, nil
	}
}

// ActionStage executes the top eligible solution and confirms with the
// customer. Side-effecting calls run strictly sequentially, one rank at a
// time, each under its own idempotency key derived from (case token, rank).
type ActionStage struct {
	gw      *gateway.Gateway
	drafter Drafter
	logger  log.Logger
}

// NewActionStage creates the action stage. drafter may be nil; customer
// messages then use the static template.
func NewActionStage(gw *gateway.Gateway, drafter Drafter, logger log.Logger) *ActionStage {
	if logger == nil {
		logger = log.Nop()
	}
	return &ActionStage{gw: gw, drafter: drafter, logger: logger}
}

// Run attempts the ranked solutions in order, advancing to the next rank
// only after the current one reports irrecoverable failure. A solution above
// the authority ceiling stops the stage with ApprovalRequiredError; if every
// rank is exhausted the aggregated failure surfaces, never silently dropped.
func (s *ActionStage) Run(ctx context.Context, cc *CaseContext, sols []Solution) (*ActionResult, error) {
	if len(sols) == 0 {
		return nil, errors.New("no solutions to execute")
	}

	var failures []error
	for i := range sols {
		sol := &sols[i]

		if sol.ActionType == ActionNone {
			return &ActionResult{
				ExecutedSolution:    sol,
				CommunicationStatus: "skipped",
				Outcome:             OutcomeSuccess,
			}, nil
		}
		if sol.RequiresApproval {
			return nil, &ApprovalRequiredError{Solution: *sol}
		}

		res, err := s.Execute(ctx, cc, sol)
		if err != nil {
			if errors.Is(err, gateway.ErrInFlight) {
				// Another worker holds the ledger reservation for this rank.
				// Advancing would dispatch a second remedy for the same case,
				// so the stage stops; a later retry replays the recorded
				// outcome once the holder commits.
				return nil, fmt.Errorf("rank %d %s: %w", sol.Rank, sol.ActionType, err)
			}
			s.logger.Warn(ctx, "solution execution failed, advancing to next rank",
				"rank", sol.Rank, "action", string(sol.ActionType), "error", err.Error())
			failures = append(failures, fmt.Errorf("rank %d %s: %w", sol.Rank, sol.ActionType, err))
			continue
		}
		return res, nil
	}

	return nil, fmt.Errorf("all %d ranked solutions exhausted: %w", len(sols), errors.Join(failures...))
}

// Execute runs exactly one solution: the side-effecting call, the customer
// confirmation, and the CRM case note. Also the entry point for executing a
// solution after human approval.
func (s *ActionStage) Execute(ctx context.Context, cc *CaseContext, sol *Solution) (*ActionResult, error) {
	exec, ok := executors[sol.ActionType]
	if !ok {
		return nil, fmt.Errorf("no executor for action type %q", sol.ActionType)
	}

	key := fmt.Sprintf("%s/%d", cc.Token, sol.Rank)
	txID, err := exec(ctx, s.gw, cc, sol, key)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "solution executed",
		"action", string(sol.ActionType),
		"rank", sol.Rank,
		"transaction_id", txID,
	)

	commStatus := s.communicate(ctx, cc, sol, key)
	s.appendCaseNote(ctx, cc, sol, txID, key)

	outcome := OutcomeSuccess
	if commStatus == "failed" {
		// Remedy landed but the customer was not told. Surfaced as partial
		// so follow-up can close the loop.
		outcome = OutcomePartial
	}
	return &ActionResult{
		ExecutedSolution:      sol,
		ExternalTransactionID: txID,
		CommunicationStatus:   commStatus,
		Outcome:               outcome,
	}, nil
}

// communicate confirms the remedy with the customer: email with a drafted
// message, plus a short SMS when a phone number is on file. Each send
// carries a channel-scoped idempotency key so a retried stage never
// double-sends.
func (s *ActionStage) communicate(ctx context.Context, cc *CaseContext, sol *Solution, key string) string {
	profile := cc.Verdict.Profile
	if profile == nil || (profile.Email == "" && profile.Phone == "") {
		return "skipped"
	}

	status := "sent"
	if profile.Email != "" {
		body := s.draftEmail(ctx, cc, sol)
		_, err := tools.SendNotification(ctx, s.gw, tools.NotifyRequest{
			Channel:   tools.ChannelEmail,
			Recipient: profile.Email,
			Subject:   "We've resolved your recent concern",
			Body:      body,
		}, key+"/email")
		if err != nil {
			s.logger.Error(ctx, err, "confirmation email failed", "customer_id", profile.CustomerID)
			status = "failed"
		}
	}

	if profile.Phone != "" {
		_, err := tools.SendNotification(ctx, s.gw, tools.NotifyRequest{
			Channel:   tools.ChannelSMS,
			Recipient: profile.Phone,
			Body:      smsSummary(sol),
		}, key+"/sms")
		if err != nil {
			// SMS is best-effort on top of email; only degrade the status
			// when no channel got through.
			s.logger.Warn(ctx, "confirmation sms failed", "customer_id", profile.CustomerID, "error", err.Error())
			if profile.Email == "" {
				status = "failed"
			}
		}
	}
	return status
}

// appendCaseNote writes the resolution back to the CRM. Best-effort: a
// failed note never undoes a completed remedy.
func (s *ActionStage) appendCaseNote(ctx context.Context, cc *CaseContext, sol *Solution, txID, key string) {
	note := fmt.Sprintf("Automated resolution: %s (tx %s). %s", sol.ActionType, txID, sol.Explanation)
	if _, err := tools.AppendCRMNote(ctx, s.gw, tools.NoteRequest{
		CustomerID: cc.Alert.CustomerID,
		Note:       note,
	}, key+"/note"); err != nil {
		s.logger.Warn(ctx, "crm case note failed", "customer_id", cc.Alert.CustomerID, "error", err.Error())
	}
}

func (s *ActionStage) draftEmail(ctx context.Context, cc *CaseContext, sol *Solution) string {
	if s.drafter != nil {
		body, err := s.drafter.DraftMessage(ctx, cc, sol)
		if err == nil && body != "" {
			return body
		}
		if err != nil {
			s.logger.Warn(ctx, "message drafting failed, using template", "error", err.Error())
		}
	}
	return fallbackEmail(cc, sol)
}

func fallbackEmail(cc *CaseContext, sol *Solution) string {
	name := "Valued Customer"
	if p := cc.Verdict.Profile; p != nil && p.Name != "" {
		name = p.Name
	}
	return fmt.Sprintf(`Dear %s,

We sincerely apologize for the recent issue you experienced. We have taken immediate action to resolve your concern: %s.

If you have any questions, please reach out to us any time.

Thank you for your patience and for being a valued customer.

Customer Experience Team`, name, sol.Explanation)
}

// smsSummary is the short confirmation text per action type.
func smsSummary(sol *Solution) string {
	switch sol.ActionType {
	case ActionRefund:
		return "Good news! Your refund has been processed and should appear in your account within 3-5 business days."
	case ActionCredit:
		return "We've added a credit to your account as an apology for the recent issue."
	case ActionCoupon:
		return "We've added a special discount to your account. Check your email for details!"
	case ActionReship:
		return "Your replacement order has shipped with expedited delivery. Tracking information follows shortly."
	case ActionExpedite:
		return "We've upgraded the shipping on your order. It is now on its way to you faster."
	default:
		return "We've resolved your recent concern. Please check your email for full details."
	}
}
