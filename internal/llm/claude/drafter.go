// Package claude implements pipeline.Drafter on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/redress/internal/pipeline"
)

const proposeSystem = `You are a customer-retention specialist for an e-commerce company.
Given a case summary, propose up to three remediations as a JSON array. Each element:
{"action_type": one of "full_refund","account_credit","reship_order","expedite_shipping","generate_coupon","no_action",
 "params": {"amount": number, "order_id": string, "sku": string as applicable},
 "impact": 0..1 expected satisfaction recovery,
 "cost": estimated dollar cost,
 "explanation": one sentence}
Propose only actions supported by the quoted policy passages. Respond with the JSON array only.`

const draftSystem = `You write short, sincere customer-service messages for an e-commerce company.
Apologize for the customer's experience and state plainly what remedy was applied.
No marketing language, no promises beyond the remedy. Respond with the message body only.`

// Drafter proposes solutions and drafts customer messages via Claude.
type Drafter struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Drafter using the given API key and model name.
func New(apiKey, model string) *Drafter {
	return &Drafter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ProposeSolutions asks the model for candidate remediations and parses the
// typed proposals out of its reply. A reply that cannot be parsed is an
// error; the caller falls back to deterministic candidates.
func (d *Drafter) ProposeSolutions(ctx context.Context, cc *pipeline.CaseContext) ([]pipeline.Solution, error) {
	text, err := d.complete(ctx, proposeSystem, proposePrompt(cc), 1024)
	if err != nil {
		return nil, err
	}

	raw := extractJSONArray(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in model reply")
	}

	var proposals []struct {
		ActionType  string         `json:"action_type"`
		Params      map[string]any `json:"params"`
		Impact      float64        `json:"impact"`
		Cost        float64        `json:"cost"`
		Explanation string         `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(raw), &proposals); err != nil {
		return nil, fmt.Errorf("parse proposals: %w", err)
	}

	out := make([]pipeline.Solution, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, pipeline.Solution{
			ActionType:  actionTypeFor(p.ActionType),
			Params:      p.Params,
			Impact:      p.Impact,
			Cost:        p.Cost,
			Explanation: p.Explanation,
		})
	}
	return out, nil
}

// DraftMessage writes the customer-facing message for the executed remedy.
func (d *Drafter) DraftMessage(ctx context.Context, cc *pipeline.CaseContext, executed *pipeline.Solution) (string, error) {
	return d.complete(ctx, draftSystem, draftPrompt(cc, executed), 512)
}

func (d *Drafter) complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	msg, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages.new: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("empty model reply (stop reason %s)", msg.StopReason)
	}
	return text, nil
}

func proposePrompt(cc *pipeline.CaseContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Customer %s, tier %s, severity %.2f, issue category %s.\n",
		cc.Alert.CustomerID, cc.Verdict.CustomerTier, cc.Verdict.SeverityScore, cc.Verdict.Category)
	if cc.Verdict.Profile != nil {
		fmt.Fprintf(&sb, "Lifetime value $%.2f, %d recent orders.\n",
			cc.Verdict.Profile.LifetimeValue, cc.Verdict.Profile.RecentOrderCount)
	}
	if cc.Order != nil {
		fmt.Fprintf(&sb, "Latest order %s, state %s, total $%.2f.\n",
			cc.Order.OrderID, cc.Order.State, cc.Order.Total)
		for _, it := range cc.Order.Items {
			qty := cc.Inventory[it.SKU]
			fmt.Fprintf(&sb, "Item %s (%s) x%d, %d in stock.\n", it.Name, it.SKU, it.Qty, qty)
		}
	}
	if cc.Verdict.Transcript != nil {
		fmt.Fprintf(&sb, "Transcript excerpt:\n%s\n", clip(cc.Verdict.Transcript.Text, 2000))
	}
	sb.WriteString("Applicable policy passages:\n")
	for _, p := range cc.Passages {
		fmt.Fprintf(&sb, "- (%.2f) %s\n", p.RelevanceScore, clip(p.Passage, 500))
	}
	return sb.String()
}

func draftPrompt(cc *pipeline.CaseContext, executed *pipeline.Solution) string {
	var sb strings.Builder
	name := "customer"
	if cc.Verdict.Profile != nil && cc.Verdict.Profile.Name != "" {
		name = cc.Verdict.Profile.Name
	}
	fmt.Fprintf(&sb, "Customer name: %s.\n", name)
	fmt.Fprintf(&sb, "Issue category: %s.\n", cc.Verdict.Category)
	fmt.Fprintf(&sb, "Remedy applied: %s.\n", executed.ActionType)
	if amt := executed.ParamFloat("amount"); amt > 0 {
		fmt.Fprintf(&sb, "Amount: $%.2f.\n", amt)
	}
	if executed.Explanation != "" {
		fmt.Fprintf(&sb, "Rationale: %s\n", executed.Explanation)
	}
	return sb.String()
}

func actionTypeFor(s string) pipeline.ActionType {
	switch s {
	case "full_refund", "refund", "partial_refund":
		return pipeline.ActionRefund
	case "account_credit", "credit":
		return pipeline.ActionCredit
	case "reship_order", "reship":
		return pipeline.ActionReship
	case "expedite_shipping", "expedite":
		return pipeline.ActionExpedite
	case "generate_coupon", "coupon":
		return pipeline.ActionCoupon
	default:
		return pipeline.ActionNone
	}
}

// extractJSONArray pulls the outermost JSON array out of a reply that may
// carry prose or a code fence around it.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
