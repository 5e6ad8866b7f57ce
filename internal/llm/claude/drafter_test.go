package claude

import (
	"strings"
	"testing"

	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/pipeline"
	"github.com/linnemanlabs/redress/internal/tools"
)

func TestActionTypeFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want pipeline.ActionType
	}{
		{"full_refund", pipeline.ActionRefund},
		{"partial_refund", pipeline.ActionRefund},
		{"refund", pipeline.ActionRefund},
		{"account_credit", pipeline.ActionCredit},
		{"credit", pipeline.ActionCredit},
		{"reship_order", pipeline.ActionReship},
		{"reship", pipeline.ActionReship},
		{"expedite_shipping", pipeline.ActionExpedite},
		{"generate_coupon", pipeline.ActionCoupon},
		{"coupon", pipeline.ActionCoupon},
		{"escalate_to_ceo", pipeline.ActionNone},
		{"", pipeline.ActionNone},
	}
	for _, tc := range cases {
		if got := actionTypeFor(tc.in); got != tc.want {
			t.Errorf("actionTypeFor(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestExtractJSONArray(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"Bare", `[{"a":1}]`, `[{"a":1}]`},
		{"CodeFence", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"SurroundingProse", `Here are my suggestions: [1,2,3] Let me know.`, `[1,2,3]`},
		{"NestedArrays", `[[1],[2]]`, `[[1],[2]]`},
		{"NoArray", `{"a":1}`, ""},
		{"Empty", "", ""},
		{"OnlyOpenBracket", "[", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := extractJSONArray(tc.in); got != tc.want {
				t.Errorf("extractJSONArray(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := clip("short", 10); got != "short" {
		t.Errorf("clip = %q", got)
	}
	if got := clip("abcdefghij", 4); got != "abcd..." {
		t.Errorf("clip = %q", got)
	}
}

func testContext() *pipeline.CaseContext {
	p := tools.CustomerProfile{CustomerID: "cust-1", Name: "Dana Smith", Tier: "VIP", LifetimeValue: 2400, RecentOrderCount: 4}
	tr := tools.Transcript{TranscriptID: "tr-1", Text: "I was charged twice and I want a refund.", SentimentScore: 0.9}
	return &pipeline.CaseContext{
		Alert: alert.Alert{TranscriptID: "tr-1", CustomerID: "cust-1", SentimentScore: 0.92},
		Verdict: pipeline.TriageVerdict{
			Escalate:      true,
			CustomerTier:  "VIP",
			SeverityScore: 0.25,
			Category:      pipeline.CategoryBilling,
			Profile:       &p,
			Transcript:    &tr,
		},
		Passages: []tools.PolicyPassage{{Passage: "Refunds for duplicate charges are always approved.", RelevanceScore: 0.9}},
		Order: &tools.OrderStatus{
			OrderID: "ord-9",
			State:   "delivered",
			Total:   80,
			Items:   []tools.OrderItem{{SKU: "sku-1", Name: "Blender", Qty: 1}},
		},
		Inventory: map[string]int{"sku-1": 5},
		Token:     "tok-1",
	}
}

func TestProposePromptCarriesCaseContext(t *testing.T) {
	t.Parallel()

	got := proposePrompt(testContext())
	for _, want := range []string{
		"cust-1",
		"tier VIP",
		"category billing",
		"Lifetime value $2400.00",
		"Latest order ord-9",
		"Blender",
		"5 in stock",
		"charged twice",
		"duplicate charges",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestProposePromptClipsLongTranscript(t *testing.T) {
	t.Parallel()

	cc := testContext()
	cc.Verdict.Transcript.Text = strings.Repeat("x", 5000)
	got := proposePrompt(cc)
	if strings.Contains(got, strings.Repeat("x", 2001)) {
		t.Error("transcript not clipped")
	}
	if !strings.Contains(got, "...") {
		t.Error("clipped transcript should carry an ellipsis")
	}
}

func TestDraftPrompt(t *testing.T) {
	t.Parallel()

	sol := &pipeline.Solution{
		ActionType:  pipeline.ActionRefund,
		Params:      map[string]any{"amount": 80.0},
		Explanation: "full refund of the affected order",
	}
	got := draftPrompt(testContext(), sol)
	for _, want := range []string{
		"Dana Smith",
		"billing",
		"refund",
		"Amount: $80.00",
		"full refund of the affected order",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}

	cc := testContext()
	cc.Verdict.Profile = nil
	if !strings.Contains(draftPrompt(cc, sol), "Customer name: customer.") {
		t.Error("missing profile should fall back to a generic salutation")
	}
}
