package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/gateway"
	"github.com/linnemanlabs/redress/internal/rules"
	"github.com/linnemanlabs/redress/internal/tools"
)

// Issue categories derived from the transcript, used to target the policy
// query and to pick remedy parameters.
const (
	CategoryOrder    = "order"
	CategoryBilling  = "billing"
	CategoryProduct  = "product"
	CategoryShipping = "shipping"
	CategoryAccount  = "account"
	CategoryService  = "service"
)

// categoryKeywords maps each category to its trigger words. Checked in the
// order listed in classifyIssue so classification is deterministic.
var categoryKeywords = map[string][]string{
	CategoryShipping: {"shipping", "delivery", "deliver", "arrived", "tracking", "package"},
	CategoryBilling:  {"charge", "billing", "refund", "payment", "invoice", "overcharged"},
	CategoryProduct:  {"broken", "defective", "damaged", "quality", "doesn't work", "stopped working"},
	CategoryAccount:  {"account", "login", "password", "locked out", "profile"},
	CategoryOrder:    {"order", "wrong item", "missing item", "cancel"},
}

// classifyIssue picks the issue category for a transcript. Falls through to
// "service" when nothing matches.
func classifyIssue(text string) string {
	lower := strings.ToLower(text)
	for _, cat := range []string{CategoryShipping, CategoryBilling, CategoryProduct, CategoryAccount, CategoryOrder} {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return CategoryService
}

// SolutionStage gathers policy and operational context and produces the
// ranked list of candidate resolutions.
type SolutionStage struct {
	gw      *gateway.Gateway
	rules   *rules.Rules
	drafter Drafter
	logger  log.Logger
}

// NewSolutionStage creates the solution stage. drafter may be nil: candidate
// generation then uses the deterministic policy-derived fallback.
func NewSolutionStage(gw *gateway.Gateway, r *rules.Rules, drafter Drafter, logger log.Logger) *SolutionStage {
	if logger == nil {
		logger = log.Nop()
	}
	return &SolutionStage{gw: gw, rules: r, drafter: drafter, logger: logger}
}

// Run produces the ranked solutions for an escalated case. If no policy
// passage clears the relevance floor, it returns a single no-action solution
// rather than failing the stage. Ranking is a total order: descending
// impact, ascending cost, then action-type declaration order.
func (s *SolutionStage) Run(ctx context.Context, al *alert.Alert, verdict *TriageVerdict) ([]Solution, *CaseContext, error) {
	cc := &CaseContext{
		Alert:   *al,
		Verdict: *verdict,
		Token:   al.Token(),
	}

	query := s.policyQuery(verdict)
	passages, err := tools.SearchPolicies(ctx, s.gw, query, s.rules.PolicyTopK)
	if err != nil {
		return nil, nil, fmt.Errorf("policy search: %w", err)
	}
	relevant := passages[:0:0]
	for _, p := range passages {
		if p.RelevanceScore >= s.rules.MinPolicyRelevance {
			relevant = append(relevant, p)
		}
	}
	if len(relevant) == 0 {
		s.logger.Info(ctx, "no policy coverage for case", "query", query)
		return []Solution{{
			ActionType: ActionNone,
			Reason:     "insufficient policy coverage",
		}}, cc, nil
	}
	cc.Passages = relevant

	s.gatherOperational(ctx, al, cc)

	candidates := s.propose(ctx, cc)
	if len(candidates) == 0 {
		return []Solution{{
			ActionType: ActionNone,
			Reason:     "no executable remedy for case context",
		}}, cc, nil
	}

	rank(candidates)
	for i := range candidates {
		if candidates[i].AuthorityLevel > s.rules.AuthorityCeiling {
			candidates[i].RequiresApproval = true
		}
	}

	s.logger.Info(ctx, "solutions ranked",
		"customer_id", al.CustomerID,
		"count", len(candidates),
		"top_action", string(candidates[0].ActionType),
		"top_requires_approval", candidates[0].RequiresApproval,
	)
	return candidates, cc, nil
}

// policyQuery builds the similarity-search query from category and tier.
func (s *SolutionStage) policyQuery(verdict *TriageVerdict) string {
	return fmt.Sprintf("%s issue remediation policy for %s tier customer", verdict.Category, verdict.CustomerTier)
}

// gatherOperational fetches order status and inventory. These enrich the
// candidate set but their absence never fails the stage: a case with no
// retrievable order still supports credit and coupon remedies.
func (s *SolutionStage) gatherOperational(ctx context.Context, al *alert.Alert, cc *CaseContext) {
	order, err := tools.GetOrderStatus(ctx, s.gw, al.CustomerID)
	if err != nil {
		s.logger.Warn(ctx, "order lookup failed, continuing without order context",
			"customer_id", al.CustomerID, "error", err.Error())
		return
	}
	cc.Order = order

	if len(order.Items) == 0 {
		return
	}
	cc.Inventory = make(map[string]int, len(order.Items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range order.Items {
		g.Go(func() error {
			inv, err := tools.CheckInventory(gctx, s.gw, item.SKU)
			if err != nil {
				s.logger.Warn(gctx, "inventory check failed, assuming unavailable",
					"sku", item.SKU, "error", err.Error())
				return nil
			}
			mu.Lock()
			cc.Inventory[inv.SKU] = inv.AvailableQty
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
}

// propose asks the drafter for candidates, falling back to the
// deterministic policy-derived set when the drafter is absent or fails.
func (s *SolutionStage) propose(ctx context.Context, cc *CaseContext) []Solution {
	if s.drafter != nil {
		proposed, err := s.drafter.ProposeSolutions(ctx, cc)
		if err != nil {
			s.logger.Warn(ctx, "drafter proposal failed, using fallback candidates", "error", err.Error())
		} else if valid := filterValid(proposed); len(valid) > 0 {
			for i := range valid {
				if valid[i].AuthorityLevel == 0 {
					valid[i].AuthorityLevel = authorityFor(valid[i].ActionType, valid[i].Cost)
				}
			}
			return valid
		}
	}
	return s.fallbackCandidates(cc)
}

func filterValid(sols []Solution) []Solution {
	out := sols[:0:0]
	for _, sol := range sols {
		if sol.ActionType.Valid() && sol.ActionType != ActionNone {
			out = append(out, sol)
		}
	}
	return out
}

// fallbackCandidates derives candidates from order context and policy
// relevance alone. Fully deterministic.
func (s *SolutionStage) fallbackCandidates(cc *CaseContext) []Solution {
	var out []Solution

	if cc.Order != nil && cc.Order.OrderID != "" {
		total := cc.Order.Total
		if total > 0 {
			out = append(out, Solution{
				ActionType: ActionRefund,
				Params: map[string]any{
					"order_id": cc.Order.OrderID,
					"amount":   total,
					"reason":   "customer experience recovery",
				},
				Impact:      actionImpact(ActionRefund, cc.Passages),
				Cost:        total,
				Explanation: "full refund of the affected order",
			})
		}
		if itemsInStock(cc) {
			out = append(out, Solution{
				ActionType: ActionReship,
				Params: map[string]any{
					"order_id": cc.Order.OrderID,
					"method":   "express",
				},
				Impact:      actionImpact(ActionReship, cc.Passages),
				Cost:        total * 0.6,
				Explanation: "reship the order with expedited delivery",
			})
		}
		if cc.Order.State == "pending" || cc.Order.State == "processing" {
			out = append(out, Solution{
				ActionType: ActionExpedite,
				Params: map[string]any{
					"order_id": cc.Order.OrderID,
					"method":   "express",
				},
				Impact:      actionImpact(ActionExpedite, cc.Passages),
				Cost:        15,
				Explanation: "upgrade shipping on the pending order",
			})
		}
	}

	credit := 25.0
	if cc.Order != nil && cc.Order.Total > 0 {
		credit = cc.Order.Total * 0.2
	}
	out = append(out,
		Solution{
			ActionType: ActionCredit,
			Params: map[string]any{
				"amount": credit,
				"reason": "service recovery credit",
			},
			Impact:      actionImpact(ActionCredit, cc.Passages),
			Cost:        credit,
			Explanation: "account credit as immediate appeasement",
		},
		Solution{
			ActionType: ActionCoupon,
			Params: map[string]any{
				"amount": 15.0,
				"reason": "apology discount",
			},
			Impact:      actionImpact(ActionCoupon, cc.Passages),
			Cost:        15,
			Explanation: "discount coupon for a future purchase",
		},
	)

	for i := range out {
		out[i].AuthorityLevel = authorityFor(out[i].ActionType, out[i].Cost)
	}
	return out
}

func itemsInStock(cc *CaseContext) bool {
	if cc.Order == nil || len(cc.Order.Items) == 0 || cc.Inventory == nil {
		return false
	}
	for _, item := range cc.Order.Items {
		if cc.Inventory[item.SKU] < item.Qty {
			return false
		}
	}
	return true
}

// actionImpact scores how strongly the retrieved policy passages back an
// action: the best relevance among passages mentioning it.
func actionImpact(t ActionType, passages []tools.PolicyPassage) float64 {
	keyword := string(t)
	if t == ActionExpedite {
		keyword = "expedit" // matches expedite/expedited
	}
	var best float64
	for _, p := range passages {
		if strings.Contains(strings.ToLower(p.Passage), keyword) && p.RelevanceScore > best {
			best = p.RelevanceScore
		}
	}
	return best
}

// authorityFor assigns the approval tier a remedy needs. Money movement
// outranks shipping perks; large refunds outrank small ones.
func authorityFor(t ActionType, cost float64) int {
	switch t {
	case ActionRefund:
		if cost > 100 {
			return 3
		}
		return 2
	case ActionCredit, ActionReship:
		return 2
	case ActionExpedite, ActionCoupon:
		return 1
	default:
		return 0
	}
}

// rank orders candidates by descending impact, ascending cost, then action
// declaration order, and assigns Rank indices. Stable and total: identical
// inputs always produce identical output.
func rank(sols []Solution) {
	sort.SliceStable(sols, func(i, j int) bool {
		if sols[i].Impact != sols[j].Impact {
			return sols[i].Impact > sols[j].Impact
		}
		if sols[i].Cost != sols[j].Cost {
			return sols[i].Cost < sols[j].Cost
		}
		return sols[i].ActionType.Order() < sols[j].ActionType.Order()
	})
	for i := range sols {
		sols[i].Rank = i
	}
}
