package pipeline_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/gateway"
	"github.com/linnemanlabs/redress/internal/gateway/memledger"
	"github.com/linnemanlabs/redress/internal/pipeline"
	"github.com/linnemanlabs/redress/internal/tools"
)

// fakeTool is a scriptable gateway.Tool. The handler can be swapped between
// invocations to script multi-delivery scenarios.
type fakeTool struct {
	name string
	side bool

	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req json.RawMessage) (json.RawMessage, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test double for " + f.name }
func (f *fakeTool) SideEffecting() bool { return f.side }

func (f *fakeTool) Invoke(ctx context.Context, req json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTool) set(fn func(ctx context.Context, req json.RawMessage) (json.RawMessage, error)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func reply(v any) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	return func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(v)
	}
}

func failWith(err error) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	return func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, err
	}
}

func crmTool(p tools.CustomerProfile) *fakeTool {
	return &fakeTool{name: tools.NameCRMLookup, fn: reply(p)}
}

func transcriptTool(tr tools.Transcript) *fakeTool {
	return &fakeTool{name: tools.NameTranscriptFetch, fn: reply(tr)}
}

func policyTool(passages ...tools.PolicyPassage) *fakeTool {
	return &fakeTool{name: tools.NamePolicySearch, fn: reply(tools.PolicySearchResponse{Passages: passages})}
}

func orderTool(o tools.OrderStatus) *fakeTool {
	return &fakeTool{name: tools.NameOrderStatus, fn: reply(o)}
}

func inventoryTool(avail map[string]int) *fakeTool {
	return &fakeTool{name: tools.NameInventoryCheck, fn: func(_ context.Context, req json.RawMessage) (json.RawMessage, error) {
		var in struct {
			SKU string `json:"sku"`
		}
		if err := json.Unmarshal(req, &in); err != nil {
			return nil, err
		}
		return json.Marshal(tools.Inventory{SKU: in.SKU, AvailableQty: avail[in.SKU]})
	}}
}

func paymentTool(txID string) *fakeTool {
	return &fakeTool{name: tools.NamePaymentAction, side: true,
		fn: reply(tools.PaymentResponse{TransactionID: txID, Status: "completed"})}
}

func shippingTool(shipmentID string) *fakeTool {
	return &fakeTool{name: tools.NameShippingAction, side: true,
		fn: reply(tools.ShippingResponse{ShipmentID: shipmentID, Status: "scheduled"})}
}

func notifyTool() *fakeTool {
	return &fakeTool{name: tools.NameNotifyCustomer, side: true,
		fn: reply(tools.NotifyResponse{DeliveryStatus: "sent", MessageID: "msg-1"})}
}

func noteTool() *fakeTool {
	return &fakeTool{name: tools.NameCRMNote, side: true,
		fn: reply(tools.NoteResponse{NoteID: "note-1"})}
}

// newTestGateway wires the fakes behind a real gateway with an in-memory
// ledger and a single-attempt retry policy, so failure paths stay fast.
func newTestGateway(t *testing.T, fakes ...*fakeTool) *gateway.Gateway {
	t.Helper()
	return newTestGatewayWithLedger(t, memledger.New(), fakes...)
}

// newTestGatewayWithLedger is newTestGateway with a caller-supplied ledger,
// for tests that seed reservations or recorded outcomes up front.
func newTestGatewayWithLedger(t *testing.T, ledger gateway.Ledger, fakes ...*fakeTool) *gateway.Gateway {
	t.Helper()
	reg := gateway.NewRegistry()
	for _, f := range fakes {
		reg.Register(f)
	}
	cfg := gateway.Config{
		CallTimeout:    time.Second,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
	return gateway.New(reg, ledger, cfg, log.Nop(), gateway.Hooks{})
}

func testAlert() *alert.Alert {
	return &alert.Alert{
		TranscriptID:   "tr-100",
		CustomerID:     "cust-1",
		SentimentScore: 0.92,
		ReceivedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func vipProfile() tools.CustomerProfile {
	return tools.CustomerProfile{
		CustomerID:    "cust-1",
		Name:          "Dana Smith",
		Email:         "dana@example.com",
		Phone:         "+15550100",
		Tier:          "VIP",
		LifetimeValue: 2400,
	}
}

func angryTranscript() tools.Transcript {
	return tools.Transcript{
		TranscriptID:   "tr-100",
		Text:           "This is unacceptable, I was charged twice and I am never shopping here again. I want a refund.",
		SentimentScore: 0.9,
	}
}

// fakeDrafter satisfies pipeline.Drafter with canned output.
type fakeDrafter struct {
	sols    []pipeline.Solution
	propErr error
	message string
	msgErr  error
}

func (d *fakeDrafter) ProposeSolutions(context.Context, *pipeline.CaseContext) ([]pipeline.Solution, error) {
	if d.propErr != nil {
		return nil, d.propErr
	}
	return d.sols, nil
}

func (d *fakeDrafter) DraftMessage(context.Context, *pipeline.CaseContext, *pipeline.Solution) (string, error) {
	if d.msgErr != nil {
		return "", d.msgErr
	}
	return d.message, nil
}

// recordingSink captures emitted audit records.
type recordingSink struct {
	mu   sync.Mutex
	recs []*pipeline.AuditRecord
}

func (s *recordingSink) Emit(_ context.Context, rec *pipeline.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) records() []*pipeline.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pipeline.AuditRecord(nil), s.recs...)
}

// recordingNotifier captures cases flagged for human attention.
type recordingNotifier struct {
	mu    sync.Mutex
	cases []*pipeline.CaseRecord
}

func (n *recordingNotifier) Send(_ context.Context, c *pipeline.CaseRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cases = append(n.cases, c.Clone())
	return nil
}

func (n *recordingNotifier) sent() []*pipeline.CaseRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*pipeline.CaseRecord(nil), n.cases...)
}
