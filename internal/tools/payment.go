package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// Payment kinds accepted by the payment provider.
const (
	PaymentRefund = "refund"
	PaymentCredit = "credit"
	PaymentCoupon = "coupon"
)

// PaymentRequest moves money or issues value to a customer.
// IdempotencyKey is passed through to the provider, which supports
// idempotent requests natively, on top of the gateway's own ledger.
type PaymentRequest struct {
	Kind           string  `json:"kind"`
	OrderID        string  `json:"order_id,omitempty"`
	CustomerID     string  `json:"customer_id"`
	Amount         float64 `json:"amount"`
	Reason         string  `json:"reason,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// PaymentResponse acknowledges a completed payment action.
type PaymentResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// PaymentAction executes refunds, account credits, and coupon issuance.
type PaymentAction struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewPaymentAction creates the payment tool for the given API base URL.
func NewPaymentAction(endpoint, apiKey string) *PaymentAction {
	return &PaymentAction{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PaymentAction) Name() string { return NamePaymentAction }

func (p *PaymentAction) Description() string {
	return "Execute a refund, account credit, or coupon for a customer. Moves money; idempotency key required."
}

func (p *PaymentAction) SideEffecting() bool { return true }

// Invoke dispatches the payment action to the provider.
func (p *PaymentAction) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input PaymentRequest
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(p.Name(), "invalid params", err)
	}
	switch input.Kind {
	case PaymentRefund, PaymentCredit, PaymentCoupon:
	default:
		return nil, gateway.Permanent(p.Name(), fmt.Sprintf("unknown payment kind %q", input.Kind), nil)
	}
	if input.CustomerID == "" {
		return nil, gateway.Permanent(p.Name(), "customer_id is required", nil)
	}
	if input.Amount <= 0 {
		return nil, gateway.Permanent(p.Name(), "amount must be positive", nil)
	}

	// Provider API takes amounts in cents.
	payload := struct {
		Kind        string `json:"kind"`
		OrderID     string `json:"order_id,omitempty"`
		CustomerID  string `json:"customer_id"`
		AmountCents int    `json:"amount_cents"`
		Reason      string `json:"reason,omitempty"`
		IdemKey     string `json:"idempotency_key,omitempty"`
	}{
		Kind:        input.Kind,
		OrderID:     input.OrderID,
		CustomerID:  input.CustomerID,
		AmountCents: int(input.Amount * 100),
		Reason:      input.Reason,
		IdemKey:     input.IdempotencyKey,
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := doJSON(ctx, p.httpClient, p.Name(), http.MethodPost, p.endpoint+"/v1/payments", p.apiKey, payload, &raw); err != nil {
		return nil, err
	}
	return json.Marshal(PaymentResponse{TransactionID: raw.ID, Status: raw.Status})
}

// ExecutePayment is the typed wrapper used by the action stage. The
// idempotency key both guards the gateway ledger and rides along to the
// provider.
func ExecutePayment(ctx context.Context, gw *gateway.Gateway, req PaymentRequest, idemKey string) (*PaymentResponse, error) {
	req.IdempotencyKey = idemKey
	return invoke[PaymentResponse](ctx, gw, NamePaymentAction, req, idemKey)
}
