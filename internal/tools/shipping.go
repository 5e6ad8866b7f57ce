package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// Shipping kinds accepted by the fulfillment provider.
const (
	ShippingReship   = "reship"
	ShippingExpedite = "expedite"
)

// ShippingRequest creates a replacement shipment or upgrades an existing one.
type ShippingRequest struct {
	Kind           string `json:"kind"`
	OrderID        string `json:"order_id"`
	Method         string `json:"method,omitempty"` // e.g. "express"
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ShippingResponse acknowledges a shipping action.
type ShippingResponse struct {
	ShipmentID string `json:"shipment_id"`
	Status     string `json:"status"`
}

// ShippingAction executes reshipments and shipping upgrades.
type ShippingAction struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewShippingAction creates the shipping tool for the given API base URL.
func NewShippingAction(endpoint, apiKey string) *ShippingAction {
	return &ShippingAction{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *ShippingAction) Name() string { return NameShippingAction }

func (s *ShippingAction) Description() string {
	return "Reship an order or expedite a pending shipment. Side-effecting; idempotency key required."
}

func (s *ShippingAction) SideEffecting() bool { return true }

// Invoke dispatches the shipping action.
func (s *ShippingAction) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input ShippingRequest
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(s.Name(), "invalid params", err)
	}
	switch input.Kind {
	case ShippingReship, ShippingExpedite:
	default:
		return nil, gateway.Permanent(s.Name(), fmt.Sprintf("unknown shipping kind %q", input.Kind), nil)
	}
	if input.OrderID == "" {
		return nil, gateway.Permanent(s.Name(), "order_id is required", nil)
	}
	if input.Method == "" {
		input.Method = "express"
	}

	var out ShippingResponse
	if err := doJSON(ctx, s.httpClient, s.Name(), http.MethodPost, s.endpoint+"/v1/shipments", s.apiKey, input, &out); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// ExecuteShipping is the typed wrapper used by the action stage.
func ExecuteShipping(ctx context.Context, gw *gateway.Gateway, req ShippingRequest, idemKey string) (*ShippingResponse, error) {
	req.IdempotencyKey = idemKey
	return invoke[ShippingResponse](ctx, gw, NameShippingAction, req, idemKey)
}
