package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// OrderItem is one line of an order.
type OrderItem struct {
	SKU  string `json:"sku"`
	Name string `json:"name,omitempty"`
	Qty  int    `json:"qty"`
}

// OrderStatus is the current state of a customer's most recent order.
type OrderStatus struct {
	OrderID string      `json:"order_id"`
	State   string      `json:"order_state"`
	Total   float64     `json:"total"`
	Items   []OrderItem `json:"items"`
}

// OrderLookup fetches the latest order for a customer.
type OrderLookup struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewOrderLookup creates the order status tool for the given API base URL.
func NewOrderLookup(endpoint, apiKey string) *OrderLookup {
	return &OrderLookup{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OrderLookup) Name() string { return NameOrderStatus }

func (o *OrderLookup) Description() string {
	return "Fetch the state and line items of a customer's most recent order."
}

func (o *OrderLookup) SideEffecting() bool { return false }

type orderInput struct {
	CustomerID string `json:"customer_id"`
}

// Invoke fetches the order status.
func (o *OrderLookup) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input orderInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(o.Name(), "invalid params", err)
	}
	if input.CustomerID == "" {
		return nil, gateway.Permanent(o.Name(), "customer_id is required", nil)
	}

	var out OrderStatus
	u := o.endpoint + "/customers/" + url.PathEscape(input.CustomerID) + "/orders/latest"
	if err := doJSON(ctx, o.httpClient, o.Name(), http.MethodGet, u, o.apiKey, nil, &out); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// GetOrderStatus is the typed wrapper used by the solution stage.
func GetOrderStatus(ctx context.Context, gw *gateway.Gateway, customerID string) (*OrderStatus, error) {
	return invoke[OrderStatus](ctx, gw, NameOrderStatus, orderInput{CustomerID: customerID}, "")
}
