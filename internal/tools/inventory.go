package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// Inventory reports availability of one SKU.
type Inventory struct {
	SKU          string `json:"sku"`
	AvailableQty int    `json:"available_qty"`
}

// InventoryCheck queries warehouse availability for a SKU.
type InventoryCheck struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewInventoryCheck creates the inventory tool for the given API base URL.
func NewInventoryCheck(endpoint, apiKey string) *InventoryCheck {
	return &InventoryCheck{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (i *InventoryCheck) Name() string { return NameInventoryCheck }

func (i *InventoryCheck) Description() string {
	return "Check available quantity of a SKU before proposing a reshipment."
}

func (i *InventoryCheck) SideEffecting() bool { return false }

type inventoryInput struct {
	SKU string `json:"sku"`
}

// Invoke checks availability.
func (i *InventoryCheck) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input inventoryInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(i.Name(), "invalid params", err)
	}
	if input.SKU == "" {
		return nil, gateway.Permanent(i.Name(), "sku is required", nil)
	}

	var out Inventory
	u := i.endpoint + "/inventory/" + url.PathEscape(input.SKU)
	if err := doJSON(ctx, i.httpClient, i.Name(), http.MethodGet, u, i.apiKey, nil, &out); err != nil {
		return nil, err
	}
	if out.SKU == "" {
		out.SKU = input.SKU
	}
	return json.Marshal(out)
}

// CheckInventory is the typed wrapper used by the solution stage.
func CheckInventory(ctx context.Context, gw *gateway.Gateway, sku string) (*Inventory, error) {
	return invoke[Inventory](ctx, gw, NameInventoryCheck, inventoryInput{SKU: sku}, "")
}
