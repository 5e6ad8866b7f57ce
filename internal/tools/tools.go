// Package tools implements the external collaborator clients the pipeline
// invokes through the gateway: CRM, transcript store, policy search, orders,
// inventory, payment, shipping, and customer notification. Each tool is an
// HTTP client behind the gateway.Tool contract plus a typed caller-side
// wrapper so stages never handle raw JSON.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// Tool names. The gateway dispatches on these; they also appear in metrics
// labels and audit trails, so they are stable identifiers.
const (
	NameCRMLookup       = "crm_lookup"
	NameCRMNote         = "crm_append_note"
	NameTranscriptFetch = "transcript_fetch"
	NamePolicySearch    = "policy_search"
	NameOrderStatus     = "order_status"
	NameInventoryCheck  = "inventory_check"
	NamePaymentAction   = "payment_action"
	NameShippingAction  = "shipping_action"
	NameNotifyCustomer  = "notify_customer"
)

// invoke marshals req, dispatches through the gateway, and decodes the
// response into T.
func invoke[T any](ctx context.Context, gw *gateway.Gateway, tool string, req any, idemKey string) (*T, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", tool, err)
	}
	raw, err := gw.Invoke(ctx, tool, body, idemKey)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", tool, err)
	}
	return &out, nil
}
