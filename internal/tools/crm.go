package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// CustomerProfile is the CRM view of a customer the triage stage needs.
type CustomerProfile struct {
	CustomerID       string  `json:"customer_id"`
	Name             string  `json:"name"`
	Email            string  `json:"email,omitempty"`
	Phone            string  `json:"phone,omitempty"`
	Tier             string  `json:"tier"`
	LifetimeValue    float64 `json:"lifetime_value"`
	RecentOrderCount int     `json:"recent_order_count,omitempty"`
}

// CRMLookup fetches a customer profile from the CRM.
type CRMLookup struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewCRMLookup creates the CRM lookup tool for the given API base URL.
func NewCRMLookup(endpoint, apiKey string) *CRMLookup {
	return &CRMLookup{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CRMLookup) Name() string { return NameCRMLookup }

func (c *CRMLookup) Description() string {
	return "Fetch a customer's profile (tier, lifetime value, contact details) from the CRM."
}

func (c *CRMLookup) SideEffecting() bool { return false }

type crmLookupInput struct {
	CustomerID string `json:"customer_id"`
}

// Invoke performs the CRM lookup.
func (c *CRMLookup) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input crmLookupInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(c.Name(), "invalid params", err)
	}
	if input.CustomerID == "" {
		return nil, gateway.Permanent(c.Name(), "customer_id is required", nil)
	}

	var raw struct {
		ID            string  `json:"id"`
		Name          string  `json:"name"`
		Email         string  `json:"email"`
		Phone         string  `json:"phone"`
		Tier          string  `json:"tier"`
		LifetimeValue float64 `json:"lifetime_value"`
		RecentOrders  int     `json:"orders_last_90_days"`
	}
	u := c.endpoint + "/customers/" + url.PathEscape(input.CustomerID)
	if err := doJSON(ctx, c.httpClient, c.Name(), http.MethodGet, u, c.apiKey, nil, &raw); err != nil {
		return nil, err
	}

	profile := CustomerProfile{
		CustomerID:       raw.ID,
		Name:             raw.Name,
		Email:            raw.Email,
		Phone:            raw.Phone,
		Tier:             raw.Tier,
		LifetimeValue:    raw.LifetimeValue,
		RecentOrderCount: raw.RecentOrders,
	}
	if profile.CustomerID == "" {
		profile.CustomerID = input.CustomerID
	}
	if profile.Tier == "" {
		profile.Tier = "Standard"
	}
	return json.Marshal(profile)
}

// CRMNote appends a resolution note to the customer's CRM record.
// Side-effecting: retried note writes must not duplicate.
type CRMNote struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewCRMNote creates the CRM note tool for the given API base URL.
func NewCRMNote(endpoint, apiKey string) *CRMNote {
	return &CRMNote{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CRMNote) Name() string { return NameCRMNote }

func (c *CRMNote) Description() string {
	return "Append a case-resolution note to a customer record in the CRM."
}

func (c *CRMNote) SideEffecting() bool { return true }

// NoteRequest is the payload for a CRM note write.
type NoteRequest struct {
	CustomerID string `json:"customer_id"`
	Note       string `json:"note"`
}

// NoteResponse acknowledges a CRM note write.
type NoteResponse struct {
	NoteID string `json:"note_id"`
}

// Invoke appends the note.
func (c *CRMNote) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input NoteRequest
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(c.Name(), "invalid params", err)
	}
	if input.CustomerID == "" || input.Note == "" {
		return nil, gateway.Permanent(c.Name(), "customer_id and note are required", nil)
	}

	var out NoteResponse
	u := c.endpoint + "/customers/" + url.PathEscape(input.CustomerID) + "/notes"
	if err := doJSON(ctx, c.httpClient, c.Name(), http.MethodPost, u, c.apiKey, input, &out); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// LookupCustomer is the typed wrapper used by the triage stage.
func LookupCustomer(ctx context.Context, gw *gateway.Gateway, customerID string) (*CustomerProfile, error) {
	return invoke[CustomerProfile](ctx, gw, NameCRMLookup, crmLookupInput{CustomerID: customerID}, "")
}

// AppendCRMNote is the typed wrapper used by the action stage.
func AppendCRMNote(ctx context.Context, gw *gateway.Gateway, req NoteRequest, idemKey string) (*NoteResponse, error) {
	return invoke[NoteResponse](ctx, gw, NameCRMNote, req, idemKey)
}
