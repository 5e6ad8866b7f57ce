package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

func errKind(t *testing.T, err error) gateway.ErrorKind {
	t.Helper()
	var te *gateway.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *gateway.ToolError", err)
	}
	return te.Kind
}

func TestDoJSONStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   gateway.ErrorKind
	}{
		{http.StatusTooManyRequests, gateway.KindTransient},
		{http.StatusInternalServerError, gateway.KindTransient},
		{http.StatusBadGateway, gateway.KindTransient},
		{http.StatusServiceUnavailable, gateway.KindTransient},
		{http.StatusUnauthorized, gateway.KindPermanent},
		{http.StatusForbidden, gateway.KindPermanent},
		{http.StatusNotFound, gateway.KindPermanent},
		{http.StatusBadRequest, gateway.KindPermanent},
		{http.StatusConflict, gateway.KindPermanent},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		defer srv.Close()

		err := doJSON(context.Background(), srv.Client(), "probe", http.MethodGet, srv.URL, "", nil, nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if kind := errKind(t, err); kind != tc.kind {
			t.Errorf("status %d classified %s, want %s", tc.status, kind, tc.kind)
		}
	}
}

func TestDoJSONNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing is listening anymore

	err := doJSON(context.Background(), &http.Client{Timeout: time.Second}, "probe", http.MethodGet, srv.URL, "", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := errKind(t, err); kind != gateway.KindTransient {
		t.Errorf("network error classified %s, want transient", kind)
	}
}

func TestDoJSONBadResponseBodyIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]any
	err := doJSON(context.Background(), srv.Client(), "probe", http.MethodGet, srv.URL, "", nil, &out)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if kind := errKind(t, err); kind != gateway.KindPermanent {
		t.Errorf("decode error classified %s, want permanent", kind)
	}
}

func TestCRMLookupInvoke(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customers/cust-1" {
			t.Errorf("path = %s, want /customers/cust-1", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer crm-key" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                  "cust-1",
			"name":                "Dana Smith",
			"email":               "dana@example.com",
			"tier":                "VIP",
			"lifetime_value":      2400.0,
			"orders_last_90_days": 4,
		})
	}))
	defer srv.Close()

	tool := NewCRMLookup(srv.URL, "crm-key")
	raw, err := tool.Invoke(context.Background(), json.RawMessage(`{"customer_id":"cust-1"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var p CustomerProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.CustomerID != "cust-1" || p.Tier != "VIP" || p.LifetimeValue != 2400 || p.RecentOrderCount != 4 {
		t.Errorf("profile = %+v", p)
	}
}

func TestCRMLookupDefaults(t *testing.T) {
	t.Parallel()

	// A sparse CRM record still yields a usable profile.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tool := NewCRMLookup(srv.URL, "")
	raw, err := tool.Invoke(context.Background(), json.RawMessage(`{"customer_id":"cust-9"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var p CustomerProfile
	_ = json.Unmarshal(raw, &p)
	if p.CustomerID != "cust-9" || p.Tier != "Standard" {
		t.Errorf("profile = %+v, want input ID and Standard tier", p)
	}
}

func TestCRMLookupRejectsMissingID(t *testing.T) {
	t.Parallel()

	tool := NewCRMLookup("http://unused", "")
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{}`)); err == nil || errKind(t, err) != gateway.KindPermanent {
		t.Errorf("err = %v, want permanent validation failure", err)
	}
}

func TestPaymentActionInvoke(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments" || r.Method != http.MethodPost {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Kind        string `json:"kind"`
			AmountCents int    `json:"amount_cents"`
			IdemKey     string `json:"idempotency_key"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Kind != PaymentRefund {
			t.Errorf("kind = %q", body.Kind)
		}
		if body.AmountCents != 8050 {
			t.Errorf("amount_cents = %d, want 8050", body.AmountCents)
		}
		if body.IdemKey != "tok/0" {
			t.Errorf("idempotency_key = %q", body.IdemKey)
		}
		_, _ = w.Write([]byte(`{"id":"tx-1","status":"completed"}`))
	}))
	defer srv.Close()

	tool := NewPaymentAction(srv.URL, "pay-key")
	req, _ := json.Marshal(PaymentRequest{
		Kind:           PaymentRefund,
		CustomerID:     "cust-1",
		Amount:         80.50,
		IdempotencyKey: "tok/0",
	})
	raw, err := tool.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var resp PaymentResponse
	_ = json.Unmarshal(raw, &resp)
	if resp.TransactionID != "tx-1" || resp.Status != "completed" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestPaymentActionValidation(t *testing.T) {
	t.Parallel()

	tool := NewPaymentAction("http://unused", "")
	cases := []struct {
		name string
		req  PaymentRequest
	}{
		{"UnknownKind", PaymentRequest{Kind: "wire_transfer", CustomerID: "c", Amount: 10}},
		{"MissingCustomer", PaymentRequest{Kind: PaymentRefund, Amount: 10}},
		{"ZeroAmount", PaymentRequest{Kind: PaymentCredit, CustomerID: "c"}},
		{"NegativeAmount", PaymentRequest{Kind: PaymentCredit, CustomerID: "c", Amount: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req, _ := json.Marshal(tc.req)
			_, err := tool.Invoke(context.Background(), req)
			if err == nil || errKind(t, err) != gateway.KindPermanent {
				t.Errorf("err = %v, want permanent validation failure", err)
			}
		})
	}
}

func TestShippingActionDefaultsMethod(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ShippingRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Method != "express" {
			t.Errorf("method = %q, want express default", body.Method)
		}
		_ = json.NewEncoder(w).Encode(ShippingResponse{ShipmentID: "ship-1", Status: "scheduled"})
	}))
	defer srv.Close()

	tool := NewShippingAction(srv.URL, "")
	req, _ := json.Marshal(ShippingRequest{Kind: ShippingReship, OrderID: "ord-9"})
	if _, err := tool.Invoke(context.Background(), req); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestNotifyCustomerValidation(t *testing.T) {
	t.Parallel()

	tool := NewNotifyCustomer("http://unused", "")
	cases := []struct {
		name string
		req  NotifyRequest
	}{
		{"UnknownChannel", NotifyRequest{Channel: "carrier_pigeon", Recipient: "a@b.c", Body: "hi"}},
		{"MissingRecipient", NotifyRequest{Channel: ChannelEmail, Body: "hi"}},
		{"MissingBody", NotifyRequest{Channel: ChannelSMS, Recipient: "+1555"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req, _ := json.Marshal(tc.req)
			_, err := tool.Invoke(context.Background(), req)
			if err == nil || errKind(t, err) != gateway.KindPermanent {
				t.Errorf("err = %v, want permanent validation failure", err)
			}
		})
	}
}

func TestPolicySearchDefaultsTopK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body PolicySearchRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.K != 5 {
			t.Errorf("k = %d, want default 5", body.K)
		}
		_ = json.NewEncoder(w).Encode(PolicySearchResponse{Passages: []PolicyPassage{
			{Passage: "refund policy", RelevanceScore: 0.8},
		}})
	}))
	defer srv.Close()

	tool := NewPolicySearch(srv.URL, "")
	raw, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"billing issue"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var resp PolicySearchResponse
	_ = json.Unmarshal(raw, &resp)
	if len(resp.Passages) != 1 || resp.Passages[0].RelevanceScore != 0.8 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTranscriptFetchFillsID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/transcripts/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"text":"I want a refund","sentiment_score":0.9}`))
	}))
	defer srv.Close()

	tool := NewTranscriptFetch(srv.URL, "")
	raw, err := tool.Invoke(context.Background(), json.RawMessage(`{"transcript_id":"tr-1"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var tr Transcript
	_ = json.Unmarshal(raw, &tr)
	if tr.TranscriptID != "tr-1" || tr.SentimentScore != 0.9 {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestOrderLookupPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customers/cust-1/orders/latest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(OrderStatus{OrderID: "ord-9", State: "delivered", Total: 80})
	}))
	defer srv.Close()

	tool := NewOrderLookup(srv.URL, "")
	raw, err := tool.Invoke(context.Background(), json.RawMessage(`{"customer_id":"cust-1"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var o OrderStatus
	_ = json.Unmarshal(raw, &o)
	if o.OrderID != "ord-9" || o.Total != 80 {
		t.Errorf("order = %+v", o)
	}
}

func TestInventoryCheckFillsSKU(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"available_qty":7}`))
	}))
	defer srv.Close()

	tool := NewInventoryCheck(srv.URL, "")
	raw, err := tool.Invoke(context.Background(), json.RawMessage(`{"sku":"sku-1"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var inv Inventory
	_ = json.Unmarshal(raw, &inv)
	if inv.SKU != "sku-1" || inv.AvailableQty != 7 {
		t.Errorf("inventory = %+v", inv)
	}
}
