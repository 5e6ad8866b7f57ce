package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// NotifyRequest sends one message to a customer.
type NotifyRequest struct {
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject,omitempty"` // email only
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// NotifyResponse reports delivery status.
type NotifyResponse struct {
	DeliveryStatus string `json:"delivery_status"`
	MessageID      string `json:"message_id,omitempty"`
}

// NotifyCustomer sends email or SMS through the communication provider.
// Side-effecting: a retried send must never reach the customer twice.
type NotifyCustomer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewNotifyCustomer creates the notification tool for the given API base URL.
func NewNotifyCustomer(endpoint, apiKey string) *NotifyCustomer {
	return &NotifyCustomer{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (n *NotifyCustomer) Name() string { return NameNotifyCustomer }

func (n *NotifyCustomer) Description() string {
	return "Send an email or SMS to a customer. Side-effecting; idempotency key required."
}

func (n *NotifyCustomer) SideEffecting() bool { return true }

// Invoke sends the message.
func (n *NotifyCustomer) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input NotifyRequest
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(n.Name(), "invalid params", err)
	}
	switch input.Channel {
	case ChannelEmail, ChannelSMS:
	default:
		return nil, gateway.Permanent(n.Name(), fmt.Sprintf("unknown channel %q", input.Channel), nil)
	}
	if input.Recipient == "" || input.Body == "" {
		return nil, gateway.Permanent(n.Name(), "recipient and body are required", nil)
	}

	var out NotifyResponse
	if err := doJSON(ctx, n.httpClient, n.Name(), http.MethodPost, n.endpoint+"/v1/messages", n.apiKey, input, &out); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// SendNotification is the typed wrapper used by the action stage.
func SendNotification(ctx context.Context, gw *gateway.Gateway, req NotifyRequest, idemKey string) (*NotifyResponse, error) {
	req.IdempotencyKey = idemKey
	return invoke[NotifyResponse](ctx, gw, NameNotifyCustomer, req, idemKey)
}
