// Package alert defines the inbound customer-sentiment alert event.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tokenNamespace scopes idempotency tokens to this application. Changing it
// invalidates every previously issued token, so it is fixed forever.
var tokenNamespace = uuid.MustParse("9b2f3a64-1c5e-4d0a-8f27-6e5b1d4c9a03")

// Alert is a high-negative-sentiment event emitted by the upstream sentiment
// analyzer. Immutable once received.
type Alert struct {
	TranscriptID   string    `json:"transcript_id"`
	CustomerID     string    `json:"customer_id"`
	SentimentScore float64   `json:"sentiment_score"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Key is the identity of an alert for deduplication. Redelivery of a message
// with the same transcript and customer must map to the same case.
func (a *Alert) Key() string {
	return a.TranscriptID + ":" + a.CustomerID
}

// Token derives the case idempotency token from the alert identity.
// Deterministic: the same alert always yields the same token, no matter how
// many times it is delivered.
func (a *Alert) Token() string {
	return uuid.NewSHA1(tokenNamespace, []byte(a.TranscriptID+"\n"+a.CustomerID)).String()
}

// Validate checks the alert carries everything the pipeline needs.
func (a *Alert) Validate() error {
	if a.TranscriptID == "" {
		return fmt.Errorf("transcript_id is required")
	}
	if a.CustomerID == "" {
		return fmt.Errorf("customer_id is required")
	}
	if a.SentimentScore < 0 || a.SentimentScore > 1 {
		return fmt.Errorf("sentiment_score %v out of range [0,1]", a.SentimentScore)
	}
	return nil
}
