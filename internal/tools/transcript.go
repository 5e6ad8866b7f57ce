package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// Transcript is the stored record of a customer interaction, including the
// store's own sentiment value used to re-confirm the alert.
type Transcript struct {
	TranscriptID   string  `json:"transcript_id"`
	Text           string  `json:"text"`
	SentimentScore float64 `json:"sentiment_score"`
}

// TranscriptFetch retrieves a conversation transcript by ID.
type TranscriptFetch struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewTranscriptFetch creates the transcript tool for the given API base URL.
func NewTranscriptFetch(endpoint, apiKey string) *TranscriptFetch {
	return &TranscriptFetch{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *TranscriptFetch) Name() string { return NameTranscriptFetch }

func (t *TranscriptFetch) Description() string {
	return "Fetch the full text and stored sentiment of a customer interaction transcript."
}

func (t *TranscriptFetch) SideEffecting() bool { return false }

type transcriptInput struct {
	TranscriptID string `json:"transcript_id"`
}

// Invoke fetches the transcript.
func (t *TranscriptFetch) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input transcriptInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(t.Name(), "invalid params", err)
	}
	if input.TranscriptID == "" {
		return nil, gateway.Permanent(t.Name(), "transcript_id is required", nil)
	}

	var out Transcript
	u := t.endpoint + "/transcripts/" + url.PathEscape(input.TranscriptID)
	if err := doJSON(ctx, t.httpClient, t.Name(), http.MethodGet, u, t.apiKey, nil, &out); err != nil {
		return nil, err
	}
	if out.TranscriptID == "" {
		out.TranscriptID = input.TranscriptID
	}
	return json.Marshal(out)
}

// FetchTranscript is the typed wrapper used by the triage stage.
func FetchTranscript(ctx context.Context, gw *gateway.Gateway, transcriptID string) (*Transcript, error) {
	return invoke[Transcript](ctx, gw, NameTranscriptFetch, transcriptInput{TranscriptID: transcriptID}, "")
}
