// Package slack sends case attention notifications to Slack via incoming
// webhooks. Used for cases parked in PendingApproval and cases that Failed.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/redress/internal/pipeline"
)

const (
	maxNoteLen  = 1500
	httpTimeout = 10 * time.Second
)

// Notifier posts case summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a case needing human attention to the configured webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, c *pipeline.CaseRecord) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(c)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(c *pipeline.CaseRecord) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(c),
			{"type": "divider"},
			fieldsBlock(c),
			{"type": "divider"},
			noteBlock(c),
			{"type": "divider"},
			contextBlock(c),
		},
	}
}

func headerBlock(c *pipeline.CaseRecord) map[string]any {
	emoji := "\U0001f7e1" // yellow circle
	title := "Case Awaiting Approval"
	if c.Stage == pipeline.StageFailed {
		emoji = "\U0001f534" // red circle
		title = "Case Failed"
	}
	text := fmt.Sprintf("%s %s: customer %s", emoji, title, c.Alert.CustomerID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(c *pipeline.CaseRecord) map[string]any {
	tier, category := "unknown", "unknown"
	severity := 0.0
	if c.Verdict != nil {
		tier = c.Verdict.CustomerTier
		category = c.Verdict.Category
		severity = c.Verdict.SeverityScore
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Stage:* %s", c.Stage),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tier:* %s", tier),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", category),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %.2f", severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Sentiment:* %.2f", c.Alert.SentimentScore),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Transcript:* %s", c.Alert.TranscriptID),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func noteBlock(c *pipeline.CaseRecord) map[string]any {
	var text string
	switch {
	case c.Stage == pipeline.StagePendingApproval:
		if sol := c.PendingSolution(); sol != nil {
			text = fmt.Sprintf("Held action: *%s* (authority level %d)", sol.ActionType, sol.AuthorityLevel)
			if sol.Explanation != "" {
				text += "\n" + truncate(sol.Explanation, maxNoteLen)
			}
		}
	case len(c.Audit) > 0:
		text = truncate(c.Audit[len(c.Audit)-1].Note, maxNoteLen)
	}
	if text == "" {
		text = "_No details available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(c *pipeline.CaseRecord) map[string]any {
	ts := c.UpdatedAt
	if ts.IsZero() {
		ts = c.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("redress • case %s • %s", c.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
