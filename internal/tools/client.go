package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/linnemanlabs/redress/internal/gateway"
)

const maxResponseBytes = 1 << 20 // 1 MB

// doJSON performs an HTTP exchange against a collaborator API and classifies
// failures into the gateway error taxonomy: network errors, 429, and 5xx are
// transient; everything else in 4xx is permanent. body may be nil for GET.
func doJSON(ctx context.Context, client *http.Client, tool, method, url, apiKey string, in, out any) error {
	var reqBody io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return gateway.Permanent(tool, "encode request", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return gateway.Permanent(tool, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req) //nolint:gosec // G704 - url is built from operator-configured endpoints
	if err != nil {
		return gateway.Transient(tool, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gateway.Transient(tool, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return gateway.Transient(tool, fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gateway.Permanent(tool, "authentication rejected", nil)
	case resp.StatusCode == http.StatusNotFound:
		return gateway.Permanent(tool, "not found", nil)
	default:
		return gateway.Permanent(tool,
			fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(respBody, 256)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return gateway.Permanent(tool, "decode response", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
