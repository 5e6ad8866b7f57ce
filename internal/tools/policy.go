package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// PolicyPassage is one similarity-search hit from the policy corpus.
type PolicyPassage struct {
	Passage        string  `json:"passage"`
	RelevanceScore float64 `json:"relevance_score"`
}

// PolicySearchRequest asks the policy service for the top-K passages
// matching a natural-language query.
type PolicySearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// PolicySearchResponse carries the ranked passages.
type PolicySearchResponse struct {
	Passages []PolicyPassage `json:"passages"`
}

// PolicySearch queries the vector-search policy service. How the corpus is
// embedded and indexed is the service's concern, not ours.
type PolicySearch struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewPolicySearch creates the policy search tool for the given API base URL.
func NewPolicySearch(endpoint, apiKey string) *PolicySearch {
	return &PolicySearch{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PolicySearch) Name() string { return NamePolicySearch }

func (p *PolicySearch) Description() string {
	return "Similarity search over the company policy corpus; returns top-K passages with relevance scores."
}

func (p *PolicySearch) SideEffecting() bool { return false }

// Invoke runs the search.
func (p *PolicySearch) Invoke(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input PolicySearchRequest
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, gateway.Permanent(p.Name(), "invalid params", err)
	}
	if input.Query == "" {
		return nil, gateway.Permanent(p.Name(), "query is required", nil)
	}
	if input.K <= 0 {
		input.K = 5
	}

	var out PolicySearchResponse
	if err := doJSON(ctx, p.httpClient, p.Name(), http.MethodPost, p.endpoint+"/v1/search", p.apiKey, input, &out); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// SearchPolicies is the typed wrapper used by the solution stage.
func SearchPolicies(ctx context.Context, gw *gateway.Gateway, query string, k int) ([]PolicyPassage, error) {
	resp, err := invoke[PolicySearchResponse](ctx, gw, NamePolicySearch, PolicySearchRequest{Query: query, K: k}, "")
	if err != nil {
		return nil, err
	}
	return resp.Passages, nil
}
