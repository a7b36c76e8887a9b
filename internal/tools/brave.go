package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/registry"
)

const braveDefaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveWebSearch queries the Brave Search API.
type BraveWebSearch struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewBraveWebSearch(apiKey string) *BraveWebSearch {
	return &BraveWebSearch{
		endpoint: braveDefaultEndpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *BraveWebSearch) Name() string        { return "brave_web_search" }
func (t *BraveWebSearch) Description() string { return "Search the web via the Brave Search API." }

func (t *BraveWebSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query."},
			"count": {"type": "integer", "minimum": 1, "maximum": 20}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

// braveResponse is the subset of the Brave API response we surface.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *BraveWebSearch) Execute(ctx context.Context, args json.RawMessage, _ *registry.Invocation) (string, error) {
	var parsed struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", err
	}
	if t.apiKey == "" {
		return "", api.NewError(api.ErrorTypeInvalidRequest, "brave_web_search has no API key configured")
	}

	count := parsed.Count
	if count <= 0 {
		count = 5
	}

	query := url.Values{}
	query.Set("q", parsed.Query)
	query.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", api.NewErrorf(api.ErrorTypeAPI, "brave search: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", api.NewErrorf(api.ErrorTypeAPI, "brave search: read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", api.NewErrorf(api.ErrorTypeAPI, "brave search: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var search braveResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return "", api.NewErrorf(api.ErrorTypeAPI, "brave search: decode response: %v", err)
	}

	results := make([]map[string]string, 0, len(search.Web.Results))
	for _, r := range search.Web.Results {
		results = append(results, map[string]string{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Description,
		})
	}

	out, err := json.Marshal(map[string]any{
		"query":   parsed.Query,
		"results": results,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
