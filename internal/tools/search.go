package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/axiom-research/axiom/internal/llm"
)

type SearchConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
}

// SearchClient queries the Tavily search API. Any upstream failure
// degrades to an empty result list so the model can try another
// approach instead of aborting the turn.
type SearchClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
	logger     *slog.Logger
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func NewSearchClient(cfg SearchConfig, logger *slog.Logger) *SearchClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (c *SearchClient) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "webSearch",
		Description: "Search the web for information",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required":             []any{"query"},
			"additionalProperties": false,
		},
	}
}

func (c *SearchClient) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	query, _ := input["query"].(string)
	results := c.Search(ctx, query)
	return map[string]any{"results": results}, nil
}

// Search returns an empty slice on any failure.
func (c *SearchClient) Search(ctx context.Context, query string) []SearchResult {
	payload := map[string]any{
		"api_key":      c.apiKey,
		"query":        query,
		"search_depth": "advanced",
		"max_results":  c.maxResults,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return []SearchResult{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return []SearchResult{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("web search request failed", "error", err)
		return []SearchResult{}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		c.logger.Warn("web search returned error status", "status", resp.Status)
		return []SearchResult{}
	}

	var parsed struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Warn("web search response decode failed", "error", err)
		return []SearchResult{}
	}
	if parsed.Results == nil {
		return []SearchResult{}
	}
	return parsed.Results
}
