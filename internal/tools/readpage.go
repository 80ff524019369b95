package tools

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/axiom-research/axiom/internal/llm"
)

// failedExtraction is fed back to the model when a page cannot be
// fetched, so it knows to try a different source.
const failedExtraction = "Failed to extract content from this source."

type ReaderConfig struct {
	BaseURL  string
	MaxChars int
}

// PageReader fetches a URL's readable content through the Jina reader
// proxy, which strips markup and returns plain text.
type PageReader struct {
	baseURL  string
	maxChars int
	client   *http.Client
	logger   *slog.Logger
}

func NewPageReader(cfg ReaderConfig, logger *slog.Logger) *PageReader {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://r.jina.ai"
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 15000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PageReader{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxChars: maxChars,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (r *PageReader) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "readPage",
		Description: "Scrape and read a URL.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to read",
				},
			},
			"required":             []any{"url"},
			"additionalProperties": false,
		},
	}
}

func (r *PageReader) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	url, _ := input["url"].(string)
	return map[string]any{"content": r.Read(ctx, url)}, nil
}

// Read returns the sentinel string on any failure.
func (r *PageReader) Read(ctx context.Context, url string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+url, nil)
	if err != nil {
		return failedExtraction
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("page read request failed", "url", url, "error", err)
		return failedExtraction
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		r.logger.Warn("page read returned error status", "url", url, "status", resp.Status)
		return failedExtraction
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Warn("page read body failed", "url", url, "error", err)
		return failedExtraction
	}
	content := string(body)
	if content == "" {
		return failedExtraction
	}
	return truncateRunes(content, r.maxChars)
}
