// Package search implements the internet_search tool on the Tavily search
// API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-voice/core/tools"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	Name = "internet_search"

	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 5
	maxContentLength  = 250
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-voice/core/tools/search")

type Args struct {
	Query       string `json:"query" jsonschema:"description=The search query to execute"`
	SearchDepth string `json:"search_depth" jsonschema:"description=The depth of search: basic for quick results or advanced for comprehensive search,enum=basic,enum=advanced,enum=deep"`
}

type Hit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

type Results struct {
	Query   string `json:"query"`
	Answer  string `json:"answer,omitempty"`
	Results []Hit  `json:"results"`
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithMaxResults(n int) Option {
	return func(c *Client) { c.maxResults = n }
}

type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		maxResults: defaultMaxResults,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Capability() tools.Capability {
	return tools.MustNewFunc("Search the internet for real-time information.",
		func(ctx context.Context, args Args) (any, error) { return c.Search(ctx, args.Query, args.SearchDepth) })
}

type searchRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

// Search runs a query. A depth of "deep" is treated as "advanced".
func (c *Client) Search(ctx context.Context, query, depth string) (*Results, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("tavily api key not set")
	}
	if depth == "deep" {
		depth = "advanced"
	}
	logger.Info("performing internet search", "query", query, "depth", depth)

	body, err := json.Marshal(searchRequest{
		Query:         query,
		SearchDepth:   depth,
		MaxResults:    c.maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var results Results
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(results.Results) > c.maxResults {
		results.Results = results.Results[:c.maxResults]
	}
	for i := range results.Results {
		results.Results[i].Content = truncate(results.Results[i].Content, maxContentLength)
	}
	return &results, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
