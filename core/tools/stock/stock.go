// Package stock implements the stock_price tool on top of the Yahoo Finance
// chart endpoint.
package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/koscakluka/ema-voice/core/tools"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	Name = "stock_price"

	defaultBaseURL = "https://query1.finance.yahoo.com"
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-voice/core/tools/stock")

type Args struct {
	Symbol string `json:"symbol" jsonschema:"description=Stock ticker symbol or company name, e.g. AAPL"`
}

type Quote struct {
	Symbol        string  `json:"symbol"`
	Company       string  `json:"company,omitempty"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	PreviousClose float64 `json:"previous_close,omitempty"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume,omitempty"`
	Exchange      string  `json:"exchange,omitempty"`
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Capability() tools.Capability {
	return tools.MustNewFunc("Query real-time stock price information for a given company or symbol.",
		func(ctx context.Context, args Args) (any, error) { return c.Quote(ctx, args.Symbol) })
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency            string  `json:"currency"`
				Symbol              string  `json:"symbol"`
				ExchangeName        string  `json:"exchangeName"`
				LongName            string  `json:"longName"`
				ShortName           string  `json:"shortName"`
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				ChartPreviousClose  float64 `json:"chartPreviousClose"`
				RegularMarketVolume int64   `json:"regularMarketVolume"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote looks up the latest price of symbol. Only the first word of the
// query is used, so "ACME corp" looks up ACME.
func (c *Client) Quote(ctx context.Context, query string) (*Quote, error) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty stock symbol")
	}
	symbol := strings.ToUpper(fields[0])
	logger.Info("querying stock price", "symbol", symbol)

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ema-voice")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote: %w", err)
	}
	defer resp.Body.Close()

	var chart chartResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&chart); err != nil {
		return nil, fmt.Errorf("failed to decode quote (status %d): %w", resp.StatusCode, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("quote lookup for %s failed: %s", symbol, chart.Chart.Error.Description)
	}
	if resp.StatusCode != http.StatusOK || len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("no quote found for %s (status %d)", symbol, resp.StatusCode)
	}

	meta := chart.Chart.Result[0].Meta
	quote := &Quote{
		Symbol:        meta.Symbol,
		Company:       meta.LongName,
		Price:         meta.RegularMarketPrice,
		Currency:      meta.Currency,
		PreviousClose: meta.ChartPreviousClose,
		Volume:        meta.RegularMarketVolume,
		Exchange:      meta.ExchangeName,
	}
	if quote.Company == "" {
		quote.Company = meta.ShortName
	}
	if quote.Currency == "" {
		quote.Currency = "USD"
	}
	if meta.ChartPreviousClose > 0 {
		quote.ChangePercent = (meta.RegularMarketPrice - meta.ChartPreviousClose) / meta.ChartPreviousClose * 100
	}
	return quote, nil
}
