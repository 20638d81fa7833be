package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Quotes holds market figures pre-formatted for template substitution.
// Equity indexes fall back to reference values when no live source is
// available, matching the snapshot nature of the data.
type Quotes struct {
	Nikkei     string `json:"nikkei"`
	Topix      string `json:"topix"`
	Dow        string `json:"dow"`
	Nasdaq     string `json:"nasdaq"`
	SP500      string `json:"sp500"`
	UsdJpy     string `json:"usdJpy"`
	EurJpy     string `json:"eurJpy"`
	UpdateTime string `json:"updateTime"`
}

const (
	defaultNikkei = "38,750"
	defaultTopix  = "2,765pt"
	defaultDow    = "42,800"
	defaultNasdaq = "19,200pt"
	defaultSP500  = "5,850pt"
	defaultUsdJpy = "151.50"
	defaultEurJpy = "163.20"
)

type quoteResponse struct {
	Symbol  string `json:"symbol"`
	Close   string `json:"close"`
	Message string `json:"message"`
}

// Client fetches FX rates from a Twelve Data-compatible quote API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Configured reports whether live FX rates can be fetched.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Snapshot returns the current market figures. Without an API key the
// reference values are returned as-is. A transport failure is an error;
// an API-level refusal (rate limiting, bad symbol) degrades that pair to
// its reference value.
func (c *Client) Snapshot(ctx context.Context) (*Quotes, error) {
	quotes := &Quotes{
		Nikkei:     defaultNikkei,
		Topix:      defaultTopix,
		Dow:        defaultDow,
		Nasdaq:     defaultNasdaq,
		SP500:      defaultSP500,
		UsdJpy:     defaultUsdJpy,
		EurJpy:     defaultEurJpy,
		UpdateTime: c.now().Format("1/2 15:04"),
	}

	if !c.Configured() {
		return quotes, nil
	}

	usd, err := c.pairRate(ctx, "USD/JPY")
	if err != nil {
		return nil, err
	}
	if usd != "" {
		quotes.UsdJpy = usd
	}

	eur, err := c.pairRate(ctx, "EUR/JPY")
	if err != nil {
		return nil, err
	}
	if eur != "" {
		quotes.EurJpy = eur
	}

	return quotes, nil
}

// pairRate returns the formatted close rate for a currency pair, or an
// empty string when the API declined the request.
func (c *Client) pairRate(ctx context.Context, symbol string) (string, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)

	endpoint := fmt.Sprintf("%s/quote?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("quote request for %s failed: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("quote API returned status %d for %s", resp.StatusCode, symbol)
	}

	var payload quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode quote response for %s: %w", symbol, err)
	}

	if payload.Message != "" || payload.Close == "" {
		return "", nil
	}

	rate, err := strconv.ParseFloat(payload.Close, 64)
	if err != nil {
		return "", nil
	}
	return fmt.Sprintf("%.2f", rate), nil
}
