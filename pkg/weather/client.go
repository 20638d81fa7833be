package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/kukipiyo/PiyoXAssistant/internal/errors"
	"github.com/kukipiyo/PiyoXAssistant/internal/retry"
)

// Client fetches current conditions from an OpenWeatherMap-compatible API.
type Client struct {
	baseURL    string
	apiKey     string
	city       string
	httpClient *http.Client
	policy     retry.Policy
}

func NewClient(baseURL, apiKey, city string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		city:    city,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: retry.Policy{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  3,
			Jitter:       true,
		},
	}
}

// Configured reports whether the client has an API key to call with.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Current returns the present conditions for the configured city.
// Transient fetch failures are retried with backoff; a rejected key or
// bad request is returned immediately.
func (c *Client) Current(ctx context.Context) (*Report, error) {
	if !c.Configured() {
		return nil, apperrors.New(apperrors.ErrCodeWeatherAPI, "weather API key is not configured")
	}

	var report *Report
	err := c.policy.DoIf(ctx, func() error {
		r, err := c.fetch(ctx)
		if err != nil {
			return err
		}
		report = r
		return nil
	}, apperrors.IsRetryable)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (c *Client) fetch(ctx context.Context) (*Report, error) {
	q := url.Values{}
	q.Set("q", c.city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	endpoint := fmt.Sprintf("%s/data/2.5/weather?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWeatherAPI, "failed to create weather request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapRetryable(err, apperrors.ErrCodeWeatherAPI, "weather request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("weather API returned status %d", resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperrors.WrapRetryable(err, apperrors.ErrCodeWeatherAPI, "weather API unavailable")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWeatherAPI, "weather API rejected request")
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWeatherAPI, "failed to decode weather response")
	}

	return payload.toReport(c.city), nil
}

func (p *apiResponse) toReport(fallbackCity string) *Report {
	report := &Report{
		Temp:       fmt.Sprintf("%d°C", int(p.Main.Temp+0.5)),
		TempMax:    fmt.Sprintf("%d°C", int(p.Main.TempMax+0.5)),
		Humidity:   fmt.Sprintf("%d%%", p.Main.Humidity),
		Pressure:   fmt.Sprintf("%dhPa", p.Main.Pressure),
		WindSpeed:  fmt.Sprintf("%.1fm/s", p.Wind.Speed),
		Cloudiness: fmt.Sprintf("%d%%", p.Clouds.All),
		City:       p.Name,
	}
	if len(p.Weather) > 0 {
		report.Description = p.Weather[0].Description
	}
	if report.City == "" {
		report.City = fallbackCity
	}
	return report
}
