package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError carries the HTTP status of a rejected publish request so
// callers can distinguish rate limiting from authorization failures.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("publish API returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("publish API returned status %d", e.StatusCode)
}

// PostResult identifies a successfully created post.
type PostResult struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type createRequest struct {
	Text string `json:"text"`
}

type createResponse struct {
	Data PostResult `json:"data"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// Client publishes posts through the X v2 API using a bearer token.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
}

func NewClient(baseURL, bearerToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured reports whether the client has credentials to publish with.
func (c *Client) Configured() bool {
	return c.bearerToken != ""
}

// CreatePost publishes text as a new post. A non-2xx response is returned
// as an *APIError carrying the status code.
func (c *Client) CreatePost(ctx context.Context, text string) (*PostResult, error) {
	if !c.Configured() {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Detail: "bearer token is not configured"}
	}

	body, err := json.Marshal(createRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal post request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read post response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload errorResponse
		if json.Unmarshal(raw, &payload) == nil {
			if payload.Detail != "" {
				apiErr.Detail = payload.Detail
			} else {
				apiErr.Detail = payload.Title
			}
		}
		return nil, apiErr
	}

	var payload createResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode post response: %w", err)
	}
	return &payload.Data, nil
}
