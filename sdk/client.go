// Package auditlimit provides a Go client for the claude-auditlimit
// admission and accounting sidecar.
package auditlimit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Version is the SDK version.
const Version = "1.0.0"

// DefaultBaseURL is the default sidecar base URL.
const DefaultBaseURL = "http://localhost:8000"

// Client is the claude-auditlimit API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithTimeout sets request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithUserAgent overrides the device identifier the sidecar hashes —
// callers load-testing device caps need distinct agents per "device".
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) { c.userAgent = userAgent }
}

// NewClient creates a new claude-auditlimit client for apiKey.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		apiKey:    apiKey,
		userAgent: fmt.Sprintf("auditlimit-go-sdk/%s", Version),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// Error represents a sidecar error response.
type Error struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("auditlimit: %s (status %d)", e.Message, e.StatusCode)
}

// apiError lets the typed errors below embed Error without the embedded
// field being named Error, which would hide the Error() method.
type apiError = Error

// DeviceDeniedError indicates the device cap was reached.
type DeviceDeniedError struct{ apiError }

// QuotaExceededError indicates the 3-hour token quota was exceeded.
type QuotaExceededError struct{ apiError }

func parseError(statusCode int, body []byte) error {
	var apiErr struct {
		ErrorBody struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	baseErr := Error{StatusCode: statusCode, Message: apiErr.ErrorBody.Message}
	if baseErr.Message == "" {
		baseErr.Message = http.StatusText(statusCode)
	}

	switch statusCode {
	case http.StatusForbidden:
		return &DeviceDeniedError{apiError: baseErr}
	case http.StatusTooManyRequests:
		return &QuotaExceededError{apiError: baseErr}
	default:
		return &baseErr
	}
}

// AuditLimit calls GET /audit_limit with the given conversation
// Referer, returning nil if the request is admitted.
func (c *Client) AuditLimit(ctx context.Context, referer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/audit_limit", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, body)
	}
	return nil
}

// ResponseNotify reports a raw provider response payload for token
// accounting via POST /response_notify.
func (c *Client) ResponseNotify(ctx context.Context, referer, rawData string) error {
	body := map[string]string{"Data": rawData}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/response_notify", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, respBody)
	}
	return nil
}

// DeviceInfo mirrors the sidecar's device list entry.
type DeviceInfo struct {
	UserAgent string `json:"user_agent"`
	Host      string `json:"host"`
}

type devicesResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Devices []DeviceInfo `json:"devices"`
		Total   int          `json:"total"`
	} `json:"data"`
}

// Devices calls GET /devices for the client's API key.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	var resp devicesResponse
	if err := c.request(ctx, http.MethodGet, "/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Devices, nil
}

// Logout calls GET /logout to remove the current device.
func (c *Client) Logout(ctx context.Context) error {
	return c.request(ctx, http.MethodGet, "/logout", nil, nil)
}

// UsageStats mirrors the sidecar's rolling-window usage snapshot.
type UsageStats struct {
	Total       int64 `json:"total"`
	Last3Hours  int64 `json:"last_3_hours"`
	Last12Hours int64 `json:"last_12_hours"`
	Last24Hours int64 `json:"last_24_hours"`
	LastWeek    int64 `json:"last_week"`
}

type tokenStatsResponse struct {
	Code int `json:"code"`
	Data []struct {
		Token string     `json:"token"`
		Usage UsageStats `json:"usage"`
	} `json:"data"`
}

// TokenStats calls GET /token_stats, returning every key's usage.
func (c *Client) TokenStats(ctx context.Context) (map[string]UsageStats, error) {
	var resp tokenStatsResponse
	if err := c.request(ctx, http.MethodGet, "/token_stats", nil, &resp); err != nil {
		return nil, err
	}
	result := make(map[string]UsageStats, len(resp.Data))
	for _, entry := range resp.Data {
		result[entry.Token] = entry.Usage
	}
	return result, nil
}

// AllTokenUsage calls GET /all_token_usage, returning per-key
// per-conversation token counts.
func (c *Client) AllTokenUsage(ctx context.Context) (map[string]map[string]int64, error) {
	var result map[string]map[string]int64
	if err := c.request(ctx, http.MethodGet, "/all_token_usage", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}
