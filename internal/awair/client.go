package awair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the Awair cloud API device root.
const DefaultBaseURL = "https://developer-apis.awair.is/v1/users/self/devices"

// ErrRateLimited signals an HTTP 429 from the vendor API. It is
// terminal for the current range operation; callers re-invoke later.
var ErrRateLimited = errors.New("rate limit exceeded (429)")

// Error classifications carried by failed FetchResults.
const (
	ErrClassRateLimit = "rate_limit"
	ErrClassHTTP      = "http_error"
)

// Client fetches raw readings for one device from the Awair cloud API.
// The bearer token and device identity are injected; resolving either
// is the caller's problem.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	deviceType string
	deviceID   int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL (tests point this at a local
// httptest server).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger overrides the diagnostic logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the given device.
func NewClient(token, deviceType string, deviceID int, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if deviceType == "" || deviceID == 0 {
		return nil, fmt.Errorf("device type and id are required")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		baseURL:    DefaultBaseURL,
		token:      token,
		deviceType: deviceType,
		deviceID:   deviceID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiTime is the timestamp format the raw endpoint accepts for the
// from/to query parameters.
const apiTime = "2006-01-02T15:04:05"

// FetchRaw requests one page of raw readings for [from, to], at most
// limit rows. API-level failures (429, other HTTP errors) come back as
// an unsuccessful FetchResult; malformed payloads are returned as a
// hard error.
func (c *Client) FetchRaw(ctx context.Context, from, to time.Time, limit int) (*FetchResult, error) {
	res := &FetchResult{
		RequestedFrom:  from,
		RequestedTo:    to,
		RequestedLimit: limit,
	}

	q := url.Values{}
	q.Set("fahrenheit", "true")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("from", from.UTC().Format(apiTime))
	q.Set("to", to.UTC().Format(apiTime))

	u := fmt.Sprintf("%s/%s/%d/air-data/raw?%s", c.baseURL, c.deviceType, c.deviceID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.ErrClass = ErrClassHTTP
		res.Message = err.Error()
		return res, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		res.ErrClass = ErrClassRateLimit
		res.Message = "Rate limit exceeded (429)"
		return res, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		res.ErrClass = ErrClassHTTP
		res.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))
		return res, nil
	}

	var payload struct {
		Data []rawDatum `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	rows := make([]Reading, 0, len(payload.Data))
	for _, d := range payload.Data {
		r, err := newReading(d)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}

	res.Success = true
	res.Rows = rows
	res.computeStats()
	return res, nil
}

// DeviceType returns the configured device type.
func (c *Client) DeviceType() string { return c.deviceType }

// DeviceID returns the configured device id.
func (c *Client) DeviceID() int { return c.deviceID }
