// Package fetch implements the rate-limited HTTP transport used to retrieve
// API resources.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Response is one hop of a fetch. Redirects are deliberately not followed so
// the caller can walk the chain itself with its own bound.
type Response struct {
	StatusCode int
	// Location is the redirect target resolved against the request URL,
	// or "" when the response carries none.
	Location string
	Body     []byte
}

// Client is a rate-limited HTTP client for JSON APIs.
type Client struct {
	// manual never follows redirects; used by Do.
	manual *http.Client
	// auto follows redirects normally; used by FetchJSON.
	auto      *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       *slog.Logger
}

// NewClient creates a Client throttled to rps requests per second with the
// given burst.
func NewClient(rps float64, burst int, timeout time.Duration, userAgent string, log *slog.Logger) *Client {
	if burst < 1 {
		burst = 1
	}
	return &Client{
		manual: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		auto:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		userAgent: userAgent,
		log:       log,
	}
}

// Do performs a single GET without following redirects, returning the status,
// the resolved Location header and the body.
func (c *Client) Do(ctx context.Context, url string) (*Response, error) {
	resp, err := c.get(ctx, c.manual, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	loc := resp.Header.Get("Location")
	if loc != "" && resp.Request != nil && resp.Request.URL != nil {
		if u, err := resp.Request.URL.Parse(loc); err == nil {
			loc = u.String()
		}
	}
	return &Response{StatusCode: resp.StatusCode, Location: loc, Body: body}, nil
}

// FetchJSON retrieves url (following redirects) and decodes the JSON body.
// Any non-2xx status is logged and reported as a nil value with no error, so
// callers can treat "nothing fetched" uniformly.
func (c *Client) FetchJSON(ctx context.Context, url string) (any, error) {
	resp, err := c.get(ctx, c.auto, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("fetch failed", "url", url, "status", resp.StatusCode)
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON from %s: %w", url, err)
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, hc *http.Client, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	return resp, nil
}
