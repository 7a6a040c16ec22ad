// Package httpfetch provides an HTTP client whose Fetch method can be used
// directly as a tiercache fetcher.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultResponseHeaderTimeout is the default timeout for receiving response headers.
const DefaultResponseHeaderTimeout = 30 * time.Second

// DefaultMaxBody is the default limit on a response body.
const DefaultMaxBody = 8 << 20

// ErrBodyTooLarge is returned when a response exceeds the body limit.
var ErrBodyTooLarge = errors.New("httpfetch: response body too large")

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpfetch: %s: unexpected status: %s", e.URL, e.Status)
}

// Document is a fetched HTTP response body.
type Document struct {
	URL         string    `json:"url"`
	StatusCode  int       `json:"status"`
	ContentType string    `json:"contentType,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	Body        []byte    `json:"body"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Client fetches documents over HTTP.
type Client struct {
	client    *http.Client
	maxBody   int64
	userAgent string
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets an overall timeout for each request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithMaxBody limits the number of body bytes read per response.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		c.maxBody = n
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithNow sets the function used to stamp FetchedAt.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a Client with sensible transport defaults.
func New(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		maxBody:   DefaultMaxBody,
		userAgent: "tiercache",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs a GET request for url. Non-2xx responses are returned as a
// *StatusError so callers can fall back to cached data.
func (c *Client) Fetch(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("creating request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, &StatusError{URL: url, Status: resp.Status, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Document{}, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return Document{}, ErrBodyTooLarge
	}

	return Document{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Body:        body,
		FetchedAt:   c.now(),
	}, nil
}
