// Package newsapi builds fetch operations against the news site's JSON API
// and external RSS/Atom feeds.
package newsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/http2"

	"github.com/hazz-dev/newsdesk/internal/fetchstate"
)

// connection pooling limits; widgets share one client
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
	defaultTimeout             = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout is applied per request via the context.
	Timeout time.Duration
	// HTTP2 negotiates HTTP/2 over TLS.
	HTTP2   bool
	Headers map[string]string
}

// Client issues requests against the news API.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	headers map[string]string
	feeds   *gofeed.Parser
	logger  *slog.Logger
}

// New creates a Client. Pass nil logger to use the default logger.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}
	if opts.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configuring http2 transport: %w", err)
		}
	}
	httpClient := &http.Client{Transport: transport}

	feeds := gofeed.NewParser()
	feeds.Client = httpClient

	return &Client{
		base:    base,
		http:    httpClient,
		timeout: opts.Timeout,
		headers: opts.Headers,
		feeds:   feeds,
		logger:  logger,
	}, nil
}

// HTTPClient returns the pooled client, for sharing with the prober.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Close releases idle connections.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func (c *Client) resolve(path string, query url.Values) string {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Get returns a fetch operation for GET path?query.
func (c *Client) Get(path string, query url.Values) fetchstate.FetchFunc {
	target := c.resolve(path, query)
	return func(ctx context.Context) (fetchstate.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := c.newRequest(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		b, err := fetchstate.FromHTTP(resp)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		return b, nil
	}
}

// Subscribe signs email up for the newsletter.
func (c *Client) Subscribe(ctx context.Context, email string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("invalid email %q: %w", email, err)
	}
	body, err := json.Marshal(map[string]string{"email": addr.Address})
	if err != nil {
		return fmt.Errorf("encoding signup: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, c.resolve("/api/newsletter", nil), body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("newsletter signup: %w", err)
	}
	b, err := fetchstate.FromHTTP(resp)
	if err != nil {
		return fmt.Errorf("newsletter signup: %w", err)
	}
	if !b.OK() {
		var env Envelope
		if err := b.Decode(&env); err == nil && env.Message != "" {
			return fmt.Errorf("newsletter signup: %s", env.Message)
		}
		return fmt.Errorf("newsletter signup: status %d", b.StatusCode())
	}
	c.logger.Info("newsletter signup", "email", addr.Address)
	return nil
}
