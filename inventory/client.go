package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gregjones/httpcache"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 250 * time.Millisecond
	defaultListLimit     = 50
	maxResponseBody      = 10 * 1024 * 1024
	userAgent            = "assetlabel/1"
)

// Client talks to one inventory installation with one API key.
type Client struct {
	apiBase       string
	siteBase      string
	apiKey        string
	httpClient    *http.Client
	logger        *slog.Logger
	timeout       time.Duration
	maxRetries    uint64
	retryInterval time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default caching client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithRetries sets how many times a transient failure is retried and the
// initial backoff interval.
func WithRetries(n uint64, interval time.Duration) Option {
	return func(cl *Client) {
		cl.maxRetries = n
		cl.retryInterval = interval
	}
}

// NewClient builds a client for the installation at baseURL. baseURL may
// be the site root or already point at /api or /api/v1.
//
// The default transport stack is an in-memory httpcache transport over
// http.DefaultTransport, so repeated reads of the same item within one
// run are served with conditional requests.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	apiBase, siteBase, err := splitBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		apiBase:       apiBase,
		siteBase:      siteBase,
		apiKey:        apiKey,
		logger:        slog.Default(),
		timeout:       defaultTimeout,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   c.timeout,
		}
	}
	return c, nil
}

func splitBaseURL(raw string) (api, site string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("inventory: parse base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("inventory: base URL %q must be an absolute http(s) URL", raw)
	}
	u.RawQuery, u.Fragment = "", ""
	p := strings.TrimRight(u.Path, "/")

	switch {
	case strings.HasSuffix(p, "/api/v1"):
		u.Path = strings.TrimSuffix(p, "/api/v1")
		site = u.String()
		u.Path = p
	case strings.HasSuffix(p, "/api"):
		u.Path = strings.TrimSuffix(p, "/api")
		site = u.String()
		u.Path = p + "/v1"
	default:
		u.Path = p
		site = u.String()
		u.Path = p + "/api/v1"
	}
	return u.String(), site, nil
}

// WebURL is the browser address of an item, used for QR codes.
func (c *Client) WebURL(t ItemType, id string) string {
	return c.siteBase + "/" + t.Endpoint() + "/" + url.PathEscape(id)
}

// Get fetches a single item by numeric id.
func (c *Client) Get(ctx context.Context, t ItemType, id string) (*Item, error) {
	if n, err := strconv.Atoi(id); err != nil || n <= 0 {
		return nil, fmt.Errorf("inventory: item number %q must be a positive integer", id)
	}

	body, err := c.get(ctx, t.Endpoint()+"/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", t, id, err)
	}
	item, err := decodeItem(t, body)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", t, id, err)
	}
	return item, nil
}

// List returns one page of items matching opts, and the server-side
// total.
func (c *Client) List(ctx context.Context, t ItemType, opts ListOptions) ([]*Item, int, error) {
	q := url.Values{}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}

	body, err := c.get(ctx, t.Endpoint(), q)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", t, err)
	}

	var lb listBody
	if err := json.Unmarshal(body, &lb); err != nil {
		return nil, 0, fmt.Errorf("list %s: decode response: %w", t, err)
	}
	items := make([]*Item, 0, len(lb.Rows))
	for _, row := range lb.Rows {
		item, err := decodeItem(t, row)
		if err != nil {
			return nil, 0, fmt.Errorf("list %s: %w", t, err)
		}
		items = append(items, item)
	}
	return items, lb.Total, nil
}

// get performs an authenticated GET against the API, retrying transient
// failures, and returns the response body.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	target := c.apiBase + "/" + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body []byte
	op := func() error {
		b, err := c.do(ctx, target)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.DebugContext(ctx, "retrying inventory request", "path", path, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "inventory response",
		"status", resp.StatusCode,
		"cached", resp.Header.Get(httpcache.XFromCache) != "",
	)

	var sb statusBody
	_ = json.Unmarshal(body, &sb)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &APIError{StatusCode: resp.StatusCode, Messages: sb.messages()}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Messages: sb.messages()})
	case sb.Status == "error":
		return nil, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Messages: sb.messages()})
	}
	if !json.Valid(bytes.TrimSpace(body)) {
		return nil, backoff.Permanent(errors.New("inventory: response is not JSON"))
	}
	return body, nil
}
