// Package httpapi is the JSON transport shared by the BeatSaver and
// BeatLeader clients.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"worldmachine/internal/errs"
)

var ErrNotFound = errors.New("not found")

type APIError struct {
	Service string
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api status %d: %s", e.Service, e.Status, e.Body)
}

type Client struct {
	service string
	http    *http.Client
	baseURL string
	agent   string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithUserAgent(agent string) Option {
	return func(c *Client) { c.agent = agent }
}

func New(service, baseURL string, opts ...Option) *Client {
	c := &Client{
		service: service,
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		agent:   "worldmachine",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON decodes the response of GET path?q into out. A 404 is ErrNotFound,
// other non-2xx statuses are *APIError. One 429 with Retry-After is retried.
func (c *Client) GetJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, q, out, true)
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, out any, retry bool) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return errs.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(fmt.Errorf("%s http: %w", c.service, err))
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests && retry {
		if ra := res.Header.Get("Retry-After"); ra != "" {
			if sec, _ := strconv.Atoi(ra); sec > 0 {
				select {
				case <-time.After(time.Duration(sec) * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
				return c.doJSON(ctx, method, path, q, out, false)
			}
		}
	}

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &APIError{Service: c.service, Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errs.Wrap(fmt.Errorf("%s decode: %w", c.service, err))
	}
	return nil
}

// Fetch downloads rawURL, which may be absolute, reading at most limit
// bytes. Statuses are mapped the same way as GetJSON.
func (c *Client) Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = c.baseURL + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(fmt.Errorf("%s http: %w", c.service, err))
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &APIError{Service: c.service, Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s: response larger than %d bytes", c.service, limit)
	}
	return data, nil
}
