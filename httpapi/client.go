package httpapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Client is a typed HTTP client for the cache API built on resty.
type Client struct {
	resty *resty.Client
}

func NewClient(opts ...ClientOption) *Client {
	cfg := defaultClientOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rc := resty.New()
	if cfg.BaseURL != "" {
		rc.SetBaseURL(cfg.BaseURL)
	}
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if len(cfg.Headers) > 0 {
		rc.SetHeaders(cfg.Headers)
	}
	if cfg.Token != "" {
		rc.SetHeader("Authorization", "Bearer "+cfg.Token)
	}

	return &Client{resty: rc}
}

// RequestOption customizes a single request.
type RequestOption func(*resty.Request)

// WithRequestHeaders sets headers on the underlying request.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(headers) > 0 {
			r.SetHeaders(headers)
		}
	}
}

// Get fetches the entry stored under key; found is false on a miss.
func (c *Client) Get(ctx context.Context, key string, opts ...RequestOption) (EntryResponse, bool, error) {
	var out EntryResponse
	resp, err := c.do(ctx, resty.MethodGet, entryPath(key), nil, &out, opts...)
	if resp != nil && resp.StatusCode() == 404 {
		return EntryResponse{}, false, nil
	}
	if err != nil {
		return EntryResponse{}, false, err
	}
	return out, true, nil
}

// Set writes the entry under key.
func (c *Client) Set(ctx context.Context, key string, req EntryRequest, opts ...RequestOption) error {
	_, err := c.do(ctx, resty.MethodPut, entryPath(key), req, nil, opts...)
	return err
}

// Delete removes key; deleting an absent key succeeds.
func (c *Client) Delete(ctx context.Context, key string, opts ...RequestOption) error {
	_, err := c.do(ctx, resty.MethodDelete, entryPath(key), nil, nil, opts...)
	return err
}

// GetOrSet returns the cached value for key, storing req.Value first on a
// miss.
func (c *Client) GetOrSet(ctx context.Context, key string, req EntryRequest, opts ...RequestOption) (EntryResponse, error) {
	var out EntryResponse
	_, err := c.do(ctx, resty.MethodPost, entryPath(key)+"/getorset", req, &out, opts...)
	return out, err
}

// BatchGet fetches the present entries among keys.
func (c *Client) BatchGet(ctx context.Context, keys []string, opts ...RequestOption) (map[string]string, error) {
	var out BatchGetResponse
	_, err := c.do(ctx, resty.MethodPost, "/v1/batch/get", BatchGetRequest{Keys: keys}, &out, opts...)
	if err != nil {
		return nil, err
	}
	return out.Values, nil
}

// BatchSet writes items with no cross-key atomicity.
func (c *Client) BatchSet(ctx context.Context, items []BatchItem, opts ...RequestOption) error {
	_, err := c.do(ctx, resty.MethodPost, "/v1/batch/set", BatchSetRequest{Items: items}, nil, opts...)
	return err
}

// Invalidate removes entries by tags and/or key pattern and returns how many
// were removed.
func (c *Client) Invalidate(ctx context.Context, tags []string, pattern string, opts ...RequestOption) (int64, error) {
	var out InvalidateResponse
	_, err := c.do(ctx, resty.MethodPost, "/v1/invalidate", InvalidateRequest{Tags: tags, Pattern: pattern}, &out, opts...)
	return out.Removed, err
}

// WarmUp pre-populates the cache with items.
func (c *Client) WarmUp(ctx context.Context, items []BatchItem, opts ...RequestOption) error {
	_, err := c.do(ctx, resty.MethodPost, "/v1/warmup", BatchSetRequest{Items: items}, nil, opts...)
	return err
}

// Stats fetches the aggregate statistics.
func (c *Client) Stats(ctx context.Context, opts ...RequestOption) (StatsResponse, error) {
	var out StatsResponse
	_, err := c.do(ctx, resty.MethodGet, "/v1/stats", nil, &out, opts...)
	return out, err
}

// Health reports whether the server and its backend are reachable.
func (c *Client) Health(ctx context.Context, opts ...RequestOption) error {
	_, err := c.do(ctx, resty.MethodGet, "/v1/healthz", nil, nil, opts...)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return resp, err
	}
	if resp.IsError() {
		return resp, fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return resp, nil
}

func entryPath(key string) string {
	return "/v1/entries/" + url.PathEscape(key)
}
