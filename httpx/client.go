package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// StatusError reports a response outside the 2xx range. Body holds the raw
// response payload so callers can decode protocol specific error documents.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Client performs outbound calls to identity provider endpoints. It is safe
// for concurrent use.
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
	if cfg.Transport != nil {
		rc.SetTransport(cfg.Transport)
	}
	if cfg.BaseURL != "" {
		rc.SetBaseURL(cfg.BaseURL)
	}
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if len(cfg.Headers) > 0 {
		rc.SetHeaders(cfg.Headers)
	}
	if cfg.Retries > 0 {
		rc.SetRetryCount(cfg.Retries)
		rc.SetRetryWaitTime(cfg.RetryWait)
		rc.SetRetryMaxWaitTime(4 * cfg.RetryWait)
		rc.AddRetryCondition(retryable)
	}

	return &Client{resty: rc}
}

// retryable limits retries to GET requests that failed to connect or got a
// 5xx. Token endpoint POSTs are never repeated.
func retryable(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != resty.MethodGet {
		return false
	}
	return err != nil || resp.StatusCode() >= 500
}

// Do sends req through the client so timeouts and retries apply, and hands
// back the response with its body buffered. It lets JWKS fetching share the
// client.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	r := c.resty.R().SetContext(req.Context())
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	resp, err := r.Execute(req.Method, req.URL.String())
	if err != nil {
		return nil, err
	}
	raw := *resp.RawResponse
	raw.Body = io.NopCloser(bytes.NewReader(resp.Body()))
	raw.ContentLength = int64(len(resp.Body()))
	return &raw, nil
}

type RequestOption func(*resty.Request)

// WithRequestHeaders sets headers on the underlying Resty request.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(headers) == 0 {
			return
		}
		r.SetHeaders(headers)
	}
}

// WithQuery sets query parameters on the request.
func WithQuery(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(params) == 0 {
			return
		}
		r.SetQueryParams(params)
	}
}

// WithBearer injects an Authorization header using the provided bearer token.
func WithBearer(token string) RequestOption {
	return func(r *resty.Request) {
		token = strings.TrimSpace(token)
		if token != "" {
			r.SetHeader("Authorization", "Bearer "+token)
		}
	}
}

func (c *Client) Get(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodGet, path, nil, result, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodPost, path, body, result, opts...)
}

// PostForm submits form as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, result any, opts ...RequestOption) (*resty.Response, error) {
	withForm := func(r *resty.Request) {
		r.SetFormDataFromValues(form)
	}
	return c.do(ctx, resty.MethodPost, path, nil, result, append([]RequestOption{withForm}, opts...)...)
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
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return resp, &StatusError{StatusCode: resp.StatusCode(), Body: resp.Body()}
	}
	return resp, nil
}
