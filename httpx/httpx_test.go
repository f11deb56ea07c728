package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/funcr"

	"github.com/adeilh/oasis/auth"
)

func TestServerAndClientRoundTrip(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/isalive", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{"status": "alive"})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.BaseURL()))

	var body struct {
		Status string `json:"status"`
	}
	resp, err := client.Get(context.Background(), "/isalive", &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode() != StatusOK || body.Status != "alive" {
		t.Fatalf("unexpected response: status=%d body=%#v", resp.StatusCode(), body)
	}
}

func TestClientStatusError(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.POST("/token", func(c Context) error {
			return c.JSON(StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "expired"})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.BaseURL()))
	resp, err := client.PostForm(context.Background(), "/token", url.Values{"grant_type": {"x"}}, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != StatusBadRequest || resp.StatusCode() != StatusBadRequest {
		t.Fatalf("unexpected status: %d", statusErr.StatusCode)
	}
	if want := `http 400: {"error":"invalid_grant","error_description":"expired"}`; statusErr.Error() != want {
		t.Fatalf("Error() = %q, want %q", statusErr.Error(), want)
	}
	doc, ok := statusErr.OAuth()
	if !ok || doc.Code != "invalid_grant" || doc.Description != "expired" {
		t.Fatalf("OAuth() = %+v, %v", doc, ok)
	}
	if doc.Error() != "invalid_grant: expired" {
		t.Fatalf("OAuthError.Error() = %q", doc.Error())
	}
	if _, ok := (&StatusError{StatusCode: 502, Body: []byte("bad gateway")}).OAuth(); ok {
		t.Fatalf("plain text body must not decode as an OAuth error")
	}
}

func TestErrorHandlerWrapsEchoHTTPError(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/fail", func(c Context) error {
			return HTTPError(StatusBadRequest, "bad request")
		})
		e.GET("/boom", func(c Context) error {
			return errors.New("internal detail")
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.BaseURL()))

	resp, err := client.Get(context.Background(), "/fail", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || resp.StatusCode() != StatusBadRequest {
		t.Fatalf("unexpected result: %v", err)
	}
	if string(statusErr.Body) != "{\"error\":\"invalid_request\",\"error_description\":\"bad request\"}\n" {
		t.Fatalf("unexpected body %q", statusErr.Body)
	}

	resp, _ = client.Get(context.Background(), "/boom", nil)
	if resp.StatusCode() != StatusInternalError {
		t.Fatalf("unexpected status: %d", resp.StatusCode())
	}
	if body := string(resp.Body()); !strings.Contains(body, `"error":"server_error"`) || strings.Contains(body, "internal detail") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestPostFormEncodesBody(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.POST("/form", func(c Context) error {
			if ct := c.Request().Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
				return HTTPError(StatusBadRequest, ct)
			}
			return c.JSON(StatusOK, map[string]string{
				"grant_type": c.FormValue("grant_type"),
				"audience":   c.FormValue("audience"),
			})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.BaseURL()))
	var out map[string]string
	form := url.Values{"grant_type": {"urn:ietf:params:oauth:grant-type:token-exchange"}, "audience": {"cluster:ns:app"}}
	if _, err := client.PostForm(context.Background(), "/form", form, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["grant_type"] != form.Get("grant_type") || out["audience"] != "cluster:ns:app" {
		t.Fatalf("unexpected echo: %v", out)
	}
}

type checkerFunc func(ctx context.Context, token string) error

func (f checkerFunc) Validate(ctx context.Context, token string) error { return f(ctx, token) }

func TestAuthMiddlewareBridge(t *testing.T) {
	mw, err := auth.NewMiddleware(checkerFunc(func(_ context.Context, token string) error {
		if token != "valid" {
			return errors.New("rejected")
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("unexpected err creating middleware: %v", err)
	}

	server := NewServer(AppendMiddlewares(AuthMiddleware(mw)))
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/secure", func(c Context) error {
			token, ok := auth.TokenFromContext(c.Request().Context())
			if !ok || token != "valid" {
				return HTTPError(StatusUnauthorized, "missing token")
			}
			return c.JSON(StatusOK, map[string]string{"ok": "yes"})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.BaseURL()))
	resp, err := client.Get(context.Background(), "/secure", nil, WithBearer("valid"))
	if err != nil || resp.StatusCode() != StatusOK {
		t.Fatalf("unexpected result: %v", err)
	}

	resp, _ = client.Get(context.Background(), "/secure", nil, WithBearer("forged"))
	if resp.StatusCode() != StatusUnauthorized {
		t.Fatalf("unexpected status: %d", resp.StatusCode())
	}
}

func TestAuthMiddlewareNil(t *testing.T) {
	server := NewServer(AppendMiddlewares(AuthMiddleware(nil)))
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/secure", func(c Context) error { return c.NoContent(StatusOK) })
	})
	ts := NewTestServer(server.Handler())
	defer ts.Close()

	resp, _ := NewClient(WithBaseURL(ts.BaseURL())).Get(context.Background(), "/secure", nil)
	if resp.StatusCode() != StatusUnauthorized {
		t.Fatalf("unexpected status: %d", resp.StatusCode())
	}
}

func TestClientRequestOptions(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/opts", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{
				"auth":   c.Request().Header.Get("Authorization"),
				"accept": c.Request().Header.Get("Accept"),
				"custom": c.Request().Header.Get("X-Custom"),
				"q":      c.QueryParam("q"),
			})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.BaseURL()))
	var out map[string]string
	_, err := client.Get(context.Background(), "/opts", &out,
		WithBearer("token123"),
		WithRequestHeaders(map[string]string{"X-Custom": "yes"}),
		WithQuery(map[string]string{"q": "search"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["auth"] != "Bearer token123" || out["custom"] != "yes" || out["q"] != "search" || out["accept"] != "application/json" {
		t.Fatalf("unexpected headers/query: %v", out)
	}
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

func TestClientTransportAndHeaders(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/config", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{"cfg": c.Request().Header.Get("X-Config")})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	rt := &countingTransport{next: http.DefaultTransport}
	client := NewClient(
		WithBaseURL(ts.BaseURL()),
		WithTransport(rt),
		WithHeaders(map[string]string{"X-Config": "hooked"}),
	)

	var out map[string]string
	if _, err := client.Get(context.Background(), "/config", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["cfg"] != "hooked" {
		t.Fatalf("default header not sent: %v", out)
	}
	if rt.calls.Load() != 1 {
		t.Fatalf("transport used %d times", rt.calls.Load())
	}
}

func TestClientHonoursContextDeadline(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/slow", func(c Context) error {
			select {
			case <-time.After(2 * time.Second):
			case <-c.Request().Context().Done():
			}
			return c.NoContent(StatusOK)
		})
	})
	ts := NewTestServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(WithBaseURL(ts.BaseURL())).Get(ctx, "/slow", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestServerStartStops(t *testing.T) {
	server := NewServer(WithAddress("127.0.0.1:0"), WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestRequestLogger(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	log := funcr.New(func(prefix, args string) {
		mu.Lock()
		lines = append(lines, args)
		mu.Unlock()
	}, funcr.Options{Verbosity: 1})

	server := NewServer(AppendMiddlewares(RequestLogger(log)))
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/api/obo", func(c Context) error { return c.NoContent(StatusOK) })
	})
	ts := NewTestServer(server.Handler())
	defer ts.Close()

	if _, err := NewClient(WithBaseURL(ts.BaseURL())).Get(context.Background(), "/api/obo", nil, WithQuery(map[string]string{"audience": "secret-aud"})); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 {
		t.Fatalf("logged %d lines, want 1: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], `"path"="/api/obo"`) || strings.Contains(lines[0], "secret-aud") {
		t.Fatalf("unexpected log line %s", lines[0])
	}
}

func TestTestServerEndpoint(t *testing.T) {
	ts := NewTestServer(http.NotFoundHandler())
	defer ts.Close()
	if got := ts.Endpoint("/jwks"); got != ts.URL+"/jwks" {
		t.Fatalf("Endpoint() = %q", got)
	}
	var nilServer *TestServer
	if nilServer.Endpoint("token") != "" || NewEchoTestServer(nil) != nil {
		t.Fatalf("nil server must yield empty endpoints")
	}
}

func TestClientRetries(t *testing.T) {
	var calls atomic.Int32
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/flaky", func(c Context) error {
			if calls.Add(1) < 3 {
				return c.NoContent(http.StatusServiceUnavailable)
			}
			return c.NoContent(StatusOK)
		})
		e.POST("/token", func(c Context) error {
			calls.Add(1)
			return c.NoContent(http.StatusServiceUnavailable)
		})
		e.GET("/rejected", func(c Context) error {
			calls.Add(1)
			return c.JSON(StatusBadRequest, OAuthError{Code: "invalid_grant"})
		})
	})
	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.BaseURL()), WithRetries(2, 5*time.Millisecond))
	if _, err := client.Get(context.Background(), "/flaky", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}

	calls.Store(0)
	var statusErr *StatusError
	if _, err := client.Get(context.Background(), "/rejected", nil); !errors.As(err, &statusErr) {
		t.Fatalf("Get() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx answers must not be retried, calls = %d", calls.Load())
	}

	calls.Store(0)
	if _, err := client.PostForm(context.Background(), "/token", url.Values{"grant_type": {"x"}}, nil); !errors.As(err, &statusErr) {
		t.Fatalf("PostForm() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("token endpoint POST must be sent once, calls = %d", calls.Load())
	}
}

func TestClientDoBuffersAndRetries(t *testing.T) {
	var calls atomic.Int32
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/jwks", func(c Context) error {
			if calls.Add(1) == 1 {
				return c.NoContent(http.StatusBadGateway)
			}
			return c.JSON(StatusOK, map[string]any{"keys": []any{}, "ua": c.Request().Header.Get("X-Trace")})
		})
	})
	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := NewClient(WithRetries(1, 5*time.Millisecond))
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.Endpoint("/jwks"), nil)
	req.Header.Set("X-Trace", "jwks-fetch")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != StatusOK || !strings.Contains(string(body), `"ua":"jwks-fetch"`) {
		t.Fatalf("Do() = %d %s", resp.StatusCode, body)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}
