package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
)

// TestServer is a local listener standing in for an identity provider or a
// downstream API in tests.
type TestServer struct{ *httptest.Server }

func NewTestServer(handler http.Handler) *TestServer {
	return &TestServer{httptest.NewServer(handler)}
}

// NewEchoTestServer serves e. A nil e yields nil.
func NewEchoTestServer(e *Echo) *TestServer {
	if e == nil {
		return nil
	}
	return NewTestServer(e.Echo)
}

func (ts *TestServer) BaseURL() string {
	if ts == nil || ts.Server == nil {
		return ""
	}
	return ts.URL
}

// Endpoint returns the absolute URL of path on ts, for example the JWKS or
// token endpoint of a fake provider.
func (ts *TestServer) Endpoint(path string) string {
	base := ts.BaseURL()
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimPrefix(path, "/")
}
