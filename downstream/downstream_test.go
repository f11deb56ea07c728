package downstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/adeilh/oasis/auth"
)

func TestStaticResolverGlobs(t *testing.T) {
	r, err := NewStaticResolver(
		Route{Host: "api.example.com", Audience: "exact"},
		Route{Host: "*.example.com", Audience: "single"},
		Route{Host: "**.internal", Audience: "deep"},
		Route{Host: "health.svc", Passthrough: true},
	)
	if err != nil {
		t.Fatalf("NewStaticResolver() error = %v", err)
	}

	tests := []struct {
		host string
		want string
	}{
		{host: "api.example.com", want: "exact"},
		{host: "API.example.com:8443", want: "exact"},
		{host: "foo.example.com", want: "single"},
		{host: "foo.bar.example.com", want: ""},
		{host: "a.b.c.internal", want: "deep"},
		{host: "example.org", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			route, err := r.Resolve(context.Background(), tt.host)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			got := ""
			if route != nil {
				got = route.Audience
			}
			if got != tt.want {
				t.Fatalf("Resolve(%q) audience = %q, want %q", tt.host, got, tt.want)
			}
		})
	}

	route, _ := r.Resolve(context.Background(), "health.svc")
	if route == nil || !route.Passthrough {
		t.Fatalf("expected passthrough route, got %+v", route)
	}
}

func TestStaticResolverRejectsBadRoutes(t *testing.T) {
	r, err := NewStaticResolver(Route{Host: "a.example.com", Audience: "a"})
	if err != nil {
		t.Fatalf("NewStaticResolver() error = %v", err)
	}
	bad := [][]Route{
		{{Host: "", Audience: "a"}},
		{{Host: "b.example.com"}},
	}
	for _, routes := range bad {
		if err := r.Replace(routes...); !errors.Is(err, ErrInvalidRoute) {
			t.Errorf("Replace(%+v) error = %v, want ErrInvalidRoute", routes, err)
		}
	}
	if route, _ := r.Resolve(context.Background(), "a.example.com"); route == nil {
		t.Fatalf("failed Replace must keep the previous routes")
	}
}

func TestLoadRoutes(t *testing.T) {
	routes, err := LoadRoutes(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || routes != nil {
		t.Fatalf("LoadRoutes(missing) = %v, %v", routes, err)
	}

	path := filepath.Join(t.TempDir(), "routes.yaml")
	content := `
- host: "*.example.com"
  audience: "cluster:team:app"
- host: metrics.local
  passthrough: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	routes, err = LoadRoutes(path)
	if err != nil {
		t.Fatalf("LoadRoutes() error = %v", err)
	}
	if len(routes) != 2 || routes[0].Audience != "cluster:team:app" || !routes[1].Passthrough {
		t.Fatalf("unexpected routes %+v", routes)
	}

	if err := os.WriteFile(path, []byte("host: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRoutes(path); !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("LoadRoutes(bad yaml) error = %v", err)
	}
}

type recordingExchanger struct {
	mu        sync.Mutex
	audiences []string
	subjects  []string
	err       error
}

func (e *recordingExchanger) Exchange(_ context.Context, token, audience string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subjects = append(e.subjects, token)
	e.audiences = append(e.audiences, audience)
	if e.err != nil {
		return "", e.err
	}
	return "obo-for-" + audience, nil
}

func newUpstream(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestTransportExchangesRoutedRequests(t *testing.T) {
	upstream, seen := newUpstream(t)
	resolver, err := NewStaticResolver(Route{Host: "127.0.0.1", Audience: "downstream-api"})
	if err != nil {
		t.Fatalf("NewStaticResolver() error = %v", err)
	}
	ex := &recordingExchanger{}
	client := &http.Client{Transport: NewTransport(resolver, ex)}

	t.Run("token from context", func(t *testing.T) {
		ctx := auth.ContextWithToken(context.Background(), "incoming")
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		resp.Body.Close()
		if req.Header.Get("Authorization") != "" {
			t.Fatalf("the caller's request must not be mutated")
		}
	})

	t.Run("token from header", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, upstream.URL, nil)
		req.Header.Set("Authorization", "Bearer from-header")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		resp.Body.Close()
	})

	if len(*seen) != 2 || (*seen)[0] != "Bearer obo-for-downstream-api" || (*seen)[1] != "Bearer obo-for-downstream-api" {
		t.Fatalf("upstream saw %v", *seen)
	}
	if ex.subjects[0] != "incoming" || ex.subjects[1] != "from-header" {
		t.Fatalf("exchanged subjects %v", ex.subjects)
	}

	t.Run("no token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, upstream.URL, nil)
		if _, err := client.Do(req); !errors.Is(err, ErrNoSubjectToken) {
			t.Fatalf("Do() error = %v, want ErrNoSubjectToken", err)
		}
	})
}

func TestTransportUnroutedAndPassthrough(t *testing.T) {
	upstream, seen := newUpstream(t)
	ex := &recordingExchanger{}
	for _, routes := range [][]Route{nil, {{Host: "127.0.0.1", Passthrough: true}}} {
		resolver, err := NewStaticResolver(routes...)
		if err != nil {
			t.Fatalf("NewStaticResolver() error = %v", err)
		}
		client := &http.Client{Transport: NewTransport(resolver, ex, WithBase(http.DefaultTransport))}
		req, _ := http.NewRequest(http.MethodGet, upstream.URL, nil)
		req.Header.Set("Authorization", "Bearer original")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		resp.Body.Close()
	}
	if len(ex.audiences) != 0 {
		t.Fatalf("unrouted hosts must not be exchanged: %v", ex.audiences)
	}
	for _, h := range *seen {
		if h != "Bearer original" {
			t.Fatalf("credentials changed on a passthrough request: %q", h)
		}
	}
}

func TestTransportExchangeFailure(t *testing.T) {
	upstream, seen := newUpstream(t)
	boom := errors.New("boom")
	resolver, _ := NewStaticResolver(Route{Host: "127.0.0.1", Audience: "a"})
	client := &http.Client{Transport: NewTransport(resolver, &recordingExchanger{err: boom})}

	ctx := auth.ContextWithToken(context.Background(), "incoming")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL, nil)
	if _, err := client.Do(req); !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want %v", err, boom)
	}
	if len(*seen) != 0 {
		t.Fatalf("request must not reach upstream after a failed exchange")
	}
}

func TestExchangerFunc(t *testing.T) {
	f := ExchangerFunc(func(_ context.Context, token, audience string) (string, error) {
		return token + ">" + audience, nil
	})
	got, err := f.Exchange(context.Background(), "t", "a")
	if err != nil || got != "t>a" {
		t.Fatalf("Exchange() = %q, %v", got, err)
	}
}
