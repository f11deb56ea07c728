package obo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adeilh/oasis/cache/sieve"
	"github.com/adeilh/oasis/internal/testutil/idp"
)

// fakeExchanger returns tokens from issue and counts calls.
type fakeExchanger struct {
	mu    sync.Mutex
	calls int
	issue func(ctx context.Context, token, audience string) (string, error)
}

func (f *fakeExchanger) Exchange(ctx context.Context, token, audience string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.issue(ctx, token, audience)
}

func (f *fakeExchanger) Provider() string { return "tokenx" }

func (f *fakeExchanger) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func issuing(t *testing.T, srv *idp.Server, ttl time.Duration) *fakeExchanger {
	return &fakeExchanger{issue: func(_ context.Context, token, audience string) (string, error) {
		return srv.Issue(t, idp.TokenOptions{Audience: audience, TTL: ttl, Claims: map[string]any{"pid": token}}), nil
	}}
}

func TestCachedExchangerServesRepeatedExchanges(t *testing.T) {
	srv := idp.New(t)
	next := issuing(t, srv, time.Hour)
	store := sieve.NewStore(16)
	c := NewCachedExchanger(next, store)

	first, err := c.Exchange(context.Background(), "subject", "aud1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	second, err := c.Exchange(context.Background(), "subject", "aud1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if first != second {
		t.Fatalf("cached exchange returned a different token")
	}
	if next.Calls() != 1 {
		t.Fatalf("inner exchanger called %d times, want 1", next.Calls())
	}

	if _, err := c.Exchange(context.Background(), "subject", "aud2"); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if next.Calls() != 2 {
		t.Fatalf("a different audience must miss the cache")
	}
	if c.Provider() != "tokenx" {
		t.Fatalf("Provider() = %q", c.Provider())
	}
}

func TestCachedExchangerGraceMargin(t *testing.T) {
	srv := idp.New(t)
	next := issuing(t, srv, 3*time.Second)
	store := sieve.NewStore(16)
	c := NewCachedExchanger(next, store)

	for i := 0; i < 2; i++ {
		if _, err := c.Exchange(context.Background(), "subject", "aud"); err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
	}
	if next.Calls() != 2 {
		t.Fatalf("token within the grace margin must not be served, calls = %d", next.Calls())
	}

	lenient := NewCachedExchanger(next, sieve.NewStore(16), WithGrace(0))
	for i := 0; i < 2; i++ {
		if _, err := lenient.Exchange(context.Background(), "subject", "aud"); err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
	}
	if next.Calls() != 3 {
		t.Fatalf("without grace the second call should hit, calls = %d", next.Calls())
	}
}

func TestCachedExchangerSkipsExpiredTokens(t *testing.T) {
	srv := idp.New(t)
	next := issuing(t, srv, -10*time.Second)
	store := sieve.NewStore(16)
	c := NewCachedExchanger(next, store)

	for i := 0; i < 2; i++ {
		if _, err := c.Exchange(context.Background(), "subject", idp.ExpiredAudience); err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
	}
	if next.Calls() != 2 || store.Cache().Len() != 0 {
		t.Fatalf("expired token must not be cached: calls=%d len=%d", next.Calls(), store.Cache().Len())
	}
}

func TestCachedExchangerDoesNotCacheFailures(t *testing.T) {
	boom := errors.New("boom")
	next := &fakeExchanger{issue: func(context.Context, string, string) (string, error) { return "", boom }}
	store := sieve.NewStore(16)
	c := NewCachedExchanger(next, store)

	for i := 0; i < 2; i++ {
		if _, err := c.Exchange(context.Background(), "subject", "aud"); !errors.Is(err, boom) {
			t.Fatalf("Exchange() error = %v", err)
		}
	}
	if next.Calls() != 2 || store.Cache().Len() != 0 {
		t.Fatalf("failures must not be cached")
	}
}

func TestCachedExchangerNoWriteAfterCancellation(t *testing.T) {
	srv := idp.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	next := &fakeExchanger{issue: func(_ context.Context, token, audience string) (string, error) {
		cancel()
		return srv.Issue(t, idp.TokenOptions{Audience: audience}), nil
	}}
	store := sieve.NewStore(16)
	c := NewCachedExchanger(next, store)

	got, err := c.Exchange(ctx, "subject", "aud")
	if !errors.Is(err, ErrCancelled) || got != "" {
		t.Fatalf("Exchange() = %q, %v, want ErrCancelled", got, err)
	}
	if store.Cache().Len() != 0 {
		t.Fatalf("cancelled exchange must not write the cache")
	}
}

func TestCachedExchangerUndecodableToken(t *testing.T) {
	next := &fakeExchanger{issue: func(context.Context, string, string) (string, error) { return "opaque", nil }}
	store := sieve.NewStore(16)
	c := NewCachedExchanger(next, store)
	got, err := c.Exchange(context.Background(), "subject", "aud")
	if err != nil || got != "opaque" {
		t.Fatalf("Exchange() = %q, %v", got, err)
	}
	if store.Cache().Len() != 0 {
		t.Fatalf("token without expiry must not be cached")
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("tokenx", "subject-token", "aud")
	if a != CacheKey("tokenx", "subject-token", "aud") {
		t.Fatalf("CacheKey is not deterministic")
	}
	if a == CacheKey("tokenx", "subject-token", "other") || a == CacheKey("azure", "subject-token", "aud") {
		t.Fatalf("CacheKey collides across audiences or providers")
	}
	if strings.Contains(a, "subject-token") {
		t.Fatalf("CacheKey leaks the raw token: %s", a)
	}
}
