package obo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/cache"
	"github.com/adeilh/oasis/httpx"
	"github.com/adeilh/oasis/provider"
)

// Chain describes the decorators wrapped around each provider's grant.
type Chain struct {
	Client     *httpx.Client
	Assertions *auth.AssertionBuilder
	// Store enables caching when set.
	Store      cache.Store
	// Grace defaults to DefaultGrace when zero.
	Grace      time.Duration
	Metrics    Metrics
	Coalesce   bool
	Logger     logr.Logger
	Now        func() time.Time
}

// Build composes the exchanger for cfg.
func (c Chain) Build(cfg provider.Config) Exchanger {
	log := c.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	var e Exchanger = NewGrantExchanger(cfg, c.Client, c.Assertions, log)
	e = NewInstrumentedExchanger(e, c.Metrics)
	if c.Store != nil {
		opts := []CacheOption{WithCacheClock(c.Now), WithCacheLogger(log)}
		if c.Grace > 0 {
			opts = append(opts, WithGrace(c.Grace))
		}
		e = NewCachedExchanger(e, c.Store, opts...)
	}
	if c.Coalesce {
		e = NewCoalescingExchanger(e)
	}
	return e
}

// Router checks an exchange request, selects the active exchange provider on
// every call and forwards to the chain built for it.
type Router struct {
	providers provider.Selector
	chain     Chain
	log       logr.Logger

	mu     sync.Mutex
	chains map[provider.Config]Exchanger
}

var _ Exchanger = (*Router)(nil)

func NewRouter(providers provider.Selector, chain Chain) *Router {
	log := chain.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Router{
		providers: providers,
		chain:     chain,
		log:       log,
		chains:    make(map[provider.Config]Exchanger),
	}
}

func (r *Router) Exchange(ctx context.Context, token, audience string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if audience == "" {
		return "", ErrEmptyAudience
	}
	cfg, err := r.providers.Select(provider.Exchange)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", auth.Cancelled(ctx, err)
	}

	accessToken, err := r.exchanger(cfg).Exchange(ctx, token, audience)
	if err != nil {
		err = auth.Cancelled(ctx, err)
		r.log.Error(err, "token exchange failed", "provider", cfg.Identity, "audience", audience)
		return "", err
	}
	return accessToken, nil
}

// exchanger returns the chain for cfg, building it on first use. Chains are
// keyed by the full configuration so a reload that changes a provider gets a
// fresh chain.
func (r *Router) exchanger(cfg provider.Config) Exchanger {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.chains[cfg]
	if !ok {
		e = r.chain.Build(cfg)
		r.chains[cfg] = e
	}
	return e
}

// Forget drops every chain not built for one of keep.
func (r *Router) Forget(keep ...provider.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cfg := range r.chains {
		if !slices.Contains(keep, cfg) {
			delete(r.chains, cfg)
		}
	}
}
