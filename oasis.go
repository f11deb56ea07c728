// Package oasis validates bearer tokens and exchanges them for on-behalf-of
// tokens against the configured identity provider.
//
// Both operations re-select the active provider on every call, so a Client
// follows configuration reloads without being rebuilt. Failures never panic
// or escape as bare errors; they come back as result.Result values whose
// error matches one of the sentinels re-exported below.
package oasis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/cache"
	"github.com/adeilh/oasis/config"
	"github.com/adeilh/oasis/downstream"
	"github.com/adeilh/oasis/obo"
	"github.com/adeilh/oasis/provider"
	"github.com/adeilh/oasis/result"
)

var (
	ErrEmptyToken                = auth.ErrEmptyToken
	ErrEmptyAudience             = obo.ErrEmptyAudience
	ErrNoIdentityProvider        = provider.ErrNoIdentityProvider
	ErrMultipleIdentityProviders = provider.ErrMultipleIdentityProviders
	ErrVerification              = auth.ErrVerification
	ErrTransport                 = obo.ErrTransport
	ErrMissingAccessToken        = obo.ErrMissingAccessToken
	ErrCancelled                 = auth.ErrCancelled

	ErrClosed = errors.New("oasis: client closed")
)

var (
	_ io.Closer     = (*Client)(nil)
	_ obo.Exchanger = exchanger{}
)

// Client is built once at startup and shared by every request. It is safe
// for concurrent use, including Close while calls are in flight.
type Client struct {
	state atomic.Pointer[state]
	log   logr.Logger
}

// state is what Close takes away. Calls that loaded it before Close finish
// against it.
type state struct {
	providers *provider.Resolver
	validator *auth.TokenValidator
	router    *obo.Router
	store     cache.Store
	close     func() error
}

// New validates cfg and wires the verifier, HTTP client, cache store, metrics
// and exchange chain.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = resolveLogger(o.logger)
	if o.now == nil {
		o.now = time.Now
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	set, err := cfg.ProviderSet()
	if err != nil {
		return nil, err
	}

	rt, err := initialize(cfg, o)
	if err != nil {
		return nil, err
	}

	providers := provider.NewResolver(set)
	assertions := auth.NewAssertionBuilder(
		auth.WithAssertionLifetime(cfg.Exchange.AssertionLifetime),
		auth.WithAssertionClock(o.now),
	)
	router := obo.NewRouter(providers, obo.Chain{
		Client:     rt.client,
		Assertions: assertions,
		Store:      rt.store,
		Grace:      cfg.Cache.Grace,
		Metrics:    rt.metrics,
		Coalesce:   cfg.Exchange.Coalesce,
		Logger:     o.logger.WithName("obo"),
		Now:        o.now,
	})
	validator := auth.NewTokenValidator(providers, rt.verifier, auth.WithValidatorLogger(o.logger.WithName("auth")))

	o.logger.Info("oasis client ready", "providers", set.Active(), "cache", cfg.Cache.Backend)
	c := &Client{log: o.logger}
	c.state.Store(&state{
		providers: providers,
		validator: validator,
		router:    router,
		store:     rt.store,
		close:     rt.close,
	})
	return c, nil
}

func (c *Client) load() *state {
	if c == nil {
		return nil
	}
	return c.state.Load()
}

// ValidateToken checks token against the single active validation provider.
func (c *Client) ValidateToken(ctx context.Context, token string) result.Result[struct{}] {
	s := c.load()
	if s == nil {
		return result.Err[struct{}](ErrClosed)
	}
	return result.From(struct{}{}, s.validator.Validate(ctx, token))
}

// RequestOboToken exchanges token for an access token scoped to audience.
func (c *Client) RequestOboToken(ctx context.Context, token, audience string) result.Result[string] {
	return result.From(c.Exchanger().Exchange(ctx, token, audience))
}

// Reload swaps the provider snapshot. Cache, HTTP and metrics settings are
// fixed at construction and ignored here. On error the current providers
// stay in place.
func (c *Client) Reload(cfg config.Config) error {
	s := c.load()
	if s == nil {
		return ErrClosed
	}
	set, err := cfg.ProviderSet()
	if err != nil {
		c.log.Error(err, "provider reload rejected")
		return err
	}
	s.providers.Store(set)

	active := make([]provider.Config, 0, len(set.Active()))
	for _, id := range set.Active() {
		if pc, ok := set.Get(id); ok {
			active = append(active, pc)
		}
	}
	s.router.Forget(active...)
	c.log.Info("providers reloaded", "providers", set.Active())
	return nil
}

// Middleware returns bearer-token middleware backed by ValidateToken's
// validator.
func (c *Client) Middleware(opts ...auth.MiddlewareOption) (*auth.Middleware, error) {
	s := c.load()
	if s == nil {
		return nil, ErrClosed
	}
	return auth.NewMiddleware(s.validator, opts...)
}

// Transport returns a RoundTripper that exchanges the caller's token for each
// routed downstream host. A nil base uses http.DefaultTransport. Routed
// requests fail with ErrClosed once c is closed.
func (c *Client) Transport(resolver downstream.Resolver, base http.RoundTripper) *downstream.Transport {
	return downstream.NewTransport(resolver, c.Exchanger(),
		downstream.WithBase(base),
		downstream.WithLogger(c.log.WithName("downstream")),
	)
}

// Exchanger exposes the exchange router for callers composing their own
// decorators. It answers ErrClosed once c is closed.
func (c *Client) Exchanger() obo.Exchanger { return exchanger{c} }

type exchanger struct{ c *Client }

func (e exchanger) Exchange(ctx context.Context, token, audience string) (string, error) {
	s := e.c.load()
	if s == nil {
		return "", ErrClosed
	}
	return s.router.Exchange(ctx, token, audience)
}

// Store returns the exchange cache, nil when caching is disabled or c is
// closed.
func (c *Client) Store() cache.Store {
	if s := c.load(); s != nil {
		return s.store
	}
	return nil
}

// Close stops background work and releases the cache backend. Only the first
// call does any work.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	s := c.state.Swap(nil)
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
