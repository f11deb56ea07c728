package oasis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/cache"
	"github.com/adeilh/oasis/cache/sieve"
	"github.com/adeilh/oasis/config"
	"github.com/adeilh/oasis/db/sql/postgres"
	"github.com/adeilh/oasis/httpx"
	"github.com/adeilh/oasis/metrics"
	"github.com/adeilh/oasis/obo"
)

type runtime struct {
	client   *httpx.Client
	verifier auth.Verifier
	store    cache.Store
	metrics  obo.Metrics
	close    func() error
}

func initialize(cfg config.Config, o options) (runtime, error) {
	// Background work (JWKS refresh, cache purging) lives until Close.
	ctx, cancel := context.WithCancel(context.Background())
	closers := []func() error{func() error { cancel(); return nil }}
	fail := func(err error) (runtime, error) {
		_ = joinClosers(closers...)()
		return runtime{}, err
	}

	rt := runtime{client: o.client, verifier: o.verifier, store: o.store, metrics: o.metrics}
	if rt.client == nil {
		rt.client = httpx.NewClient(
			httpx.WithClientTimeout(cfg.HTTP.Timeout),
			httpx.WithRetries(cfg.HTTP.Retries, 0),
		)
	}
	if rt.verifier == nil {
		rt.verifier = auth.NewJWKSVerifier(ctx,
			auth.WithVerifierHTTPClient(rt.client),
			auth.WithClockSkew(cfg.HTTP.ClockSkew),
			auth.WithVerifierClock(o.now),
			auth.WithVerifierLogger(o.logger.WithName("jwks")),
		)
	}

	if rt.store == nil {
		store, closeStore, err := initializeStore(ctx, cfg, o)
		if err != nil {
			return fail(err)
		}
		rt.store = store
		closers = append(closers, closeStore)
	}
	if purger, ok := rt.store.(cache.Purger); ok && cfg.Cache.PurgeInterval > 0 {
		go purgeLoop(ctx, purger, cfg.Cache.PurgeInterval, o)
	}

	if rt.metrics == nil {
		if cfg.Metrics.Enabled {
			p, err := metrics.NewPrometheus(o.registerer)
			if err != nil {
				return fail(err)
			}
			rt.metrics = p
		} else {
			rt.metrics = obo.NopMetrics{}
		}
	}

	rt.close = joinClosers(closers...)
	return rt, nil
}

func initializeStore(ctx context.Context, cfg config.Config, o options) (cache.Store, func() error, error) {
	switch cfg.Cache.Backend {
	case "", config.BackendMemory:
		store := sieve.NewStore(cfg.Cache.EntryCapacity())
		store.Cache().SetNowFunc(o.now)
		return store, noopCloser, nil
	case config.BackendNone:
		return nil, noopCloser, nil
	case config.BackendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
		defer cancel()
		store, err := postgres.Connect(connectCtx, postgres.WithDSN(cfg.Cache.PostgresDSN), postgres.WithNowFunc(o.now))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("oasis: unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func connectTimeout(cfg config.Config) time.Duration {
	if cfg.HTTP.Timeout > 0 {
		return cfg.HTTP.Timeout
	}
	return 10 * time.Second
}

func purgeLoop(ctx context.Context, purger cache.Purger, every time.Duration, o options) {
	log := o.logger.WithName("cache")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error(err, "purging expired tokens failed")
				}
				continue
			}
			if n > 0 {
				log.V(1).Info("purged expired tokens", "count", n)
			}
		}
	}
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func noopCloser() error { return nil }
