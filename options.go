package oasis

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/cache"
	"github.com/adeilh/oasis/httpx"
	"github.com/adeilh/oasis/obo"
)

type options struct {
	logger     logr.Logger
	client     *httpx.Client
	store      cache.Store
	metrics    obo.Metrics
	registerer prometheus.Registerer
	verifier   auth.Verifier
	now        func() time.Time
}

// Option customises a Client. Anything not supplied is built from the
// config.Config passed to New.
type Option func(*options)

func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithHTTPClient replaces the client used for JWKS and token endpoint calls.
func WithHTTPClient(client *httpx.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithStore replaces the configured cache backend.
func WithStore(store cache.Store) Option {
	return func(o *options) {
		if store != nil {
			o.store = store
		}
	}
}

// WithMetrics replaces the Prometheus sink.
func WithMetrics(m obo.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRegisterer registers the Prometheus sink somewhere other than the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		if reg != nil {
			o.registerer = reg
		}
	}
}

func WithVerifier(v auth.Verifier) Option {
	return func(o *options) {
		if v != nil {
			o.verifier = v
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func resolveLogger(log logr.Logger) logr.Logger {
	if log.GetSink() == nil {
		return logr.Discard()
	}
	return log
}
