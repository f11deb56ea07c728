// Package metrics exports token exchange measurements to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeilh/oasis/obo"
)

const namespace = "oasis"

// Prometheus implements obo.Metrics with a histogram of exchange durations
// and counters of exchanges and failures, all labelled by provider.
type Prometheus struct {
	duration  *prometheus.HistogramVec
	exchanges *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

var _ obo.Metrics = (*Prometheus)(nil)

// NewPrometheus registers the collectors with reg. Collectors already
// registered by an earlier call are reused.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "token_exchange_duration_seconds",
		Help:      "Duration of token exchange in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})
	exchanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_exchanges",
		Help:      "Number of token exchanges",
	}, []string{"provider"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_exchange_failures",
		Help:      "Number of failed token exchanges",
	}, []string{"provider"})

	var err error
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if exchanges, err = register(reg, exchanges); err != nil {
		return nil, err
	}
	if failures, err = register(reg, failures); err != nil {
		return nil, err
	}
	return &Prometheus{duration: duration, exchanges: exchanges, failures: failures}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (p *Prometheus) ObserveDuration(provider string, d time.Duration) {
	p.duration.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *Prometheus) IncExchanges(provider string) {
	p.exchanges.WithLabelValues(provider).Inc()
}

func (p *Prometheus) IncFailures(provider string) {
	p.failures.WithLabelValues(provider).Inc()
}
