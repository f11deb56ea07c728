package obo

import (
	"context"
	"time"
)

// Metrics receives exchange measurements labelled by provider.
type Metrics interface {
	ObserveDuration(provider string, d time.Duration)
	IncExchanges(provider string)
	IncFailures(provider string)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) ObserveDuration(string, time.Duration) {}
func (NopMetrics) IncExchanges(string)                   {}
func (NopMetrics) IncFailures(string)                    {}

// InstrumentedExchanger records duration, count and failures of the
// exchanges it forwards. Results pass through untouched.
type InstrumentedExchanger struct {
	next     Exchanger
	metrics  Metrics
	provider string
	now      func() time.Time
}

var _ Named = (*InstrumentedExchanger)(nil)

func NewInstrumentedExchanger(next Exchanger, metrics Metrics) *InstrumentedExchanger {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &InstrumentedExchanger{next: next, metrics: metrics, provider: ProviderOf(next), now: time.Now}
}

func (e *InstrumentedExchanger) Provider() string { return e.provider }

func (e *InstrumentedExchanger) Exchange(ctx context.Context, token, audience string) (string, error) {
	start := e.now()
	accessToken, err := e.next.Exchange(ctx, token, audience)
	e.metrics.ObserveDuration(e.provider, e.now().Sub(start))
	e.metrics.IncExchanges(e.provider)
	if err != nil {
		e.metrics.IncFailures(e.provider)
	}
	return accessToken, err
}
