package downstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/adeilh/oasis/auth"
)

var ErrNoSubjectToken = errors.New("downstream: no token to exchange")

// Exchanger obtains a token for audience on behalf of the holder of token.
type Exchanger interface {
	Exchange(ctx context.Context, token, audience string) (string, error)
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context, token, audience string) (string, error)

func (f ExchangerFunc) Exchange(ctx context.Context, token, audience string) (string, error) {
	return f(ctx, token, audience)
}

// Transport is an http.RoundTripper that replaces the Authorization header of
// routed requests with a token exchanged for the route's audience. The subject
// token comes from the request context (see auth.TokenFromContext) or, failing
// that, from the outgoing request's own bearer header. Unrouted hosts are
// forwarded untouched.
type Transport struct {
	base      http.RoundTripper
	resolver  Resolver
	exchanger Exchanger
	log       logr.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

type TransportOption func(*Transport)

func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		if rt != nil {
			t.base = rt
		}
	}
}

func WithLogger(log logr.Logger) TransportOption {
	return func(t *Transport) {
		if log.GetSink() != nil {
			t.log = log
		}
	}
}

func NewTransport(resolver Resolver, exchanger Exchanger, opts ...TransportOption) *Transport {
	t := &Transport{
		base:      http.DefaultTransport,
		resolver:  resolver,
		exchanger: exchanger,
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	route, err := t.resolver.Resolve(ctx, req.URL.Host)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("downstream: resolve %s: %w", req.URL.Host, err)
	}
	if route == nil || route.Passthrough {
		return t.base.RoundTrip(req)
	}

	subject, ok := auth.TokenFromContext(ctx)
	if !ok {
		subject, err = auth.BearerTokenExtractor()(req)
		if err != nil {
			closeBody(req)
			return nil, fmt.Errorf("%w for %s", ErrNoSubjectToken, req.URL.Host)
		}
	}

	token, err := t.exchanger.Exchange(ctx, subject, route.Audience)
	if err != nil {
		closeBody(req)
		return nil, err
	}
	t.log.V(1).Info("attached on-behalf-of token", "host", req.URL.Host, "audience", route.Audience)

	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(out)
}

// RoundTrip must close the request body on every path.
func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
