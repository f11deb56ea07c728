package auth

import (
	"context"
	"net/http"
)

// TokenChecker validates a raw bearer token. *TokenValidator satisfies it.
type TokenChecker interface {
	Validate(ctx context.Context, token string) error
}

type Middleware struct {
	checker      TokenChecker
	extractor    TokenExtractor
	skipper      MiddlewareSkipper
	errorHandler MiddlewareErrorHandler
}

type contextKey int

const (
	tokenContextKey contextKey = iota
	claimsContextKey
)

func NewMiddleware(checker TokenChecker, opts ...MiddlewareOption) (*Middleware, error) {
	cfg, err := newMiddlewareConfig(checker, opts...)
	if err != nil {
		return nil, err
	}
	return &Middleware{
		checker:      cfg.checker,
		extractor:    cfg.extractor,
		skipper:      cfg.skipper,
		errorHandler: cfg.errorHandler,
	}, nil
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m == nil {
		panic("auth: middleware is nil")
	}
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := m.extractor(r)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		if err := m.checker.Validate(r.Context(), raw); err != nil {
			m.errorHandler(w, r, err)
			return
		}

		ctx := ContextWithToken(r.Context(), raw)
		if claims, err := DecodeUnverified(raw); err == nil {
			ctx = context.WithValue(ctx, claimsContextKey, claims)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ContextWithToken stores a validated bearer token in ctx.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext returns the validated bearer token of the request.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	claims, ok := ctx.Value(claimsContextKey).(Claims)
	return claims, ok
}
