package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/adeilh/oasis/provider"
)

const (
	// ClientAssertionType is the client_assertion_type sent with every
	// private_key_jwt authenticated request.
	ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	DefaultAssertionLifetime = 60 * time.Second
	MaxAssertionLifetime     = 120 * time.Second
)

// AssertionBuilder signs the short-lived JWTs a client presents to a token
// endpoint to authenticate itself.
type AssertionBuilder struct {
	lifetime time.Duration
	now      func() time.Time
	newID    func() string
}

type AssertionOption func(*AssertionBuilder)

// WithAssertionLifetime sets how long assertions stay valid. Values above
// MaxAssertionLifetime are clamped.
func WithAssertionLifetime(d time.Duration) AssertionOption {
	return func(b *AssertionBuilder) {
		if d > 0 {
			b.lifetime = min(d, MaxAssertionLifetime)
		}
	}
}

func WithAssertionClock(now func() time.Time) AssertionOption {
	return func(b *AssertionBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

func NewAssertionBuilder(opts ...AssertionOption) *AssertionBuilder {
	b := &AssertionBuilder{
		lifetime: DefaultAssertionLifetime,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build returns a signed assertion for cfg addressed to cfg.TokenEndpoint.
func (b *AssertionBuilder) Build(ctx context.Context, cfg provider.Config) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Cancelled(ctx, err)
	}
	key, err := ParsePrivateKey(cfg.PrivateJWK)
	if err != nil {
		return "", err
	}

	alg := jwa.SignatureAlgorithm(cfg.SigningAlgorithm())
	if key.Algorithm().String() != "" {
		alg = jwa.SignatureAlgorithm(key.Algorithm().String())
	}

	now := b.now().Truncate(time.Second)
	tok, err := jwt.NewBuilder().
		Issuer(cfg.ClientID).
		Subject(cfg.ClientID).
		Audience([]string{cfg.TokenEndpoint}).
		JwtID(b.newID()).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(b.lifetime)).
		Build()
	if err != nil {
		return "", fmt.Errorf("auth: build assertion: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(alg, key))
	if err != nil {
		return "", fmt.Errorf("auth: sign assertion: %w", err)
	}
	return string(signed), nil
}

// ParsePrivateKey decodes a JSON encoded private JWK.
func ParsePrivateKey(raw string) (jwk.Key, error) {
	if raw == "" {
		return nil, ErrMissingPrivateKey
	}
	key, err := jwk.ParseKey([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("auth: parse private jwk: %w", err)
	}
	switch key.(type) {
	case jwk.RSAPrivateKey, jwk.ECDSAPrivateKey, jwk.OKPPrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("%w: jwk is not a private key", ErrMissingPrivateKey)
	}
}
