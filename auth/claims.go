package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims is the subset of a token payload callers inspect.
type Claims struct {
	ID        string
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time
	Private   map[string]any
}

// DecodeUnverified reads the claims of token without checking its signature.
// Use it only for tokens received over an authenticated channel.
func DecodeUnverified(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrEmptyToken
	}
	tok, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return Claims{
		ID:        tok.JwtID(),
		Subject:   tok.Subject(),
		Issuer:    tok.Issuer(),
		Audience:  tok.Audience(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
		NotBefore: tok.NotBefore(),
		Private:   tok.PrivateClaims(),
	}, nil
}

// TTL is the time left until the token expires at now. A token without an
// expiration has no TTL.
func (c Claims) TTL(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
