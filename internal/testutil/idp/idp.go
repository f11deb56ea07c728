// Package idp runs an in-process identity provider for tests. It serves a
// JWKS document, signs subject tokens on demand and answers token-exchange
// and on-behalf-of grants the way TokenX and Azure do.
package idp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/adeilh/oasis/httpx"
)

const (
	// ExchangeIssuer is the issuer of every token the token endpoint returns.
	ExchangeIssuer = "urn:tokenx:dings"
	// ErrorAudience makes the token endpoint fail the exchange.
	ErrorAudience = "error-audience"
	// ExpiredAudience makes the token endpoint return an already expired token.
	ExpiredAudience = "timed-out"

	GrantTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	GrantJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Server is a fake identity provider bound to a local listener.
type Server struct {
	ts *httpx.TestServer

	signing    jwk.Key
	signingRaw *rsa.PrivateKey
	public     jwk.Set
	client     jwk.Key
	clients    jwk.Set

	calls           atomic.Int64
	omitAccessToken atomic.Bool
	delay           atomic.Int64

	mu    sync.Mutex
	forms []url.Values
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{}
	s.signingRaw, s.signing, s.public = newKeyPair(t, "idp-signing")
	_, s.client, s.clients = newKeyPair(t, "client")

	e := httpx.NewEcho()
	e.HideBanner = true
	e.GET("/jwks", func(c httpx.Context) error {
		return c.JSON(httpx.StatusOK, s.public)
	})
	e.POST("/token", s.handleToken)

	s.ts = httpx.NewEchoTestServer(e)
	t.Cleanup(s.ts.Close)
	return s
}

func newKeyPair(t testing.TB, kid string) (*rsa.PrivateKey, jwk.Key, jwk.Set) {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	priv, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("jwk from rsa key: %v", err)
	}
	_ = priv.Set(jwk.KeyIDKey, kid)
	_ = priv.Set(jwk.AlgorithmKey, jwa.RS256)

	pub, err := priv.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}
	return raw, priv, set
}

func (s *Server) URL() string           { return s.ts.BaseURL() }
func (s *Server) Issuer() string        { return s.ts.BaseURL() }
func (s *Server) JWKSURI() string       { return s.ts.Endpoint("/jwks") }
func (s *Server) TokenEndpoint() string { return s.ts.Endpoint("/token") }

// ClientJWK returns the JSON encoded private key clients sign assertions
// with.
func (s *Server) ClientJWK(t testing.TB) string {
	t.Helper()
	buf, err := json.Marshal(s.client)
	if err != nil {
		t.Fatalf("marshal client jwk: %v", err)
	}
	return string(buf)
}

// Calls reports how many requests reached the token endpoint.
func (s *Server) Calls() int { return int(s.calls.Load()) }

// Forms returns the form bodies posted to the token endpoint.
func (s *Server) Forms() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.forms)
}

// OmitAccessToken makes successful responses leave out access_token.
func (s *Server) OmitAccessToken(omit bool) { s.omitAccessToken.Store(omit) }

// Delay holds every token endpoint response for d.
func (s *Server) Delay(d time.Duration) { s.delay.Store(int64(d)) }

// TokenOptions describe a subject token.
type TokenOptions struct {
	Issuer    string
	Audience  string
	Subject   string
	Algorithm jwa.SignatureAlgorithm
	TTL       time.Duration
	Claims    map[string]any
}

// Issue signs a subject token with the provider key.
func (s *Server) Issue(t testing.TB, opts TokenOptions) string {
	t.Helper()
	if opts.Issuer == "" {
		opts.Issuer = s.Issuer()
	}
	if opts.Subject == "" {
		opts.Subject = "pid"
	}
	if opts.TTL == 0 {
		opts.TTL = time.Hour
	}
	if opts.Algorithm == "" {
		opts.Algorithm = jwa.RS256
	}
	tok, err := s.build(opts.Issuer, opts.Audience, opts.Subject, opts.TTL, opts.Claims)
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	key := s.signing
	if opts.Algorithm != jwa.RS256 {
		// A key pinned to RS256 refuses other algorithms, so sign with an
		// unpinned copy carrying the same kid.
		key, err = jwk.FromRaw(s.signingRaw)
		if err != nil {
			t.Fatalf("jwk from rsa key: %v", err)
		}
		_ = key.Set(jwk.KeyIDKey, s.signing.KeyID())
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(opts.Algorithm, key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func (s *Server) build(issuer, audience, subject string, ttl time.Duration, claims map[string]any) (jwt.Token, error) {
	now := time.Now().Truncate(time.Second)
	b := jwt.NewBuilder().
		Issuer(issuer).
		Subject(subject).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if audience != "" {
		b = b.Audience([]string{audience})
	}
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	return b.Build()
}

func (s *Server) handleToken(c httpx.Context) error {
	s.calls.Add(1)
	if d := time.Duration(s.delay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	form, err := c.FormParams()
	if err != nil {
		return c.JSON(httpx.StatusBadRequest, httpx.OAuthError{Code: "invalid_request", Description: err.Error()})
	}
	s.mu.Lock()
	s.forms = append(s.forms, form)
	s.mu.Unlock()

	if err := s.checkAssertion(form); err != nil {
		return c.JSON(httpx.StatusUnauthorized, httpx.OAuthError{Code: "invalid_client", Description: err.Error()})
	}

	var subject, audience string
	switch form.Get("grant_type") {
	case GrantTokenExchange:
		if form.Get("subject_token_type") != "urn:ietf:params:oauth:token-type:jwt" {
			return c.JSON(httpx.StatusBadRequest, httpx.OAuthError{Code: "invalid_request", Description: "wrong subject_token_type"})
		}
		subject, audience = form.Get("subject_token"), form.Get("audience")
	case GrantJWTBearer:
		if form.Get("requested_token_use") != "on_behalf_of" {
			return c.JSON(httpx.StatusBadRequest, httpx.OAuthError{Code: "invalid_request", Description: "wrong requested_token_use"})
		}
		subject, audience = form.Get("assertion"), form.Get("scope")
	default:
		return c.JSON(httpx.StatusBadRequest, httpx.OAuthError{Code: "unsupported_grant_type", Description: form.Get("grant_type")})
	}
	if subject == "" || audience == "" {
		return c.JSON(httpx.StatusBadRequest, httpx.OAuthError{Code: "invalid_request", Description: "missing subject or audience"})
	}
	if audience == ErrorAudience {
		return c.JSON(httpx.StatusBadRequest, httpx.OAuthError{Code: "invalid_target", Description: ErrorAudience})
	}

	ttl := time.Hour
	if audience == ExpiredAudience {
		ttl = -10 * time.Second
	}
	tok, err := s.build(ExchangeIssuer, audience, "pid", ttl, map[string]any{"pid": subject})
	if err != nil {
		return err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.signing))
	if err != nil {
		return err
	}

	body := map[string]any{"token_type": "Bearer", "expires_in": int(ttl.Seconds())}
	if !s.omitAccessToken.Load() {
		body["access_token"] = string(signed)
	}
	return c.JSON(httpx.StatusOK, body)
}

func (s *Server) checkAssertion(form url.Values) error {
	if form.Get("client_assertion_type") != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
		return fmt.Errorf("wrong client_assertion_type")
	}
	tok, err := jwt.Parse([]byte(form.Get("client_assertion")),
		jwt.WithKeySet(s.clients),
		jwt.WithAudience(s.TokenEndpoint()),
		jwt.WithValidate(true),
	)
	if err != nil {
		return fmt.Errorf("client_assertion: %w", err)
	}
	now := time.Now()
	switch {
	case tok.Issuer() == "" || tok.Issuer() != tok.Subject():
		return fmt.Errorf("client_assertion iss and sub differ")
	case tok.JwtID() == "":
		return fmt.Errorf("missing client_assertion jti")
	case tok.NotBefore().Sub(now).Abs() > 10*time.Second:
		return fmt.Errorf("wrong client_assertion nbf")
	case tok.Expiration().Sub(now) > 120*time.Second:
		return fmt.Errorf("client_assertion exp too large")
	}
	if cid := form.Get("client_id"); form.Get("grant_type") == GrantJWTBearer && cid != tok.Subject() {
		return fmt.Errorf("client_id %q does not match assertion", cid)
	}
	return nil
}
