package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// VerifyParams describes what a token must satisfy.
type VerifyParams struct {
	JWKSURI    string
	Issuer     string
	Audience   string
	Algorithms []string
}

// Verifier checks the signature and standard claims of a token.
type Verifier interface {
	Verify(ctx context.Context, token string, params VerifyParams) error
}

// DefaultJWKSRefresh is the minimum interval between two fetches of the same
// key set.
const DefaultJWKSRefresh = 15 * time.Minute

// JWKSVerifier verifies tokens against remote JSON Web Key Sets. Key sets are
// fetched on first use and refreshed in the background.
type JWKSVerifier struct {
	keys    *jwk.Cache
	client  jwk.HTTPClient
	refresh time.Duration
	skew    time.Duration
	now     func() time.Time
	log     logr.Logger

	mu sync.Mutex
}

var _ Verifier = (*JWKSVerifier)(nil)

type VerifierOption func(*JWKSVerifier)

// WithVerifierHTTPClient sets the client used to fetch key sets. Both
// *http.Client and *httpx.Client satisfy jwk.HTTPClient.
func WithVerifierHTTPClient(client jwk.HTTPClient) VerifierOption {
	return func(v *JWKSVerifier) {
		if client != nil {
			v.client = client
		}
	}
}

// WithClockSkew tolerates clock differences when checking exp and nbf.
func WithClockSkew(d time.Duration) VerifierOption {
	return func(v *JWKSVerifier) {
		if d >= 0 {
			v.skew = d
		}
	}
}

func WithRefreshInterval(d time.Duration) VerifierOption {
	return func(v *JWKSVerifier) {
		if d > 0 {
			v.refresh = d
		}
	}
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *JWKSVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

func WithVerifierLogger(log logr.Logger) VerifierOption {
	return func(v *JWKSVerifier) {
		v.log = log
	}
}

// NewJWKSVerifier creates a verifier whose background refresh stops when ctx
// is done.
func NewJWKSVerifier(ctx context.Context, opts ...VerifierOption) *JWKSVerifier {
	v := &JWKSVerifier{
		client:  http.DefaultClient,
		refresh: DefaultJWKSRefresh,
		now:     time.Now,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	v.keys = jwk.NewCache(ctx)
	return v
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string, params VerifyParams) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := checkAlgorithm(token, params.Algorithms); err != nil {
		return err
	}

	set, err := v.keySet(ctx, params.JWKSURI)
	if err != nil {
		return Cancelled(ctx, err)
	}

	_, err = jwt.Parse([]byte(token),
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithIssuer(params.Issuer),
		jwt.WithAudience(params.Audience),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	return err
}

func (v *JWKSVerifier) keySet(ctx context.Context, uri string) (jwk.Set, error) {
	if uri == "" {
		return nil, fmt.Errorf("auth: missing jwks uri")
	}
	v.mu.Lock()
	if !v.keys.IsRegistered(uri) {
		if err := v.keys.Register(uri,
			jwk.WithHTTPClient(v.client),
			jwk.WithMinRefreshInterval(v.refresh),
		); err != nil {
			v.mu.Unlock()
			return nil, fmt.Errorf("auth: register jwks %s: %w", uri, err)
		}
		v.log.V(1).Info("registered jwks", "uri", uri)
	}
	v.mu.Unlock()
	return v.keys.Get(ctx, uri)
}

// checkAlgorithm rejects tokens whose header names an algorithm outside the
// allow-list. An empty allow-list admits nothing.
func checkAlgorithm(token string, allowed []string) error {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return fmt.Errorf("%w: no signature", ErrMalformedToken)
	}
	alg := sigs[0].ProtectedHeaders().Algorithm().String()
	if !slices.Contains(allowed, alg) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	return nil
}
