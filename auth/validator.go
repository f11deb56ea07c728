package auth

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/adeilh/oasis/provider"
)

// TokenValidator checks inbound tokens against the active validation
// provider. Provider selection happens on every call.
type TokenValidator struct {
	providers provider.Selector
	verifier  Verifier
	log       logr.Logger
}

type ValidatorOption func(*TokenValidator)

func WithValidatorLogger(log logr.Logger) ValidatorOption {
	return func(v *TokenValidator) {
		v.log = log
	}
}

func NewTokenValidator(providers provider.Selector, verifier Verifier, opts ...ValidatorOption) *TokenValidator {
	v := &TokenValidator{providers: providers, verifier: verifier, log: logr.Discard()}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate returns nil when token is valid for the active provider.
// Selection errors are returned unchanged; verifier failures are wrapped in
// a *VerificationError.
func (v *TokenValidator) Validate(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	cfg, err := v.providers.Select(provider.Validation)
	if err != nil {
		return err
	}
	err = v.verifier.Verify(ctx, token, VerifyParams{
		JWKSURI:    cfg.JWKSURI,
		Issuer:     cfg.Issuer,
		Audience:   cfg.ExpectedAudience(),
		Algorithms: []string{cfg.SigningAlgorithm()},
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return Cancelled(ctx, err)
	}
	v.log.V(1).Info("token rejected", "provider", cfg.Identity, "reason", err.Error())
	return &VerificationError{Provider: cfg.Identity, Err: err}
}
