package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/adeilh/oasis/provider"
)

var (
	ErrEmptyToken           = errors.New("empty token")
	ErrVerification         = errors.New("auth: token verification failed")
	ErrUnsupportedAlgorithm = errors.New("auth: signing algorithm not allowed")
	ErrMalformedToken       = errors.New("auth: malformed token")
	ErrCancelled            = errors.New("auth: operation cancelled")
	ErrMissingPrivateKey    = errors.New("auth: missing private key")
)

// VerificationError reports a token the verifier rejected. Its message is
// the verifier's message, unchanged.
type VerificationError struct {
	Provider provider.Identity
	Err      error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return ErrVerification.Error()
	}
	return e.Err.Error()
}

func (e *VerificationError) Unwrap() error { return e.Err }

func (e *VerificationError) Is(target error) bool { return target == ErrVerification }

// Cancelled maps a failure caused by ctx ending onto ErrCancelled. Other
// errors are returned as is.
func Cancelled(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
