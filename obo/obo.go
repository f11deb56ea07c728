// Package obo exchanges a caller's token for an access token scoped to a
// downstream audience (on-behalf-of).
//
// An exchange runs through a chain of Exchangers built per provider:
//
//	CoalescingExchanger (optional)
//	  -> CachedExchanger
//	    -> InstrumentedExchanger
//	      -> GrantExchanger (HTTP call to the token endpoint)
//
// Router sits in front of the chains. It checks the request, selects the
// active exchange provider and dispatches to that provider's chain.
package obo

import (
	"context"
	"errors"
	"fmt"

	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/provider"
)

var (
	ErrEmptyToken         = auth.ErrEmptyToken
	ErrEmptyAudience      = errors.New("empty audience")
	ErrMissingAccessToken = errors.New("TokenSet does not contain an access_token")
	ErrCancelled          = auth.ErrCancelled
	ErrTransport          = errors.New("obo: token endpoint request failed")
	ErrUnsupportedGrant   = errors.New("obo: provider does not support token exchange")
)

// Exchanger obtains an access token for audience on behalf of the subject
// token's owner.
type Exchanger interface {
	Exchange(ctx context.Context, token, audience string) (string, error)
}

// Named is implemented by exchangers bound to a single provider.
type Named interface {
	Exchanger
	Provider() string
}

// ProviderOf returns the provider name of e, or "unknown".
func ProviderOf(e Exchanger) string {
	if n, ok := e.(Named); ok {
		return n.Provider()
	}
	return "unknown"
}

// TransportError reports a failed call to a token endpoint. When the endpoint
// answered with an OAuth error document, Code and Description carry it.
type TransportError struct {
	Provider    provider.Identity
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *TransportError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	case e.Code != "":
		return e.Code
	case e.Err != nil:
		return e.Err.Error()
	default:
		return ErrTransport.Error()
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
