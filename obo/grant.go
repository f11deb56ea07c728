package obo

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-logr/logr"

	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/httpx"
	"github.com/adeilh/oasis/provider"
)

const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	GrantTypeJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	SubjectTokenTypeJWT    = "urn:ietf:params:oauth:token-type:jwt"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// GrantExchanger performs the token endpoint call for one provider. TokenX
// uses RFC 8693 token exchange, Azure the JWT bearer on-behalf-of flow. Both
// authenticate with a private_key_jwt client assertion.
type GrantExchanger struct {
	cfg        provider.Config
	client     *httpx.Client
	assertions *auth.AssertionBuilder
	log        logr.Logger
}

var _ Named = (*GrantExchanger)(nil)

func NewGrantExchanger(cfg provider.Config, client *httpx.Client, assertions *auth.AssertionBuilder, log logr.Logger) *GrantExchanger {
	if client == nil {
		client = httpx.NewClient()
	}
	if assertions == nil {
		assertions = auth.NewAssertionBuilder()
	}
	return &GrantExchanger{cfg: cfg, client: client, assertions: assertions, log: log}
}

func (g *GrantExchanger) Provider() string { return string(g.cfg.Identity) }

func (g *GrantExchanger) Exchange(ctx context.Context, token, audience string) (string, error) {
	form, err := g.form(token, audience)
	if err != nil {
		return "", err
	}
	assertion, err := g.assertions.Build(ctx, g.cfg)
	if err != nil {
		return "", auth.Cancelled(ctx, err)
	}
	form.Set("client_assertion_type", auth.ClientAssertionType)
	form.Set("client_assertion", assertion)

	g.log.V(1).Info("requesting token", "provider", g.cfg.Identity, "audience", audience, "endpoint", g.cfg.TokenEndpoint)
	var body tokenResponse
	if _, err := g.client.PostForm(ctx, g.cfg.TokenEndpoint, form, &body); err != nil {
		if ctx.Err() != nil {
			return "", auth.Cancelled(ctx, err)
		}
		return "", g.transportError(err)
	}
	if body.AccessToken == "" {
		return "", ErrMissingAccessToken
	}
	return body.AccessToken, nil
}

func (g *GrantExchanger) form(token, audience string) (url.Values, error) {
	switch g.cfg.Identity {
	case provider.TokenX:
		return url.Values{
			"grant_type":         {GrantTypeTokenExchange},
			"subject_token_type": {SubjectTokenTypeJWT},
			"subject_token":      {token},
			"audience":           {audience},
		}, nil
	case provider.Azure:
		return url.Values{
			"grant_type":          {GrantTypeJWTBearer},
			"requested_token_use": {"on_behalf_of"},
			"assertion":           {token},
			"scope":               {audience},
			"client_id":           {g.cfg.ClientID},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrant, g.cfg.Identity)
	}
}

func (g *GrantExchanger) transportError(err error) error {
	terr := &TransportError{Provider: g.cfg.Identity, Err: err}
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		terr.StatusCode = statusErr.StatusCode
		if doc, ok := statusErr.OAuth(); ok {
			terr.Code, terr.Description = doc.Code, doc.Description
		}
	}
	return terr
}
