package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoIdentityProvider        = errors.New("no identity provider")
	ErrMultipleIdentityProviders = errors.New("multiple identity providers")
	ErrIncompleteProvider        = errors.New("provider: incomplete configuration")
	ErrUnknownIdentity           = errors.New("provider: unknown identity")
)

// DefaultAlgorithm is the signing algorithm assumed when a provider does not
// configure one.
const DefaultAlgorithm = "RS256"

// Identity names one member of the closed set of identity providers.
type Identity string

const (
	// IDPorten is the browser-facing SSO provider. It only validates tokens.
	IDPorten Identity = "idporten"
	// Azure validates tokens and performs JWT-bearer on-behalf-of exchanges.
	Azure Identity = "azure"
	// TokenX is the workload identity provider performing RFC 8693 token exchange.
	TokenX Identity = "tokenx"
)

// Identities lists every known identity in selection order.
var Identities = []Identity{IDPorten, Azure, TokenX}

// Kind identifies the family of operation a provider is selected for.
type Kind int

const (
	Validation Kind = iota + 1
	Exchange
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Exchange:
		return "exchange"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Supports reports whether the identity takes part in the given family.
func (id Identity) Supports(kind Kind) bool {
	switch id {
	case IDPorten:
		return kind == Validation
	case Azure:
		return kind == Validation || kind == Exchange
	case TokenX:
		return kind == Exchange
	default:
		return false
	}
}

func (id Identity) Valid() bool {
	switch id {
	case IDPorten, Azure, TokenX:
		return true
	default:
		return false
	}
}

// Config is the read-only configuration record of a single provider.
type Config struct {
	Identity Identity
	Issuer   string
	JWKSURI  string
	// Audience is the audience a validated token must carry. For Azure and
	// TokenX it equals the client id.
	Audience      string
	ClientID      string
	TokenEndpoint string
	// PrivateJWK is the JSON encoded private signing key used for client
	// assertions.
	PrivateJWK string
	Algorithm  string
}

// Active reports whether the provider is configured. Only the presence of the
// issuer is checked.
func (c Config) Active() bool { return c.Issuer != "" }

// SigningAlgorithm returns the configured algorithm or DefaultAlgorithm.
func (c Config) SigningAlgorithm() string {
	if c.Algorithm == "" {
		return DefaultAlgorithm
	}
	return c.Algorithm
}

// ExpectedAudience is the audience validated tokens are checked against.
func (c Config) ExpectedAudience() string {
	if c.Audience != "" {
		return c.Audience
	}
	return c.ClientID
}

// Missing lists the mandatory fields an active provider lacks.
func (c Config) Missing() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("issuer", c.Issuer)
	check("jwks_uri", c.JWKSURI)
	switch c.Identity {
	case IDPorten:
		check("audience", c.Audience)
	case Azure, TokenX:
		check("client_id", c.ClientID)
		check("token_endpoint", c.TokenEndpoint)
		check("private_jwk", c.PrivateJWK)
	}
	return missing
}

func (c Config) String() string {
	return fmt.Sprintf("%s(issuer=%s)", c.Identity, c.Issuer)
}
