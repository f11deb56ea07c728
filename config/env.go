package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

type providerKeys struct {
	issuer, jwksURI, audience, clientID, tokenEndpoint, privateJWK, algorithm string
}

var (
	idportenKeys = providerKeys{
		issuer:    "IDPORTEN_ISSUER",
		jwksURI:   "IDPORTEN_JWKS_URI",
		audience:  "IDPORTEN_AUDIENCE",
		algorithm: "IDPORTEN_SIGNING_ALGORITHM",
	}
	azureKeys = providerKeys{
		issuer:        "AZURE_OPENID_CONFIG_ISSUER",
		jwksURI:       "AZURE_OPENID_CONFIG_JWKS_URI",
		clientID:      "AZURE_APP_CLIENT_ID",
		tokenEndpoint: "AZURE_OPENID_CONFIG_TOKEN_ENDPOINT",
		privateJWK:    "AZURE_APP_JWK",
		algorithm:     "AZURE_SIGNING_ALGORITHM",
	}
	tokenxKeys = providerKeys{
		issuer:        "TOKEN_X_ISSUER",
		jwksURI:       "TOKEN_X_JWKS_URI",
		clientID:      "TOKEN_X_CLIENT_ID",
		tokenEndpoint: "TOKEN_X_TOKEN_ENDPOINT",
		privateJWK:    "TOKEN_X_PRIVATE_JWK",
		algorithm:     "TOKEN_X_SIGNING_ALGORITHM",
	}
)

func (k providerKeys) read(get func(string) string) Provider {
	field := func(key string) string {
		if key == "" {
			return ""
		}
		return get(key)
	}
	return Provider{
		Issuer:        field(k.issuer),
		JWKSURI:       field(k.jwksURI),
		Audience:      field(k.audience),
		ClientID:      field(k.clientID),
		TokenEndpoint: field(k.tokenEndpoint),
		PrivateJWK:    field(k.privateJWK),
		Algorithm:     field(k.algorithm),
	}
}

// FromEnv builds a Config from environment variables. A nil lookup reads the
// process environment. The result is validated.
func FromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Default()
	cfg.Providers = Providers{
		IDPorten: idportenKeys.read(get),
		Azure:    azureKeys.read(get),
		TokenX:   tokenxKeys.read(get),
	}

	var errs []error
	if v := get("OASIS_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	cfg.Cache.PostgresDSN = get("OASIS_CACHE_POSTGRES_DSN")
	parseInt64(get, "OASIS_CACHE_MAX_BYTES", &cfg.Cache.MaxBytes, &errs)
	parseInt(get, "OASIS_CACHE_ENTRY_BYTES", &cfg.Cache.EntryBytes, &errs)
	parseInt(get, "OASIS_CACHE_CAPACITY", &cfg.Cache.Capacity, &errs)
	parseDuration(get, "OASIS_CACHE_GRACE", &cfg.Cache.Grace, &errs)
	parseDuration(get, "OASIS_CACHE_PURGE_INTERVAL", &cfg.Cache.PurgeInterval, &errs)
	parseDuration(get, "OASIS_HTTP_TIMEOUT", &cfg.HTTP.Timeout, &errs)
	parseDuration(get, "OASIS_CLOCK_SKEW", &cfg.HTTP.ClockSkew, &errs)
	parseInt(get, "OASIS_HTTP_RETRIES", &cfg.HTTP.Retries, &errs)
	parseBool(get, "OASIS_METRICS_ENABLED", &cfg.Metrics.Enabled, &errs)
	parseBool(get, "OASIS_EXCHANGE_COALESCE", &cfg.Exchange.Coalesce, &errs)
	parseDuration(get, "OASIS_ASSERTION_LIFETIME", &cfg.Exchange.AssertionLifetime, &errs)

	if len(errs) > 0 {
		return cfg, joinInvalid(errs)
	}
	return cfg, cfg.Validate()
}

func parseInt64(get func(string) string, key string, dst *int64, errs *[]error) {
	if v := get(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func parseInt(get func(string) string, key string, dst *int, errs *[]error) {
	if v := get(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func parseDuration(get func(string) string, key string, dst *time.Duration, errs *[]error) {
	if v := get(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func parseBool(get func(string) string, key string, dst *bool, errs *[]error) {
	if v := get(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func joinInvalid(errs []error) error {
	wrapped := make([]error, 0, len(errs))
	for _, err := range errs {
		wrapped = append(wrapped, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	return errors.Join(wrapped...)
}
