// Package config loads oasis settings from the environment or a YAML file.
//
// Provider groups follow the platform's injected variables (IDPORTEN_*,
// AZURE_*, TOKEN_X_*). A group counts as configured when its issuer is set.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/adeilh/oasis/cache/sieve"
	"github.com/adeilh/oasis/provider"
)

var (
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Provider is the file and environment shape of one provider group.
type Provider struct {
	Issuer        string `yaml:"issuer"`
	JWKSURI       string `yaml:"jwks_uri"`
	Audience      string `yaml:"audience,omitempty"`
	ClientID      string `yaml:"client_id,omitempty"`
	TokenEndpoint string `yaml:"token_endpoint,omitempty"`
	PrivateJWK    string `yaml:"private_jwk,omitempty"`
	Algorithm     string `yaml:"signing_algorithm,omitempty"`
}

func (p Provider) config(id provider.Identity) provider.Config {
	return provider.Config{
		Identity:      id,
		Issuer:        p.Issuer,
		JWKSURI:       p.JWKSURI,
		Audience:      p.Audience,
		ClientID:      p.ClientID,
		TokenEndpoint: p.TokenEndpoint,
		PrivateJWK:    p.PrivateJWK,
		Algorithm:     p.Algorithm,
	}
}

type Providers struct {
	IDPorten Provider `yaml:"idporten"`
	Azure    Provider `yaml:"azure"`
	TokenX   Provider `yaml:"tokenx"`
}

// Configs returns one provider.Config per identity, configured or not.
func (p Providers) Configs() []provider.Config {
	return []provider.Config{
		p.IDPorten.config(provider.IDPorten),
		p.Azure.config(provider.Azure),
		p.TokenX.config(provider.TokenX),
	}
}

type Cache struct {
	Backend string `yaml:"backend"`
	// MaxBytes and EntryBytes size the in-memory cache unless Capacity is set.
	MaxBytes    int64         `yaml:"max_bytes"`
	EntryBytes  int           `yaml:"entry_bytes"`
	Capacity    int           `yaml:"capacity"`
	Grace       time.Duration `yaml:"grace"`
	PostgresDSN string        `yaml:"postgres_dsn,omitempty"`
	// PurgeInterval schedules eager removal of expired entries. Zero disables it.
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// EntryCapacity is the number of tokens the in-memory cache holds.
func (c Cache) EntryCapacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return sieve.CapacityFor(c.MaxBytes, c.EntryBytes)
}

type HTTP struct {
	Timeout   time.Duration `yaml:"timeout"`
	ClockSkew time.Duration `yaml:"clock_skew"`
	// Retries applies to unreachable endpoints and 5xx answers only.
	Retries int `yaml:"retries"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

type Exchange struct {
	Coalesce          bool          `yaml:"coalesce"`
	AssertionLifetime time.Duration `yaml:"assertion_lifetime"`
}

type Config struct {
	Providers Providers `yaml:"providers"`
	Cache     Cache     `yaml:"cache"`
	HTTP      HTTP      `yaml:"http"`
	Metrics   Metrics   `yaml:"metrics"`
	Exchange  Exchange  `yaml:"exchange"`
}

// Default returns a configuration without providers and with every knob at
// its default.
func Default() Config {
	return Config{
		Cache: Cache{
			Backend:    BackendMemory,
			MaxBytes:   sieve.DefaultMaxBytes,
			EntryBytes: sieve.DefaultEntryBytes,
			Grace:      5 * time.Second,
		},
		HTTP:     HTTP{Timeout: 10 * time.Second},
		Metrics:  Metrics{Enabled: true},
		Exchange: Exchange{AssertionLifetime: 60 * time.Second},
	}
}

// ProviderSet builds the provider snapshot described by c.
func (c Config) ProviderSet() (*provider.Set, error) {
	return provider.NewSet(c.Providers.Configs()...)
}

// Validate reports every problem in c at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.ProviderSet(); err != nil {
		errs = append(errs, err)
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendNone:
	case BackendPostgres:
		if c.Cache.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("%w: postgres cache requires a dsn", ErrInvalidConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache.Backend))
	}
	if c.Cache.MaxBytes < 0 || c.Cache.EntryBytes < 0 || c.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("%w: cache sizes must not be negative", ErrInvalidConfig))
	}
	if c.Cache.Grace < 0 || c.Cache.PurgeInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: cache durations must not be negative", ErrInvalidConfig))
	}
	if c.HTTP.Timeout < 0 || c.HTTP.ClockSkew < 0 {
		errs = append(errs, fmt.Errorf("%w: http durations must not be negative", ErrInvalidConfig))
	}
	if c.HTTP.Retries < 0 {
		errs = append(errs, fmt.Errorf("%w: http retries must not be negative", ErrInvalidConfig))
	}
	if c.Exchange.AssertionLifetime < 0 || c.Exchange.AssertionLifetime > 120*time.Second {
		errs = append(errs, fmt.Errorf("%w: assertion lifetime must be within 0s..120s", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}
