// Package provider resolves which identity provider is active for an
// operation. Validation and exchange consult independent provider families;
// exactly one provider of a family may be active at a time.
package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Selector picks the single active provider for an operation family.
type Selector interface {
	Select(kind Kind) (Config, error)
}

// Set is an immutable, validated snapshot of provider configuration.
type Set struct {
	configs map[Identity]Config
}

var _ Selector = (*Set)(nil)

// NewSet validates the supplied configurations and returns a snapshot.
// Inactive configurations are ignored. Every active configuration missing
// mandatory fields is reported in one joined error.
func NewSet(configs ...Config) (*Set, error) {
	set := &Set{configs: make(map[Identity]Config, len(configs))}
	var errs []error
	for _, cfg := range configs {
		if !cfg.Identity.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownIdentity, cfg.Identity))
			continue
		}
		if !cfg.Active() {
			continue
		}
		if _, dup := set.configs[cfg.Identity]; dup {
			errs = append(errs, fmt.Errorf("provider %s: configured twice", cfg.Identity))
			continue
		}
		if missing := cfg.Missing(); len(missing) > 0 {
			errs = append(errs, fmt.Errorf("%w: %s missing %s", ErrIncompleteProvider, cfg.Identity, strings.Join(missing, ", ")))
			continue
		}
		set.configs[cfg.Identity] = cfg
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

// Select returns the single active provider of the given family.
func (s *Set) Select(kind Kind) (Config, error) {
	if s == nil {
		return Config{}, ErrNoIdentityProvider
	}
	var (
		selected Config
		count    int
	)
	for _, id := range Identities {
		if !id.Supports(kind) {
			continue
		}
		cfg, ok := s.configs[id]
		if !ok || !cfg.Active() {
			continue
		}
		selected = cfg
		count++
	}
	switch count {
	case 0:
		return Config{}, ErrNoIdentityProvider
	case 1:
		return selected, nil
	default:
		return Config{}, ErrMultipleIdentityProviders
	}
}

// Get returns the configuration of one identity.
func (s *Set) Get(id Identity) (Config, bool) {
	if s == nil {
		return Config{}, false
	}
	cfg, ok := s.configs[id]
	return cfg, ok
}

// Active lists the configured identities in selection order.
func (s *Set) Active() []Identity {
	if s == nil {
		return nil
	}
	var out []Identity
	for _, id := range Identities {
		if _, ok := s.configs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Resolver serves selections from the most recently stored Set. It is safe
// for concurrent use; Store may be called while selections are in flight.
type Resolver struct {
	current atomic.Pointer[Set]
}

var _ Selector = (*Resolver)(nil)

func NewResolver(set *Set) *Resolver {
	r := &Resolver{}
	r.Store(set)
	return r
}

func (r *Resolver) Select(kind Kind) (Config, error) {
	return r.current.Load().Select(kind)
}

// Store replaces the snapshot used by subsequent selections.
func (r *Resolver) Store(set *Set) {
	if set == nil {
		set = &Set{configs: map[Identity]Config{}}
	}
	r.current.Store(set)
}

func (r *Resolver) Load() *Set {
	return r.current.Load()
}
