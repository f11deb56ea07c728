package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store represents a TTL-based key/value cache for exchanged tokens. It can be
// backed by memory (see cache/sieve), PostgreSQL, or any other KV store.
// Implementations must never return an entry whose TTL has elapsed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl. A non-positive ttl must not create an entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by stores that can drop expired entries eagerly.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Lookup wraps Store.Get and folds ErrNotFound into a boolean.
func Lookup(ctx context.Context, s Store, key string) ([]byte, bool, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}
