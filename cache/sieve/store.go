package sieve

import (
	"context"
	"time"

	"github.com/adeilh/oasis/cache"
)

// Store adapts a Cache to cache.Store.
type Store struct {
	cache *Cache[string, []byte]
}

var (
	_ cache.Store  = (*Store)(nil)
	_ cache.Purger = (*Store)(nil)
)

// NewStore builds an in-memory store holding at most capacity entries.
func NewStore(capacity int) *Store {
	return &Store{cache: New[string, []byte](capacity)}
}

// Cache exposes the underlying SIEVE cache.
func (s *Store) Cache() *Cache[string, []byte] { return s.cache }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if !s.cache.Delete(key) {
		return cache.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	return s.cache.Purge(), nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
