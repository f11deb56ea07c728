package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adeilh/oasis/cache"
)

var ErrMissingTable = errors.New("postgres: token table does not exist")

// TokenStore implements cache.Store on a single table. Expired rows are never
// returned and are removed by PurgeExpired.
type TokenStore struct {
	db    *sql.DB
	now   func() time.Time
	owned bool

	getQuery, setQuery, deleteQuery, purgeQuery string
}

var (
	_ cache.Store  = (*TokenStore)(nil)
	_ cache.Purger = (*TokenStore)(nil)
)

// NewTokenStore wraps an existing connection. The table must already exist,
// see Migrate.
func NewTokenStore(db *sql.DB, opts ...Option) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres: db is nil")
	}
	cfg := applyOptions(opts)
	if err := validTable(cfg.Table); err != nil {
		return nil, err
	}
	return &TokenStore{
		db:          db,
		now:         cfg.Now,
		getQuery:    fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND expires_at > $2`, cfg.Table),
		setQuery:    fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, cfg.Table),
		deleteQuery: fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, cfg.Table),
		purgeQuery:  fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, cfg.Table),
	}, nil
}

// DB exposes the underlying connection.
func (s *TokenStore) DB() *sql.DB { return s.db }

func (s *TokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.getQuery, key, s.now().UTC()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, translateError(err)
	}
	return value, nil
}

// Set upserts value. A non-positive ttl stores nothing.
func (s *TokenStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	expiresAt := s.now().Add(ttl).UTC()
	_, err := s.db.ExecContext(ctx, s.setQuery, key, value, expiresAt)
	return translateError(err)
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.deleteQuery, key)
	if err != nil {
		return translateError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// PurgeExpired deletes every expired row and reports how many went.
func (s *TokenStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.purgeQuery, s.now().UTC())
	if err != nil {
		return 0, translateError(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the connection when the store opened it itself.
func (s *TokenStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return fmt.Errorf("%w: %s", ErrMissingTable, pqErr.Message)
	}
	return err
}
