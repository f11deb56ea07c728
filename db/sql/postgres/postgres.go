// Package postgres provides a shared cache.Store for exchanged tokens backed
// by PostgreSQL through lib/pq. Several service replicas can point at the
// same table to share one exchange cache.
package postgres

import (
	"context"
	"database/sql"
)

// Connect opens a connection and creates the token table when missing.
func Connect(ctx context.Context, opts ...Option) (*TokenStore, error) {
	cfg := applyOptions(opts)
	if err := validTable(cfg.Table); err != nil {
		return nil, err
	}
	db, err := Open(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, cfg.Table); err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := NewTokenStore(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Migrate creates the token table named table.
func Migrate(ctx context.Context, db *sql.DB, table string) error {
	if err := validTable(table); err != nil {
		return err
	}
	return ApplyMigrations(ctx, db, Schema(table)...)
}
