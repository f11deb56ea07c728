package postgres

import "time"

// DefaultTable holds cached exchange results.
const DefaultTable = "oasis_token_cache"

// Options configures the connection pool and the token table.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Table is the name of the token table. It is interpolated into SQL and
	// must be a plain identifier.
	Table string
	// Now is the clock used for expiry decisions.
	Now func() time.Time
}

type Option func(*Options)

// WithDSN sets the lib/pq connection string.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn != "" {
			o.DSN = dsn
		}
	}
}

func WithMaxOpenConns(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxOpenConns = n
		}
	}
}

func WithMaxIdleConns(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxIdleConns = n
		}
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

// WithTable overrides DefaultTable.
func WithTable(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Table = name
		}
	}
}

func WithNowFunc(fn func() time.Time) Option {
	return func(o *Options) {
		if fn != nil {
			o.Now = fn
		}
	}
}

func defaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Table:           DefaultTable,
		Now:             time.Now,
	}
}

func applyOptions(opts []Option) Options {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
