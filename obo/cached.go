package obo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"

	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/cache"
)

// DefaultGrace is how long before expiry a cached token stops being served.
const DefaultGrace = 5 * time.Second

type cacheEntry struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CachedExchanger serves repeated exchanges of the same token and audience
// from a cache.Store until the issued token is about to expire.
type CachedExchanger struct {
	next     Exchanger
	store    cache.Store
	provider string
	grace    time.Duration
	now      func() time.Time
	log      logr.Logger
}

var _ Named = (*CachedExchanger)(nil)

type CacheOption func(*CachedExchanger)

// WithGrace sets the margin before expiry within which entries are treated
// as absent.
func WithGrace(d time.Duration) CacheOption {
	return func(c *CachedExchanger) {
		if d >= 0 {
			c.grace = d
		}
	}
}

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedExchanger) {
		if now != nil {
			c.now = now
		}
	}
}

func WithCacheLogger(log logr.Logger) CacheOption {
	return func(c *CachedExchanger) {
		c.log = log
	}
}

func NewCachedExchanger(next Exchanger, store cache.Store, opts ...CacheOption) *CachedExchanger {
	c := &CachedExchanger{
		next:     next,
		store:    store,
		provider: ProviderOf(next),
		grace:    DefaultGrace,
		now:      time.Now,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *CachedExchanger) Provider() string { return c.provider }

// CacheKey derives the store key of an exchange. Raw tokens never reach the
// store.
func CacheKey(provider, token, audience string) string {
	sum := sha256.Sum256([]byte(token + audience))
	return provider + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedExchanger) Exchange(ctx context.Context, token, audience string) (string, error) {
	key := CacheKey(c.provider, token, audience)

	if cached, ok := c.lookup(ctx, key); ok {
		c.log.V(1).Info("token cache hit", "provider", c.provider, "audience", audience)
		return cached, nil
	}
	c.log.V(1).Info("token cache miss", "provider", c.provider, "audience", audience)

	accessToken, err := c.next.Exchange(ctx, token, audience)
	if err != nil {
		return "", err
	}
	// A caller that gave up gets no token, and nothing is cached for it.
	if err := ctx.Err(); err != nil {
		return "", auth.Cancelled(ctx, err)
	}
	c.remember(ctx, key, accessToken)
	return accessToken, nil
}

func (c *CachedExchanger) lookup(ctx context.Context, key string) (string, bool) {
	raw, ok, err := cache.Lookup(ctx, c.store, key)
	if err != nil {
		c.log.V(1).Info("token cache read failed", "provider", c.provider, "error", err.Error())
		return "", false
	}
	if !ok {
		return "", false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.AccessToken == "" {
		return "", false
	}
	if !c.now().Add(c.grace).Before(entry.ExpiresAt) {
		return "", false
	}
	return entry.AccessToken, true
}

func (c *CachedExchanger) remember(ctx context.Context, key, accessToken string) {
	claims, err := auth.DecodeUnverified(accessToken)
	if err != nil {
		c.log.V(1).Info("not caching undecodable token", "provider", c.provider, "error", err.Error())
		return
	}
	ttl := claims.TTL(c.now())
	if ttl <= 0 {
		return
	}
	buf, err := json.Marshal(cacheEntry{AccessToken: accessToken, ExpiresAt: claims.ExpiresAt})
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, buf, ttl); err != nil {
		c.log.V(1).Info("token cache write failed", "provider", c.provider, "error", err.Error())
	}
}
