// Package cache stores AI responses under content-derived keys with
// per-class expiry and a bounded entry count.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/store"
)

// TTLClass names an expiry bucket.
type TTLClass string

const (
	// TTLShort applies to generated content.
	TTLShort TTLClass = "short"

	// TTLLong applies to search results.
	TTLLong TTLClass = "long"
)

// TTLs maps each class to its lifetime.
type TTLs struct {
	Short time.Duration
	Long  time.Duration
}

// DefaultTTLs are used when the configuration leaves a class unset.
var DefaultTTLs = TTLs{Short: 10 * time.Minute, Long: time.Hour}

// For returns the lifetime of class c.
func (t TTLs) For(c TTLClass) time.Duration {
	switch c {
	case TTLLong:
		if t.Long > 0 {
			return t.Long
		}
		return DefaultTTLs.Long
	default:
		if t.Short > 0 {
			return t.Short
		}
		return DefaultTTLs.Short
	}
}

// Cache is a key-value store for serialized responses. Entries are
// replaced, never modified in place.
type Cache interface {
	// Get returns the live value under key. Expired entries are misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	Put(ctx context.Context, key string, value []byte, class TTLClass) error
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Key derives the cache key of a request from its kind, its content with
// whitespace runs collapsed, and the credential scope it was made under.
func Key(kind, content, scope string) string {
	normalized := strings.Join(strings.Fields(content), " ")

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	return hex.EncodeToString(h.Sum(nil))
}

// New builds the cache backend selected by cfg. The sqlite backend keeps
// its entries in st.
func New(cfg model.CacheConfig, st store.CacheStore) (Cache, error) {
	ttls := TTLs{Short: cfg.ShortTTL, Long: cfg.LongTTL}

	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.MaxEntries, ttls), nil
	case "sqlite":
		if st == nil {
			return nil, fmt.Errorf("sqlite cache backend requires a store")
		}
		return NewSQL(st, cfg.MaxEntries, ttls), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedis(client, cfg.RedisPrefix, ttls), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
