package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/notifyhub/internal/store"
)

// SQL keeps cache entries in the embedded database so they survive
// restarts.
type SQL struct {
	store      store.CacheStore
	maxEntries int
	ttls       TTLs
	now        func() time.Time
}

var _ Cache = (*SQL)(nil)

// NewSQL creates a database-backed cache bounded to maxEntries.
func NewSQL(st store.CacheStore, maxEntries int, ttls TTLs) *SQL {
	return &SQL{store: st, maxEntries: maxEntries, ttls: ttls, now: time.Now}
}

func (c *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, err := c.store.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	if !c.now().Before(e.ExpiresAt) {
		if err := c.store.DeleteCacheEntry(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (c *SQL) Put(ctx context.Context, key string, value []byte, class TTLClass) error {
	now := c.now().UTC()
	err := c.store.PutCacheEntry(ctx, store.CacheEntry{
		Key:        key,
		Value:      value,
		TTLClass:   string(class),
		InsertedAt: now,
		ExpiresAt:  now.Add(c.ttls.For(class)),
	}, c.maxEntries)
	if err != nil {
		return fmt.Errorf("caching %s entry: %w", class, err)
	}
	return nil
}

func (c *SQL) Invalidate(ctx context.Context, key string) error {
	return c.store.DeleteCacheEntry(ctx, key)
}

func (c *SQL) Clear(ctx context.Context) error {
	return c.store.ClearCache(ctx)
}
