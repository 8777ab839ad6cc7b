// Package localcache is an in-process domain.Cache backed by ccache, used
// when no redis is configured.
package localcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/amarcin/village-units/internal/adapters/observability"
)

// Cache keeps JSON-encoded values so that readers never share memory with
// writers, matching the remote cache's semantics.
type Cache struct {
	c *ccache.Cache[[]byte]
}

func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	return &Cache{c: ccache.New(ccache.Configure[[]byte]().MaxSize(int64(maxEntries)))}
}

func (l *Cache) Get(_ context.Context, key string, dst any) (bool, error) {
	it := l.c.Get(key)
	if it == nil || it.Expired() {
		observability.ObserveCache("local", "miss")
		return false, nil
	}
	observability.ObserveCache("local", "hit")
	if err := json.Unmarshal(it.Value(), dst); err != nil {
		return false, fmt.Errorf("localcache: decode %s: %w", key, err)
	}
	return true, nil
}

func (l *Cache) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("localcache: encode %s: %w", key, err)
	}
	observability.ObserveCache("local", "set")
	l.c.Set(key, b, ttl)
	return nil
}

func (l *Cache) Del(_ context.Context, key string) error {
	observability.ObserveCache("local", "del")
	l.c.Delete(key)
	return nil
}

func (l *Cache) Stop() { l.c.Stop() }
