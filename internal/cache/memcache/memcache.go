package memcache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"
)

const minSizeMB = 1

// Cache is an in-process byte store backed by freecache.
type Cache struct {
	c *freecache.Cache
}

func New(sizeMB int) *Cache {
	if sizeMB < minSizeMB {
		sizeMB = minSizeMB
	}
	return &Cache{c: freecache.NewCache(sizeMB * 1024 * 1024)}
}

func (m *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, err := m.c.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "freecache get")
	}
	return val, true, nil
}

func (m *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	secs := 0
	if ttl > 0 {
		secs = max(int(ttl/time.Second), 1)
	}
	if err := m.c.Set([]byte(key), value, secs); err != nil {
		return errors.Wrap(err, "freecache set")
	}
	return nil
}

func (m *Cache) Len() int64 { return m.c.EntryCount() }
