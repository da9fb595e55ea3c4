package playlist

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/store"
)

// Cache stores entries until a job is started from them. Keys are derived
// from the entry URL, so the same channel always maps to the same key and a
// second live start for it is detected as a conflict.
type Cache struct {
	store *store.Store
	now   func() time.Time
}

func NewCache(st *store.Store) *Cache {
	return &Cache{store: st, now: time.Now}
}

// Put saves entry and returns the stored record with its key.
func (c *Cache) Put(entry job.Entry, user string) (job.CacheEntry, error) {
	if entry.URL == "" {
		return job.CacheEntry{}, fmt.Errorf("entry url is required")
	}
	ce := job.CacheEntry{
		Key:       KeyFor(entry.URL),
		Entry:     entry,
		User:      user,
		CreatedAt: c.now().UTC(),
	}
	if err := c.store.PutCacheEntry(ce); err != nil {
		return job.CacheEntry{}, err
	}
	return ce, nil
}

// KeyFor returns the cache key of an entry URL.
func KeyFor(entryURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(entryURL)).String()
}

// Get returns the entry stored under key; the error wraps store.ErrNotFound
// when there is none.
func (c *Cache) Get(key string) (job.CacheEntry, error) {
	return c.store.GetCacheEntry(key)
}
