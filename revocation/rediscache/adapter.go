// Package rediscache adapts a go-redis client to revocation.Cache, so a
// revocation.Client's fetched list can be shared across verifier instances
// or processes instead of re-fetching per-process.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kacy/android-key-attestation/revocation"
)

const (
	entriesKey = "android-key-attestation:revocation:entries"
	etagKey    = "android-key-attestation:revocation:etag"
)

// Cache is a revocation.Cache backed by a shared Redis instance.
type Cache struct {
	client  redis.Cmdable
	timeout time.Duration
}

// New wraps client as a revocation.Cache. timeout bounds every Redis round
// trip; callers that already apply a context deadline upstream may pass 0
// to fall back to a generous default.
func New(client redis.Cmdable, timeout time.Duration) *Cache {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Cache{client: client, timeout: timeout}
}

func (c *Cache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// Get satisfies revocation.Cache.
func (c *Cache) Get() (entries map[string]struct{}, etag string, fresh bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	raw, err := c.client.Get(ctx, entriesKey).Result()
	if err != nil {
		return nil, "", false
	}

	var serials []string
	if err := json.Unmarshal([]byte(raw), &serials); err != nil {
		return nil, "", false
	}
	entries = make(map[string]struct{}, len(serials))
	for _, s := range serials {
		entries[s] = struct{}{}
	}

	etag, _ = c.client.Get(ctx, etagKey).Result()
	return entries, etag, true
}

// Put satisfies revocation.Cache.
func (c *Cache) Put(entries map[string]struct{}, etag string, maxAge time.Duration) {
	ctx, cancel := c.ctx()
	defer cancel()

	serials := make([]string, 0, len(entries))
	for s := range entries {
		serials = append(serials, s)
	}
	encoded, err := json.Marshal(serials)
	if err != nil {
		return
	}

	c.client.Set(ctx, entriesKey, encoded, maxAge)
	if etag != "" {
		c.client.Set(ctx, etagKey, etag, maxAge)
	}
}

var _ revocation.Cache = (*Cache)(nil)
