package identity

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CachedResolver memoises successful resolutions for a short TTL.
// Concurrent misses for the same principal share one store read. Failures are
// never cached.
type CachedResolver struct {
	next  Resolver
	cache *expirable.LRU[string, Identity]
	group singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

// NewCachedResolver wraps next. A ttl of zero or less returns next unchanged.
func NewCachedResolver(next Resolver, size int, ttl time.Duration) Resolver {
	if ttl <= 0 {
		return next
	}
	if size <= 0 {
		size = 1024
	}
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, Identity](size, nil, ttl),
		gen:   make(map[string]uint64),
	}
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(ctx context.Context, principalID string) (Identity, error) {
	if id, ok := c.cache.Get(principalID); ok {
		return id, nil
	}

	v, err, _ := c.group.Do(principalID, func() (any, error) {
		gen := c.generation(principalID)
		id, err := c.next.Resolve(ctx, principalID)
		if err != nil {
			return Identity{}, err
		}
		// A grant change that landed while we were reading bumps the
		// generation; the result may predate it, so hand it out but do
		// not keep it.
		c.mu.Lock()
		if c.gen[principalID] == gen {
			c.cache.Add(principalID, id)
		}
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return v.(Identity), nil
}

// Invalidate drops any cached identity for the principals. Grant transitions
// call it after commit.
func (c *CachedResolver) Invalidate(principalIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range principalIDs {
		c.gen[id]++
		c.cache.Remove(id)
		c.group.Forget(id)
	}
}

func (c *CachedResolver) generation(principalID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[principalID]
}
