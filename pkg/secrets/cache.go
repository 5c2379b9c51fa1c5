package secrets

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes resolved secrets for a TTL, collapsing concurrent lookups of
// the same key into one provider round trip.
type Cache struct {
	provider Provider
	ttl      time.Duration
	entries  sync.Map
	group    singleflight.Group
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewCache(provider Provider, ttl time.Duration) *Cache {
	return &Cache{provider: provider, ttl: ttl}
}

func (c *Cache) GetSecret(ctx context.Context, key string) (string, error) {
	if cached, ok := c.entries.Load(key); ok {
		entry := cached.(*cachedSecret)
		if time.Now().Before(entry.expiresAt) {
			return entry.value, nil
		}
		c.entries.Delete(key)
	}
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		if cached, ok := c.entries.Load(key); ok {
			entry := cached.(*cachedSecret)
			if time.Now().Before(entry.expiresAt) {
				return entry.value, nil
			}
		}
		value, err := c.provider.GetSecret(ctx, key)
		if err != nil {
			return "", err
		}
		c.entries.Store(key, &cachedSecret{
			value:     value,
			expiresAt: time.Now().Add(c.ttl),
		})
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops a key so the next lookup refetches, e.g. after rotation.
func (c *Cache) Invalidate(key string) {
	c.entries.Delete(key)
	c.group.Forget(key)
}
