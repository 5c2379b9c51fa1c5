package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"linkvault/pkg/domain"
)

// LRU is a per-process record cache. Entries carry the record's own expiry so
// a cached paste is never served past its lifetime. View counts in cached
// records are advisory; the store owns the authoritative counter.
type LRU struct {
	c  *lru.Cache[string, item]
	mu sync.Mutex
}

type item struct {
	paste *domain.Paste
	exp   time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(ctx context.Context, id string) *domain.Paste {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if time.Now().After(it.exp) {
		l.c.Remove(id)
		return nil
	}
	return it.paste
}

func (l *LRU) Set(p *domain.Paste) {
	ttl := time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(p.ID, item{
		paste: p,
		exp:   p.ExpiresAt,
	})
}

func (l *LRU) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(id)
}
