package svc

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"linkvault/metrics"
	"linkvault/pkg/domain"
	"linkvault/svc/util"
)

// gate runs every access check in order: existence, expiry, password, view
// budget. The password check happens before any view is consumed, so a wrong
// guess never burns a view. The store owns the view counter; cached records
// only supply the immutable fields. A record that has just consumed its last
// view stays in place; the access after that surfaces the limit and queues
// the purge.
func (p *Paste) gate(ctx context.Context, id, password string) (*domain.Paste, int, error) {
	paste, err := p.lookup(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if time.Now().After(paste.ExpiresAt) {
		p.queueBurn(paste.ID)
		return nil, 0, domain.ErrExpired
	}
	if paste.PasswordHash != "" {
		if password == "" {
			return nil, 0, domain.ErrPasswordRequired
		}
		match, _, err := p.hasher.Verify(password, paste.PasswordHash)
		if err != nil {
			return nil, 0, errors.Wrap(err, "verify password")
		}
		if !match {
			return nil, 0, domain.ErrInvalidPassword
		}
	}
	views, err := p.db.ConsumeView(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrViewLimitExceeded) {
			p.queueBurn(id)
		}
		return nil, 0, err
	}
	return paste, views, nil
}

// lookup checks the in-process cache, then Redis, then the store. Cache
// layers are populated on the way back up.
func (p *Paste) lookup(ctx context.Context, id string) (*domain.Paste, error) {
	if paste := p.lru.Get(ctx, id); paste != nil {
		metrics.CacheHits.Inc()
		return paste, nil
	}
	metrics.CacheMisses.Inc()
	if p.rdb != nil {
		if paste, err := p.rdb.GetPaste(ctx, id); err == nil && paste != nil {
			p.lru.Set(paste)
			return paste, nil
		} else if err != nil {
			util.Warn().Err(err).Str("id", id).Msg("redis lookup failed, falling through")
		}
	}
	paste, err := p.db.GetPaste(ctx, id)
	if err != nil {
		return nil, err
	}
	p.lru.Set(paste)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, time.Until(paste.ExpiresAt)); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in redis")
		}
	}
	return paste, nil
}
