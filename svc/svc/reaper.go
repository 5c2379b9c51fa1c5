package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"linkvault/metrics"
	"linkvault/svc/util"
)

var (
	reaperOnce    sync.Once
	reaperRunning atomic.Bool
)

// StartReaper launches the background sweep that removes expired records and
// their storage objects. At most one reaper runs per process.
func StartReaper(ctx context.Context, p *Paste, interval time.Duration) error {
	if reaperRunning.Load() {
		return errors.New("reaper already running")
	}
	reaperOnce.Do(func() {
		reaperRunning.Store(true)
		go runReaper(ctx, p, interval)
	})
	return nil
}

func runReaper(ctx context.Context, p *Paste, interval time.Duration) {
	defer reaperRunning.Store(false)
	reaperRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, reaperRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", reaperRequestID).
		Dur("interval", interval).
		Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", reaperRequestID).
				Msg("reaper shutting down")
			return
		case <-ticker.C:
			reaped := p.reapExpired(ctx)
			metrics.ReapCycles.Inc()
			if reaped > 0 {
				util.Info().
					Int("reaped", reaped).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("reap cycle completed")
			}
		}
	}
}

// reapExpired sweeps one batch. A record that fails to purge stays behind
// for the next cycle rather than aborting the sweep.
func (p *Paste) reapExpired(ctx context.Context) int {
	expired, err := p.db.ListExpired(ctx, time.Now())
	if err != nil {
		util.Error().Err(err).Msg("reap listing failed")
		return 0
	}
	reaped := 0
	for _, paste := range expired {
		if err := p.purge(ctx, paste); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("reap purge failed")
			continue
		}
		reaped++
		metrics.ReapedPastes.Inc()
	}
	return reaped
}
