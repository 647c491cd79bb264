// Package liveness watches device heartbeats in the background and
// flips devices that stopped reporting to "offline".
package liveness

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"classifier-fleet-backend/config"
	"classifier-fleet-backend/internal/notification"
	"classifier-fleet-backend/internal/store"
)

// Sweeper periodically marks stale devices offline and notifies
// subscribed operators through the worker pool.
type Sweeper struct {
	cfg        *config.LivenessConfig
	store      store.Store
	workerPool *notification.WorkerPool
}

// NewSweeper creates a sweeper. workerPool may be nil when push
// notifications are not configured.
func NewSweeper(cfg *config.LivenessConfig, s store.Store, wp *notification.WorkerPool) *Sweeper {
	return &Sweeper{
		cfg:        cfg,
		store:      s,
		workerPool: wp,
	}
}

// Run starts the sweep loop. It returns when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Info("Liveness sweeper is disabled. Not starting.")
		return
	}
	log.Info("Starting liveness sweeper...")

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Liveness sweeper shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce performs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.OfflineAfter)

	ids, err := s.store.MarkStaleDevicesOffline(ctx, cutoff)
	if err != nil {
		log.Errorf("Liveness sweep failed: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	log.Infof("Marked %d devices offline", len(ids))
	if s.workerPool == nil {
		return
	}
	for _, id := range ids {
		s.workerPool.Dispatch(id)
	}
}
