package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultSweepInterval = time.Hour

// Sweeper is the part of the draft lifecycle the expiry loop drives.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ExpiryService periodically deletes expired drafts.
type ExpiryService struct {
	drafts   Sweeper
	interval time.Duration
	log      *zap.Logger
}

func NewExpiryService(drafts Sweeper, interval time.Duration, log *zap.Logger) *ExpiryService {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpiryService{drafts: drafts, interval: interval, log: log}
}

// Run sweeps once on startup and then every interval until ctx is done.
// Overlapping sweeps are harmless; a failed sweep is logged and retried on
// the next tick.
func (s *ExpiryService) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpiryService) sweep(ctx context.Context) {
	n, err := s.drafts.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("draft expiry sweep failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.log.Debug("draft expiry sweep", zap.Int64("deleted", n))
	}
}
