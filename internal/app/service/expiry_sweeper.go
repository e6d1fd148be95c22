package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/kv"
)

// ExpiredDeleter removes links whose expiry is before a point in time.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SweepObserver is told how many links each sweep removed.
type SweepObserver interface {
	Swept(n int64)
}

// ExpirySweeper periodically deletes expired short links on a cron schedule.
type ExpirySweeper struct {
	logger   *zap.Logger
	repo     ExpiredDeleter
	observer SweepObserver
	now      func() time.Time
	timeout  time.Duration

	cron *cron.Cron
}

// NewExpirySweeper creates a sweeper running on schedule, which accepts the
// standard five-field cron syntax and descriptors such as "@every 1m".
func NewExpirySweeper(logger *zap.Logger, repo ExpiredDeleter, observer SweepObserver, schedule string) (*ExpirySweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExpirySweeper{
		logger:   logger,
		repo:     repo,
		observer: observer,
		now:      time.Now,
		timeout:  30 * time.Second,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the periodic sweeping.
func (s *ExpirySweeper) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("expiry sweeper stopped")
}

// Sweep runs one pass and returns the number of links removed.
func (s *ExpirySweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	before := s.now()
	n, err := s.repo.DeleteExpired(ctx, before)
	if err != nil {
		if errors.Is(err, kv.ErrSweepUnsupported) {
			s.logger.Warn("storage backend cannot sweep expired links", zap.Error(err))
			return 0
		}
		s.logger.Error("failed to delete expired short links", zap.Error(err))
		return 0
	}

	if s.observer != nil {
		s.observer.Swept(n)
	}
	if n > 0 {
		s.logger.Info("deleted expired short links",
			zap.Int64("count", n),
			zap.Time("expired_before", before),
		)
	}
	return n
}
