// Package retention deletes local event log rows older than the retention window.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/metrics"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
)

// DefaultDays is the retention window used when none is configured.
const DefaultDays = 7

// Sweeper removes rows whose createdAt is before now minus Days.
type Sweeper struct {
	repo   repository.Repository
	days   int
	logger *logging.Logger
	now    func() time.Time
}

func NewSweeper(repo repository.Repository, days int, logger *logging.Logger) *Sweeper {
	if days < 0 {
		days = DefaultDays
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{repo: repo, days: days, logger: logger, now: time.Now}
}

// SetClock replaces the clock the threshold is computed from.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Threshold returns the createdAt cut-off for a sweep run at the current time.
func (s *Sweeper) Threshold() time.Time {
	return s.now().UTC().AddDate(0, 0, -s.days)
}

// Result describes one sweep.
type Result struct {
	Threshold time.Time
	Deleted   int64
}

// Run deletes every row older than the threshold and reports the cut-off it used.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	threshold := s.Threshold()
	deleted, err := s.repo.DeleteEventLogsBefore(ctx, threshold)
	if err != nil {
		metrics.SweepErrors.Inc()
		s.logger.ErrorContext(ctx, "retention sweep failed",
			"threshold", threshold,
			logging.Error(err),
		)
		return Result{Threshold: threshold}, fmt.Errorf("failed to sweep event logs: %w", err)
	}

	metrics.SweptRowsTotal.Add(float64(deleted))
	s.logger.InfoContext(ctx, "retention sweep completed",
		"threshold", threshold,
		"retention_days", s.days,
		logging.Count(deleted),
	)
	return Result{Threshold: threshold, Deleted: deleted}, nil
}
