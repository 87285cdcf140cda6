package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
)

// DefaultSchedule runs the sweep daily at 01:00 UTC.
const DefaultSchedule = "0 1 * * *"

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	scheduler gocron.Scheduler
	job       gocron.Job
	logger    *logging.Logger
}

// NewScheduler registers sweeper under the five-field cron expression schedule,
// evaluated in UTC. Runs never overlap. ctx is handed to every run.
func NewScheduler(ctx context.Context, sweeper *Sweeper, schedule string, logger *logging.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = logging.Default()
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	job, err := s.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			// Run logs its own outcome.
			_, _ = sweeper.Run(ctx)
		}),
		gocron.WithName("retention-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	return &Scheduler{scheduler: s, job: job, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	next, _ := s.job.NextRun()
	s.logger.Info("retention sweep scheduled", "next_run", next)
}

// RunNow triggers a sweep outside the schedule.
func (s *Scheduler) RunNow() error {
	return s.job.RunNow()
}

// Shutdown stops the scheduler and waits for a running sweep.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
