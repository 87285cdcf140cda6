package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/models"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
)

var sweepNow = time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC)

// seed inserts one row per age, stamped age before sweepNow.
func seed(t *testing.T, repo *repository.InMemoryRepository, ages ...time.Duration) {
	t.Helper()
	for _, age := range ages {
		at := sweepNow.Add(-age)
		repo.SetClock(func() time.Time { return at })
		require.NoError(t, repo.InsertEventLog(context.Background(), &models.EventLog{EventName: age.String()}))
	}
	repo.SetClock(time.Now)
}

func TestSweeper_Run(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	day := 24 * time.Hour
	seed(t, repo, time.Hour, 6*day, 7*day-time.Second, 7*day+time.Second, 30*day)

	s := NewSweeper(repo, 7, logging.Discard())
	s.SetClock(func() time.Time { return sweepNow })

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, sweepNow.AddDate(0, 0, -7), res.Threshold)

	logs, err := repo.ListEventLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.False(t, l.CreatedAt.Before(res.Threshold))
	}
}

func TestSweeper_RowAtThresholdIsKept(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	seed(t, repo, 3*24*time.Hour)

	s := NewSweeper(repo, 3, logging.Discard())
	s.SetClock(func() time.Time { return sweepNow })

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 1, repo.Count())
}

func TestSweeper_RunReportsThresholdItUsed(t *testing.T) {
	s := NewSweeper(repository.NewInMemoryRepository(), 7, logging.Discard())
	now := sweepNow
	s.SetClock(func() time.Time {
		at := now
		now = now.Add(time.Hour)
		return at
	})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweepNow.AddDate(0, 0, -7), res.Threshold)
	assert.True(t, s.Threshold().After(res.Threshold), "a later call sees a later cut-off")
}

func TestSweeper_Threshold(t *testing.T) {
	s := NewSweeper(repository.NewInMemoryRepository(), -1, logging.Discard())
	s.SetClock(func() time.Time { return sweepNow.In(time.FixedZone("x", 3600)) })

	assert.Equal(t, time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC), s.Threshold())
}

type failingRepo struct {
	repository.Repository
}

func (failingRepo) DeleteEventLogsBefore(context.Context, time.Time) (int64, error) {
	return 0, repository.ErrPersistence
}

func TestSweeper_Error(t *testing.T) {
	s := NewSweeper(failingRepo{}, 7, logging.Discard())

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrPersistence))
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	s := NewSweeper(repository.NewInMemoryRepository(), 7, logging.Discard())

	_, err := NewScheduler(context.Background(), s, "not a cron", logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid retention schedule")
}

func TestScheduler_RunNow(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	seed(t, repo, time.Hour, 10*24*time.Hour)

	s := NewSweeper(repo, 7, logging.Discard())
	s.SetClock(func() time.Time { return sweepNow })

	sched, err := NewScheduler(context.Background(), s, DefaultSchedule, logging.Discard())
	require.NoError(t, err)
	sched.Start()
	t.Cleanup(func() { _ = sched.Shutdown() })

	require.NoError(t, sched.RunNow())
	assert.Eventually(t, func() bool { return repo.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
