package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/klaviyo-relay/internal/models"
)

// InMemoryRepository keeps the event log in process memory. Transactions stage
// their writes and apply them on commit.
type InMemoryRepository struct {
	mu        sync.RWMutex
	logs      []*models.EventLog
	nextID    int64
	now       func() time.Time
	insertErr error
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: time.Now}
}

// SetClock replaces the clock used to stamp CreatedAt.
func (r *InMemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// FailInserts makes every following insert fail with err. A nil err clears it.
func (r *InMemoryRepository) FailInserts(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertErr = err
}

// Count returns the number of committed rows.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.logs)
}

func (r *InMemoryRepository) Close() {}

func (r *InMemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *InMemoryRepository) stamp(log *models.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return fmt.Errorf("%w: insert event log: %w", ErrPersistence, r.insertErr)
	}
	r.nextID++
	log.ID = r.nextID
	log.CreatedAt = r.now().UTC()
	return nil
}

func (r *InMemoryRepository) InsertEventLog(ctx context.Context, log *models.EventLog) error {
	if err := r.stamp(log); err != nil {
		return err
	}
	r.mu.Lock()
	r.logs = append(r.logs, log)
	r.mu.Unlock()
	return nil
}

func (r *InMemoryRepository) DeleteEventLogsBefore(ctx context.Context, threshold time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(threshold), nil
}

func (r *InMemoryRepository) deleteLocked(threshold time.Time) int64 {
	kept := r.logs[:0]
	var deleted int64
	for _, l := range r.logs {
		if l.CreatedAt.Before(threshold) {
			deleted++
			continue
		}
		kept = append(kept, l)
	}
	clear(r.logs[len(kept):])
	r.logs = kept
	return deleted
}

func (r *InMemoryRepository) ListEventLogs(ctx context.Context, limit int) ([]*models.EventLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newestFirst(r.logs, limit), nil
}

func (r *InMemoryRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	tx := &memoryTx{parent: r}
	if err := fn(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, tx.pending...)
	for _, threshold := range tx.deletes {
		r.deleteLocked(threshold)
	}
	return nil
}

type memoryTx struct {
	parent  *InMemoryRepository
	pending []*models.EventLog
	deletes []time.Time
}

func (t *memoryTx) InsertEventLog(ctx context.Context, log *models.EventLog) error {
	if err := t.parent.stamp(log); err != nil {
		return err
	}
	t.pending = append(t.pending, log)
	return nil
}

func (t *memoryTx) DeleteEventLogsBefore(ctx context.Context, threshold time.Time) (int64, error) {
	t.deletes = append(t.deletes, threshold)
	var n int64
	t.parent.mu.RLock()
	for _, l := range t.parent.logs {
		if l.CreatedAt.Before(threshold) {
			n++
		}
	}
	t.parent.mu.RUnlock()
	return n, nil
}

func (t *memoryTx) ListEventLogs(ctx context.Context, limit int) ([]*models.EventLog, error) {
	t.parent.mu.RLock()
	all := append(append([]*models.EventLog(nil), t.parent.logs...), t.pending...)
	t.parent.mu.RUnlock()
	return newestFirst(all, limit), nil
}

func (t *memoryTx) WithTx(ctx context.Context, fn func(Repository) error) error { return fn(t) }

func (t *memoryTx) Ping(ctx context.Context) error { return nil }

func (t *memoryTx) Close() {}

func newestFirst(logs []*models.EventLog, limit int) []*models.EventLog {
	out := append([]*models.EventLog(nil), logs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
