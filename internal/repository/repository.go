// Package repository stores the local log of outbound events.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/klaviyo-relay/internal/models"
)

// ErrPersistence wraps every failure of the underlying store.
var ErrPersistence = errors.New("event log persistence failed")

// Repository is the event log store.
type Repository interface {
	// InsertEventLog stores log and fills in its ID and CreatedAt.
	InsertEventLog(ctx context.Context, log *models.EventLog) error
	// DeleteEventLogsBefore removes rows created strictly before threshold.
	DeleteEventLogsBefore(ctx context.Context, threshold time.Time) (int64, error)
	// ListEventLogs returns the newest rows first.
	ListEventLogs(ctx context.Context, limit int) ([]*models.EventLog, error)
	// WithTx runs fn against a transactional view of the store. Every write made
	// through that view is committed when fn returns nil and discarded otherwise.
	WithTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error
	Close()
}
