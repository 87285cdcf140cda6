package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/klaviyo-relay/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, q: pool}, nil
}

func (r *PostgresRepository) Close() {
	if !r.inTx {
		r.pool.Close()
	}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&PostgresRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return nil
}

func (r *PostgresRepository) InsertEventLog(ctx context.Context, log *models.EventLog) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO klaviyo_event_log (event_name, event_attributes, profile_attributes, event_time, value, unique_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		log.EventName, jsonMap(log.EventAttributes), jsonMap(log.ProfileAttributes),
		log.EventTime, log.Value, nullString(log.UniqueID),
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert event log: %w", ErrPersistence, err)
	}
	return nil
}

func (r *PostgresRepository) DeleteEventLogsBefore(ctx context.Context, threshold time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := r.q.Exec(ctx, `DELETE FROM klaviyo_event_log WHERE created_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("%w: delete event logs: %w", ErrPersistence, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListEventLogs(ctx context.Context, limit int) ([]*models.EventLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, event_name, event_attributes, profile_attributes, event_time, value, COALESCE(unique_id, ''), created_at
		FROM klaviyo_event_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list event logs: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var logs []*models.EventLog
	for rows.Next() {
		var l models.EventLog
		if err := rows.Scan(&l.ID, &l.EventName, &l.EventAttributes, &l.ProfileAttributes,
			&l.EventTime, &l.Value, &l.UniqueID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan event log: %w", ErrPersistence, err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list event logs: %w", ErrPersistence, err)
	}
	return logs, nil
}

func jsonMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
