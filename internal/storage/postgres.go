package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/journalgate/pkg/models"
)

// PostgresStore is a Backend backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --- Flags ---

func (p *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM session_flags WHERE key = $1`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (p *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO session_flags (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM session_flags WHERE key = $1`, key)
	return err
}

// --- Events ---

func (p *PostgresStore) WriteEvent(ctx context.Context, e *models.GateEvent) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO gate_events (id, operation, result, authenticated, detail, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Operation, string(e.Result), e.Authenticated, e.Detail, e.RequestID, e.Timestamp,
	)
	return err
}

func (p *PostgresStore) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.GateEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.Operation != "" {
		args = append(args, filter.Operation)
		where = append(where, fmt.Sprintf("operation = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `SELECT id, operation, result, authenticated, detail, request_id, created_at FROM gate_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit(), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.GateEvent
	for rows.Next() {
		var (
			e      models.GateEvent
			result string
			at     time.Time
		)
		if err := rows.Scan(&e.ID, &e.Operation, &result, &e.Authenticated, &e.Detail, &e.RequestID, &at); err != nil {
			return nil, err
		}
		e.Result = models.Result(result)
		e.Timestamp = at
		events = append(events, &e)
	}
	return events, rows.Err()
}
