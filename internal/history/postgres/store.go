// Package postgres persists the exchange history in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tabletalk/tabletalk/internal/history"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// EnsureSchema creates the exchange table when it does not exist yet.
// Schema changes beyond that are handled out of band.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS exchange (
    exchange_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    trace_id TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL,
    sql_text TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    row_count INT NOT NULL DEFAULT 0,
    attempts INT NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure exchange table: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, exchange history.Exchange) (history.Exchange, error) {
	query := `
INSERT INTO exchange (trace_id, question, sql_text, outcome, row_count, attempts, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING exchange_id, created_at`
	if err := s.db.QueryRowContext(ctx, query,
		exchange.TraceID,
		exchange.Question,
		exchange.SQL,
		exchange.Outcome,
		exchange.RowCount,
		exchange.Attempts,
		exchange.Duration.Milliseconds(),
	).Scan(&exchange.ID, &exchange.CreatedAt); err != nil {
		return history.Exchange{}, fmt.Errorf("record exchange: %w", err)
	}
	return exchange, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]history.Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT exchange_id, trace_id, question, sql_text, outcome, row_count, attempts, duration_ms, created_at
FROM exchange
ORDER BY exchange_id DESC
LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	exchanges := make([]history.Exchange, 0)
	for rows.Next() {
		var (
			exchange   history.Exchange
			durationMS int64
		)
		if err := rows.Scan(
			&exchange.ID,
			&exchange.TraceID,
			&exchange.Question,
			&exchange.SQL,
			&exchange.Outcome,
			&exchange.RowCount,
			&exchange.Attempts,
			&durationMS,
			&exchange.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan exchange row: %w", err)
		}
		exchange.Duration = time.Duration(durationMS) * time.Millisecond
		exchanges = append(exchanges, exchange)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rows: %w", err)
	}
	return exchanges, nil
}
