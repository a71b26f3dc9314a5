package sinks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newsloom/extractor/internal/telemetry"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool used for attempt rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink persists attempt events into a Postgres table for audits and
// offline analysis.
type PostgresSink struct {
	pool  execCloser
	table string
}

// NewPostgresSink creates a Postgres-backed sink using the provided config.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresSinkWithPool(pool, cfg.Table)
}

// NewPostgresSinkWithPool constructs a sink from an existing pool (primarily
// for testing).
func NewPostgresSinkWithPool(pool execCloser, table string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "extraction_attempts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Consume inserts one row per event. It stops at the first failed insert and
// returns the error verbatim; the hub logs and moves on.
func (s *PostgresSink) Consume(ctx context.Context, batch []telemetry.Event) error {
	if s == nil || s.pool == nil {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	domain,
	methods_attempted,
	successful_method,
	http_status,
	protection_kind,
	outcome,
	elapsed_ms,
	proxy_used,
	recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, s.table)
	for _, evt := range batch {
		methods := make([]string, 0, len(evt.MethodsAttempted))
		for _, m := range evt.MethodsAttempted {
			methods = append(methods, string(m))
		}
		if _, err := s.pool.Exec(ctx, query,
			evt.URL,
			evt.Domain,
			strings.Join(methods, ","),
			string(evt.SuccessfulMethod),
			evt.HTTPStatus,
			evt.ProtectionKind,
			string(evt.Outcome),
			evt.Elapsed.Milliseconds(),
			evt.ProxyUsed,
			evt.TS,
		); err != nil {
			return fmt.Errorf("insert attempt row: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
