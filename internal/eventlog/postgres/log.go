// Package postgres provides a Postgres-backed detection event log.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newsloom/extractor/internal/eventlog"
	"github.com/newsloom/extractor/internal/extract"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for event rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Log appends detection events into Postgres.
type Log struct {
	pool  execCloser
	table string
	idGen extract.IDGenerator
}

// NewLog creates a Postgres-backed Log using the provided config.
func NewLog(ctx context.Context, cfg Config, idGen extract.IDGenerator) (*Log, error) {
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
	return NewLogWithPool(pool, cfg.Table, idGen)
}

// NewLogWithPool constructs a Log from an existing pool (primarily for testing).
func NewLogWithPool(pool execCloser, table string, idGen extract.IDGenerator) (*Log, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "bot_detection_events"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Log{pool: pool, table: table, idGen: idGen}, nil
}

// Close releases the underlying pool resources.
func (l *Log) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Append inserts one event row.
func (l *Log) Append(ctx context.Context, event eventlog.Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event log is not configured")
	}
	if event.Domain == "" {
		return fmt.Errorf("event domain is required")
	}
	if event.ID == "" {
		if l.idGen == nil {
			return fmt.Errorf("event id is required")
		}
		id, err := l.idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate event id: %w", err)
		}
		event.ID = id
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	domain,
	event_type,
	detected_at
) VALUES ($1, $2, $3, $4)`, l.table)
	if _, err := l.pool.Exec(ctx, query,
		event.ID,
		event.Domain,
		event.EventType,
		event.DetectedAt,
	); err != nil {
		return fmt.Errorf("insert detection event: %w", err)
	}
	return nil
}
