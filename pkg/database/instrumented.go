package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"attendance.agent/internal/config"
	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Pool sizing for the agent_kv workload: short key lookups plus Update
// transactions that hold a connection while waiting on the key's advisory
// lock. A handful of connections covers every trigger of one agent.
const (
	maxOpenConns    = 5
	maxIdleConns    = 2
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

// NewInstrumentedConnection opens the agent_kv pool with OpenTelemetry spans
// around every statement.
func NewInstrumentedConnection(cfg config.Config) (*sql.DB, error) {
	db, err := otelsql.Open("pgx", DSN(cfg),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL, semconv.DBNameKey.String(cfg.DBName)),
		otelsql.WithSQLCommenter(true),
		otelsql.WithSpanOptions(otelsql.SpanOptions{OmitRows: true, OmitConnResetSession: true}),
	)
	if err != nil {
		return nil, fmt.Errorf("error opening instrumented database: %w", err)
	}
	return verify(db)
}

// verify applies the agent_kv pool limits and checks the database is
// reachable.
func verify(db *sql.DB) (*sql.DB, error) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}
	return db, nil
}
