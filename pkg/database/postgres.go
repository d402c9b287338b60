package database

import (
	"database/sql"
	"fmt"
	"net/url"

	"attendance.agent/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver
)

// applicationName tags agent sessions in pg_stat_activity.
const applicationName = "attendance-agent"

// DSN builds the pgx connection string from config.
func DSN(cfg config.Config) string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("application_name", applicationName)
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     cfg.DBHost + ":" + cfg.DBPort,
		Path:     "/" + cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// OpenDSN opens and verifies a pool for an explicit connection string.
func OpenDSN(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	return verify(db)
}
