package store

import (
	"context"
	"fmt"

	"attendance.agent/internal/config"
	"attendance.agent/pkg/database"
)

// Open returns the backend selected by STORE_DRIVER.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "bolt":
		return NewBoltStore(cfg.StorePath)
	case "file":
		return NewFileStore(cfg.StorePath)
	case "postgres":
		db, err := database.NewInstrumentedConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s, err := NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}
