package database

import (
	"context"
	"fmt"
	"log/slog"
)

// NewResultStore builds a ResultStore for the configured backend.
// Postgres is the production backend; SQLite serves local development
// and tests. For SQLite the schema is ensured eagerly since an
// in-memory database starts empty on every connect.
func NewResultStore(storeType, connectionString, table string) (ResultStore, error) {
	var store ResultStore
	var err error

	switch storeType {
	case "postgres":
		store, err = NewPostgresStore(connectionString, table)
	case "sqlite":
		store, err = NewSQLiteStore(connectionString, table)
		if err == nil {
			err = store.EnsureSchema(context.Background())
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", storeType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s result store: %w", storeType, err)
	}

	slog.Info("result store initialized", "type", storeType, "table", table)
	return store, nil
}
