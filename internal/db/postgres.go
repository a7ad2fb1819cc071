// Package db owns the PostgreSQL connection pool and the embedded schema migrations.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationFS embeds the SQL migrations applied by [Migrate].
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// Open creates a pgx pool for dsn and verifies connectivity. Callers must Close it.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
