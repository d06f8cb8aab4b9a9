package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"security-risk-lab/internal/storage/postgres"
)

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies embedded SQL files in lexical order, skipping
// files already recorded in schema_migrations. Returns the applied file names.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	if _, err := pool.Exec(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		var done bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, file,
		).Scan(&done)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", file, err)
		}
		if done {
			continue
		}

		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) != "" {
			if _, err := pool.Exec(ctx, string(data)); err != nil {
				return applied, fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, file); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", file, err)
		}
		applied = append(applied, file)
	}

	return applied, nil
}
