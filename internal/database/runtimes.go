package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/jackc/pgx/v5"
)

const (
	runtimeColumns = `language, file_name, docker_image, run_command, memory_limit_mb, cpu_limit`

	lookupRuntimeQuery = `SELECT ` + runtimeColumns + ` FROM runtimes WHERE language = $1`
	listRuntimesQuery  = `SELECT ` + runtimeColumns + ` FROM runtimes ORDER BY language`
	upsertRuntimeQuery = `
INSERT INTO runtimes (` + runtimeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (language) DO UPDATE SET
    file_name = EXCLUDED.file_name,
    docker_image = EXCLUDED.docker_image,
    run_command = EXCLUDED.run_command,
    memory_limit_mb = EXCLUDED.memory_limit_mb,
    cpu_limit = EXCLUDED.cpu_limit`
)

// RuntimeRepository is the runtime registry backed by the runtimes table.
type RuntimeRepository struct {
	db *Database
}

func NewRuntimeRepository(db *Database) *RuntimeRepository {
	return &RuntimeRepository{db: db}
}

func scanRuntime(row pgx.CollectableRow) (languages.RuntimeConfig, error) {
	var rt languages.RuntimeConfig
	err := row.Scan(&rt.Language, &rt.FileName, &rt.Image, &rt.RunCommand, &rt.MemoryLimitMB, &rt.CPULimitCores)
	return rt, err
}

func (r *RuntimeRepository) Lookup(ctx context.Context, language string) (languages.RuntimeConfig, error) {
	rows, err := r.db.Pool.Query(ctx, lookupRuntimeQuery, language)
	if err != nil {
		return languages.RuntimeConfig{}, fmt.Errorf("failed to look up runtime: %w", err)
	}
	rt, err := pgx.CollectExactlyOneRow(rows, scanRuntime)
	if errors.Is(err, pgx.ErrNoRows) {
		return languages.RuntimeConfig{}, fmt.Errorf("%w: %q", languages.ErrRuntimeMissing, language)
	}
	if err != nil {
		return languages.RuntimeConfig{}, fmt.Errorf("failed to scan runtime: %w", err)
	}
	return rt, nil
}

func (r *RuntimeRepository) List(ctx context.Context) ([]languages.RuntimeConfig, error) {
	rows, err := r.db.Pool.Query(ctx, listRuntimesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list runtimes: %w", err)
	}
	rts, err := pgx.CollectRows(rows, scanRuntime)
	if err != nil {
		return nil, fmt.Errorf("failed to scan runtimes: %w", err)
	}
	return rts, nil
}

// Upsert stores rt, replacing any runtime registered for the same language.
func (r *RuntimeRepository) Upsert(ctx context.Context, rt languages.RuntimeConfig) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	_, err := r.db.Pool.Exec(ctx, upsertRuntimeQuery,
		rt.Language, rt.FileName, rt.Image, rt.RunCommand, rt.MemoryLimitMB, rt.CPULimitCores)
	if err != nil {
		return fmt.Errorf("failed to upsert runtime %s: %w", rt.Language, err)
	}
	return nil
}
