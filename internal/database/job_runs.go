package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateJobRun records the start of an ingestion run
func (db *DB) CreateJobRun(ctx context.Context, run *JobRun) error {
	query, args, err := db.psql.Insert("job_runs").
		Columns("id", "run_type", "status", "requested_count").
		Values(run.ID, run.RunType, run.Status, run.RequestedCount).
		Suffix("RETURNING started_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build job run insert: %w", err)
	}

	if err := db.pool.QueryRow(ctx, query, args...).Scan(&run.StartedAt); err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

// FinishJobRun writes final counters of a run. Only RUNNING rows are updated,
// so a finished run is never rewritten.
func (db *DB) FinishJobRun(ctx context.Context, run *JobRun) error {
	err := db.pool.QueryRow(ctx, `
		UPDATE job_runs SET
			status = $2,
			articles_found = $3,
			articles_processed = $4,
			articles_failed = $5,
			error_summary = $6,
			finished_at = NOW()
		WHERE id = $1 AND status = $7
		RETURNING finished_at
	`, run.ID, run.Status, run.ArticlesFound, run.ArticlesProcessed, run.ArticlesFailed, run.ErrorSummary, RunRunning,
	).Scan(&run.FinishedAt)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("failed to finish job run %s: %w", run.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

// ListJobRuns returns the most recent runs first
func (db *DB) ListJobRuns(ctx context.Context, limit int) ([]*JobRun, error) {
	query, args, err := db.psql.Select(
		"id", "run_type", "status", "requested_count", "articles_found", "articles_processed",
		"articles_failed", "error_summary", "started_at", "finished_at",
	).
		From("job_runs").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job run query: %w", err)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var runs []*JobRun
	for rows.Next() {
		var run JobRun
		err := rows.Scan(
			&run.ID,
			&run.RunType,
			&run.Status,
			&run.RequestedCount,
			&run.ArticlesFound,
			&run.ArticlesProcessed,
			&run.ArticlesFailed,
			&run.ErrorSummary,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job runs: %w", err)
	}

	return runs, nil
}
