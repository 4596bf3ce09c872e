package database

import (
	"context"
	"fmt"
)

// MarkerExists reports whether an external id has already been claimed.
// It is a fast path only; ClaimMarker is what enforces uniqueness.
func (db *DB) MarkerExists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_ids WHERE external_id = $1)`, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed marker: %w", err)
	}
	return exists, nil
}

// ClaimMarker atomically records an external id as processed. It returns false when
// another run already holds the claim. Markers are never deleted.
func (db *DB) ClaimMarker(ctx context.Context, externalID string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO processed_ids (external_id) VALUES ($1) ON CONFLICT (external_id) DO NOTHING`,
		externalID)
	if err != nil {
		return false, fmt.Errorf("failed to claim processed marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
