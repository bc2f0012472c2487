// Package lockstate answers whether a year's results have been publicly
// revealed. Locking is one-directional: once a year is locked its main list
// and membership are frozen.
package lockstate

import (
	"context"
	"database/sql"
	"fmt"

	"yearlist/internal/abort"
)

// Guard reads year-lock state from Postgres.
type Guard struct {
	db *sql.DB
}

// New sets up a Guard using the provided database handle.
func New(db *sql.DB) *Guard {
	return &Guard{db: db}
}

// IsYearLocked reports whether the year's results are revealed.
func (g *Guard) IsYearLocked(ctx context.Context, year int) (bool, error) {
	var locked bool
	err := g.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM year_locks WHERE year = $1
		)
	`, year).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("lookup year lock: %w", err)
	}
	return locked, nil
}

// ValidateYearNotLocked fails with a locked abort when the year is revealed.
// A nil year is never locked.
func (g *Guard) ValidateYearNotLocked(ctx context.Context, year *int, action string) error {
	if year == nil {
		return nil
	}
	locked, err := g.IsYearLocked(ctx, *year)
	if err != nil {
		return err
	}
	if locked {
		return abort.Locked(*year, action)
	}
	return nil
}

// ValidateMainListNotLocked is the weaker check used by item and metadata
// edits: a locked year only freezes its main list, non-main lists stay
// editable.
func (g *Guard) ValidateMainListNotLocked(ctx context.Context, year *int, isMain bool, action string) error {
	if !isMain {
		return nil
	}
	return g.ValidateYearNotLocked(ctx, year, action)
}

// LockYear marks a year's results as revealed. There is no unlock.
func (g *Guard) LockYear(ctx context.Context, year int) error {
	if _, err := g.db.ExecContext(ctx, `
		INSERT INTO year_locks (year, locked_at)
		VALUES ($1, NOW())
		ON CONFLICT (year) DO NOTHING
	`, year); err != nil {
		return fmt.Errorf("lock year: %w", err)
	}
	return nil
}
