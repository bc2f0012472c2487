package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"yearlist/internal/abort"
)

const uncategorizedGroupName = "Uncategorized"

// Group is a container for sibling lists. Year groups hold lists for one
// year; the uncategorized group collects everything else. Auto-created
// groups are removed once they hold no lists.
type Group struct {
	ID          int64
	PublicID    string
	UserID      int64
	Name        string
	Year        *int
	AutoCreated bool
}

func (s *Store) groupByPublicIDTx(ctx context.Context, tx *sql.Tx, userID int64, publicID string) (*Group, error) {
	var g Group
	var year sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT id, public_id, user_id, name, year, auto_created
		FROM list_groups
		WHERE public_id = $1 AND user_id = $2
	`, publicID, userID).Scan(&g.ID, &g.PublicID, &g.UserID, &g.Name, &year, &g.AutoCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abort.NotFound("group not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup group: %w", err)
	}
	if year.Valid {
		y := int(year.Int64)
		g.Year = &y
	}
	return &g, nil
}

// findOrCreateYearGroupTx returns the user's group for a year, creating an
// auto group named after the year when none exists.
func (s *Store) findOrCreateYearGroupTx(ctx context.Context, tx *sql.Tx, userID int64, year int, now time.Time) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM list_groups
		WHERE user_id = $1 AND year = $2
		ORDER BY id
		LIMIT 1
	`, userID, year).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup year group: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO list_groups (public_id, user_id, name, year, auto_created, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		RETURNING id
	`, uuid.NewString(), userID, strconv.Itoa(year), year, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create year group: %w", err)
	}
	return id, nil
}

// findOrCreateUncategorizedGroupTx returns the user's catch-all group,
// creating it on demand.
func (s *Store) findOrCreateUncategorizedGroupTx(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM list_groups
		WHERE user_id = $1 AND year IS NULL AND name = $2
		ORDER BY id
		LIMIT 1
	`, userID, uncategorizedGroupName).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup uncategorized group: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO list_groups (public_id, user_id, name, year, auto_created, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, TRUE, $4, $4)
		RETURNING id
	`, uuid.NewString(), userID, uncategorizedGroupName, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create uncategorized group: %w", err)
	}
	return id, nil
}

// deleteGroupIfEmptyAutoTx removes an auto-created group once it holds no
// lists. Manually created groups are never cleaned up here.
func (s *Store) deleteGroupIfEmptyAutoTx(ctx context.Context, tx *sql.Tx, groupID int64) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM list_groups
		WHERE id = $1
		  AND auto_created
		  AND NOT EXISTS (SELECT 1 FROM lists WHERE group_id = $1)
	`, groupID); err != nil {
		return fmt.Errorf("clean up auto group: %w", err)
	}
	return nil
}
