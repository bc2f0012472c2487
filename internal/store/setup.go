package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"yearlist/internal/abort"
)

// YearSummary aggregates one effective year of a user's lists.
type YearSummary struct {
	Year             int     `json:"year"`
	ListCount        int     `json:"listCount"`
	MainListPublicID *string `json:"mainListId,omitempty"`
	MainListName     *string `json:"mainListName,omitempty"`
}

// SetupStatus is the wizard view: which lists still need a year reconciled
// and which years still lack a main list.
type SetupStatus struct {
	NeedsSetup       bool          `json:"needsSetup"`
	ListsMissingYear []ListSummary `json:"listsMissingYear"`
	YearsWithoutMain []int         `json:"yearsWithoutMain"`
	Years            []YearSummary `json:"years"`
	DismissedUntil   *time.Time    `json:"dismissedUntil,omitempty"`
}

// BulkUpdateEntry assigns a year and/or the main flag to one list.
type BulkUpdateEntry struct {
	ListPublicID string `json:"listId"`
	Year         *int   `json:"year,omitempty"`
	IsMain       *bool  `json:"isMain,omitempty"`
}

// BulkUpdateOutcome is the per-entry result; entries fail independently.
type BulkUpdateOutcome struct {
	ListPublicID string `json:"listId"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	Status       int    `json:"status,omitempty"`
}

// BulkUpdateResult reports per-entry outcomes plus every effective year the
// batch touched, so callers can trigger downstream recomputation.
type BulkUpdateResult struct {
	Outcomes     []BulkUpdateOutcome `json:"outcomes"`
	YearsTouched []int               `json:"yearsTouched"`
}

// SetupStatus computes the setup hints from all of the user's lists. The
// dismissed-until timestamp is caller-supplied UI state and passes through.
func (s *Store) SetupStatus(ctx context.Context, userID int64, dismissedUntil *time.Time) (*SetupStatus, error) {
	status := &SetupStatus{
		ListsMissingYear: []ListSummary{},
		YearsWithoutMain: []int{},
		Years:            []YearSummary{},
		DismissedUntil:   dismissedUntil,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.public_id, l.name, l.year, COALESCE(l.year, g.year), g.public_id, g.name, l.is_main,
		       (SELECT COUNT(*) FROM list_items i WHERE i.list_id = l.id), l.updated_at
		FROM lists l
		JOIN list_groups g ON g.id = l.group_id
		WHERE l.user_id = $1 AND l.year IS NULL AND g.year IS NOT NULL
		ORDER BY g.year DESC, l.position ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("lists missing year: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		status.ListsMissingYear = append(status.ListsMissingYear, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists missing year: %w", err)
	}

	yearRows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(l.year, g.year) AS year,
		       COUNT(*),
		       MAX(l.public_id) FILTER (WHERE l.is_main),
		       MAX(l.name) FILTER (WHERE l.is_main)
		FROM lists l
		LEFT JOIN list_groups g ON g.id = l.group_id
		WHERE l.user_id = $1 AND COALESCE(l.year, g.year) IS NOT NULL
		GROUP BY 1
		ORDER BY 1 DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("year summaries: %w", err)
	}
	defer yearRows.Close()
	for yearRows.Next() {
		var ys YearSummary
		var mainID, mainName sql.NullString
		if err := yearRows.Scan(&ys.Year, &ys.ListCount, &mainID, &mainName); err != nil {
			return nil, fmt.Errorf("scan year summary: %w", err)
		}
		if mainID.Valid {
			ys.MainListPublicID = &mainID.String
			ys.MainListName = &mainName.String
		} else {
			status.YearsWithoutMain = append(status.YearsWithoutMain, ys.Year)
		}
		status.Years = append(status.Years, ys)
	}
	if err := yearRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate year summaries: %w", err)
	}

	status.NeedsSetup = len(status.ListsMissingYear) > 0 || len(status.YearsWithoutMain) > 0
	return status, nil
}

// BulkUpdateLists applies year and main-flag changes across many lists in
// one transaction. Entries are validated independently; an entry rejected by
// validation or the lock guard is reported and skipped without aborting the
// rest. Infrastructure errors abort the whole batch.
func (s *Store) BulkUpdateLists(ctx context.Context, userID int64, entries []BulkUpdateEntry) (*BulkUpdateResult, error) {
	now := time.Now().UTC()
	result := &BulkUpdateResult{
		Outcomes:     make([]BulkUpdateOutcome, 0, len(entries)),
		YearsTouched: []int{},
	}
	touched := make(map[int]bool)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			outcome := BulkUpdateOutcome{ListPublicID: entry.ListPublicID, OK: true}
			if err := s.applyBulkEntryTx(ctx, tx, userID, entry, now, touched); err != nil {
				ab, ok := abort.From(err)
				if !ok {
					return err
				}
				outcome.OK = false
				outcome.Error = ab.Message
				outcome.Status = ab.Status
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for year := range touched {
		result.YearsTouched = append(result.YearsTouched, year)
	}
	sort.Ints(result.YearsTouched)
	return result, nil
}

// applyBulkEntryTx validates and applies a single entry. All checks run
// before any write for the entry so a rejected entry leaves no statement
// error behind in the shared transaction.
func (s *Store) applyBulkEntryTx(ctx context.Context, tx *sql.Tx, userID int64, entry BulkUpdateEntry, now time.Time, touched map[int]bool) error {
	l, err := s.listForUpdateTx(ctx, tx, userID, entry.ListPublicID)
	if err != nil {
		return err
	}

	// Validate the whole entry before its first write, so a rejected entry
	// never leaves a partial change behind.
	target := l.EffectiveYear
	if entry.Year != nil {
		if err := validateYear(*entry.Year); err != nil {
			return err
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, l.EffectiveYear, l.IsMain, "assign year"); err != nil {
			return err
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, entry.Year, l.IsMain, "assign year"); err != nil {
			return err
		}
		target = entry.Year
	}
	if entry.IsMain != nil {
		if err := s.locks.ValidateYearNotLocked(ctx, target, "change main list"); err != nil {
			return err
		}
		if *entry.IsMain && target == nil {
			return abort.Invalid("list needs a year before it can become the main list")
		}
	}

	if entry.Year != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE lists SET year = $2, updated_at = $3 WHERE id = $1
		`, l.ID, *entry.Year, now); err != nil {
			return fmt.Errorf("assign year: %w", err)
		}
		if l.EffectiveYear != nil {
			touched[*l.EffectiveYear] = true
		}
		touched[*entry.Year] = true
		l.Year = entry.Year
		l.EffectiveYear = entry.Year
	}

	if entry.IsMain != nil {
		if _, err := s.setMainTx(ctx, tx, l, *entry.IsMain, now); err != nil {
			return err
		}
		if l.EffectiveYear != nil {
			touched[*l.EffectiveYear] = true
		}
	}
	return nil
}
