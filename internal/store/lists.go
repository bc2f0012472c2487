package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"yearlist/internal/abort"
)

// List is a row of the lists table joined with its group's year. The
// effective year is the list's own year or, when that is null, the group's.
type List struct {
	ID            int64
	PublicID      string
	UserID        int64
	GroupID       *int64
	Name          string
	Year          *int
	EffectiveYear *int
	IsMain        bool
	Position      int
}

// ListSummary is the lightweight metadata view of a list.
type ListSummary struct {
	PublicID      string    `json:"id"`
	Name          string    `json:"name"`
	Year          *int      `json:"year,omitempty"`
	EffectiveYear *int      `json:"effectiveYear,omitempty"`
	GroupPublicID *string   `json:"groupId,omitempty"`
	GroupName     *string   `json:"groupName,omitempty"`
	IsMain        bool      `json:"isMain"`
	ItemCount     int       `json:"itemCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Item is a hydrated list entry joined with its canonical album.
type Item struct {
	ID             int64   `json:"itemId"`
	AlbumID        int64   `json:"albumId"`
	Position       int     `json:"position"`
	Artist         string  `json:"artist"`
	Title          string  `json:"title"`
	Comment        *string `json:"comment,omitempty"`
	PrimaryTrack   *string `json:"primaryTrack,omitempty"`
	SecondaryTrack *string `json:"secondaryTrack,omitempty"`
}

// ListWithItems is the fully hydrated view of a list.
type ListWithItems struct {
	ListSummary
	Items []Item `json:"items"`
}

// CreateListParams describes a new list. GroupPublicID and Year are
// alternative ways to pick the target group; with neither set the list lands
// in the uncategorized group.
type CreateListParams struct {
	Name          string       `json:"name"`
	GroupPublicID string       `json:"groupId,omitempty"`
	Year          *int         `json:"year,omitempty"`
	Albums        []AlbumInput `json:"albums,omitempty"`
}

// CreateListResult reports the created list's id, resolved year and item
// count.
type CreateListResult struct {
	PublicID  string `json:"id"`
	Year      *int   `json:"year,omitempty"`
	ItemCount int    `json:"itemCount"`
}

// UpdateListParams carries a metadata change. At most one of Year and
// GroupPublicID is meaningful per call; a group move wins and recomputes the
// year from the group.
type UpdateListParams struct {
	Name          *string `json:"name,omitempty"`
	Year          *int    `json:"year,omitempty"`
	GroupPublicID *string `json:"groupId,omitempty"`
}

// MainStatusResult reports the outcome of a main-status toggle, including
// which list lost the flag when one was demoted.
type MainStatusResult struct {
	Year        *int    `json:"year,omitempty"`
	IsMain      bool    `json:"isMain"`
	DemotedID   *string `json:"demotedId,omitempty"`
	DemotedName *string `json:"demotedName,omitempty"`
}

// listForUpdateTx loads a user's list by public id and locks the row for the
// rest of the transaction.
func (s *Store) listForUpdateTx(ctx context.Context, tx *sql.Tx, userID int64, publicID string) (*List, error) {
	var l List
	var groupID sql.NullInt64
	var year, effective sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT l.id, l.public_id, l.user_id, l.group_id, l.name, l.year, COALESCE(l.year, g.year), l.is_main, l.position
		FROM lists l
		LEFT JOIN list_groups g ON g.id = l.group_id
		WHERE l.public_id = $1 AND l.user_id = $2
		FOR UPDATE OF l
	`, publicID, userID).Scan(&l.ID, &l.PublicID, &l.UserID, &groupID, &l.Name, &year, &effective, &l.IsMain, &l.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abort.NotFound("list not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup list: %w", err)
	}
	if groupID.Valid {
		l.GroupID = &groupID.Int64
	}
	if year.Valid {
		y := int(year.Int64)
		l.Year = &y
	}
	if effective.Valid {
		y := int(effective.Int64)
		l.EffectiveYear = &y
	}
	return &l, nil
}

// nameTakenTx reports whether another of the user's lists in the same group
// already carries this exact name.
func (s *Store) nameTakenTx(ctx context.Context, tx *sql.Tx, userID int64, groupID *int64, name string, excludeID int64) (bool, error) {
	var taken bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM lists
			WHERE user_id = $1 AND group_id IS NOT DISTINCT FROM $2 AND name = $3 AND id <> $4
		)
	`, userID, nullInt64(groupID), name, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check list name: %w", err)
	}
	return taken, nil
}

// CreateList creates a list in the resolved group, optionally populated with
// initial albums at positions 1..N.
func (s *Store) CreateList(ctx context.Context, userID int64, p CreateListParams) (*CreateListResult, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, abort.Invalid("list name is required")
	}
	if p.Year != nil {
		if err := validateYear(*p.Year); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	var result CreateListResult

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var groupID int64
		var year *int
		switch {
		case p.GroupPublicID != "":
			g, err := s.groupByPublicIDTx(ctx, tx, userID, p.GroupPublicID)
			if err != nil {
				return err
			}
			groupID = g.ID
			year = g.Year
		case p.Year != nil:
			id, err := s.findOrCreateYearGroupTx(ctx, tx, userID, *p.Year, now)
			if err != nil {
				return err
			}
			groupID = id
			year = p.Year
		default:
			id, err := s.findOrCreateUncategorizedGroupTx(ctx, tx, userID, now)
			if err != nil {
				return err
			}
			groupID = id
		}

		// A new list is never main, so a locked year does not block it.
		if err := s.locks.ValidateMainListNotLocked(ctx, year, false, "create list"); err != nil {
			return err
		}

		taken, err := s.nameTakenTx(ctx, tx, userID, &groupID, name, 0)
		if err != nil {
			return err
		}
		if taken {
			return abort.Conflict("a list named %q already exists in this group", name)
		}

		var position int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1
			FROM lists
			WHERE user_id = $1 AND group_id = $2
		`, userID, groupID).Scan(&position); err != nil {
			return fmt.Errorf("next list position: %w", err)
		}

		publicID := uuid.NewString()
		var listID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO lists (public_id, user_id, group_id, name, year, is_main, position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NULL, FALSE, $5, $6, $6)
			RETURNING id
		`, publicID, userID, groupID, name, position, now).Scan(&listID); err != nil {
			if isUniqueViolation(err) {
				return abort.Conflict("a list named %q already exists in this group", name)
			}
			return fmt.Errorf("insert list: %w", err)
		}

		var resolved []resolvedItem
		for i, in := range p.Albums {
			albumID, err := s.albums.ResolveAlbum(ctx, in, now)
			if err != nil {
				return err
			}
			resolved = append(resolved, resolvedItem{
				albumID:        albumID,
				position:       i + 1,
				comment:        in.Comment,
				primaryTrack:   in.PrimaryTrack,
				secondaryTrack: in.SecondaryTrack,
				artist:         in.Artist,
				title:          in.Title,
			})
		}
		added, _, err := s.insertItemsTx(ctx, tx, listID, resolved, nil, now)
		if err != nil {
			return err
		}

		result = CreateListResult{PublicID: publicID, Year: year, ItemCount: len(added)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateListMetadata renames a list and/or moves it to another group or
// year. The lock state is checked against both the current and the target
// effective year.
func (s *Store) UpdateListMetadata(ctx context.Context, userID int64, listPublicID string, p UpdateListParams) error {
	if p.Year != nil {
		if err := validateYear(*p.Year); err != nil {
			return err
		}
	}
	now := time.Now().UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.listForUpdateTx(ctx, tx, userID, listPublicID)
		if err != nil {
			return err
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, l.EffectiveYear, l.IsMain, "update list"); err != nil {
			return err
		}

		newGroupID := l.GroupID
		newYear := l.Year
		targetEffective := l.EffectiveYear
		switch {
		case p.GroupPublicID != nil:
			// A group move wins over a year value; the list inherits the
			// group's year.
			g, err := s.groupByPublicIDTx(ctx, tx, userID, *p.GroupPublicID)
			if err != nil {
				return err
			}
			newGroupID = &g.ID
			newYear = nil
			targetEffective = g.Year
		case p.Year != nil:
			newYear = p.Year
			targetEffective = p.Year
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, targetEffective, l.IsMain, "update list"); err != nil {
			return err
		}

		name := l.Name
		if p.Name != nil {
			name = strings.TrimSpace(*p.Name)
			if name == "" {
				return abort.Invalid("list name is required")
			}
		}
		taken, err := s.nameTakenTx(ctx, tx, userID, newGroupID, name, l.ID)
		if err != nil {
			return err
		}
		if taken {
			return abort.Conflict("a list named %q already exists in this group", name)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE lists
			SET name = $1, year = $2, group_id = $3, updated_at = $4
			WHERE id = $5
		`, name, nullInt(newYear), nullInt64(newGroupID), now, l.ID); err != nil {
			return fmt.Errorf("update list: %w", err)
		}

		groupChanged := l.GroupID != nil && (newGroupID == nil || *newGroupID != *l.GroupID)
		if groupChanged {
			if err := s.deleteGroupIfEmptyAutoTx(ctx, tx, *l.GroupID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetMainStatus toggles the main flag. Promotion clears the flag on every
// list sharing the user + effective year before setting it on the target, so
// the at-most-one invariant holds even if earlier drift left strays behind.
func (s *Store) SetMainStatus(ctx context.Context, userID int64, listPublicID string, isMain bool) (*MainStatusResult, error) {
	now := time.Now().UTC()
	var result *MainStatusResult

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.listForUpdateTx(ctx, tx, userID, listPublicID)
		if err != nil {
			return err
		}
		result, err = s.setMainTx(ctx, tx, l, isMain, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// setMainTx is the shared clear-all-then-set-one body used by SetMainStatus
// and BulkUpdateLists. The caller must hold the target row's lock.
func (s *Store) setMainTx(ctx context.Context, tx *sql.Tx, l *List, isMain bool, now time.Time) (*MainStatusResult, error) {
	if err := s.locks.ValidateYearNotLocked(ctx, l.EffectiveYear, "change main list"); err != nil {
		return nil, err
	}

	if !isMain {
		if _, err := tx.ExecContext(ctx, `
			UPDATE lists SET is_main = FALSE, updated_at = $2 WHERE id = $1
		`, l.ID, now); err != nil {
			return nil, fmt.Errorf("clear main flag: %w", err)
		}
		return &MainStatusResult{Year: l.EffectiveYear, IsMain: false}, nil
	}

	if l.EffectiveYear == nil {
		return nil, abort.Invalid("list needs a year before it can become the main list")
	}
	year := *l.EffectiveYear

	result := &MainStatusResult{Year: l.EffectiveYear, IsMain: true}
	var demotedID, demotedName string
	err := tx.QueryRowContext(ctx, `
		SELECT l2.public_id, l2.name
		FROM lists l2
		LEFT JOIN list_groups g ON g.id = l2.group_id
		WHERE l2.user_id = $1 AND COALESCE(l2.year, g.year) = $2 AND l2.is_main AND l2.id <> $3
		LIMIT 1
	`, l.UserID, year, l.ID).Scan(&demotedID, &demotedName)
	switch {
	case err == nil:
		result.DemotedID = &demotedID
		result.DemotedName = &demotedName
	case errors.Is(err, sql.ErrNoRows):
		// no current main for this year
	default:
		return nil, fmt.Errorf("lookup current main list: %w", err)
	}

	// Clear every list sharing the year, not just the known main. Drift
	// from past bugs heals itself on the next promotion.
	if _, err := tx.ExecContext(ctx, `
		UPDATE lists
		SET is_main = FALSE, updated_at = $3
		WHERE user_id = $1 AND is_main AND id IN (
			SELECT l2.id
			FROM lists l2
			LEFT JOIN list_groups g ON g.id = l2.group_id
			WHERE l2.user_id = $1 AND COALESCE(l2.year, g.year) = $2
		)
	`, l.UserID, year, now); err != nil {
		return nil, fmt.Errorf("clear main flags: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE lists SET is_main = TRUE, updated_at = $2 WHERE id = $1
	`, l.ID, now); err != nil {
		return nil, fmt.Errorf("set main flag: %w", err)
	}
	return result, nil
}

// DeleteList removes a list and its items. The main list for a year must be
// demoted first so a year never silently loses its main list.
func (s *Store) DeleteList(ctx context.Context, userID int64, listPublicID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.listForUpdateTx(ctx, tx, userID, listPublicID)
		if err != nil {
			return err
		}
		if l.IsMain {
			return abort.Conflict("remove main status before deleting this list")
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, l.EffectiveYear, l.IsMain, "delete list"); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM list_items WHERE list_id = $1
		`, l.ID); err != nil {
			return fmt.Errorf("delete list items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM lists WHERE id = $1
		`, l.ID); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		if l.GroupID != nil {
			if err := s.deleteGroupIfEmptyAutoTx(ctx, tx, *l.GroupID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListsByUser returns the lightweight metadata view of all of a user's
// lists.
func (s *Store) ListsByUser(ctx context.Context, userID int64) ([]ListSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.public_id, l.name, l.year, COALESCE(l.year, g.year), g.public_id, g.name, l.is_main,
		       (SELECT COUNT(*) FROM list_items i WHERE i.list_id = l.id), l.updated_at
		FROM lists l
		LEFT JOIN list_groups g ON g.id = l.group_id
		WHERE l.user_id = $1
		ORDER BY COALESCE(l.year, g.year) DESC NULLS LAST, l.position ASC, l.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	summaries := make([]ListSummary, 0)
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return summaries, nil
}

// ListWithItems returns the fully hydrated album view of one list.
func (s *Store) ListWithItems(ctx context.Context, userID int64, listPublicID string) (*ListWithItems, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT l.public_id, l.name, l.year, COALESCE(l.year, g.year), g.public_id, g.name, l.is_main,
		       (SELECT COUNT(*) FROM list_items i WHERE i.list_id = l.id), l.updated_at
		FROM lists l
		LEFT JOIN list_groups g ON g.id = l.group_id
		WHERE l.public_id = $1 AND l.user_id = $2
	`, listPublicID, userID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abort.NotFound("list not found")
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.album_id, i.position, a.artist, a.title, i.comment, i.primary_track, i.secondary_track
		FROM list_items i
		JOIN albums a ON a.id = i.album_id
		JOIN lists l ON l.id = i.list_id
		WHERE l.public_id = $1 AND l.user_id = $2
		ORDER BY i.position ASC, i.id ASC
	`, listPublicID, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		var comment, primary, secondary sql.NullString
		if err := rows.Scan(&it.ID, &it.AlbumID, &it.Position, &it.Artist, &it.Title, &comment, &primary, &secondary); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if comment.Valid {
			it.Comment = &comment.String
		}
		if primary.Valid {
			it.PrimaryTrack = &primary.String
		}
		if secondary.Valid {
			it.SecondaryTrack = &secondary.String
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return &ListWithItems{ListSummary: sum, Items: items}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (ListSummary, error) {
	var sum ListSummary
	var year, effective sql.NullInt64
	var groupID, groupName sql.NullString
	if err := row.Scan(&sum.PublicID, &sum.Name, &year, &effective, &groupID, &groupName, &sum.IsMain, &sum.ItemCount, &sum.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sum, err
		}
		return sum, fmt.Errorf("scan list: %w", err)
	}
	if year.Valid {
		y := int(year.Int64)
		sum.Year = &y
	}
	if effective.Valid {
		y := int(effective.Int64)
		sum.EffectiveYear = &y
	}
	if groupID.Valid {
		sum.GroupPublicID = &groupID.String
	}
	if groupName.Valid {
		sum.GroupName = &groupName.String
	}
	return sum, nil
}
