package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"yearlist/internal/abort"
)

// ItemRef addresses a list item either by its canonical album id or by the
// item row id. Exactly one side is set. On the wire a bare number is an
// album id; an object picks the key explicitly.
type ItemRef struct {
	AlbumID int64
	ItemID  int64
}

func (r *ItemRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" && trimmed[0] != '{' {
		var albumID int64
		if err := json.Unmarshal(data, &albumID); err != nil {
			return fmt.Errorf("item reference must be an album id or an object: %w", err)
		}
		*r = ItemRef{AlbumID: albumID}
		return nil
	}
	var obj struct {
		AlbumID int64 `json:"albumId"`
		ItemID  int64 `json:"itemId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = ItemRef{AlbumID: obj.AlbumID, ItemID: obj.ItemID}
	return nil
}

func (r ItemRef) MarshalJSON() ([]byte, error) {
	if r.ItemID != 0 {
		return json.Marshal(struct {
			ItemID int64 `json:"itemId"`
		}{r.ItemID})
	}
	return json.Marshal(r.AlbumID)
}

func (r ItemRef) valid() bool {
	return (r.AlbumID != 0) != (r.ItemID != 0)
}

// PositionUpdate moves one existing item to a new position.
type PositionUpdate struct {
	Ref      ItemRef `json:"ref"`
	Position int     `json:"position"`
}

func (p *PositionUpdate) UnmarshalJSON(data []byte) error {
	var obj struct {
		AlbumID  int64 `json:"albumId"`
		ItemID   int64 `json:"itemId"`
		Position int   `json:"position"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = PositionUpdate{Ref: ItemRef{AlbumID: obj.AlbumID, ItemID: obj.ItemID}, Position: obj.Position}
	return nil
}

// AddedItem describes an item that was actually inserted.
type AddedItem struct {
	ItemID   int64  `json:"itemId"`
	AlbumID  int64  `json:"albumId"`
	Artist   string `json:"artist"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// DuplicateItem describes a payload entry whose album already sits in the
// list. Duplicates are reported, never silently overwritten.
type DuplicateItem struct {
	AlbumID int64  `json:"albumId"`
	Artist  string `json:"artist"`
	Title   string `json:"title"`
}

// IncrementalUpdateParams applies removals, additions and repositions in
// that order within one transaction.
type IncrementalUpdateParams struct {
	Removed []int64          `json:"removed,omitempty"`
	Added   []AlbumInput     `json:"added,omitempty"`
	Updated []PositionUpdate `json:"updated,omitempty"`
}

// IncrementalUpdateResult reports changed row counts plus what was added and
// what was rejected as a duplicate.
type IncrementalUpdateResult struct {
	Changed    int64           `json:"changed"`
	Added      []AddedItem     `json:"added"`
	Duplicates []DuplicateItem `json:"duplicates"`
}

type resolvedItem struct {
	albumID        int64
	position       int
	comment        string
	primaryTrack   string
	secondaryTrack string
	artist         string
	title          string
}

// removeItemsTx deletes all items matching the album ids in one statement
// and returns the count removed. Empty input is a no-op returning 0.
func (s *Store) removeItemsTx(ctx context.Context, tx *sql.Tx, listID int64, albumIDs []int64) (int64, error) {
	if len(albumIDs) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM list_items
		WHERE list_id = $1 AND album_id = ANY($2)
	`, listID, pq.Array(albumIDs))
	if err != nil {
		return 0, fmt.Errorf("remove items: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

// existingAlbumIDsTx returns which of the candidate albums already sit in
// the list.
func (s *Store) existingAlbumIDsTx(ctx context.Context, tx *sql.Tx, listID int64, albumIDs []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool)
	if len(albumIDs) == 0 {
		return existing, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT album_id
		FROM list_items
		WHERE list_id = $1 AND album_id = ANY($2)
	`, listID, pq.Array(albumIDs))
	if err != nil {
		return nil, fmt.Errorf("check existing items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan existing item: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing items: %w", err)
	}
	return existing, nil
}

func (s *Store) maxPositionTx(ctx context.Context, tx *sql.Tx, listID int64) (int, error) {
	var max int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0)
		FROM list_items
		WHERE list_id = $1
	`, listID).Scan(&max); err != nil {
		return 0, fmt.Errorf("max position: %w", err)
	}
	return max, nil
}

// insertItemsTx inserts all non-duplicate items in one set-oriented
// statement. Entries whose album already exists in the list (or appeared
// earlier in the same payload) come back as duplicates instead.
func (s *Store) insertItemsTx(ctx context.Context, tx *sql.Tx, listID int64, items []resolvedItem, existing map[int64]bool, now time.Time) ([]AddedItem, []DuplicateItem, error) {
	added := make([]AddedItem, 0)
	duplicates := make([]DuplicateItem, 0)
	if len(items) == 0 {
		return added, duplicates, nil
	}

	seen := make(map[int64]bool, len(items))
	var (
		albumIDs    []int64
		positions   []int
		comments    []string
		primaries   []string
		secondaries []string
		byAlbum     = make(map[int64]resolvedItem)
	)
	for _, it := range items {
		if existing[it.albumID] || seen[it.albumID] {
			duplicates = append(duplicates, DuplicateItem{AlbumID: it.albumID, Artist: it.artist, Title: it.title})
			continue
		}
		seen[it.albumID] = true
		albumIDs = append(albumIDs, it.albumID)
		positions = append(positions, it.position)
		comments = append(comments, it.comment)
		primaries = append(primaries, it.primaryTrack)
		secondaries = append(secondaries, it.secondaryTrack)
		byAlbum[it.albumID] = it
	}
	if len(albumIDs) == 0 {
		return added, duplicates, nil
	}

	rows, err := tx.QueryContext(ctx, `
		INSERT INTO list_items (list_id, album_id, position, comment, primary_track, secondary_track, created_at, updated_at)
		SELECT $1, t.album_id, t.position, NULLIF(t.comment, ''), NULLIF(t.primary_track, ''), NULLIF(t.secondary_track, ''), $7, $7
		FROM unnest($2::bigint[], $3::int[], $4::text[], $5::text[], $6::text[]) AS t(album_id, position, comment, primary_track, secondary_track)
		RETURNING id, album_id, position
	`, listID, pq.Array(albumIDs), pq.Array(positions), pq.Array(comments), pq.Array(primaries), pq.Array(secondaries), now)
	if err != nil {
		return nil, nil, fmt.Errorf("insert items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item AddedItem
		if err := rows.Scan(&item.ItemID, &item.AlbumID, &item.Position); err != nil {
			return nil, nil, fmt.Errorf("scan inserted item: %w", err)
		}
		src := byAlbum[item.AlbumID]
		item.Artist = src.artist
		item.Title = src.title
		added = append(added, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate inserted items: %w", err)
	}
	return added, duplicates, nil
}

// repositionItemsTx updates matching rows' positions, one statement per
// addressing mode. Unmatched keys are ignored to tolerate client drift.
func (s *Store) repositionItemsTx(ctx context.Context, tx *sql.Tx, listID int64, updates []PositionUpdate, now time.Time) (int64, error) {
	var (
		albumKeys, itemKeys []int64
		albumPos, itemPos   []int
	)
	for _, u := range updates {
		if !u.Ref.valid() {
			return 0, abort.Invalid("item reference must carry exactly one of albumId or itemId")
		}
		if u.Ref.AlbumID != 0 {
			albumKeys = append(albumKeys, u.Ref.AlbumID)
			albumPos = append(albumPos, u.Position)
		} else {
			itemKeys = append(itemKeys, u.Ref.ItemID)
			itemPos = append(itemPos, u.Position)
		}
	}

	var changed int64
	if len(albumKeys) > 0 {
		res, err := tx.ExecContext(ctx, `
			UPDATE list_items AS li
			SET position = t.position, updated_at = $4
			FROM unnest($2::bigint[], $3::int[]) AS t(album_id, position)
			WHERE li.list_id = $1 AND li.album_id = t.album_id
		`, listID, pq.Array(albumKeys), pq.Array(albumPos), now)
		if err != nil {
			return 0, fmt.Errorf("reposition items by album: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		changed += n
	}
	if len(itemKeys) > 0 {
		res, err := tx.ExecContext(ctx, `
			UPDATE list_items AS li
			SET position = t.position, updated_at = $4
			FROM unnest($2::bigint[], $3::int[]) AS t(item_id, position)
			WHERE li.list_id = $1 AND li.id = t.item_id
		`, listID, pq.Array(itemKeys), pq.Array(itemPos), now)
		if err != nil {
			return 0, fmt.Errorf("reposition items by id: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		changed += n
	}
	return changed, nil
}

// ReplaceListItems destructively replaces a list's items with the given
// albums at positions 1..N. Used by bulk import and rewrite flows.
func (s *Store) ReplaceListItems(ctx context.Context, userID int64, listPublicID string, albums []AlbumInput) (int, error) {
	now := time.Now().UTC()
	var count int

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.listForUpdateTx(ctx, tx, userID, listPublicID)
		if err != nil {
			return err
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, l.EffectiveYear, l.IsMain, "replace items"); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM list_items WHERE list_id = $1
		`, l.ID); err != nil {
			return fmt.Errorf("clear list items: %w", err)
		}

		resolved, err := s.resolveAll(ctx, albums, now, 1)
		if err != nil {
			return err
		}
		// Payload order is the ranking; explicit positions only apply to
		// incremental additions.
		for i := range resolved {
			resolved[i].position = i + 1
		}
		added, _, err := s.insertItemsTx(ctx, tx, l.ID, resolved, nil, now)
		if err != nil {
			return err
		}
		count = len(added)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementalUpdate applies removals, then additions, then repositions, all
// in one transaction. Removal first means freed positions are reusable by
// the max-position computation the additions rely on.
func (s *Store) IncrementalUpdate(ctx context.Context, userID int64, listPublicID string, p IncrementalUpdateParams) (*IncrementalUpdateResult, error) {
	now := time.Now().UTC()
	result := &IncrementalUpdateResult{Added: []AddedItem{}, Duplicates: []DuplicateItem{}}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.listForUpdateTx(ctx, tx, userID, listPublicID)
		if err != nil {
			return err
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, l.EffectiveYear, l.IsMain, "update items"); err != nil {
			return err
		}

		removed, err := s.removeItemsTx(ctx, tx, l.ID, p.Removed)
		if err != nil {
			return err
		}
		result.Changed += removed

		if len(p.Added) > 0 {
			next, err := s.maxPositionTx(ctx, tx, l.ID)
			if err != nil {
				return err
			}
			resolved, err := s.resolveAll(ctx, p.Added, now, next+1)
			if err != nil {
				return err
			}
			candidates := make([]int64, 0, len(resolved))
			for _, r := range resolved {
				candidates = append(candidates, r.albumID)
			}
			existing, err := s.existingAlbumIDsTx(ctx, tx, l.ID, candidates)
			if err != nil {
				return err
			}
			added, duplicates, err := s.insertItemsTx(ctx, tx, l.ID, resolved, existing, now)
			if err != nil {
				return err
			}
			result.Added = added
			result.Duplicates = duplicates
			result.Changed += int64(len(added))
		}

		if len(p.Updated) > 0 {
			moved, err := s.repositionItemsTx(ctx, tx, l.ID, p.Updated, now)
			if err != nil {
				return err
			}
			result.Changed += moved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReorderItems assigns sequential positions starting at 1 in the order
// given. Entries may address items by album id or item id, mixed freely, so
// drag-and-drop clients can use whichever key they hold.
func (s *Store) ReorderItems(ctx context.Context, userID int64, listPublicID string, order []ItemRef) (int64, error) {
	updates := make([]PositionUpdate, len(order))
	for i, ref := range order {
		if !ref.valid() {
			return 0, abort.Invalid("item reference must carry exactly one of albumId or itemId")
		}
		updates[i] = PositionUpdate{Ref: ref, Position: i + 1}
	}

	now := time.Now().UTC()
	var changed int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.listForUpdateTx(ctx, tx, userID, listPublicID)
		if err != nil {
			return err
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, l.EffectiveYear, l.IsMain, "reorder items"); err != nil {
			return err
		}
		changed, err = s.repositionItemsTx(ctx, tx, l.ID, updates, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// UpdateItemComment sets or clears one item's comment. The identifier is
// tried as an album id first, then as an item id; blank comments are stored
// as NULL.
func (s *Store) UpdateItemComment(ctx context.Context, userID int64, listPublicID string, identifier int64, comment string) error {
	now := time.Now().UTC()
	var value any
	if trimmed := strings.TrimSpace(comment); trimmed != "" {
		value = trimmed
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.listForUpdateTx(ctx, tx, userID, listPublicID)
		if err != nil {
			return err
		}
		if err := s.locks.ValidateMainListNotLocked(ctx, l.EffectiveYear, l.IsMain, "edit comment"); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE list_items SET comment = $3, updated_at = $4
			WHERE list_id = $1 AND album_id = $2
		`, l.ID, identifier, value, now)
		if err != nil {
			return fmt.Errorf("update comment by album: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE list_items SET comment = $3, updated_at = $4
			WHERE list_id = $1 AND id = $2
		`, l.ID, identifier, value, now)
		if err != nil {
			return fmt.Errorf("update comment by item: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return abort.NotFound("item not found in list")
		}
		return nil
	})
}

// resolveAll resolves raw payloads to album ids in one batch and assigns
// ascending positions from startPos to entries without an explicit one.
func (s *Store) resolveAll(ctx context.Context, ins []AlbumInput, now time.Time, startPos int) ([]resolvedItem, error) {
	if len(ins) == 0 {
		return nil, nil
	}
	ids, err := s.albums.ResolveAlbums(ctx, ins, now)
	if err != nil {
		return nil, err
	}
	resolved := make([]resolvedItem, 0, len(ins))
	next := startPos
	for _, in := range ins {
		albumID, ok := ids[in.Key()]
		if !ok {
			return nil, abort.Invalid("album %q / %q could not be resolved", in.Artist, in.Title)
		}
		pos := in.Position
		if pos <= 0 {
			pos = next
			next++
		}
		resolved = append(resolved, resolvedItem{
			albumID:        albumID,
			position:       pos,
			comment:        in.Comment,
			primaryTrack:   in.PrimaryTrack,
			secondaryTrack: in.SecondaryTrack,
			artist:         in.Artist,
			title:          in.Title,
		})
	}
	return resolved, nil
}
