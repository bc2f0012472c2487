package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"yearlist/internal/abort"
)

// fakeGuard answers lock checks from an in-memory set of locked years.
type fakeGuard struct {
	locked map[int]bool
}

func (g *fakeGuard) IsYearLocked(_ context.Context, year int) (bool, error) {
	return g.locked[year], nil
}

func (g *fakeGuard) ValidateYearNotLocked(_ context.Context, year *int, action string) error {
	if year != nil && g.locked[*year] {
		return abort.Locked(*year, action)
	}
	return nil
}

func (g *fakeGuard) ValidateMainListNotLocked(ctx context.Context, year *int, isMain bool, action string) error {
	if !isMain {
		return nil
	}
	return g.ValidateYearNotLocked(ctx, year, action)
}

// fakeResolver maps payload keys to fixed album ids without touching SQL.
type fakeResolver struct {
	ids map[string]int64
}

func (r *fakeResolver) ResolveAlbum(_ context.Context, in AlbumInput, _ time.Time) (int64, error) {
	id, ok := r.ids[in.Key()]
	if !ok {
		return 0, abort.Invalid("album %q / %q could not be resolved", in.Artist, in.Title)
	}
	return id, nil
}

func (r *fakeResolver) ResolveAlbums(_ context.Context, ins []AlbumInput, _ time.Time) (map[string]int64, error) {
	out := make(map[string]int64, len(ins))
	for _, in := range ins {
		id, ok := r.ids[in.Key()]
		if !ok {
			return nil, abort.Invalid("album %q / %q could not be resolved", in.Artist, in.Title)
		}
		out[in.Key()] = id
	}
	return out, nil
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, *fakeGuard, *fakeResolver) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	guard := &fakeGuard{locked: make(map[int]bool)}
	resolver := &fakeResolver{ids: make(map[string]int64)}
	return New(db, guard, resolver), mock, guard, resolver
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

// listRow builds the column set returned by the locking list lookup.
func listRow(id int64, publicID string, userID int64, groupID *int64, name string, year, effective *int, isMain bool, position int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "public_id", "user_id", "group_id", "name", "year", "coalesce", "is_main", "position"})
	var gid any
	if groupID != nil {
		gid = *groupID
	}
	var y, eff any
	if year != nil {
		y = *year
	}
	if effective != nil {
		eff = *effective
	}
	rows.AddRow(id, publicID, userID, gid, name, y, eff, isMain, position)
	return rows
}

func expectListLookup(mock sqlmock.Sqlmock, publicID string, userID int64, rows *sqlmock.Rows) {
	mock.ExpectQuery(`FOR UPDATE OF l`).
		WithArgs(publicID, userID).
		WillReturnRows(rows)
}

func expectNoListLookup(mock sqlmock.Sqlmock, publicID string, userID int64) {
	mock.ExpectQuery(`FOR UPDATE OF l`).
		WithArgs(publicID, userID).
		WillReturnError(sql.ErrNoRows)
}
