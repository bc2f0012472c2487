// Package store provides persistence for ranked year-end album lists backed
// by Postgres. Every mutating operation runs its multi-statement body inside
// a single transaction; expected rejections travel as *abort.Error and roll
// the transaction back without being treated as failures.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"yearlist/internal/abort"
)

// ErrUnauthorized indicates an invalid or missing session.
var ErrUnauthorized = errors.New("unauthorized")

// AlbumInput is a raw album payload submitted by a user. Position is an
// optional explicit rank; zero means append after the current maximum.
type AlbumInput struct {
	Artist         string `json:"artist"`
	Title          string `json:"title"`
	ReleaseYear    int    `json:"releaseYear,omitempty"`
	Position       int    `json:"position,omitempty"`
	Comment        string `json:"comment,omitempty"`
	PrimaryTrack   string `json:"primaryTrack,omitempty"`
	SecondaryTrack string `json:"secondaryTrack,omitempty"`
}

// Key identifies the canonical album this payload resolves to, independent
// of casing and surrounding whitespace.
func (a AlbumInput) Key() string {
	artist := strings.ToLower(strings.TrimSpace(a.Artist))
	title := strings.ToLower(strings.TrimSpace(a.Title))
	return artist + "|" + title
}

// AlbumResolver maps raw album payloads to stable canonical album ids.
type AlbumResolver interface {
	ResolveAlbum(ctx context.Context, in AlbumInput, now time.Time) (int64, error)
	ResolveAlbums(ctx context.Context, ins []AlbumInput, now time.Time) (map[string]int64, error)
}

// YearLockGuard answers whether a year's results are publicly revealed. A
// nil year is never locked. Validation failures are *abort.Error values.
type YearLockGuard interface {
	IsYearLocked(ctx context.Context, year int) (bool, error)
	ValidateYearNotLocked(ctx context.Context, year *int, action string) error
	ValidateMainListNotLocked(ctx context.Context, year *int, isMain bool, action string) error
}

// Store provides persistence backed by Postgres.
type Store struct {
	db     *sql.DB
	locks  YearLockGuard
	albums AlbumResolver
}

// New sets up a Store using the provided database handle and collaborators.
func New(db *sql.DB, locks YearLockGuard, albums AlbumResolver) *Store {
	return &Store{db: db, locks: locks, albums: albums}
}

// inTx runs fn inside one transaction, committing on nil and rolling back on
// any error. Abort errors pass through unwrapped so callers can map them.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// validateYear bounds user-supplied years. Lists are routinely drafted ahead
// of the New Year's reveal, so next year is allowed.
func validateYear(year int) error {
	if year < 1950 || year > time.Now().UTC().Year()+1 {
		return abort.Invalid("year %d is out of range", year)
	}
	return nil
}
