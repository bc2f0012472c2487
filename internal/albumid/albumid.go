// Package albumid maps raw (artist, album) payloads to stable canonical
// album ids. Dedup is case-insensitive on artist and title; a resolved id
// stays stable no matter how users spell the submission.
package albumid

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"yearlist/internal/abort"
	"yearlist/internal/store"
)

// Resolver upserts canonical album records in Postgres.
type Resolver struct {
	db *sql.DB
}

// New sets up a Resolver using the provided database handle.
func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// ResolveAlbum upserts one canonical album record and returns its id. A
// known album keeps its id; a missing release year is filled in when the
// payload carries one.
func (r *Resolver) ResolveAlbum(ctx context.Context, in store.AlbumInput, now time.Time) (int64, error) {
	artist := strings.TrimSpace(in.Artist)
	title := strings.TrimSpace(in.Title)
	if artist == "" || title == "" {
		return 0, abort.Invalid("artist and album title are required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO albums (artist, title, release_year, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $4)
		ON CONFLICT (lower(artist), lower(title))
		DO UPDATE SET release_year = COALESCE(albums.release_year, EXCLUDED.release_year), updated_at = EXCLUDED.updated_at
		RETURNING id
	`, artist, title, in.ReleaseYear, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert album: %w", err)
	}
	return id, nil
}

// ResolveAlbums upserts a batch in one set-oriented statement and returns a
// map keyed by each input's Key. Payload entries resolving to the same
// canonical album collapse to one record.
func (r *Resolver) ResolveAlbums(ctx context.Context, ins []store.AlbumInput, now time.Time) (map[string]int64, error) {
	ids := make(map[string]int64, len(ins))
	if len(ins) == 0 {
		return ids, nil
	}

	var artists, titles []string
	var years []int
	seen := make(map[string]bool, len(ins))
	for _, in := range ins {
		artist := strings.TrimSpace(in.Artist)
		title := strings.TrimSpace(in.Title)
		if artist == "" || title == "" {
			return nil, abort.Invalid("artist and album title are required")
		}
		if seen[in.Key()] {
			continue
		}
		seen[in.Key()] = true
		artists = append(artists, artist)
		titles = append(titles, title)
		years = append(years, in.ReleaseYear)
	}

	rows, err := r.db.QueryContext(ctx, `
		INSERT INTO albums (artist, title, release_year, created_at, updated_at)
		SELECT t.artist, t.title, NULLIF(t.release_year, 0), $4, $4
		FROM unnest($1::text[], $2::text[], $3::int[]) AS t(artist, title, release_year)
		ON CONFLICT (lower(artist), lower(title))
		DO UPDATE SET release_year = COALESCE(albums.release_year, EXCLUDED.release_year), updated_at = EXCLUDED.updated_at
		RETURNING id, artist, title
	`, pq.Array(artists), pq.Array(titles), pq.Array(years), now)
	if err != nil {
		return nil, fmt.Errorf("upsert albums: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var artist, title string
		if err := rows.Scan(&id, &artist, &title); err != nil {
			return nil, fmt.Errorf("scan upserted album: %w", err)
		}
		ids[store.AlbumInput{Artist: artist, Title: title}.Key()] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upserted albums: %w", err)
	}
	return ids, nil
}
