package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UserIDByToken resolves a session token to the owning user.
func (s *Store) UserIDByToken(ctx context.Context, token string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM sessions
		WHERE token = $1
	`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUnauthorized
		}
		return 0, fmt.Errorf("lookup session: %w", err)
	}
	return userID, nil
}

// HasScrobblerConnection reports whether the user has linked a scrobbling
// account, which enables the play-history refresh after item additions.
func (s *Store) HasScrobblerConnection(ctx context.Context, userID int64) (bool, error) {
	var linked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_connections WHERE user_id = $1
		)
	`, userID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("lookup scrobbler connection: %w", err)
	}
	return linked, nil
}
