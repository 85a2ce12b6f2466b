// Package users maps the aggregator's external user references to local
// user identities. A reference maps to exactly one local user; events for
// unmapped references are rejected upstream.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNoSuchUser = errors.New("no such user")

// Link is one external-reference-to-local-user mapping.
type Link struct {
	ExternalRef string
	UserID      string
	CreatedAt   time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Resolve returns the local user id for an external reference, or
// ErrNoSuchUser when no mapping exists.
func (s *Store) Resolve(ctx context.Context, externalRef string) (string, error) {
	if externalRef == "" {
		return "", ErrNoSuchUser
	}

	var userID string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM user_links WHERE external_ref = ?;", externalRef,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoSuchUser
	}
	if err != nil {
		return "", fmt.Errorf("resolve user %q: %w", externalRef, err)
	}
	return userID, nil
}

// Link records a mapping. Linking an already-linked reference to a
// different user replaces the old mapping; the aggregator reuses its
// reference when a user reconnects.
func (s *Store) Link(ctx context.Context, externalRef, userID string) error {
	if externalRef == "" {
		return fmt.Errorf("externalRef is empty")
	}
	if userID == "" {
		return fmt.Errorf("userID is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_links(external_ref, user_id, created_at)
VALUES(?, ?, ?)
ON CONFLICT(external_ref) DO UPDATE SET user_id = excluded.user_id, created_at = excluded.created_at;
`, externalRef, userID, now)
	if err != nil {
		return fmt.Errorf("link user: %w", err)
	}
	return nil
}

// Unlink removes a mapping. Removing an unknown reference is not an error.
func (s *Store) Unlink(ctx context.Context, externalRef string) error {
	if externalRef == "" {
		return fmt.Errorf("externalRef is empty")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM user_links WHERE external_ref = ?;", externalRef); err != nil {
		return fmt.Errorf("unlink user: %w", err)
	}
	return nil
}
