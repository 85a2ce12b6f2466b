package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/biothread/vitalgate/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestResolveUnknownRef(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Resolve(context.Background(), "usr-ghost")
	if !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("Resolve unknown ref: err = %v, want ErrNoSuchUser", err)
	}
}

func TestLinkAndResolve(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Link(ctx, "usr-abc", "user-1"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	userID, err := s.Resolve(ctx, "usr-abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("Resolve = %q, want user-1", userID)
	}
}

func TestLinkReplacesExistingMapping(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Link(ctx, "usr-abc", "user-1"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := s.Link(ctx, "usr-abc", "user-2"); err != nil {
		t.Fatalf("re-Link: %v", err)
	}

	userID, err := s.Resolve(ctx, "usr-abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if userID != "user-2" {
		t.Errorf("Resolve after relink = %q, want user-2", userID)
	}
}

func TestUnlink(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Link(ctx, "usr-abc", "user-1"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := s.Unlink(ctx, "usr-abc"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := s.Resolve(ctx, "usr-abc"); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("Resolve after unlink: err = %v, want ErrNoSuchUser", err)
	}

	// Unlinking an unknown ref is a no-op.
	if err := s.Unlink(ctx, "usr-never-linked"); err != nil {
		t.Errorf("Unlink unknown ref: %v", err)
	}
}

func TestResolveEmptyRef(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.Resolve(context.Background(), ""); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("Resolve empty ref: err = %v, want ErrNoSuchUser", err)
	}
}
