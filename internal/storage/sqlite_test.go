package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "vitalgate.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"inbound_events", "user_links"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("OpenSQLite should fail for empty path")
	}
}

func TestDeliveryIDUniqueness(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "vitalgate.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	insert := `INSERT INTO inbound_events(id, delivery_id, raw_payload, state, received_at)
VALUES(?, ?, ?, ?, ?);`
	if _, err := db.Exec(insert, "row-1", "dlv-1", []byte("{}"), "RECEIVED", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert, "row-2", "dlv-1", []byte("{}"), "RECEIVED", "2026-01-01T00:00:01Z"); err == nil {
		t.Fatal("duplicate delivery_id insert should violate UNIQUE constraint")
	}
}

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsType  string
		wantErr bool
	}{
		{name: "local ext4-like", fsType: "0xef53", wantErr: false},
		{name: "nfs", fsType: "nfs", wantErr: true},
		{name: "cifs", fsType: "cifs", wantErr: true},
		{name: "smb2", fsType: "smb2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detect := func(string) (string, error) { return tt.fsType, nil }
			err := checkLocalFilesystemWithDetector(filepath.Join(t.TempDir(), "db.sqlite"), detect)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkLocalFilesystemWithDetector(%q) error = %v, wantErr %v", tt.fsType, err, tt.wantErr)
			}
		})
	}
}
