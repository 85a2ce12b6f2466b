package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// checkLocalFilesystem rejects database paths on network filesystems.
// SQLite locking is unreliable over NFS/SMB, and the ingestion ledger
// depends on that locking for its atomic claim.
func checkLocalFilesystem(path string) error {
	return checkLocalFilesystemWithDetector(path, detectFilesystemType)
}

func checkLocalFilesystemWithDetector(path string, detect func(string) (string, error)) error {
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detect(inspectPath)
	if err != nil {
		// Detection failing (unsupported platform, odd mounts) is not
		// itself a reason to refuse to start.
		return nil
	}

	normalized := strings.TrimSpace(strings.ToLower(fsType))
	if _, found := networkFilesystems[normalized]; found {
		return fmt.Errorf(
			"database path %q is on network filesystem %q; the ledger needs a local filesystem for reliable SQLite locking (set storage.path to local disk)",
			path, fsType,
		)
	}
	return nil
}

// nearestExistingPath walks up from path until it finds something that
// exists, so a not-yet-created database file can still be checked.
func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}
