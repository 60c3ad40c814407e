package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned by OpenSQLite when the history database
// would live on a network mount, where SQLite locking is unreliable.
var ErrNetworkFilesystem = errors.New("history database is on a network filesystem")

// errDetectUnsupported means the platform cannot name filesystems. The check
// is skipped rather than failing every history write.
var errDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")

var remoteFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// fsDetector names the filesystem holding dir.
type fsDetector func(dir string) (string, error)

func checkLocalFilesystem(dbPath string) error {
	return checkLocalFilesystemWith(dbPath, detectFilesystemType)
}

func checkLocalFilesystemWith(dbPath string, detect fsDetector) error {
	dir, err := existingAncestor(dbPath)
	if err != nil {
		return fmt.Errorf("resolve history path %q: %w", dbPath, err)
	}

	fsType, err := detect(dir)
	switch {
	case errors.Is(err, errDetectUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}

	if isRemoteFilesystem(fsType) {
		return fmt.Errorf("%w: %s is on %s; point state.path (or PIPEFEED_STATE_PATH) at local disk or pass --no-history",
			ErrNetworkFilesystem, dbPath, fsType)
	}
	return nil
}

// existingAncestor returns path itself or its closest parent that exists, so
// a database that has not been created yet is checked where it will land.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		dir = parent
	}
}

func isRemoteFilesystem(fsType string) bool {
	_, ok := remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
