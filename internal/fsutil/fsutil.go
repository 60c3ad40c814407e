// Package fsutil holds the file helpers used to load and save payloads.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Defaults for WriteFile's retry of EACCES.
const (
	DefaultWriteAttempts = 5
	DefaultWriteBackoff  = 100 * time.Millisecond
)

// ReadFile returns the contents of path. "-" reads standard input.
func ReadFile(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteOptions tunes WriteFile.
type WriteOptions struct {
	Perm     fs.FileMode
	Attempts int
	Backoff  time.Duration
}

// WriteFile writes data to path, replacing it. EACCES, which another process
// briefly holding the file can cause, is retried up to opts.Attempts times.
func WriteFile(path string, data []byte, opts WriteOptions) error {
	if opts.Perm == 0 {
		opts.Perm = 0o644
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultWriteAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultWriteBackoff
	}

	var err error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		err = os.WriteFile(path, data, opts.Perm)
		if err == nil || !errors.Is(err, fs.ErrPermission) {
			break
		}
		if attempt < opts.Attempts {
			time.Sleep(opts.Backoff)
		}
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// TempFilename returns a fresh path under os.TempDir ending in suffix. The
// file is not created.
func TempFilename(suffix string) string {
	return filepath.Join(os.TempDir(), "pipefeed-"+uuid.NewString()+suffix)
}

// Exists reports whether path exists. Errors other than "not found" count as
// existing so callers do not clobber what they cannot inspect.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
