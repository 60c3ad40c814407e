package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func detectAs(fsType string) fsDetector {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalFilesystemAllowsLocalDisk(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "pipefeed.db")
	if err := checkLocalFilesystemWith(dbPath, detectAs("0xef53")); err != nil {
		t.Fatalf("local filesystem rejected: %v", err)
	}
}

func TestCheckLocalFilesystemRejectsNetworkMount(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "pipefeed.db")
	err := checkLocalFilesystemWith(dbPath, detectAs("smbfs"))
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("err = %v, want ErrNetworkFilesystem", err)
	}
	for _, want := range []string{"smbfs", "state.path", "--no-history"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestCheckLocalFilesystemInspectsNearestExistingDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "not", "yet", "pipefeed.db")

	var inspected string
	err := checkLocalFilesystemWith(dbPath, func(dir string) (string, error) {
		inspected = dir
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestCheckLocalFilesystemSkipsWhenUndetectable(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystemWith(filepath.Join(t.TempDir(), "pipefeed.db"), func(string) (string, error) {
		return "", errDetectUnsupported
	})
	if err != nil {
		t.Fatalf("undetectable platform should pass, got %v", err)
	}
}

func TestCheckLocalFilesystemPropagatesDetectorError(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystemWith(filepath.Join(t.TempDir(), "pipefeed.db"), func(string) (string, error) {
		return "", errors.New("statfs failed")
	})
	if err == nil || !strings.Contains(err.Error(), "statfs failed") {
		t.Fatalf("expected detector error, got %v", err)
	}
	if errors.Is(err, ErrNetworkFilesystem) {
		t.Fatal("detector failure reported as a network mount")
	}
}

func TestIsRemoteFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"apfs":   false,
		"0x6969": false,
		"":       false,
	}
	for fsType, want := range cases {
		if got := isRemoteFilesystem(fsType); got != want {
			t.Errorf("isRemoteFilesystem(%q) = %v, want %v", fsType, got, want)
		}
	}
}
