package runlog

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
)

var ErrRunNotFound = errors.New("run not found")

// Entry is one recorded feed run.
type Entry struct {
	ID            string
	Name          string
	Command       string
	Pid           int
	PayloadSize   int
	PayloadBlake3 string
	Capacity      int
	Timeout       time.Duration
	Outcome       string
	BytesWritten  int
	Writes        int
	Waits         int
	Elapsed       time.Duration
	ExitCode      *int
	LastError     *string
	CreatedAt     time.Time
}

// Fingerprint returns the hex BLAKE3 digest recorded for a payload.
func Fingerprint(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
