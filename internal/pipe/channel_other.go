//go:build !linux

package pipe

import (
	"log/slog"
	"os"
	"time"
)

func open(hint, limit int, logger *slog.Logger) (*os.File, *os.File, error) {
	return nil, nil, ErrUnsupported
}

func capacityOf(f *os.File) (int, error) { return 0, ErrUnsupported }

func pendingOf(f *os.File) (int, error) { return 0, ErrUnsupported }

func writeOnce(f *os.File, p []byte) (int, error) { return 0, ErrUnsupported }

func waitWritable(f *os.File, d time.Duration) error { return ErrUnsupported }

func drain(f *os.File, want int) (int, error) { return 0, ErrUnsupported }
