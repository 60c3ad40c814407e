package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Resource names tracked by a session.
const (
	resourceReadEnd  = "read_end"
	resourceWriteEnd = "write_end"
	resourceProcess  = "process"
)

type resource struct {
	name     string
	close    func() error
	retained bool
	released bool
}

// janitor releases every tracked resource exactly once, newest first, unless
// it was retained. A retained resource belongs to the caller from then on.
type janitor struct {
	mu     sync.Mutex
	items  []*resource
	logger *slog.Logger
}

func newJanitor(logger *slog.Logger) *janitor {
	return &janitor{logger: logger}
}

func (j *janitor) track(name string, closeFn func() error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items = append(j.items, &resource{name: name, close: closeFn})
}

// retain hands the named resource to the caller and reports whether it was tracked.
func (j *janitor) retain(name string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range j.items {
		if r.name == name && !r.released {
			r.retained = true
			return true
		}
	}
	return false
}

// release closes everything not retained and not yet released.
func (j *janitor) release() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for i := len(j.items) - 1; i >= 0; i-- {
		r := j.items[i]
		if r.retained || r.released {
			continue
		}
		r.released = true
		if err := r.close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("release %s: %w", r.name, err))
			continue
		}
		j.logger.Debug("released resource", "resource", r.name)
	}
	return errors.Join(errs...)
}
