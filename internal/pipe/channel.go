// Package pipe provides a bounded, unidirectional OS pipe used as a child
// process's standard input.
//
// The read end is handed to the child (exec dup2s it onto fd 0); the write end
// is close-on-exec and non-blocking so the parent never blocks inside write(2).
// Capacity is fixed at creation. Pending reports the bytes the reader has not
// consumed yet, so the writer can size each write to the room left.
package pipe

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattjoyce/pipefeed/internal/log"
)

var (
	// ErrResourceExhausted is wrapped when the OS has no descriptors or memory left for a pipe.
	ErrResourceExhausted = errors.New("pipe: resources exhausted")
	// ErrUnsupported is returned on platforms without bounded pipe queries.
	ErrUnsupported = errors.New("pipe: bounded pipes are not supported on this platform")
	// ErrClosed is returned when querying or writing an endpoint that was already closed.
	ErrClosed = errors.New("pipe: endpoint closed")
)

// PipeCreationError reports a failure to allocate or configure the channel.
type PipeCreationError struct {
	Hint int
	Err  error
}

func (e *PipeCreationError) Error() string {
	return fmt.Sprintf("create pipe (capacity hint %d): %v", e.Hint, e.Err)
}

func (e *PipeCreationError) Unwrap() error { return e.Err }

// Options tunes channel creation.
type Options struct {
	// MaxSize caps the capacity requested from the kernel. Zero means the
	// system maximum (/proc/sys/fs/pipe-max-size).
	MaxSize int
	Logger  *slog.Logger
}

// Channel is one pipe. Each endpoint closes independently and at most once.
type Channel struct {
	mu          sync.Mutex
	r, w        *os.File
	readClosed  bool
	writeClosed bool
	logger      *slog.Logger
}

// Create allocates a pipe sized for capacityHint bytes. A hint <= 0 keeps the
// kernel default capacity.
func Create(capacityHint int, opts Options) (*Channel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("pipe")
	}

	r, w, err := open(capacityHint, opts.MaxSize, logger)
	if err != nil {
		return nil, &PipeCreationError{Hint: capacityHint, Err: err}
	}

	c := &Channel{r: r, w: w, logger: logger}
	if capacity, err := c.Capacity(); err == nil {
		logger.Debug("pipe created", "hint", capacityHint, "capacity", capacity)
	}
	return c, nil
}

// ReadEnd returns the read endpoint, or nil once it has been closed.
func (c *Channel) ReadEnd() *os.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readClosed {
		return nil
	}
	return c.r
}

// WriteEnd returns the write endpoint, or nil once it has been closed.
func (c *Channel) WriteEnd() *os.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeClosed {
		return nil
	}
	return c.w
}

// Capacity returns the kernel capacity of the pipe in bytes.
func (c *Channel) Capacity() (int, error) {
	w := c.WriteEnd()
	if w == nil {
		return 0, ErrClosed
	}
	return capacityOf(w)
}

// Pending returns the bytes buffered in the pipe and not yet read. It is
// queried through the parent's copy of the read end, or through the write end
// once the read end has been closed.
func (c *Channel) Pending() (int, error) {
	if r := c.ReadEnd(); r != nil {
		return pendingOf(r)
	}
	if w := c.WriteEnd(); w != nil {
		return pendingOf(w)
	}
	return 0, ErrClosed
}

// Remaining returns Capacity minus Pending, never below zero.
func (c *Channel) Remaining() (int, error) {
	capacity, err := c.Capacity()
	if err != nil {
		return 0, fmt.Errorf("capacity: %w", err)
	}
	pending, err := c.Pending()
	if err != nil {
		return 0, fmt.Errorf("pending: %w", err)
	}
	return max(capacity-pending, 0), nil
}

// Write issues a single write(2) and returns how many bytes the kernel
// accepted. EAGAIN and EINTR come back unwrapped.
func (c *Channel) Write(p []byte) (int, error) {
	w := c.WriteEnd()
	if w == nil {
		return 0, ErrClosed
	}
	return writeOnce(w, p)
}

// WaitWritable blocks until the write end reports room or d elapses.
func (c *Channel) WaitWritable(d time.Duration) error {
	w := c.WriteEnd()
	if w == nil {
		return ErrClosed
	}
	return waitWritable(w, d)
}

// Flush discards the bytes currently pending on the read end and returns how
// many were dropped. Meant for a pipe whose reader has stopped consuming.
func (c *Channel) Flush() (int, error) {
	r := c.ReadEnd()
	if r == nil {
		return 0, ErrClosed
	}
	pending, err := pendingOf(r)
	if err != nil {
		return 0, fmt.Errorf("pending: %w", err)
	}
	if pending == 0 {
		return 0, nil
	}
	n, err := drain(r, pending)
	if err != nil {
		return n, fmt.Errorf("drain: %w", err)
	}
	if n != pending {
		return n, fmt.Errorf("drained %d of %d pending bytes", n, pending)
	}
	return n, nil
}

// CloseRead closes the parent's copy of the read end. Safe to call repeatedly.
func (c *Channel) CloseRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readClosed {
		return nil
	}
	c.readClosed = true
	return c.r.Close()
}

// CloseWrite closes the write end, signalling EOF to the reader. Safe to call repeatedly.
func (c *Channel) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeClosed {
		return nil
	}
	c.writeClosed = true
	return c.w.Close()
}

// Close closes both endpoints.
func (c *Channel) Close() error {
	return errors.Join(c.CloseWrite(), c.CloseRead())
}
