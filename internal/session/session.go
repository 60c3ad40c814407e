// Package session spawns a child on a bounded stdin pipe, feeds it a payload
// and releases every pipe end and process handle the caller did not retain.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattjoyce/pipefeed/internal/feed"
	"github.com/mattjoyce/pipefeed/internal/log"
	"github.com/mattjoyce/pipefeed/internal/pipe"
	"github.com/mattjoyce/pipefeed/internal/proc"
)

// DefaultMaxPipeSize caps the capacity derived from the payload length.
const DefaultMaxPipeSize = 8 * 1024 * 1024

// ErrNotRetained is returned by Session methods that need a resource the
// request did not retain.
var ErrNotRetained = errors.New("resource was not retained")

// Request describes one spawn-and-feed.
type Request struct {
	// CommandLine is split with shell quoting rules. Ignored when Args is set.
	CommandLine string
	Args        []string

	Payload []byte
	// Timeout bounds how long the feed may stay stuck on a full pipe. Zero waits forever.
	Timeout time.Duration
	// CapacityHint sizes the pipe. Zero derives it from the payload length.
	CapacityHint int

	RetainProcess bool
	RetainRead    bool
	RetainWrite   bool
}

// Options configures a Runner.
type Options struct {
	Launcher    *proc.Launcher
	Feeder      *feed.Feeder
	MaxPipeSize int
	Logger      *slog.Logger
}

// Runner executes Requests. It holds no per-run state.
type Runner struct {
	launcher    *proc.Launcher
	feeder      *feed.Feeder
	maxPipeSize int
	logger      *slog.Logger
}

// NewRunner creates a Runner, filling unset options with defaults.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		launcher:    opts.Launcher,
		feeder:      opts.Feeder,
		maxPipeSize: opts.MaxPipeSize,
		logger:      opts.Logger,
	}
	if r.logger == nil {
		r.logger = log.WithComponent("session")
	}
	if r.launcher == nil {
		r.launcher = proc.NewLauncher(proc.Options{Logger: r.logger})
	}
	if r.feeder == nil {
		r.feeder = feed.New(feed.Options{Logger: r.logger})
	}
	if r.maxPipeSize <= 0 {
		r.maxPipeSize = DefaultMaxPipeSize
	}
	return r
}

// Run creates the pipe, spawns the child on its read end and feeds the
// payload. Resources not retained by req are released before Run returns,
// on every path.
//
// A nil Session means nothing was spawned. Otherwise the Session carries the
// feed result even when an error is returned.
func (r *Runner) Run(ctx context.Context, req Request) (*Session, error) {
	hint := req.CapacityHint
	if hint <= 0 {
		hint = min(len(req.Payload), r.maxPipeSize)
	}

	ch, err := pipe.Create(hint, pipe.Options{MaxSize: r.maxPipeSize, Logger: r.logger})
	if err != nil {
		return nil, err
	}

	j := newJanitor(r.logger)
	defer func() {
		if err := j.release(); err != nil {
			r.logger.Warn("failed to release session resources", "error", err)
		}
	}()
	j.track(resourceReadEnd, ch.CloseRead)
	j.track(resourceWriteEnd, ch.CloseWrite)

	var child *proc.Child
	if len(req.Args) > 0 {
		child, err = r.launcher.SpawnArgs(req.Args, ch.ReadEnd())
	} else {
		child, err = r.launcher.Spawn(req.CommandLine, ch.ReadEnd())
	}
	if err != nil {
		return nil, err
	}
	j.track(resourceProcess, child.Release)

	s := &Session{
		Pid:     child.Pid(),
		feeder:  r.feeder,
		janitor: newJanitor(r.logger),
	}
	if capacity, err := ch.Capacity(); err == nil {
		s.Capacity = capacity
	}
	r.logger.Info("feeding child", "pid", s.Pid, "bytes", len(req.Payload), "capacity", s.Capacity, "timeout", req.Timeout)

	s.Result, err = r.feeder.Feed(ctx, child, ch, req.Payload, req.Timeout)

	if req.RetainRead && j.retain(resourceReadEnd) {
		s.channel = ch
		s.janitor.track(resourceReadEnd, ch.CloseRead)
	}
	if req.RetainWrite && j.retain(resourceWriteEnd) {
		s.channel = ch
		s.janitor.track(resourceWriteEnd, ch.CloseWrite)
	}
	if req.RetainProcess && j.retain(resourceProcess) {
		s.child = child
		s.janitor.track(resourceProcess, child.Release)
	}

	return s, err
}

// Session is the outcome of a Run plus whatever the caller retained.
type Session struct {
	Pid      int
	Capacity int
	Result   feed.Result

	mu      sync.Mutex
	child   *proc.Child
	channel *pipe.Channel
	feeder  *feed.Feeder
	janitor *janitor
}

// Child returns the retained process, or nil.
func (s *Session) Child() *proc.Child { return s.child }

// Channel returns the pipe when either end was retained, or nil.
func (s *Session) Channel() *pipe.Channel { return s.channel }

// Feed writes more input to a retained process over a retained write end.
func (s *Session) Feed(ctx context.Context, payload []byte, timeout time.Duration) (feed.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil || s.channel == nil || s.channel.WriteEnd() == nil {
		return feed.Result{}, fmt.Errorf("feed: process and write end must be retained: %w", ErrNotRetained)
	}
	return s.feeder.Feed(ctx, s.child, s.channel, payload, timeout)
}

// Flush discards input still buffered on a retained read end.
func (s *Session) Flush() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil || s.channel.ReadEnd() == nil {
		return 0, fmt.Errorf("flush: read end must be retained: %w", ErrNotRetained)
	}
	return s.channel.Flush()
}

// Wait blocks until a retained process exits.
func (s *Session) Wait(ctx context.Context) (*os.ProcessState, error) {
	if s.child == nil {
		return nil, fmt.Errorf("wait: process must be retained: %w", ErrNotRetained)
	}
	return s.child.Wait(ctx)
}

// Close releases everything the session still owns. Safe to call repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.janitor.release()
}
