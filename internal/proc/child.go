package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// QueryError reports that the exit status of a child could not be queried.
// It never means the child is alive or dead.
type QueryError struct {
	Pid int
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query status of pid %d: %v", e.Pid, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Child is a spawned process. The exit status is read from the OS on each
// IsAlive call until the process has been reaped by Wait or Release.
type Child struct {
	cmd *exec.Cmd
	pid int

	waitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	reaping  bool
	released bool
	state    *os.ProcessState
	waitErr  error
}

func newChild(cmd *exec.Cmd) *Child {
	return &Child{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
}

// Pid returns the OS process id.
func (c *Child) Pid() int { return c.pid }

// IsAlive reports whether the child has not exited yet. It never blocks.
func (c *Child) IsAlive() (bool, error) {
	select {
	case <-c.done:
		return false, nil
	default:
	}

	exited, err := hasExited(c.pid)
	if err == nil {
		return !exited, nil
	}
	if errors.Is(err, errReaped) {
		c.mu.Lock()
		reaping := c.reaping
		c.mu.Unlock()
		if reaping {
			return false, nil
		}
	}
	return false, &QueryError{Pid: c.pid, Err: err}
}

func (c *Child) startWait() {
	c.waitOnce.Do(func() {
		c.mu.Lock()
		c.reaping = true
		c.mu.Unlock()

		go func() {
			err := c.cmd.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// A non-zero exit is a status, not a failure to wait.
				err = nil
			}
			c.mu.Lock()
			c.state = c.cmd.ProcessState
			c.waitErr = err
			c.mu.Unlock()
			close(c.done)
		}()
	})
}

// Wait blocks until the child exits or ctx is done. It may be called from
// several goroutines; the process is reaped once.
func (c *Child) Wait(ctx context.Context) (*os.ProcessState, error) {
	c.startWait()
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.state, c.waitErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Release gives up the caller's interest in the child. The process is not
// signalled; it is reaped in the background when it exits. Repeated calls
// are no-ops.
func (c *Child) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.mu.Unlock()

	c.startWait()
	return nil
}

// Released reports whether Release has been called.
func (c *Child) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}
