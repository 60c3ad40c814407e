//go:build linux

package proc

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// devNull stands in for a pipe read end.
func devNull(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func waitDead(t *testing.T, c *Child) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		alive, err := c.IsAlive()
		require.NoError(t, err)
		if !alive {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pid %d still alive after 5s", c.Pid())
}

func TestParseCommandLine(t *testing.T) {
	l := NewLauncher(Options{})

	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr error
	}{
		{name: "simple", line: "cat -n", want: []string{"cat", "-n"}},
		{name: "double quotes", line: `sh -c "cat > out"`, want: []string{"sh", "-c", "cat > out"}},
		{name: "single quotes", line: `echo 'a b' c`, want: []string{"echo", "a b", "c"}},
		{name: "env untouched", line: `echo $HOME`, want: []string{"echo", "$HOME"}},
		{name: "empty", line: "   ", wantErr: ErrEmptyCommand},
		{name: "redirect", line: "cat > out", wantErr: ErrShellOperator},
		{name: "pipeline", line: "cat | wc", wantErr: ErrShellOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.ParseCommandLine(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSpawnRejectsLongCommandLine(t *testing.T) {
	l := NewLauncher(Options{MaxCommandLine: 16})

	_, err := l.Spawn("echo "+strings.Repeat("x", 32), devNull(t))
	require.Error(t, err)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.ErrorIs(t, err, ErrCommandTooLong)
}

func TestSpawnArgsRejectsLongArgv(t *testing.T) {
	l := NewLauncher(Options{MaxCommandLine: 16})

	_, err := l.SpawnArgs([]string{"echo", strings.Repeat("y", 32)}, devNull(t))
	assert.ErrorIs(t, err, ErrCommandTooLong)
}

func TestSpawnMissingBinary(t *testing.T) {
	l := NewLauncher(Options{})

	_, err := l.Spawn("/nonexistent/pipefeed-binary", devNull(t))
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr), "expected SpawnError, got %v", err)
	assert.Contains(t, spawnErr.Reason, "/nonexistent/pipefeed-binary")
}

func TestSpawnRequiresStdin(t *testing.T) {
	l := NewLauncher(Options{})

	_, err := l.SpawnArgs([]string{"true"}, nil)
	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
}

func TestIsAliveWhileRunning(t *testing.T) {
	l := NewLauncher(Options{})
	c, err := l.Spawn("sleep 5", devNull(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.cmd.Process.Kill()
		_, _ = c.Wait(context.Background())
	})

	assert.Greater(t, c.Pid(), 0)
	alive, err := c.IsAlive()
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestIsAliveDoesNotReap(t *testing.T) {
	l := NewLauncher(Options{})
	c, err := l.Spawn("sh -c 'exit 3'", devNull(t))
	require.NoError(t, err)

	waitDead(t, c)

	// Querying twice must give the same answer: the zombie is still there.
	alive, err := c.IsAlive()
	require.NoError(t, err)
	assert.False(t, alive)

	state, err := c.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 3, state.ExitCode())

	alive, err = c.IsAlive()
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestSpawnAppliesSysProcAttr(t *testing.T) {
	attr := &syscall.SysProcAttr{Setpgid: true}
	l := NewLauncher(Options{SysProcAttr: attr})
	c, err := l.Spawn("sleep 5", devNull(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.cmd.Process.Kill()
		_, _ = c.Wait(context.Background())
	})

	pgid, err := syscall.Getpgid(c.Pid())
	require.NoError(t, err)
	assert.Equal(t, c.Pid(), pgid, "child should lead its own process group")
	assert.NotSame(t, attr, c.cmd.SysProcAttr)
}

func TestSpawnInheritsProcessGroupByDefault(t *testing.T) {
	l := NewLauncher(Options{})
	c, err := l.Spawn("sleep 5", devNull(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.cmd.Process.Kill()
		_, _ = c.Wait(context.Background())
	})

	pgid, err := syscall.Getpgid(c.Pid())
	require.NoError(t, err)
	assert.Equal(t, syscall.Getpgrp(), pgid)
}

func TestWaitHonoursContext(t *testing.T) {
	l := NewLauncher(Options{})
	c, err := l.Spawn("sleep 5", devNull(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.cmd.Process.Kill()
		_, _ = c.Wait(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotentAndReaps(t *testing.T) {
	l := NewLauncher(Options{})
	c, err := l.Spawn("true", devNull(t))
	require.NoError(t, err)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.True(t, c.Released())

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("released child was not reaped")
	}
	alive, err := c.IsAlive()
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestQueryErrorUnwraps(t *testing.T) {
	err := &QueryError{Pid: 42, Err: errReaped}
	assert.ErrorIs(t, err, errReaped)
	assert.Contains(t, err.Error(), "pid 42")
}
