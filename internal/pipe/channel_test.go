//go:build linux

package pipe

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestChannel(t *testing.T, hint int) *Channel {
	t.Helper()
	c, err := Create(hint, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateAppliesCapacityHint(t *testing.T) {
	c := newTestChannel(t, 64*1024)

	capacity, err := c.Capacity()
	require.NoError(t, err)
	assert.Equal(t, 64*1024, capacity)
}

func TestCreateRoundsSmallHintUpToPage(t *testing.T) {
	c := newTestChannel(t, 1)

	capacity, err := c.Capacity()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, capacity, os.Getpagesize())
}

func TestCreateHonoursMaxSize(t *testing.T) {
	c, err := Create(1<<20, Options{MaxSize: 128 * 1024})
	require.NoError(t, err)
	defer c.Close()

	capacity, err := c.Capacity()
	require.NoError(t, err)
	assert.Equal(t, 128*1024, capacity)
}

func TestPendingAndRemaining(t *testing.T) {
	c := newTestChannel(t, 64*1024)

	n, err := c.Write(make([]byte, 1000))
	require.NoError(t, err)
	require.Equal(t, 1000, n)

	pending, err := c.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1000, pending)

	remaining, err := c.Remaining()
	require.NoError(t, err)
	assert.Equal(t, 64*1024-1000, remaining)
}

func TestPendingFallsBackToWriteEnd(t *testing.T) {
	c := newTestChannel(t, 64*1024)
	// Keep a reader alive so writes do not fail with EPIPE.
	reader, err := unix.Dup(int(c.ReadEnd().Fd()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(reader) })
	require.NoError(t, c.CloseRead())

	_, err = c.Write(make([]byte, 300))
	require.NoError(t, err)

	pending, err := c.Pending()
	require.NoError(t, err)
	assert.Equal(t, 300, pending)
}

func TestWriteReturnsEAGAINWhenFull(t *testing.T) {
	c := newTestChannel(t, 64*1024)

	n, err := c.Write(make([]byte, 64*1024))
	require.NoError(t, err)
	require.Equal(t, 64*1024, n)

	remaining, err := c.Remaining()
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = c.Write([]byte{1})
	assert.True(t, errors.Is(err, unix.EAGAIN), "expected EAGAIN, got %v", err)
}

func TestWriteAcceptsPartialWrite(t *testing.T) {
	c := newTestChannel(t, 64*1024)

	n, err := c.Write(make([]byte, 100*1024))
	require.NoError(t, err)
	assert.Equal(t, 64*1024, n)
}

func TestWaitWritableTimesOutWhenFull(t *testing.T) {
	c := newTestChannel(t, 64*1024)
	_, err := c.Write(make([]byte, 64*1024))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, c.WaitWritable(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestWaitWritableReturnsImmediatelyWithRoom(t *testing.T) {
	c := newTestChannel(t, 64*1024)

	start := time.Now()
	require.NoError(t, c.WaitWritable(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFlushDiscardsPending(t *testing.T) {
	c := newTestChannel(t, 64*1024)
	_, err := c.Write(make([]byte, 5000))
	require.NoError(t, err)

	n, err := c.Flush()
	require.NoError(t, err)
	assert.Equal(t, 5000, n)

	pending, err := c.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestFlushEmptyPipe(t *testing.T) {
	c := newTestChannel(t, 0)

	n, err := c.Flush()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := Create(0, Options{})
	require.NoError(t, err)

	require.NoError(t, c.CloseWrite())
	require.NoError(t, c.CloseWrite())
	require.NoError(t, c.Close())
	require.NoError(t, c.CloseRead())

	assert.Nil(t, c.ReadEnd())
	assert.Nil(t, c.WriteEnd())
}

func TestQueriesAfterCloseReportErrClosed(t *testing.T) {
	c, err := Create(0, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Capacity()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Pending()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.WaitWritable(time.Millisecond), ErrClosed)
}

func TestReaderSeesEOFAfterCloseWrite(t *testing.T) {
	c := newTestChannel(t, 0)
	_, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())

	buf := make([]byte, 16)
	n, err := c.ReadEnd().Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestPipeCreationErrorUnwraps(t *testing.T) {
	err := &PipeCreationError{Hint: 10, Err: ErrResourceExhausted}
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Contains(t, err.Error(), "capacity hint 10")
}
