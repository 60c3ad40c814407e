//go:build linux

package pipe

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	pipeMaxSizePath    = "/proc/sys/fs/pipe-max-size"
	defaultPipeMaxSize = 1 << 20
)

var (
	systemMaxOnce sync.Once
	systemMax     int
)

// systemMaxSize reads the largest capacity an unprivileged process may request.
func systemMaxSize() int {
	systemMaxOnce.Do(func() {
		systemMax = defaultPipeMaxSize
		data, err := os.ReadFile(pipeMaxSizePath)
		if err != nil {
			return
		}
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && n > 0 {
			systemMax = n
		}
	})
	return systemMax
}

func clampSize(hint, limit int) int {
	size := hint
	if upper := systemMaxSize(); size > upper {
		size = upper
	}
	if limit > 0 && size > limit {
		size = limit
	}
	if page := os.Getpagesize(); size < page {
		size = page
	}
	return size
}

func open(hint, limit int, logger *slog.Logger) (*os.File, *os.File, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		if errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) || errors.Is(err, unix.ENOMEM) {
			return nil, nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return nil, nil, fmt.Errorf("pipe2: %w", err)
	}
	closeBoth := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}

	if hint > 0 {
		size := clampSize(hint, limit)
		if _, err := unix.FcntlInt(uintptr(fds[1]), unix.F_SETPIPE_SZ, size); err != nil {
			// EPERM: per-user pipe page quota reached. Keep the default capacity.
			if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EBUSY) {
				logger.Warn("pipe capacity request refused, keeping kernel default", "requested", size, "error", err)
			} else {
				closeBoth()
				return nil, nil, fmt.Errorf("set pipe size %d: %w", size, err)
			}
		}
	}

	if err := unix.SetNonblock(fds[1], true); err != nil {
		closeBoth()
		return nil, nil, fmt.Errorf("set write end non-blocking: %w", err)
	}

	r := os.NewFile(uintptr(fds[0]), "pipefeed-stdin-read")
	w := os.NewFile(uintptr(fds[1]), "pipefeed-stdin-write")
	return r, w, nil
}

func capacityOf(f *os.File) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		n    int
		qerr error
	)
	if err := rc.Control(func(fd uintptr) {
		n, qerr = unix.FcntlInt(fd, unix.F_GETPIPE_SZ, 0)
	}); err != nil {
		return 0, err
	}
	if qerr != nil {
		return 0, fmt.Errorf("F_GETPIPE_SZ: %w", qerr)
	}
	return n, nil
}

func pendingOf(f *os.File) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		n    int
		qerr error
	)
	// TIOCINQ is FIONREAD on Linux.
	if err := rc.Control(func(fd uintptr) {
		n, qerr = unix.IoctlGetInt(int(fd), unix.TIOCINQ)
	}); err != nil {
		return 0, err
	}
	if qerr != nil {
		return 0, fmt.Errorf("FIONREAD: %w", qerr)
	}
	return n, nil
}

func writeOnce(f *os.File, p []byte) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		n    int
		werr error
	)
	// Returning true hands EAGAIN back to the caller instead of parking on the poller.
	if err := rc.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), p)
		return true
	}); err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, werr
}

func waitWritable(f *os.File, d time.Duration) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	ms := int((d + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	var perr error
	if err := rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		_, perr = unix.Poll(fds, ms)
	}); err != nil {
		return err
	}
	if perr != nil && !errors.Is(perr, unix.EINTR) {
		return fmt.Errorf("poll: %w", perr)
	}
	return nil
}

// drain reads up to want bytes that are already buffered, stopping as soon as
// the pipe has nothing readable.
func drain(f *os.File, want int) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, min(want, 64*1024))
	total := 0
	var derr error
	if err := rc.Control(func(fd uintptr) {
		for total < want {
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
			ready, err := unix.Poll(fds, 0)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				derr = fmt.Errorf("poll: %w", err)
				return
			}
			if ready == 0 || fds[0].Revents&unix.POLLIN == 0 {
				return
			}
			n, err := unix.Read(int(fd), buf[:min(len(buf), want-total)])
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				derr = fmt.Errorf("read: %w", err)
				return
			}
			if n <= 0 {
				return
			}
			total += n
		}
	}); err != nil {
		return total, err
	}
	return total, derr
}
