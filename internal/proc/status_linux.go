//go:build linux

package proc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var errReaped = unix.ECHILD

// hasExited asks the kernel whether pid is waitable as exited, leaving it
// waitable (WNOWAIT) so the real reap still happens in Wait.
func hasExited(pid int) (bool, error) {
	for {
		var info unix.Siginfo
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOHANG|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("waitid: %w", err)
		}
		// With WNOHANG the kernel reports si_signo 0 when nothing is waitable.
		return info.Signo != 0, nil
	}
}
