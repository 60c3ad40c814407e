//go:build !linux

package proc

import "errors"

var errReaped = errors.New("process already reaped")

func hasExited(pid int) (bool, error) {
	return false, errors.New("liveness queries are not supported on this platform")
}
