//go:build unix

package main

import "syscall"

// ownGroupAttr starts the command as leader of a new process group, so a
// terminal Ctrl-C reaches pipefeed but not the command.
func ownGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
