//go:build !unix

package main

import "syscall"

func ownGroupAttr() *syscall.SysProcAttr { return nil }
