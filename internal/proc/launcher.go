// Package proc spawns child processes bound to a pipe read end and answers
// liveness queries about them without reaping.
package proc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/mattn/go-shellwords"

	"github.com/mattjoyce/pipefeed/internal/log"
)

// DefaultMaxCommandLine matches Linux MAX_ARG_STRLEN.
const DefaultMaxCommandLine = 128 * 1024

var (
	ErrCommandTooLong = errors.New("command line too long")
	ErrEmptyCommand   = errors.New("command line is empty")
	ErrShellOperator  = errors.New("command line contains a shell operator")
)

// SpawnError is returned for every process creation failure.
type SpawnError struct {
	Reason string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err == nil {
		return "spawn: " + e.Reason
	}
	return fmt.Sprintf("spawn: %s: %v", e.Reason, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Options configures a Launcher. Nil Stdout/Stderr go to the null device.
type Options struct {
	MaxCommandLine int
	Stdout         io.Writer
	Stderr         io.Writer
	// SysProcAttr holds OS-specific creation flags, copied into every child.
	SysProcAttr *syscall.SysProcAttr
	Logger      *slog.Logger
}

// Launcher starts child processes whose stdin is a caller-supplied file.
type Launcher struct {
	maxCommandLine int
	stdout         io.Writer
	stderr         io.Writer
	sysProcAttr    *syscall.SysProcAttr
	logger         *slog.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(opts Options) *Launcher {
	maxLen := opts.MaxCommandLine
	if maxLen <= 0 {
		maxLen = DefaultMaxCommandLine
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("proc")
	}
	return &Launcher{
		maxCommandLine: maxLen,
		stdout:         opts.Stdout,
		stderr:         opts.Stderr,
		sysProcAttr:    opts.SysProcAttr,
		logger:         logger,
	}
}

// ParseCommandLine splits a command line with shell quoting rules. Variables
// and backticks are left untouched.
func (l *Launcher) ParseCommandLine(commandLine string) ([]string, error) {
	if len(commandLine) > l.maxCommandLine {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrCommandTooLong, len(commandLine), l.maxCommandLine)
	}
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	argv, err := parser.Parse(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	// The parser stops at unquoted ; & | < > and records where.
	if parser.Position >= 0 {
		return nil, fmt.Errorf("%w at offset %d (wrap the command in sh -c)", ErrShellOperator, parser.Position)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

// Spawn parses commandLine and starts it with stdin bound to the given file.
func (l *Launcher) Spawn(commandLine string, stdin *os.File) (*Child, error) {
	argv, err := l.ParseCommandLine(commandLine)
	if err != nil {
		return nil, &SpawnError{Reason: "invalid command line", Err: err}
	}
	return l.SpawnArgs(argv, stdin)
}

// SpawnArgs starts argv with stdin bound to the given file. It does not wait
// for the child; ownership of the returned Child passes to the caller.
func (l *Launcher) SpawnArgs(argv []string, stdin *os.File) (*Child, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, &SpawnError{Reason: "invalid command line", Err: ErrEmptyCommand}
	}
	if stdin == nil {
		return nil, &SpawnError{Reason: "stdin pipe is closed"}
	}
	size := 0
	for _, a := range argv {
		size += len(a) + 1
	}
	if size > l.maxCommandLine {
		return nil, &SpawnError{
			Reason: "invalid command line",
			Err:    fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrCommandTooLong, size, l.maxCommandLine),
		}
	}

	// Not CommandContext: the child outlives the feed and is released explicitly.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = l.stdout
	cmd.Stderr = l.stderr
	if l.sysProcAttr != nil {
		attr := *l.sysProcAttr
		cmd.SysProcAttr = &attr
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Reason: fmt.Sprintf("start %q", argv[0]), Err: err}
	}

	l.logger.Debug("spawned child", "pid", cmd.Process.Pid, "argv0", argv[0], "args", len(argv)-1)
	return newChild(cmd), nil
}
