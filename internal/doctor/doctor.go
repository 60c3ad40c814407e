// Package doctor checks a loaded configuration for problems that only show up
// when a run starts: missing executables, missing payload files and settings
// that will be clamped or never fire.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/pipefeed/internal/config"
	"github.com/mattjoyce/pipefeed/internal/fsutil"
	"github.com/mattjoyce/pipefeed/internal/proc"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Runs     []string `json:"runs"`
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []Issue  `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Options configures a Doctor.
type Options struct {
	// BaseDir resolves relative payload files.
	BaseDir string
	// LookPath resolves executables. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// Doctor validates configuration against the local system.
type Doctor struct {
	cfg      *config.Config
	baseDir  string
	lookPath func(string) (string, error)
	launcher *proc.Launcher
}

// slowPollInterval is where backpressure latency starts to be noticeable.
const slowPollInterval = 100 * time.Millisecond

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// New creates a Doctor from a loaded config.
func New(cfg *config.Config, opts Options) *Doctor {
	d := &Doctor{
		cfg:      cfg,
		baseDir:  opts.BaseDir,
		lookPath: opts.LookPath,
		launcher: proc.NewLauncher(proc.Options{MaxCommandLine: cfg.Feed.MaxCommandLine}),
	}
	if d.lookPath == nil {
		d.lookPath = exec.LookPath
	}
	return d
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, Runs: d.cfg.RunNames()}

	d.validateState(r)
	d.validateFeed(r)
	for _, name := range r.Runs {
		d.validateRun(r, name)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
	}
}

func (d *Doctor) validateFeed(r *Result) {
	if d.cfg.Feed.PollInterval > slowPollInterval {
		d.addWarning(r, "feed", "feed.poll_interval",
			fmt.Sprintf("poll interval %s adds that much latency to every backpressure wait", d.cfg.Feed.PollInterval))
	}
	if d.cfg.Feed.MaxChunk > d.cfg.Feed.MaxPipeSize {
		d.addWarning(r, "feed", "feed.max_chunk",
			"max_chunk exceeds max_pipe_size; no single write can be accepted whole")
	}
}

// validateRun checks that the named run can start and be fed.
func (d *Doctor) validateRun(r *Result, name string) {
	field := "runs." + name
	rc, err := d.cfg.Run(name, d.baseDir)
	if err != nil {
		d.addError(r, "runs", field, err.Error())
		return
	}

	d.warnMissingEnvVars(r, field, append([]string{rc.Command, rc.PayloadFile}, rc.Args...))

	argv := rc.Args
	if len(argv) == 0 {
		argv, err = d.launcher.ParseCommandLine(rc.Command)
		if err != nil {
			d.addError(r, "runs", field+".command", err.Error())
			return
		}
	}
	if _, err := d.lookPath(argv[0]); err != nil {
		d.addError(r, "runs", field+".command", fmt.Sprintf("executable %q not found", argv[0]))
	}

	if rc.PayloadFile != "" && rc.PayloadFile != "-" && !fsutil.Exists(rc.PayloadFile) {
		d.addError(r, "runs", field+".payload_file", fmt.Sprintf("payload file %s does not exist", rc.PayloadFile))
	}
	if rc.Capacity > d.cfg.Feed.MaxPipeSize {
		d.addWarning(r, "runs", field+".capacity",
			fmt.Sprintf("capacity %d is clamped to feed.max_pipe_size %d", rc.Capacity, d.cfg.Feed.MaxPipeSize))
	}
	if rc.Timeout == 0 {
		d.addWarning(r, "runs", field+".timeout",
			"no timeout; a consumer that stops reading stalls the run until interrupted")
	}
}

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result, field string, values []string) {
	for _, v := range values {
		for _, m := range envVarRe.FindAllStringSubmatch(v, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	fmt.Fprintf(&b, "Runs: %d\n", len(r.Runs))
	for _, name := range r.Runs {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
