package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pipefeed/internal/config"
	"github.com/mattjoyce/pipefeed/internal/feed"
	"github.com/mattjoyce/pipefeed/internal/fsutil"
	"github.com/mattjoyce/pipefeed/internal/hexdump"
	"github.com/mattjoyce/pipefeed/internal/log"
	"github.com/mattjoyce/pipefeed/internal/proc"
	"github.com/mattjoyce/pipefeed/internal/runlog"
	"github.com/mattjoyce/pipefeed/internal/session"
	"github.com/mattjoyce/pipefeed/internal/storage"
	"github.com/mattjoyce/pipefeed/internal/tui"
)

// Exit codes for "run".
const (
	exitOK             = 0
	exitFailure        = 1
	exitPartialTimeout = 2
	exitProcessDied    = 3
)

// feedJob is a fully resolved run: what to spawn and what to feed it.
type feedJob struct {
	name        string
	commandLine string
	args        []string
	payload     []byte
	timeout     time.Duration
	capacity    int
	retain      bool
}

func (j feedJob) display() string {
	if len(j.args) > 0 {
		return strings.Join(j.args, " ")
	}
	return j.commandLine
}

type runOutput struct {
	RunID        string       `json:"run_id,omitempty"`
	Name         string       `json:"name,omitempty"`
	Command      string       `json:"command"`
	Pid          int          `json:"pid"`
	Capacity     int          `json:"capacity"`
	Outcome      feed.Outcome `json:"outcome"`
	BytesWritten int          `json:"bytes_written"`
	Total        int          `json:"total"`
	Writes       int          `json:"writes"`
	Waits        int          `json:"waits"`
	ElapsedMS    int64        `json:"elapsed_ms"`
	ExitCode     *int         `json:"exit_code,omitempty"`
	Error        string       `json:"error,omitempty"`
}

func runFeed(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jobName := fs.String("job", "", "Named run from the config runs section")
	input := fs.String("input", "", "Read the payload from FILE (- for stdin)")
	data := fs.String("data", "", "Use STRING as the payload")
	timeout := fs.Duration("timeout", 0, "Stop when the command accepts nothing for this long (0 waits forever)")
	capacity := fs.Int("capacity", 0, "Requested pipe capacity in bytes (0 sizes to the payload)")
	wait := fs.Bool("wait", false, "Wait for the command to exit and report its exit code")
	passthrough := fs.Bool("passthrough", false, "Connect the command's stdout and stderr to this terminal")
	ownGroup := fs.Bool("own-group", false, "Start the command in its own process group")
	progress := fs.Bool("progress", false, "Show a live progress view on stderr")
	dump := fs.Int("dump", 0, "Hex dump the first N payload bytes to stderr before feeding")
	canonical := fs.Bool("canonical", false, "Use the offset/hex/ASCII layout for --dump")
	saveSent := fs.String("save-sent", "", "Write the bytes the command accepted to FILE")
	jsonOut := fs.Bool("json", false, "Print the result as JSON")
	noHistory := fs.Bool("no-history", false, "Do not record the run in the history database")
	logLevel := fs.String("log-level", "", "Override service.log_level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFailure
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, cfgPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFailure
	}
	level := cfg.Service.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log.Setup(level, cfg.Service.LogFormat)

	job, err := resolveJob(cfg, cfgPath, *jobName, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	switch {
	case set["input"] && set["data"]:
		fmt.Fprintln(os.Stderr, "Error: use only one of --input or --data")
		return exitFailure
	case set["input"]:
		if job.payload, err = fsutil.ReadFile(*input); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
			return exitFailure
		}
	case set["data"]:
		job.payload = []byte(*data)
	}
	if set["timeout"] {
		job.timeout = *timeout
	}
	if set["capacity"] {
		job.capacity = *capacity
	}
	if *wait {
		job.retain = true
	}
	if job.timeout < 0 || job.capacity < 0 {
		fmt.Fprintln(os.Stderr, "Error: --timeout and --capacity must not be negative")
		return exitFailure
	}

	if *dump > 0 {
		dumpFn := hexdump.Dump
		if *canonical {
			dumpFn = hexdump.Canonical
		}
		if err := dumpFn(os.Stderr, job.payload, *dump); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to dump payload: %v\n", err)
			return exitFailure
		}
	}

	runID := uuid.NewString()
	logger := log.WithRun(runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var childOut, childErr io.Writer
	if *passthrough {
		childOut, childErr = os.Stdout, os.Stderr
	}
	var attr *syscall.SysProcAttr
	if *ownGroup {
		attr = ownGroupAttr()
	}
	var report func(feed.State)
	runner := session.NewRunner(session.Options{
		Launcher: proc.NewLauncher(proc.Options{
			MaxCommandLine: cfg.Feed.MaxCommandLine,
			Stdout:         childOut,
			Stderr:         childErr,
			SysProcAttr:    attr,
			Logger:         logger,
		}),
		Feeder: feed.New(feed.Options{
			MaxChunk:     cfg.Feed.MaxChunk,
			PollInterval: cfg.Feed.PollInterval,
			Logger:       logger,
			OnProgress: func(st feed.State) {
				if report != nil {
					report(st)
				}
			},
		}),
		MaxPipeSize: cfg.Feed.MaxPipeSize,
		Logger:      logger,
	})

	req := session.Request{
		CommandLine:   job.commandLine,
		Args:          job.args,
		Payload:       job.payload,
		Timeout:       job.timeout,
		CapacityHint:  job.capacity,
		RetainProcess: job.retain,
	}

	var s *session.Session
	work := func(r func(feed.State)) (feed.Result, error) {
		report = r
		var err error
		s, err = runner.Run(ctx, req)
		if s == nil {
			return feed.Result{Total: len(job.payload)}, err
		}
		return s.Result, err
	}

	var res feed.Result
	var feedErr error
	if *progress {
		res, feedErr = tui.Run(job.display(), len(job.payload), os.Stderr, work)
	} else {
		res, feedErr = work(nil)
	}
	if s == nil {
		fmt.Fprintf(os.Stderr, "Failed to start command: %v\n", feedErr)
		return exitFailure
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	if *saveSent != "" {
		if err := fsutil.WriteFile(*saveSent, job.payload[:res.BytesWritten], fsutil.WriteOptions{Perm: 0o600}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save sent bytes: %v\n", err)
		}
	}

	var exitCode *int
	if *wait && s.Child() != nil {
		state, err := s.Wait(ctx)
		if err != nil {
			logger.Warn("wait for command failed", "pid", s.Pid, "error", err)
		} else {
			code := state.ExitCode()
			exitCode = &code
		}
	}

	out := runOutput{
		Name:         job.name,
		Command:      job.display(),
		Pid:          s.Pid,
		Capacity:     s.Capacity,
		Outcome:      res.Outcome,
		BytesWritten: res.BytesWritten,
		Total:        res.Total,
		Writes:       res.Writes,
		Waits:        res.Waits,
		ElapsedMS:    res.Elapsed.Milliseconds(),
		ExitCode:     exitCode,
	}
	if feedErr != nil {
		out.Error = feedErr.Error()
	}

	if !*noHistory {
		if err := recordRun(cfg.State.Path, runID, job, out, res.Elapsed, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: run not recorded: %v\n", err)
		} else {
			out.RunID = runID
		}
	}

	if *jsonOut {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return exitFailure
		}
		fmt.Println(string(data))
	} else {
		fmt.Print(tui.RenderReport(tui.NewDefaultTheme(), tui.Report{
			RunID:    out.RunID,
			Command:  out.Command,
			Pid:      s.Pid,
			Capacity: s.Capacity,
			Result:   res,
			ExitCode: exitCode,
			Err:      feedErr,
		}))
	}

	return exitCodeFor(res.Outcome)
}

// resolveJob builds a feedJob from a named run or from positional arguments.
// One positional argument is a command line; several are argv.
func resolveJob(cfg *config.Config, cfgPath, name string, positional []string) (feedJob, error) {
	if name != "" {
		if len(positional) > 0 {
			return feedJob{}, errors.New("use either --job or a command, not both")
		}
		rc, err := cfg.Run(name, configBaseDir(cfgPath))
		if err != nil {
			return feedJob{}, err
		}
		payload, err := rc.LoadPayload()
		if err != nil {
			return feedJob{}, err
		}
		return feedJob{
			name:        rc.Name,
			commandLine: rc.Command,
			args:        rc.Args,
			payload:     payload,
			timeout:     rc.Timeout,
			capacity:    rc.Capacity,
			retain:      rc.RetainProcess,
		}, nil
	}

	switch len(positional) {
	case 0:
		return feedJob{}, errors.New("no command given (see pipefeed run --help)")
	case 1:
		return feedJob{commandLine: positional[0]}, nil
	default:
		return feedJob{args: positional}, nil
	}
}

func recordRun(path, id string, job feedJob, out runOutput, elapsed time.Duration, logger *slog.Logger) error {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	entry := runlog.Entry{
		ID:            id,
		Name:          job.name,
		Command:       out.Command,
		Pid:           out.Pid,
		PayloadSize:   len(job.payload),
		PayloadBlake3: runlog.Fingerprint(job.payload),
		Capacity:      out.Capacity,
		Timeout:       job.timeout,
		Outcome:       string(out.Outcome),
		BytesWritten:  out.BytesWritten,
		Writes:        out.Writes,
		Waits:         out.Waits,
		Elapsed:       elapsed,
		ExitCode:      out.ExitCode,
	}
	if out.Error != "" {
		entry.LastError = &out.Error
	}
	if _, err := runlog.New(db).Record(ctx, entry); err != nil {
		return err
	}
	logger.Debug("run recorded", "path", path)
	return nil
}

func exitCodeFor(o feed.Outcome) int {
	switch o {
	case feed.OutcomeSuccess:
		return exitOK
	case feed.OutcomePartialTimeout:
		return exitPartialTimeout
	case feed.OutcomeProcessDied:
		return exitProcessDied
	default:
		return exitFailure
	}
}
