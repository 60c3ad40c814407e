package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/pipefeed/internal/feed"
	"github.com/mattjoyce/pipefeed/internal/runlog"
	"github.com/mattjoyce/pipefeed/internal/storage"
	"github.com/mattjoyce/pipefeed/internal/tui"
)

type historyEntry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Command      string    `json:"command"`
	Pid          int       `json:"pid"`
	Outcome      string    `json:"outcome"`
	PayloadSize  int       `json:"payload_size"`
	PayloadHash  string    `json:"payload_blake3"`
	BytesWritten int       `json:"bytes_written"`
	Capacity     int       `json:"capacity"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of runs to show")
	prune := fs.Duration("prune", 0, "Delete runs older than this age before listing")
	id := fs.String("id", "", "Show one run in detail")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer db.Close()
	runs := runlog.New(db)

	if *prune > 0 {
		n, err := runs.Prune(ctx, time.Now().Add(-*prune))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to prune history: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Pruned %d run(s)\n", n)
	}

	if *id != "" {
		return showRun(ctx, runs, *id, *jsonOut)
	}

	entries, err := runs.List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list history: %v\n", err)
		return 1
	}

	if !*jsonOut {
		fmt.Print(tui.RenderHistory(tui.NewDefaultTheme(), entries))
		return 0
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toHistoryEntry(e))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func showRun(ctx context.Context, runs *runlog.Log, id string, jsonOut bool) int {
	e, err := runs.Get(ctx, id)
	if errors.Is(err, runlog.ErrRunNotFound) {
		fmt.Fprintf(os.Stderr, "No run with id %s\n", id)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read run: %v\n", err)
		return 1
	}

	if jsonOut {
		data, err := json.MarshalIndent(toHistoryEntry(*e), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	report := tui.Report{
		RunID:    e.ID,
		Command:  e.Command,
		Pid:      e.Pid,
		Capacity: e.Capacity,
		Result: feed.Result{
			Outcome:      feed.Outcome(e.Outcome),
			BytesWritten: e.BytesWritten,
			Total:        e.PayloadSize,
			Elapsed:      e.Elapsed,
			Writes:       e.Writes,
			Waits:        e.Waits,
		},
		ExitCode: e.ExitCode,
	}
	if e.LastError != nil {
		report.Err = errors.New(*e.LastError)
	}
	fmt.Print(tui.RenderReport(tui.NewDefaultTheme(), report))
	return 0
}

func toHistoryEntry(e runlog.Entry) historyEntry {
	return historyEntry{
		ID:           e.ID,
		Name:         e.Name,
		Command:      e.Command,
		Pid:          e.Pid,
		Outcome:      e.Outcome,
		PayloadSize:  e.PayloadSize,
		PayloadHash:  e.PayloadBlake3,
		BytesWritten: e.BytesWritten,
		Capacity:     e.Capacity,
		ElapsedMS:    e.Elapsed.Milliseconds(),
		ExitCode:     e.ExitCode,
		Error:        e.LastError,
		CreatedAt:    e.CreatedAt,
	}
}
