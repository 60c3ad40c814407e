package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/pipefeed/internal/config"
	"github.com/mattjoyce/pipefeed/internal/fsutil"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runFeed(args)
	case "history":
		if hasHelpFlag(args) {
			printHistoryHelp()
			return 0
		}
		return runHistory(args)
	case "config":
		return runConfigNoun(args)
	case "tempname":
		return runTempname(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: pipefeed version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("pipefeed %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func runTempname(args []string) int {
	fs := flag.NewFlagSet("tempname", flag.ContinueOnError)
	suffix := fs.String("suffix", "", "Suffix appended to the generated name, e.g. .bin")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	fmt.Println(fsutil.TempFilename(*suffix))
	return 0
}

// loadConfig loads an explicit path, else a discovered file, else defaults.
// The returned path is empty when no file was used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		discovered, err := config.Discover()
		if errors.Is(err, config.ErrNotFound) {
			cfg, err := config.LoadOrDefault("")
			return cfg, "", err
		}
		if err != nil {
			return nil, "", err
		}
		path = discovered
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// configBaseDir is the directory relative payload files resolve against.
func configBaseDir(path string) string {
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`pipefeed - Feed a payload to a command's stdin through a bounded pipe

Usage:
  pipefeed <command> [flags]

Commands:
  run               Spawn a command and feed it a payload
  history           Show recorded runs
  config check      Validate configuration and list named runs
  config lock       Record checksums for the config and its includes
  config show       Print the effective configuration
  tempname          Print a fresh temporary file name
  version           Show version metadata

General:
  help              Show this help
  <command> --help  Show help for a command

Exit codes for run:
  0  payload fully delivered
  1  usage, spawn or I/O error
  2  consumer stopped accepting input before the timeout
  3  consumer exited before the payload was delivered
`)
}

func printRunHelp() {
	fmt.Println("Usage: pipefeed run [flags] [--] <command line | argv...>")
	fmt.Println("       pipefeed run --job NAME [flags]")
	fmt.Println("")
	fmt.Println("A single argument is parsed as a shell-quoted command line. Several")
	fmt.Println("arguments are used as argv as given. Shell operators are rejected.")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  --config PATH     Configuration file or directory")
	fmt.Println("  --job NAME        Use a named run from the config")
	fmt.Println("  --input FILE      Read the payload from FILE (- for stdin)")
	fmt.Println("  --data STRING     Use STRING as the payload")
	fmt.Println("  --timeout DUR     Stop when the command accepts nothing for DUR (0 waits forever)")
	fmt.Println("  --capacity N      Requested pipe capacity in bytes")
	fmt.Println("  --wait            Wait for the command to exit and report its exit code")
	fmt.Println("  --passthrough     Connect the command's stdout and stderr to this terminal")
	fmt.Println("  --own-group       Start the command in its own process group")
	fmt.Println("  --progress        Show a live progress view on stderr")
	fmt.Println("  --dump N          Hex dump the first N payload bytes to stderr")
	fmt.Println("  --canonical       Use the offset/hex/ASCII layout for --dump")
	fmt.Println("  --save-sent FILE  Write the bytes the command accepted to FILE")
	fmt.Println("  --json            Print the result as JSON")
	fmt.Println("  --no-history      Do not record the run")
	fmt.Println("  --log-level LVL   Override service.log_level")
}

func printHistoryHelp() {
	fmt.Println("Usage: pipefeed history [--config PATH] [--limit N] [--prune AGE] [--id ID] [--json]")
	fmt.Println("Show recorded runs, newest first. --prune deletes runs older than AGE first.")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pipefeed config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}
