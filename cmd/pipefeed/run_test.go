//go:build linux

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/mattjoyce/pipefeed/internal/feed"
	"github.com/mattjoyce/pipefeed/internal/runlog"
)

func decodeRunOutput(t *testing.T, stdout string) runOutput {
	t.Helper()
	var out runOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("invalid run JSON %q: %v", stdout, err)
	}
	return out
}

func writePayload(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xab}, n), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunFeedsArgvAndWaits(t *testing.T) {
	cfg := writeTestConfig(t, "")
	target := filepath.Join(t.TempDir(), "out.txt")

	code, stdout, stderr := captureCLI(t, "run", "--config", cfg, "--no-history", "--json", "--wait",
		"--data", "hello pipe", "--", "sh", "-c", `cat > "$1"`, "sh", target)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}

	out := decodeRunOutput(t, stdout)
	if out.Outcome != feed.OutcomeSuccess || out.BytesWritten != 10 || out.Total != 10 {
		t.Errorf("result = %+v", out)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Errorf("exit_code = %v, want 0", out.ExitCode)
	}
	if out.RunID != "" {
		t.Errorf("run_id = %q with --no-history", out.RunID)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello pipe" {
		t.Errorf("command received %q", got)
	}
}

func TestRunOwnGroupLeadsNewProcessGroup(t *testing.T) {
	cfg := writeTestConfig(t, "")
	target := filepath.Join(t.TempDir(), "pgrp.txt")

	// Field 5 of /proc/<pid>/stat is the process group id.
	script := `cat >/dev/null; cut -d" " -f5 /proc/$$/stat > "$1"`
	code, stdout, stderr := captureCLI(t, "run", "--config", cfg, "--no-history", "--json", "--wait", "--own-group",
		"--data", "x", "--", "sh", "-c", script, "sh", target)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	out := decodeRunOutput(t, stdout)

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(got)) != strconv.Itoa(out.Pid) {
		t.Errorf("process group = %q, want pid %d", got, out.Pid)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	cfg := writeTestConfig(t, "")

	code, stdout, stderr := captureCLI(t, "run", "--config", cfg, "--json", "--data", "abc", "cat")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	out := decodeRunOutput(t, stdout)
	if out.RunID == "" {
		t.Fatalf("run not recorded, stderr = %s", stderr)
	}

	code, stdout, stderr = captureCLI(t, "history", "--config", cfg, "--json")
	if code != 0 {
		t.Fatalf("history exit code = %d, stderr = %s", code, stderr)
	}
	var entries []historyEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("invalid history JSON: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != out.RunID || e.Command != "cat" || e.Outcome != "success" {
		t.Errorf("entry = %+v", e)
	}
	if e.PayloadHash != runlog.Fingerprint([]byte("abc")) || e.PayloadSize != 3 {
		t.Errorf("payload fingerprint = %s (%d bytes)", e.PayloadHash, e.PayloadSize)
	}

	code, stdout, _ = captureCLI(t, "history", "--config", cfg)
	if code != 0 || !strings.Contains(stdout, "cat") {
		t.Errorf("table history code = %d, stdout = %q", code, stdout)
	}

	code, stdout, _ = captureCLI(t, "history", "--config", cfg, "--id", out.RunID)
	if code != 0 || !strings.Contains(stdout, out.RunID) {
		t.Errorf("history --id code = %d, stdout = %q", code, stdout)
	}

	code, _, stderr = captureCLI(t, "history", "--config", cfg, "--id", "no-such-run")
	if code != 1 || !strings.Contains(stderr, "No run with id") {
		t.Errorf("unknown id code = %d, stderr = %q", code, stderr)
	}
}

func TestRunNamedJob(t *testing.T) {
	target := filepath.Join(t.TempDir(), "job.txt")
	cfg := writeTestConfig(t, `runs:
  copy:
    args: ["sh", "-c", "cat > \"$1\"", "sh", "`+target+`"]
    payload: "from config"
    retain_process: true
`)

	code, stdout, stderr := captureCLI(t, "run", "--config", cfg, "--job", "copy", "--no-history", "--json", "--wait")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	if out := decodeRunOutput(t, stdout); out.Name != "copy" {
		t.Errorf("name = %q", out.Name)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "from config" {
		t.Errorf("command received %q", got)
	}
}

func TestRunPayloadFlagOverridesJob(t *testing.T) {
	target := filepath.Join(t.TempDir(), "job.txt")
	cfg := writeTestConfig(t, `runs:
  copy:
    args: ["sh", "-c", "cat > \"$1\"", "sh", "`+target+`"]
    payload: "from config"
`)

	code, _, stderr := captureCLI(t, "run", "--config", cfg, "--job", "copy", "--no-history", "--wait", "--data", "override")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "override" {
		t.Errorf("command received %q", got)
	}
}

func TestRunConsumerExitIsExitCode3(t *testing.T) {
	cfg := writeTestConfig(t, "")
	payload := writePayload(t, 1024*1024)

	code, stdout, stderr := captureCLI(t, "run", "--config", cfg, "--no-history", "--json",
		"--input", payload, "--capacity", "65536", "head -c 10")
	if code != exitProcessDied {
		t.Fatalf("exit code = %d, want %d, stderr = %s", code, exitProcessDied, stderr)
	}
	out := decodeRunOutput(t, stdout)
	if out.Outcome != feed.OutcomeProcessDied || out.BytesWritten >= out.Total {
		t.Errorf("result = %+v", out)
	}
}

func TestRunStalledConsumerIsExitCode2(t *testing.T) {
	cfg := writeTestConfig(t, "")
	payload := writePayload(t, 512*1024)
	sent := filepath.Join(t.TempDir(), "sent.bin")

	code, stdout, stderr := captureCLI(t, "run", "--config", cfg, "--json",
		"--input", payload, "--capacity", "65536", "--timeout", "100ms", "--save-sent", sent, "sleep 1")
	if code != exitPartialTimeout {
		t.Fatalf("exit code = %d, want %d, stderr = %s", code, exitPartialTimeout, stderr)
	}
	out := decodeRunOutput(t, stdout)
	if out.Outcome != feed.OutcomePartialTimeout || out.BytesWritten != 65536 {
		t.Errorf("result = %+v", out)
	}

	got, err := os.ReadFile(sent)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != out.BytesWritten {
		t.Errorf("saved %d bytes, want %d", len(got), out.BytesWritten)
	}
}

func TestRunRejectsBadInvocations(t *testing.T) {
	cfg := writeTestConfig(t, "runs:\n  a:\n    command: cat\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", []string{"run", "--config", cfg}, "no command given"},
		{"job and command", []string{"run", "--config", cfg, "--job", "a", "cat"}, "not both"},
		{"unknown job", []string{"run", "--config", cfg, "--job", "zzz"}, "not defined"},
		{"input and data", []string{"run", "--config", cfg, "--input", "x", "--data", "y", "cat"}, "only one of"},
		{"shell operator", []string{"run", "--config", cfg, "--no-history", "--data", "x", "cat | wc"}, "Failed to start command"},
		{"missing binary", []string{"run", "--config", cfg, "--no-history", "--data", "x", "/definitely/not/here"}, "Failed to start command"},
		{"bad flag", []string{"run", "--bogus"}, "Flag error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := captureCLI(t, tt.args...)
			if code != exitFailure {
				t.Fatalf("exit code = %d, want %d", code, exitFailure)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr = %q, want %q", stderr, tt.want)
			}
		})
	}
}

func TestRunDumpsPayload(t *testing.T) {
	cfg := writeTestConfig(t, "")

	code, _, stderr := captureCLI(t, "run", "--config", cfg, "--no-history", "--dump", "4", "--data", "abcdef", "cat")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stderr, "61626364\n... 2 more bytes") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunRendersReport(t *testing.T) {
	cfg := writeTestConfig(t, "")

	code, stdout, stderr := captureCLI(t, "run", "--config", cfg, "--no-history", "--data", "abc", "cat")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	for _, want := range []string{"success", "cat", "3 B"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("report missing %q:\n%s", want, stdout)
		}
	}
}
