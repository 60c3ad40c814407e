package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/mattjoyce/pipefeed/internal/fsutil"
)

// RunConf is a named run definition from the runs section.
type RunConf struct {
	Name string
	// Command is a shell-quoted command line. Args, when set, wins.
	Command string
	Args    []string

	// Exactly one payload source is set.
	Payload     []byte
	PayloadFile string

	Timeout       time.Duration
	Capacity      int
	RetainProcess bool
}

// RunNames returns the configured run names in sorted order.
func (c *Config) RunNames() []string {
	names := make([]string, 0, len(c.Runs))
	for name := range c.Runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run decodes the named run definition. A relative payload_file resolves
// against baseDir.
func (c *Config) Run(name, baseDir string) (*RunConf, error) {
	node, ok := c.Runs[name]
	if !ok {
		return nil, fmt.Errorf("run %q is not defined", name)
	}
	opts, err := NewOptions(&node)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", name, err)
	}
	rc, err := decodeRun(name, opts)
	if err != nil {
		return nil, err
	}
	if rc.PayloadFile != "" && !filepath.IsAbs(rc.PayloadFile) && baseDir != "" {
		rc.PayloadFile = filepath.Join(baseDir, rc.PayloadFile)
	}
	return rc, nil
}

var knownRunKeys = map[string]bool{
	"command": true, "args": true, "payload": true, "payload_bytes": true,
	"payload_file": true, "timeout": true, "capacity": true, "retain_process": true,
}

func decodeRun(name string, opts *Options) (*RunConf, error) {
	rc := &RunConf{Name: name}
	wrong := func(key, want string) error {
		return fmt.Errorf("run %q: %s must be %s", name, key, want)
	}

	for _, key := range opts.Keys() {
		if !knownRunKeys[key] {
			return nil, fmt.Errorf("run %q: unknown key %q", name, key)
		}
	}

	var p Presence
	if rc.Command, p = opts.String("command"); p == WrongType {
		return nil, wrong("command", "a string")
	}
	if rc.Args, p = opts.StringArray("args"); p == WrongType {
		return nil, wrong("args", "a list of strings")
	}
	if rc.Command == "" && len(rc.Args) == 0 {
		return nil, fmt.Errorf("run %q: command or args is required", name)
	}

	sources := 0
	if s, p := opts.String("payload"); p == WrongType {
		return nil, wrong("payload", "a string")
	} else if p == Present {
		rc.Payload = []byte(s)
		sources++
	}
	if b, p := opts.Bytes("payload_bytes"); p == WrongType {
		return nil, wrong("payload_bytes", "a !!binary value")
	} else if p == Present {
		rc.Payload = b
		sources++
	}
	if rc.PayloadFile, p = opts.String("payload_file"); p == WrongType {
		return nil, wrong("payload_file", "a string")
	} else if p == Present {
		sources++
	}
	if sources > 1 {
		return nil, fmt.Errorf("run %q: payload, payload_bytes and payload_file are mutually exclusive", name)
	}

	if rc.Timeout, p = opts.Duration("timeout"); p == WrongType {
		return nil, wrong("timeout", "a duration such as \"2s\"")
	}
	if rc.Timeout < 0 {
		return nil, fmt.Errorf("run %q: timeout must not be negative", name)
	}
	capacity, p := opts.Uint64("capacity")
	if p == WrongType {
		return nil, wrong("capacity", "a non-negative integer")
	}
	rc.Capacity = int(capacity)
	if rc.RetainProcess, p = opts.Bool("retain_process"); p == WrongType {
		return nil, wrong("retain_process", "a boolean")
	}
	return rc, nil
}

// LoadPayload returns the inline payload or reads payload_file.
func (rc *RunConf) LoadPayload() ([]byte, error) {
	if rc.PayloadFile == "" {
		return rc.Payload, nil
	}
	data, err := fsutil.ReadFile(rc.PayloadFile)
	if err != nil {
		return nil, fmt.Errorf("run %q: read payload: %w", rc.Name, err)
	}
	return data, nil
}
