package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pipefeed configuration.
type Config struct {
	Include []string             `yaml:"include,omitempty"`
	Service ServiceConfig        `yaml:"service"`
	State   StateConfig          `yaml:"state"`
	Feed    FeedConfig           `yaml:"feed"`
	Runs    map[string]yaml.Node `yaml:"runs,omitempty"`

	// SourceFiles maps each loaded file to its parsed document. Not serialized.
	SourceFiles map[string]*yaml.Node `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines run history storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// FeedConfig tunes pipe sizing and the feed loop.
type FeedConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxChunk       int           `yaml:"max_chunk"`
	MaxPipeSize    int           `yaml:"max_pipe_size"`
	MaxCommandLine int           `yaml:"max_command_line"`
}

// ChecksumManifest is the .checksums file written by "config lock".
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/pipefeed.db",
		},
		Feed: FeedConfig{
			PollInterval:   5 * time.Millisecond,
			MaxChunk:       8 * 1024 * 1024,
			MaxPipeSize:    8 * 1024 * 1024,
			MaxCommandLine: 128 * 1024,
		},
		Runs: make(map[string]yaml.Node),
	}
}
