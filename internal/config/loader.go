package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment overrides (PIPEFEED_LOG_LEVEL, ...).
const EnvPrefix = "PIPEFEED"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNotFound is returned by Discover when no config file exists.
var ErrNotFound = errors.New("no config found")

// Load reads a config file, merges its includes, applies defaults and
// environment overrides, verifies .checksums when present and validates.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, node, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = map[string]*yaml.Node{absPath: node}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	applyConfigDefaults(cfg)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := verifyAllConfigHashes(paths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath, or returns Defaults with environment
// overrides when configPath is empty.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	cfg := Defaults()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds a config file. Priority: $PIPEFEED_CONFIG,
// ~/.config/pipefeed/config.yaml, ./pipefeed.yaml.
func Discover() (string, error) {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(homeDir, ".config", "pipefeed", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if _, err := os.Stat("pipefeed.yaml"); err == nil {
		return "pipefeed.yaml", nil
	}
	return "", fmt.Errorf("%w (checked: $%s_CONFIG, ~/.config/pipefeed/config.yaml, ./pipefeed.yaml)", ErrNotFound, EnvPrefix)
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(includePath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, node, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		cfg.SourceFiles[absPath] = node
		deepMergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile parses a single file after ${VAR} interpolation.
func loadConfigFile(path string) (*Config, *yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	interpolated := []byte(interpolateEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(interpolated, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(interpolated, &node); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, &node, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.Feed.PollInterval != 0 {
		dst.Feed.PollInterval = src.Feed.PollInterval
	}
	if src.Feed.MaxChunk != 0 {
		dst.Feed.MaxChunk = src.Feed.MaxChunk
	}
	if src.Feed.MaxPipeSize != 0 {
		dst.Feed.MaxPipeSize = src.Feed.MaxPipeSize
	}
	if src.Feed.MaxCommandLine != 0 {
		dst.Feed.MaxCommandLine = src.Feed.MaxCommandLine
	}

	// Runs are additive; a later file overrides a run of the same name.
	if len(src.Runs) > 0 {
		if dst.Runs == nil {
			dst.Runs = make(map[string]yaml.Node)
		}
		for name, run := range src.Runs {
			dst.Runs[name] = run
		}
	}
}

func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No .checksums in this directory: nothing to verify.
			continue
		}
		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: pipefeed config lock --config %s", basename, dir, path)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: pipefeed config lock --config %s", path, err, path)
			}
		}
	}
	return nil
}

// applyConfigDefaults fills every unset field from Defaults.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.Feed.PollInterval == 0 {
		cfg.Feed.PollInterval = defaults.Feed.PollInterval
	}
	if cfg.Feed.MaxChunk == 0 {
		cfg.Feed.MaxChunk = defaults.Feed.MaxChunk
	}
	if cfg.Feed.MaxPipeSize == 0 {
		cfg.Feed.MaxPipeSize = defaults.Feed.MaxPipeSize
	}
	if cfg.Feed.MaxCommandLine == 0 {
		cfg.Feed.MaxCommandLine = defaults.Feed.MaxCommandLine
	}
	if cfg.Runs == nil {
		cfg.Runs = make(map[string]yaml.Node)
	}
}

// envOverrides mirrors the settings that may come from PIPEFEED_* variables.
type envOverrides struct {
	LogLevel  string `split_words:"true"`
	LogFormat string `split_words:"true"`
	StatePath string `split_words:"true"`
}

// applyEnvOverrides lets PIPEFEED_LOG_LEVEL, PIPEFEED_LOG_FORMAT and
// PIPEFEED_STATE_PATH win over the file.
func applyEnvOverrides(cfg *Config) error {
	env := envOverrides{
		LogLevel:  cfg.Service.LogLevel,
		LogFormat: cfg.Service.LogFormat,
		StatePath: cfg.State.Path,
	}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	cfg.Service.LogLevel = env.LogLevel
	cfg.Service.LogFormat = env.LogFormat
	cfg.State.Path = env.StatePath
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if m := envVarPattern.FindStringSubmatch(cfg.State.Path); m != nil {
		return fmt.Errorf("state.path: environment variable ${%s} is not set", m[1])
	}

	if cfg.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed.poll_interval must be positive")
	}
	if cfg.Feed.MaxChunk <= 0 {
		return fmt.Errorf("feed.max_chunk must be positive")
	}
	if cfg.Feed.MaxPipeSize < os.Getpagesize() {
		return fmt.Errorf("feed.max_pipe_size must be at least one page (%d bytes)", os.Getpagesize())
	}
	if cfg.Feed.MaxCommandLine <= 0 {
		return fmt.Errorf("feed.max_command_line must be positive")
	}

	for _, name := range cfg.RunNames() {
		if _, err := cfg.Run(name, ""); err != nil {
			return err
		}
	}
	return nil
}
