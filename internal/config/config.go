// Package config loads and validates the conductor's YAML configuration,
// merging file values with environment overrides and CLI flags the way the
// teacher's config layer does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConsoleConfig controls terminal output formatting and features
type ConsoleConfig struct {
	// EnableColor enables colored output
	EnableColor bool `yaml:"enable_color"`

	// EnableProgressBar enables progress bar display
	EnableProgressBar bool `yaml:"enable_progress_bar"`

	// EnableTaskDetails enables detailed task information
	EnableTaskDetails bool `yaml:"enable_task_details"`

	// CompactMode enables compact output format
	CompactMode bool `yaml:"compact_mode"`

	// ShowAgentNames shows agent names in output
	ShowAgentNames bool `yaml:"show_agent_names"`

	// ShowFileCounts shows file counts in output
	ShowFileCounts bool `yaml:"show_file_counts"`

	// ShowDurations shows task durations in output
	ShowDurations bool `yaml:"show_durations"`
}

// TimeoutsConfig holds per-stage task timeouts, loaded from YAML and
// checked by Validate. The runner does not pass these values on: workers
// use execworker.Config's own defaults (5-minute sandbox acquire, 30-minute
// task) and the agent driver a fixed 30-minute agent timeout.
type TimeoutsConfig struct {
	// SandboxAcquire is how long a worker waits for a free sandbox before
	// failing the task with KindExecSandboxTimeout.
	SandboxAcquire time.Duration `yaml:"sandbox_acquire"`

	// Task is the wall-clock budget for one task's full pipeline
	// (agent invocation, commit, push, PR creation).
	Task time.Duration `yaml:"task"`

	// Agent bounds a single coding-agent CLI invocation.
	Agent time.Duration `yaml:"agent"`
}

// PoolConfig sizes the worktree sandbox pool and the worker fleet.
type PoolConfig struct {
	// Size is the number of sandboxes (and thus the worker concurrency
	// ceiling) maintained for a session.
	Size int `yaml:"size"`

	// BaseDir is where sandbox checkouts live; defaults under
	// $CONDUCTOR_HOME/worktrees when empty.
	BaseDir string `yaml:"base_dir"`
}

// ForgeConfig configures how published changes are reviewed and merged.
type ForgeConfig struct {
	// AutoMerge merges a change request immediately after it is opened,
	// rather than leaving it for human review.
	AutoMerge bool `yaml:"auto_merge"`

	// BaseBranch is the branch change requests target; defaults to "main".
	BaseBranch string `yaml:"base_branch"`

	// SkipExternalSideEffects disables pushing branches, opening change
	// requests, and merging — local commits only. For offline and test
	// runs (spec §4.4 skip_external_side_effects).
	SkipExternalSideEffects bool `yaml:"skip_external_side_effects"`
}

// Config represents conductor configuration options
type Config struct {
	// MaxConcurrency is the maximum number of concurrent tasks (0 = unlimited)
	MaxConcurrency int `yaml:"max_concurrency"`

	// Timeout is the maximum execution time for a session
	Timeout time.Duration `yaml:"timeout"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`

	// DryRun enables validation-only mode without execution
	DryRun bool `yaml:"dry_run"`

	// SkipCompleted skips tasks that have already been completed
	SkipCompleted bool `yaml:"skip_completed"`

	// RetryFailed retries tasks that failed
	RetryFailed bool `yaml:"retry_failed"`

	// Console contains console output configuration
	Console ConsoleConfig `yaml:"console"`

	// Timeouts contains the per-stage timeout configuration
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// Pool contains worktree sandbox pool configuration
	Pool PoolConfig `yaml:"pool"`

	// Forge contains code-forge publishing configuration
	Forge ForgeConfig `yaml:"forge"`
}

// DefaultConsoleConfig returns ConsoleConfig with sensible default values
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		EnableColor:       true,
		EnableProgressBar: true,
		EnableTaskDetails: true,
		CompactMode:       false,
		ShowAgentNames:    true,
		ShowFileCounts:    true,
		ShowDurations:     true,
	}
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 0,              // Unlimited
		Timeout:        10 * time.Hour, // 10 hours
		LogLevel:       "info",
		LogDir:         ".conductor/logs",
		DryRun:         false,
		SkipCompleted:  false,
		RetryFailed:    false,
		Console:        DefaultConsoleConfig(),
		Timeouts: TimeoutsConfig{
			SandboxAcquire: 5 * time.Minute,
			Task:           30 * time.Minute,
			Agent:          30 * time.Minute,
		},
		Pool: PoolConfig{
			Size: 3,
		},
		Forge: ForgeConfig{
			AutoMerge:  false,
			BaseBranch: "main",
		},
	}
}

// applyConsoleEnvOverrides applies environment variable overrides to console configuration
// Environment variables take precedence over config file values
// Recognized variables:
//   - CONDUCTOR_CONSOLE_COLOR (enable_color)
//   - CONDUCTOR_CONSOLE_PROGRESS_BAR (enable_progress_bar)
//   - CONDUCTOR_CONSOLE_TASK_DETAILS (enable_task_details)
//   - CONDUCTOR_CONSOLE_COMPACT (compact_mode)
//   - CONDUCTOR_CONSOLE_AGENT_NAMES (show_agent_names)
//   - CONDUCTOR_CONSOLE_FILE_COUNTS (show_file_counts)
//   - CONDUCTOR_CONSOLE_DURATIONS (show_durations)
//
// Only "true" (lowercase) or "1" are recognized as true; all other values are false
func applyConsoleEnvOverrides(cfg *ConsoleConfig) {
	if val := os.Getenv("CONDUCTOR_CONSOLE_COLOR"); val != "" {
		cfg.EnableColor = val == "true" || val == "1"
	}
	if val := os.Getenv("CONDUCTOR_CONSOLE_PROGRESS_BAR"); val != "" {
		cfg.EnableProgressBar = val == "true" || val == "1"
	}
	if val := os.Getenv("CONDUCTOR_CONSOLE_TASK_DETAILS"); val != "" {
		cfg.EnableTaskDetails = val == "true" || val == "1"
	}
	if val := os.Getenv("CONDUCTOR_CONSOLE_COMPACT"); val != "" {
		cfg.CompactMode = val == "true" || val == "1"
	}
	if val := os.Getenv("CONDUCTOR_CONSOLE_AGENT_NAMES"); val != "" {
		cfg.ShowAgentNames = val == "true" || val == "1"
	}
	if val := os.Getenv("CONDUCTOR_CONSOLE_FILE_COUNTS"); val != "" {
		cfg.ShowFileCounts = val == "true" || val == "1"
	}
	if val := os.Getenv("CONDUCTOR_CONSOLE_DURATIONS"); val != "" {
		cfg.ShowDurations = val == "true" || val == "1"
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyConsoleEnvOverrides(&cfg.Console)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	type yamlConfig struct {
		MaxConcurrency int            `yaml:"max_concurrency"`
		Timeout        string         `yaml:"timeout"`
		LogLevel       string         `yaml:"log_level"`
		LogDir         string         `yaml:"log_dir"`
		DryRun         bool           `yaml:"dry_run"`
		SkipCompleted  bool           `yaml:"skip_completed"`
		RetryFailed    bool           `yaml:"retry_failed"`
		Console        ConsoleConfig  `yaml:"console"`
		Timeouts       struct {
			SandboxAcquire string `yaml:"sandbox_acquire"`
			Task           string `yaml:"task"`
			Agent          string `yaml:"agent"`
		} `yaml:"timeouts"`
		Pool  PoolConfig  `yaml:"pool"`
		Forge ForgeConfig `yaml:"forge"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.MaxConcurrency != 0 {
		cfg.MaxConcurrency = yamlCfg.MaxConcurrency
	}
	if yamlCfg.Timeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", yamlCfg.Timeout, err)
		}
		cfg.Timeout = timeout
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.DryRun {
		cfg.DryRun = yamlCfg.DryRun
	}
	if yamlCfg.SkipCompleted {
		cfg.SkipCompleted = yamlCfg.SkipCompleted
	}
	if yamlCfg.RetryFailed {
		cfg.RetryFailed = yamlCfg.RetryFailed
	}
	if yamlCfg.Pool.Size != 0 {
		cfg.Pool.Size = yamlCfg.Pool.Size
	}
	if yamlCfg.Pool.BaseDir != "" {
		cfg.Pool.BaseDir = yamlCfg.Pool.BaseDir
	}
	if yamlCfg.Forge.BaseBranch != "" {
		cfg.Forge.BaseBranch = yamlCfg.Forge.BaseBranch
	}

	// Use a raw map to detect section presence the way the teacher's loader
	// does, so a YAML-absent boolean doesn't silently override a default.
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if consoleSection, exists := rawMap["console"]; exists && consoleSection != nil {
			console := yamlCfg.Console
			consoleMap, _ := consoleSection.(map[string]interface{})

			if _, exists := consoleMap["enable_color"]; exists {
				cfg.Console.EnableColor = console.EnableColor
			}
			if _, exists := consoleMap["enable_progress_bar"]; exists {
				cfg.Console.EnableProgressBar = console.EnableProgressBar
			}
			if _, exists := consoleMap["enable_task_details"]; exists {
				cfg.Console.EnableTaskDetails = console.EnableTaskDetails
			}
			if _, exists := consoleMap["compact_mode"]; exists {
				cfg.Console.CompactMode = console.CompactMode
			}
			if _, exists := consoleMap["show_agent_names"]; exists {
				cfg.Console.ShowAgentNames = console.ShowAgentNames
			}
			if _, exists := consoleMap["show_file_counts"]; exists {
				cfg.Console.ShowFileCounts = console.ShowFileCounts
			}
			if _, exists := consoleMap["show_durations"]; exists {
				cfg.Console.ShowDurations = console.ShowDurations
			}
		}

		if timeoutsSection, exists := rawMap["timeouts"]; exists && timeoutsSection != nil {
			timeoutsMap, _ := timeoutsSection.(map[string]interface{})

			if _, exists := timeoutsMap["sandbox_acquire"]; exists && yamlCfg.Timeouts.SandboxAcquire != "" {
				d, err := time.ParseDuration(yamlCfg.Timeouts.SandboxAcquire)
				if err != nil {
					return nil, fmt.Errorf("invalid timeouts.sandbox_acquire %q: %w", yamlCfg.Timeouts.SandboxAcquire, err)
				}
				cfg.Timeouts.SandboxAcquire = d
			}
			if _, exists := timeoutsMap["task"]; exists && yamlCfg.Timeouts.Task != "" {
				d, err := time.ParseDuration(yamlCfg.Timeouts.Task)
				if err != nil {
					return nil, fmt.Errorf("invalid timeouts.task %q: %w", yamlCfg.Timeouts.Task, err)
				}
				cfg.Timeouts.Task = d
			}
			if _, exists := timeoutsMap["agent"]; exists && yamlCfg.Timeouts.Agent != "" {
				d, err := time.ParseDuration(yamlCfg.Timeouts.Agent)
				if err != nil {
					return nil, fmt.Errorf("invalid timeouts.agent %q: %w", yamlCfg.Timeouts.Agent, err)
				}
				cfg.Timeouts.Agent = d
			}
		}

		if forgeSection, exists := rawMap["forge"]; exists && forgeSection != nil {
			forgeMap, _ := forgeSection.(map[string]interface{})
			if _, exists := forgeMap["auto_merge"]; exists {
				cfg.Forge.AutoMerge = yamlCfg.Forge.AutoMerge
			}
			if _, exists := forgeMap["skip_external_side_effects"]; exists {
				cfg.Forge.SkipExternalSideEffects = yamlCfg.Forge.SkipExternalSideEffects
			}
		}
	}

	applyConsoleEnvOverrides(&cfg.Console)

	return cfg, nil
}

// buildTimeRepoRoot is injected at build time via -ldflags
// -X github.com/harrison/conductor/internal/config.buildTimeRepoRoot=<path>.
var buildTimeRepoRoot string

// SetBuildTimeRepoRoot overrides the build-time injected repo root; used by
// tests that can't rely on -ldflags.
func SetBuildTimeRepoRoot(root string) {
	buildTimeRepoRoot = root
}

// LoadConfigFromRootWithBuildTime loads configuration from conductor repo root
// This is the testable version that accepts the build-time injected root
// Priority order:
//  1. Config at {root}/.conductor/config.yaml
//  2. Default configuration
//
// Returns error if root is empty
func LoadConfigFromRootWithBuildTime(buildTimeRoot string) (*Config, error) {
	if buildTimeRoot == "" {
		return nil, fmt.Errorf("conductor repo root not configured: rebuild with conductor repo path injected")
	}

	configPath := filepath.Join(buildTimeRoot, ".conductor", "config.yaml")
	return LoadConfig(configPath)
}

// LoadConfigFromDir loads configuration from .conductor/config.yaml in the conductor repo root
// Uses the build-time injected root (set via SetBuildTimeRepoRoot)
// The dir parameter is IGNORED - kept for backward compatibility only
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfigFromRootWithBuildTime(buildTimeRepoRoot)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(maxConcurrency *int, timeout *time.Duration, logDir *string, dryRun *bool, skipCompleted *bool, retryFailed *bool) {
	if maxConcurrency != nil {
		c.MaxConcurrency = *maxConcurrency
	}
	if timeout != nil {
		c.Timeout = *timeout
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if dryRun != nil {
		c.DryRun = *dryRun
	}
	if skipCompleted != nil {
		c.SkipCompleted = *skipCompleted
	}
	if retryFailed != nil {
		c.RetryFailed = *retryFailed
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be >= 0, got %d", c.MaxConcurrency)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}

	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must be >= 0, got %d", c.Pool.Size)
	}
	if c.Timeouts.SandboxAcquire < 0 {
		return fmt.Errorf("timeouts.sandbox_acquire must be >= 0, got %v", c.Timeouts.SandboxAcquire)
	}
	if c.Timeouts.Task < 0 {
		return fmt.Errorf("timeouts.task must be >= 0, got %v", c.Timeouts.Task)
	}
	if c.Timeouts.Agent < 0 {
		return fmt.Errorf("timeouts.agent must be >= 0, got %v", c.Timeouts.Agent)
	}
	if strings.TrimSpace(c.Forge.BaseBranch) == "" {
		return fmt.Errorf("forge.base_branch cannot be empty")
	}

	return nil
}
