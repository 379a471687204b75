package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Pool.Size)
	assert.Equal(t, "main", cfg.Forge.BaseBranch)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.SandboxAcquire)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pool.Size, cfg.Pool.Size)
}

func TestLoadConfigMergesFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
max_concurrency: 5
log_level: debug
pool:
  size: 7
  base_dir: /tmp/sandboxes
forge:
  auto_merge: true
  base_branch: develop
  skip_external_side_effects: true
timeouts:
  sandbox_acquire: 2m
  task: 45m
  agent: 20m
console:
  enable_color: false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Pool.Size)
	assert.Equal(t, "/tmp/sandboxes", cfg.Pool.BaseDir)
	assert.True(t, cfg.Forge.AutoMerge)
	assert.Equal(t, "develop", cfg.Forge.BaseBranch)
	assert.True(t, cfg.Forge.SkipExternalSideEffects)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.SandboxAcquire)
	assert.Equal(t, 45*time.Minute, cfg.Timeouts.Task)
	assert.Equal(t, 20*time.Minute, cfg.Timeouts.Agent)
	assert.False(t, cfg.Console.EnableColor)
}

func TestLoadConfigRejectsMalformedTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: not-a-duration\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyConsoleEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_CONSOLE_COLOR", "1")
	t.Setenv("CONDUCTOR_CONSOLE_COMPACT", "true")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Console.EnableColor)
	assert.True(t, cfg.Console.CompactMode)
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative concurrency", func(c *Config) { c.MaxConcurrency = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"negative pool size", func(c *Config) { c.Pool.Size = -1 }},
		{"empty base branch", func(c *Config) { c.Forge.BaseBranch = "  " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMergeWithFlagsOverridesNonNilValues(t *testing.T) {
	cfg := DefaultConfig()
	mc := 9
	cfg.MergeWithFlags(&mc, nil, nil, nil, nil, nil)
	assert.Equal(t, 9, cfg.MaxConcurrency)
}
