package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConductorHomeWithEnvVar(t *testing.T) {
	customHome := t.TempDir()
	t.Setenv("CONDUCTOR_HOME", customHome)

	home, err := GetConductorHome()
	require.NoError(t, err)
	assert.Equal(t, customHome, home)
}

func TestGetConductorHomeFallsBackToCWD(t *testing.T) {
	t.Setenv("CONDUCTOR_HOME", "")

	cwd, err := os.Getwd()
	require.NoError(t, err)

	home, err := GetConductorHome()
	require.NoError(t, err)

	info, err := os.Stat(home)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	if repoRoot, err := findConductorRepoRoot(); err == nil && repoRoot != "" {
		assert.Equal(t, filepath.Join(repoRoot, ".conductor"), home)
	} else {
		assert.Equal(t, filepath.Join(cwd, ".conductor"), home)
	}
}

func TestGetDatabasePath(t *testing.T) {
	customHome := t.TempDir()
	t.Setenv("CONDUCTOR_HOME", customHome)

	dbPath, err := GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(customHome, "db", "conductor.db"), dbPath)

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGetWorktreeBaseDir(t *testing.T) {
	customHome := t.TempDir()
	t.Setenv("CONDUCTOR_HOME", customHome)

	dir, err := GetWorktreeBaseDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(customHome, "worktrees"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
