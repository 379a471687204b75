package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetConductorHome returns the conductor home directory
// Priority order:
//  1. CONDUCTOR_HOME environment variable (if set)
//  2. Conductor repository root (detected by finding go.mod)
//  3. Current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetConductorHome() (string, error) {
	if home := os.Getenv("CONDUCTOR_HOME"); home != "" {
		return home, nil
	}

	if repoRoot, err := findConductorRepoRoot(); err == nil && repoRoot != "" {
		conductorHome := filepath.Join(repoRoot, ".conductor")
		if err := os.MkdirAll(conductorHome, 0755); err != nil {
			return "", fmt.Errorf("create conductor home directory: %w", err)
		}
		return conductorHome, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	conductorHome := filepath.Join(cwd, ".conductor")
	if err := os.MkdirAll(conductorHome, 0755); err != nil {
		return "", fmt.Errorf("create conductor home directory: %w", err)
	}

	return conductorHome, nil
}

// findConductorRepoRoot finds the conductor repository root by looking for
// go.mod containing the conductor module path, or a .conductor-root marker
func findConductorRepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	current := cwd
	for {
		markerPath := filepath.Join(current, ".conductor-root")
		if _, err := os.Stat(markerPath); err == nil {
			return current, nil
		}

		goModPath := filepath.Join(current, "go.mod")
		if data, err := os.ReadFile(goModPath); err == nil {
			if strings.Contains(string(data), "github.com/harrison/conductor") {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("conductor repository root not found (looking for .conductor-root or go.mod with github.com/harrison/conductor)")
}

// GetDatabasePath returns the absolute path to the session/task SQLite
// database: $CONDUCTOR_HOME/db/conductor.db
func GetDatabasePath() (string, error) {
	home, err := GetConductorHome()
	if err != nil {
		return "", err
	}

	dbDir := filepath.Join(home, "db")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}

	return filepath.Join(dbDir, "conductor.db"), nil
}

// GetWorktreeBaseDir returns the base directory holding the worktree pool's
// sandbox checkouts: $CONDUCTOR_HOME/worktrees
func GetWorktreeBaseDir() (string, error) {
	home, err := GetConductorHome()
	if err != nil {
		return "", err
	}

	worktreeDir := filepath.Join(home, "worktrees")
	if err := os.MkdirAll(worktreeDir, 0755); err != nil {
		return "", fmt.Errorf("create worktree base directory: %w", err)
	}

	return worktreeDir, nil
}
