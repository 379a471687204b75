package cmd

import (
	"github.com/harrison/conductor/internal/config"
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// ConductorRepoRoot is the path to the conductor repository root
// Injected at build time via -ldflags
var ConductorRepoRoot = ""

// GetConductorRepoRoot returns the conductor repository root path
// This is injected at build time and is guaranteed to be correct
func GetConductorRepoRoot() string {
	return ConductorRepoRoot
}

// NewRootCommand creates and returns the root cobra command for conductor
func NewRootCommand() *cobra.Command {
	// Initialize config with build-time injected repository root
	// This ensures database location is always correctly resolved
	config.SetBuildTimeRepoRoot(ConductorRepoRoot)

	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Autonomous code-change execution engine",
		Long: `Conductor executes implementation plans by claiming tasks onto a
fleet of worker goroutines, each driving a coding agent CLI inside its own
git worktree sandbox and publishing the result as a change request.

It parses plan files (Markdown or YAML), computes the batch dependency
graph, and drives batches to completion one ready batch at a time.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewExecuteCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewResumeCommand())
	cmd.AddCommand(NewValidateCommand())

	return cmd
}
