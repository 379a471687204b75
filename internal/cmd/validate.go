package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/harrison/conductor/internal/planparser"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-file-or-directory>",
		Short: "Parse a plan file or directory and report structural errors",
		Long: `Parses a plan (Markdown or YAML, or a directory of numbered
plan fragments) and reports:
  - malformed batch/task sections
  - empty plans
  - the resulting batch/task count, for a quick sanity check

It never touches the database or a worktree; this is parse-only.

Exit code: 0 if valid, 1 if the plan fails to parse.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlanPath(args[0], cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

func validatePlanPath(path string, output io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(output, "✗ failed to access %s: %v\n", path, err)
		return fmt.Errorf("access path: %w", err)
	}

	var plan *planparser.Plan
	if info.IsDir() {
		plan, err = planparser.ParseDirectory(path)
	} else {
		plan, err = planparser.ParseFile(path)
	}
	if err != nil {
		fmt.Fprintf(output, "✗ failed to parse %s\n  error: %v\n", path, err)
		return fmt.Errorf("parse plan: %w", err)
	}

	fmt.Fprintf(output, "✓ parsed %d batch(es), %d task(s) from %s\n", len(plan.Batches), plan.TotalTasks(), path)
	for _, b := range plan.Batches {
		fmt.Fprintf(output, "  batch %d: %s (%d task(s), deps=%v)\n", b.Number, b.Title, len(b.Tasks), b.Dependencies)
	}
	fmt.Fprintf(output, "\n✓ plan is valid\n")
	return nil
}
