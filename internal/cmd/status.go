package cmd

import (
	"fmt"
	"io"

	"github.com/harrison/conductor/internal/config"
	"github.com/harrison/conductor/internal/orchestrator"
	"github.com/harrison/conductor/internal/store"
	"github.com/spf13/cobra"
)

// NewStatusCommand reports a session's current progress.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Report a session's progress",
		Long: `Prints a session's status, current batch, task completion count,
and any open change requests awaiting human review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCommand(cmd, args[0])
		},
		SilenceUsage: true,
	}
	return cmd
}

func statusCommand(cmd *cobra.Command, sessionID string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	orch := orchestrator.New(st)
	snap, err := orch.SessionStatus(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("load session status: %w", err)
	}

	printStatus(cmd.OutOrStdout(), snap)
	return nil
}

func printStatus(w io.Writer, snap *store.SessionSnapshot) {
	fmt.Fprintf(w, "session %s: %s\n", snap.ID, snap.Status)
	if snap.CurrentBatch != nil {
		fmt.Fprintf(w, "  current batch: %d\n", *snap.CurrentBatch)
	}
	fmt.Fprintf(w, "  tasks: %d/%d complete\n", snap.TasksCompleted, snap.TasksTotal)
	fmt.Fprintf(w, "  started: %s\n", snap.StartedAt.Format("2006-01-02 15:04:05"))
	if snap.CompletedAt != nil {
		fmt.Fprintf(w, "  completed: %s\n", snap.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if len(snap.OpenChanges) > 0 {
		fmt.Fprintf(w, "  open changes:\n")
		for _, oc := range snap.OpenChanges {
			fmt.Fprintf(w, "    task %s: #%d %s\n", oc.TaskNumber, oc.ChangeNumber, oc.ChangeURL)
		}
	}
}

func openStore() (*store.Store, error) {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	return store.NewStore(dbPath)
}
