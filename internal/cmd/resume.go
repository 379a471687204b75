package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrison/conductor/internal/config"
	"github.com/harrison/conductor/internal/logger"
	"github.com/harrison/conductor/internal/orchestrator"
	"github.com/harrison/conductor/internal/runner"
	"github.com/harrison/conductor/internal/store"
	"github.com/spf13/cobra"
)

// NewResumeCommand restarts a paused or interrupted session's worker fleet
// against its already-persisted batch/task records.
func NewResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused or interrupted session",
		Long: `Transitions a session back to executing and restarts its worker
fleet, claiming whatever tasks remain pending against a fresh worktree
sandbox pool. Tasks already completed or published are left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeCommand(cmd, args[0])
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .conductor/config.yaml)")
	cmd.Flags().Int("workers", 0, "Number of concurrent workers / sandboxes (0 = use config)")

	return cmd
}

func resumeCommand(cmd *cobra.Command, sessionID string) error {
	cfg, err := loadExecConfig(cmd)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	log := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)

	orch := orchestrator.New(st)
	sess, err := orch.ResumeSession(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	log.Infof("resuming session %s (%d/%d tasks already complete)", sess.ID, sess.TasksCompleted, sess.TasksTotal)

	worktreeBase := cfg.Pool.BaseDir
	if worktreeBase == "" {
		worktreeBase, err = config.GetWorktreeBaseDir()
		if err != nil {
			return fmt.Errorf("resolve worktree base dir: %w", err)
		}
	}

	workers, _ := cmd.Flags().GetInt("workers")
	if workers == 0 {
		workers = cfg.Pool.Size
	}

	repoRoot, err := findRepoRoot()
	if err != nil {
		return fmt.Errorf("resolve main repo path: %w", err)
	}

	r := runner.New(runner.Config{
		NumWorkers:              workers,
		WorktreeBaseDir:         worktreeBase,
		MainRepoPath:            repoRoot,
		MainBranch:              cfg.Forge.BaseBranch,
		AgentPath:               "claude",
		AutoMerge:               cfg.Forge.AutoMerge,
		SkipExternalSideEffects: cfg.Forge.SkipExternalSideEffects,
	}, st, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Initialize(ctx, sess.ID); err != nil {
		return fmt.Errorf("initialize runner: %w", err)
	}
	defer r.Shutdown(context.Background())

	runErr := r.Run(ctx, sess.ID)

	final, statusErr := orch.SessionStatus(ctx, sess.ID)
	if statusErr == nil {
		log.LogSessionComplete(sess.ID, final.TasksCompleted, final.TasksTotal, final.Status == store.SessionFailed)
	}
	return runErr
}
