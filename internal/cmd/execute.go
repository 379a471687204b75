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
	"github.com/harrison/conductor/internal/planparser"
	"github.com/harrison/conductor/internal/runner"
	"github.com/harrison/conductor/internal/store"
	"github.com/spf13/cobra"
)

// NewExecuteCommand creates the execute command, which parses a plan,
// starts a new session, and drives it to completion.
func NewExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <plan-file-or-directory>",
		Short: "Parse a plan and execute it to completion",
		Long: `Parses a plan (Markdown, YAML, or a directory of numbered plan
fragments), starts a new session covering the requested batch range, and
drives it to completion: a pool of workers claims tasks, runs each inside
its own git worktree sandbox via a coding agent, and publishes the result
as a change request.

Configuration is loaded from .conductor/config.yaml if present. CLI flags
override configuration file settings.

Examples:
  conductor execute plan.md
  conductor execute docs/plans/release-1/          # numbered fragment directory
  conductor execute plan.md --batch-hi 3            # only batches 1-3
  conductor execute plan.md --workers 5 --auto-merge`,
		Args: cobra.ExactArgs(1),
		RunE: executeCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .conductor/config.yaml)")
	cmd.Flags().Int("batch-lo", 1, "First batch number to execute")
	cmd.Flags().Int("batch-hi", 0, "Last batch number to execute (0 = every batch in the plan)")
	cmd.Flags().Int("workers", 0, "Number of concurrent workers / sandboxes (0 = use config)")
	cmd.Flags().Bool("auto-merge", false, "Merge published change requests automatically")
	cmd.Flags().String("main-branch", "", "Branch sandboxes are based on and change requests target (default: config forge.base_branch)")
	cmd.Flags().String("agent-path", "claude", "Coding agent CLI binary to invoke per task")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().Bool("skip-external-side-effects", false, "Commit locally only; skip push, change-request creation, and merge (offline/test runs)")

	return cmd
}

func executeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadExecConfig(cmd)
	if err != nil {
		return err
	}

	planPath := args[0]
	var plan *planparser.Plan
	if info, statErr := os.Stat(planPath); statErr == nil && info.IsDir() {
		plan, err = planparser.ParseDirectory(planPath)
	} else {
		plan, err = planparser.ParseFile(planPath)
	}
	if err != nil {
		return fmt.Errorf("parse plan: %w", err)
	}

	batchHi, _ := cmd.Flags().GetInt("batch-hi")
	if batchHi == 0 {
		for _, b := range plan.Batches {
			if b.Number > batchHi {
				batchHi = b.Number
			}
		}
	}
	batchLo, _ := cmd.Flags().GetInt("batch-lo")

	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	log := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)

	orch := orchestrator.New(st)
	sess, err := orch.StartExecution(cmd.Context(), plan, orchestrator.StartOptions{
		PlanPath: planPath,
		BatchLo:  batchLo,
		BatchHi:  batchHi,
		Mode:     store.ModeParallel,
	})
	if err != nil {
		return fmt.Errorf("start execution: %w", err)
	}
	log.LogSessionStart(sess.ID, batchLo, batchHi, sess.TasksTotal)

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
	autoMerge, _ := cmd.Flags().GetBool("auto-merge")
	if cmd.Flags().Changed("auto-merge") {
		cfg.Forge.AutoMerge = autoMerge
	}
	mainBranch, _ := cmd.Flags().GetString("main-branch")
	if mainBranch == "" {
		mainBranch = cfg.Forge.BaseBranch
	}
	agentPath, _ := cmd.Flags().GetString("agent-path")

	skipExternal, _ := cmd.Flags().GetBool("skip-external-side-effects")
	if cmd.Flags().Changed("skip-external-side-effects") {
		cfg.Forge.SkipExternalSideEffects = skipExternal
	}

	repoRoot, err := findRepoRoot()
	if err != nil {
		return fmt.Errorf("resolve main repo path: %w", err)
	}

	r := runner.New(runner.Config{
		NumWorkers:              workers,
		WorktreeBaseDir:         worktreeBase,
		MainRepoPath:            repoRoot,
		MainBranch:              mainBranch,
		AgentPath:               agentPath,
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

func loadExecConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromRootWithBuildTime(GetConductorRepoRoot())
}

func findRepoRoot() (string, error) {
	if root := GetConductorRepoRoot(); root != "" {
		return root, nil
	}
	return os.Getwd()
}
