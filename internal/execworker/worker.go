// Package execworker runs the claim/execute/release loop that turns pending
// tasks into published changes. Each Worker polls internal/store for a task,
// borrows a sandbox from internal/worktree, drives it through
// internal/agentdriver, and always returns the sandbox to the pool whether
// the task succeeded or not.
package execworker

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/conductor/internal/agentdriver"
	"github.com/harrison/conductor/internal/execerrors"
	"github.com/harrison/conductor/internal/store"
	"github.com/harrison/conductor/internal/worktree"
)

// Logger is the subset of internal/logger's ConsoleLogger interface a
// worker needs; satisfied directly by *logger.ConsoleLogger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Config configures a Worker.
type Config struct {
	ID                    string
	SessionID             string
	SandboxAcquireTimeout time.Duration // default 5 minutes
	TaskTimeout           time.Duration // default 30 minutes
	PollInterval          time.Duration // default 2 seconds
}

// Worker repeatedly claims and executes tasks for one session until the
// session reaches a terminal state or Stop is called.
type Worker struct {
	cfg     Config
	store   *store.Store
	pool    *worktree.Pool
	driver  *agentdriver.Driver
	log     Logger
	running bool
}

// NewWorker constructs a Worker bound to a store, sandbox pool, and driver.
func NewWorker(cfg Config, st *store.Store, pool *worktree.Pool, driver *agentdriver.Driver, log Logger) *Worker {
	if cfg.SandboxAcquireTimeout == 0 {
		cfg.SandboxAcquireTimeout = 5 * time.Minute
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 30 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Worker{cfg: cfg, store: st, pool: pool, driver: driver, log: log}
}

// Run processes tasks until the session is done or ctx is cancelled. It
// never returns an error for an individual task failure — those are
// recorded on the task row — only for conditions that make continuing
// pointless (a cancelled context, or a fatal store error).
func (w *Worker) Run(ctx context.Context) error {
	w.running = true
	w.log.Infof("[%s] started for session %s", w.cfg.ID, w.cfg.SessionID)

	for w.running {
		sess, err := w.store.GetSession(ctx, w.cfg.SessionID)
		if err != nil {
			return execerrors.Wrap(execerrors.KindSessionFatal, "load session", err)
		}
		if isTerminalSession(sess.Status) {
			w.log.Infof("[%s] session %s is done, shutting down", w.cfg.ID, w.cfg.SessionID)
			return nil
		}

		task, err := w.store.ClaimTask(ctx, w.cfg.SessionID)
		if err == store.ErrLostRace {
			continue
		}
		if err != nil {
			return execerrors.Wrap(execerrors.KindSessionFatal, "claim task", err)
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.executeTask(ctx, task)
	}
	return nil
}

// Stop requests the worker loop to exit after its current task.
func (w *Worker) Stop() { w.running = false }

func (w *Worker) executeTask(ctx context.Context, task *store.Task) {
	w.log.Infof("[%s] executing task %s (%s)", w.cfg.ID, task.TaskNumber, task.ID)

	sb, err := w.pool.Acquire(ctx, task.ID, w.cfg.SandboxAcquireTimeout)
	if err != nil {
		w.failTask(ctx, task.ID, execerrors.Wrap(execerrors.KindExecSandboxTimeout,
			fmt.Sprintf("failed to acquire sandbox within %s", w.cfg.SandboxAcquireTimeout), err))
		return
	}
	defer func() {
		if relErr := w.pool.Release(ctx, sb); relErr != nil {
			w.log.Warnf("[%s] sandbox %s release failed: %v", w.cfg.ID, sb.ID, relErr)
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	batchNumber := 0
	if batch, err := w.store.GetBatch(ctx, task.BatchID); err != nil {
		w.log.Warnf("[%s] failed to load batch %s for task %s: %v", w.cfg.ID, task.BatchID, task.ID, err)
	} else {
		batchNumber = batch.BatchNumber
	}

	driverTask := agentdriver.Task{
		Number:            task.TaskNumber,
		Title:             task.Title,
		BatchNumber:       batchNumber,
		Implementation:    task.Extra.ImplementationText,
		Files:             task.Extra.Files,
		VerificationSteps: task.Extra.VerificationSteps,
	}

	result, err := w.driver.Run(taskCtx, sb.Path, sb.Branch, driverTask)
	if taskCtx.Err() == context.DeadlineExceeded {
		w.failTask(ctx, task.ID, execerrors.New(execerrors.KindExecTaskTimeout,
			fmt.Sprintf("task timed out after %s", w.cfg.TaskTimeout)))
		return
	}
	if err != nil {
		w.failTask(ctx, task.ID, err)
		return
	}

	markErr := w.store.MarkTaskResult(ctx, task.ID, store.TaskResult{
		Success:      result.Success,
		Merged:       result.Merged,
		BranchName:   result.BranchName,
		ChangeNumber: nonZeroPtr(result.ChangeNumber),
		ChangeURL:    result.ChangeURL,
		Commits:      result.Commits,
	})
	if markErr != nil {
		w.log.Warnf("[%s] failed to record task result for %s: %v", w.cfg.ID, task.ID, markErr)
		return
	}
	w.log.Infof("[%s] task %s completed: success=%v merged=%v", w.cfg.ID, task.TaskNumber, result.Success, result.Merged)
}

func (w *Worker) failTask(ctx context.Context, taskID string, cause error) {
	w.log.Warnf("[%s] task %s failed: %v", w.cfg.ID, taskID, cause)
	if err := w.store.MarkTaskResult(ctx, taskID, store.TaskResult{
		Success: false,
		Error:   cause.Error(),
	}); err != nil {
		w.log.Warnf("[%s] failed to record failure for %s: %v", w.cfg.ID, taskID, err)
	}
}

// isTerminalSession reports whether a worker should stop polling this
// session: complete and failed are terminal for the whole session, and
// paused is terminal for the worker loop specifically (§3) even though a
// paused session can later be resumed.
func isTerminalSession(s store.SessionStatus) bool {
	switch s {
	case store.SessionComplete, store.SessionFailed, store.SessionPaused:
		return true
	default:
		return false
	}
}

func nonZeroPtr(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
