// Package runner ties internal/orchestrator, internal/worktree, and
// internal/execworker together into the top-level session lifecycle:
// initialize a sandbox pool and a fleet of workers, mark ready batches
// executing as their dependencies clear, poll until the session reaches a
// terminal state, and tear everything down.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/conductor/internal/agentdriver"
	"github.com/harrison/conductor/internal/execerrors"
	"github.com/harrison/conductor/internal/execworker"
	"github.com/harrison/conductor/internal/orchestrator"
	"github.com/harrison/conductor/internal/store"
	"github.com/harrison/conductor/internal/worktree"
)

// Logger is the subset of internal/logger's ConsoleLogger a runner needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Config configures a Runner's resource shape and timeouts.
type Config struct {
	NumWorkers       int
	WorktreeBaseDir  string
	MainRepoPath     string
	MainBranch       string
	AgentPath        string
	AutoMerge        bool
	PollInterval     time.Duration // default 1 second, per batch-ready re-check cadence
	IdlePollInterval time.Duration // default 2 seconds, when no batch is ready

	// SkipExternalSideEffects disables pushing branches, opening change
	// requests, and merging — for offline and test runs (§4.4).
	SkipExternalSideEffects bool
}

// Runner drives one session from ready batches to completion.
type Runner struct {
	cfg     Config
	store   *store.Store
	orch    *orchestrator.Orchestrator
	pool    *worktree.Pool
	log     Logger
	workers []*execworker.Worker
	wg      sync.WaitGroup
}

// New constructs a Runner. Call Initialize before Run.
func New(cfg Config, st *store.Store, log Logger) *Runner {
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = 3
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.IdlePollInterval == 0 {
		cfg.IdlePollInterval = 2 * time.Second
	}
	return &Runner{
		cfg:   cfg,
		store: st,
		orch:  orchestrator.New(st),
		log:   log,
	}
}

// Initialize sets up the sandbox pool and the worker fleet.
func (r *Runner) Initialize(ctx context.Context, sessionID string) error {
	r.pool = worktree.NewPool(worktree.Config{
		Size:         r.cfg.NumWorkers,
		BaseDir:      r.cfg.WorktreeBaseDir,
		MainRepoPath: r.cfg.MainRepoPath,
		MainBranch:   r.cfg.MainBranch,
	})
	if err := r.pool.Initialize(ctx); err != nil {
		return err
	}

	driver := agentdriver.NewDriver(agentdriver.Config{
		AgentPath:               r.cfg.AgentPath,
		AutoMerge:               r.cfg.AutoMerge,
		BaseBranch:              r.cfg.MainBranch,
		SkipExternalSideEffects: r.cfg.SkipExternalSideEffects,
	})

	for i := 1; i <= r.cfg.NumWorkers; i++ {
		w := execworker.NewWorker(execworker.Config{
			ID:           fmt.Sprintf("worker-%d", i),
			SessionID:    sessionID,
			PollInterval: r.cfg.IdlePollInterval,
		}, r.store, r.pool, driver, r.log)
		r.workers = append(r.workers, w)
	}

	r.log.Infof("runner initialized: %d workers, %d sandboxes", len(r.workers), r.cfg.NumWorkers)
	return nil
}

// Run starts the worker fleet, advances ready batches into the executing
// state as their dependencies clear, and blocks until the session reaches a
// terminal state (complete or failed) or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	if err := r.store.SetSessionStatus(ctx, sessionID, store.SessionExecuting); err != nil {
		return execerrors.Wrap(execerrors.KindSessionFatal, "set session executing", err)
	}

	for _, w := range r.workers {
		r.wg.Add(1)
		go func(w *execworker.Worker) {
			defer r.wg.Done()
			if err := w.Run(ctx); err != nil {
				r.log.Warnf("worker failed: %v", err)
			}
		}(w)
	}

	err := r.pollUntilDone(ctx, sessionID)

	for _, w := range r.workers {
		w.Stop()
	}
	r.wg.Wait()

	return err
}

// pollUntilDone implements the ready-batch advance/sleep loop: mark every
// deps-satisfied batch executing, evaluate every already-executing batch for
// completion (independent of the ready set — ReadyBatches excludes
// `executing` by design, so a batch must keep being checked after it leaves
// that set, or it would never be observed finishing), check for overall
// completion, and otherwise poll again.
func (r *Runner) pollUntilDone(ctx context.Context, sessionID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sess, err := r.store.GetSession(ctx, sessionID)
		if err != nil {
			return execerrors.Wrap(execerrors.KindSessionFatal, "load session", err)
		}
		if sess.Status == store.SessionPaused {
			return nil
		}
		if sess.Status == store.SessionComplete || sess.Status == store.SessionFailed {
			return nil
		}

		ready, err := r.orch.ReadyBatches(ctx, sessionID)
		if err != nil {
			return execerrors.Wrap(execerrors.KindSessionFatal, "compute ready batches", err)
		}
		for _, b := range ready {
			// ReadyBatches already filters to status pending|ready with
			// every dependency complete, so either status here is eligible
			// to start executing.
			if err := r.orch.MarkBatchExecuting(ctx, b.ID); err != nil {
				return execerrors.Wrap(execerrors.KindSessionFatal, "mark batch executing", err)
			}
		}

		batches, err := r.store.ListBatches(ctx, sessionID)
		if err != nil {
			return execerrors.Wrap(execerrors.KindSessionFatal, "list batches", err)
		}
		for _, b := range batches {
			if b.Status != store.BatchExecuting {
				continue
			}
			outcome, err := r.orch.EvaluateBatch(ctx, b.ID)
			if err != nil {
				return err
			}
			if !outcome.AllTerminal {
				continue
			}
			if outcome.AnyFailed {
				if err := r.orch.MarkBatchFailed(ctx, b.ID); err != nil {
					return err
				}
			} else {
				if err := r.orch.MarkBatchComplete(ctx, b.ID); err != nil {
					return err
				}
			}
		}

		// Re-list: the completion pass above may have just flipped some of
		// these batches to complete/failed.
		batches, err = r.store.ListBatches(ctx, sessionID)
		if err != nil {
			return execerrors.Wrap(execerrors.KindSessionFatal, "list batches", err)
		}
		done, failed := batchesSettled(batches)
		if done {
			finalStatus := store.SessionComplete
			if failed {
				finalStatus = store.SessionFailed
			}
			return r.store.SetSessionStatus(ctx, sessionID, finalStatus)
		}

		pollInterval := r.cfg.PollInterval
		if len(ready) == 0 {
			pollInterval = r.cfg.IdlePollInterval
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// batchesSettled reports whether every batch has reached a terminal status
// (complete or failed), and whether any of them failed.
func batchesSettled(batches []*store.Batch) (done bool, anyFailed bool) {
	done = true
	for _, b := range batches {
		switch b.Status {
		case store.BatchComplete:
			// settled
		case store.BatchFailed:
			anyFailed = true
		default:
			done = false
		}
	}
	return done, anyFailed
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Shutdown releases the sandbox pool's resources.
func (r *Runner) Shutdown(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Cleanup(ctx)
}
