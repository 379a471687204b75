// Package orchestrator turns a parsed plan into a persisted session and
// keeps its batch/task lifecycle moving: computing which batches are ready,
// marking batches executing/complete/failed, and projecting session status
// for callers outside the execution core.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harrison/conductor/internal/execerrors"
	"github.com/harrison/conductor/internal/planparser"
	"github.com/harrison/conductor/internal/store"
)

// defaultMaxReviewRounds bounds the review/fix cycle before a task is
// marked failed with exec.review_exhausted.
const defaultMaxReviewRounds = 3

// StartOptions configures StartExecution.
type StartOptions struct {
	PlanPath        string
	BatchLo         int
	BatchHi         int
	Mode            store.ExecutionMode
	AutoPublish     bool
	MaxReviewRounds int
}

// Orchestrator is a thin layer over internal/store's primitives that owns
// the plan-to-records translation and the batch-ready computation.
type Orchestrator struct {
	store *store.Store
}

// New constructs an Orchestrator bound to a store.
func New(st *store.Store) *Orchestrator {
	return &Orchestrator{store: st}
}

// StartExecution filters plan's batches to [BatchLo, BatchHi], persists a
// new session and its batch/task records, and returns the session. An empty
// filtered range is a fatal, no-records-created error (orchestrator.empty_range).
func (o *Orchestrator) StartExecution(ctx context.Context, plan *planparser.Plan, opts StartOptions) (*store.Session, error) {
	var filtered []planparser.Batch
	for _, b := range plan.Batches {
		if b.Number >= opts.BatchLo && b.Number <= opts.BatchHi {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 {
		return nil, execerrors.New(execerrors.KindOrchestratorEmptyRange,
			fmt.Sprintf("no batches found in range %d-%d", opts.BatchLo, opts.BatchHi))
	}

	tasksTotal := 0
	for _, b := range filtered {
		tasksTotal += len(b.Tasks)
	}

	maxRounds := opts.MaxReviewRounds
	if maxRounds == 0 {
		maxRounds = defaultMaxReviewRounds
	}
	mode := opts.Mode
	if mode == "" {
		mode = store.ModeParallel
	}

	sess := &store.Session{
		ID:              "exec_" + uuid.NewString()[:8],
		PlanPath:        opts.PlanPath,
		BatchLo:         opts.BatchLo,
		BatchHi:         opts.BatchHi,
		Mode:            mode,
		Status:          store.SessionStarted,
		TasksTotal:      tasksTotal,
		AutoPublish:     opts.AutoPublish,
		MaxReviewRounds: maxRounds,
	}
	firstBatch := opts.BatchLo
	sess.CurrentBatch = &firstBatch

	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, execerrors.Wrap(execerrors.KindOrchestratorStore, "create session", err)
	}

	for _, b := range filtered {
		if err := o.createBatch(ctx, sess.ID, b); err != nil {
			return nil, execerrors.Wrap(execerrors.KindOrchestratorStore,
				fmt.Sprintf("create batch %d", b.Number), err)
		}
	}

	return sess, nil
}

func (o *Orchestrator) createBatch(ctx context.Context, sessionID string, b planparser.Batch) error {
	batch := &store.Batch{
		ID:           fmt.Sprintf("%s_batch_%d", sessionID, b.Number),
		SessionID:    sessionID,
		BatchNumber:  b.Number,
		Dependencies: b.Dependencies,
		Extra: map[string]any{
			"title":          b.Title,
			"execution_mode": string(b.ExecutionMode),
		},
	}
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return err
	}

	for _, t := range b.Tasks {
		task := &store.Task{
			ID:         fmt.Sprintf("%s_task_%s", batch.ID, sanitizeTaskNumber(t.Number)),
			BatchID:    batch.ID,
			TaskNumber: t.Number,
			Title:      t.Title,
			Extra: store.TaskExtra{
				ImplementationText: t.Implementation,
				Files:               t.Files,
				VerificationSteps:   t.VerificationSteps,
				Dependencies:        t.Dependencies,
			},
		}
		if err := o.store.CreateTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeTaskNumber(n string) string {
	out := make([]byte, len(n))
	for i := 0; i < len(n); i++ {
		if n[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = n[i]
		}
	}
	return string(out)
}

// ReadyBatches returns every batch in sessionID whose dependencies are
// satisfied and whose status is pending or ready.
func (o *Orchestrator) ReadyBatches(ctx context.Context, sessionID string) ([]*store.Batch, error) {
	return o.store.ReadyBatches(ctx, sessionID)
}

// MarkBatchExecuting, MarkBatchComplete, and MarkBatchFailed transition a
// batch's lifecycle state.
func (o *Orchestrator) MarkBatchExecuting(ctx context.Context, batchID string) error {
	return o.store.MarkBatchExecuting(ctx, batchID)
}

func (o *Orchestrator) MarkBatchComplete(ctx context.Context, batchID string) error {
	return o.store.MarkBatchComplete(ctx, batchID)
}

func (o *Orchestrator) MarkBatchFailed(ctx context.Context, batchID string) error {
	return o.store.MarkBatchFailed(ctx, batchID)
}

// BatchOutcome summarizes a completed batch's tasks for the caller deciding
// whether to mark it complete or failed.
type BatchOutcome struct {
	AllTerminal bool
	AnyFailed   bool
}

// EvaluateBatch inspects every task in a batch and reports whether all have
// reached a terminal state, and whether any of them failed.
func (o *Orchestrator) EvaluateBatch(ctx context.Context, batchID string) (BatchOutcome, error) {
	tasks, err := o.store.ListTasks(ctx, batchID)
	if err != nil {
		return BatchOutcome{}, err
	}

	outcome := BatchOutcome{AllTerminal: true}
	for _, t := range tasks {
		switch t.Status {
		case store.TaskMerged, store.TaskApproved, store.TaskPRCreated:
			// terminal-for-batch-purposes: published or further along
		case store.TaskFailed:
			outcome.AnyFailed = true
		default:
			outcome.AllTerminal = false
		}
	}
	return outcome, nil
}

// SessionStatus projects a session's external status (§4.2).
func (o *Orchestrator) SessionStatus(ctx context.Context, sessionID string) (*store.SessionSnapshot, error) {
	return o.store.SessionStatus(ctx, sessionID)
}

// AdvanceReview records one review round's verdict and applies the review
// loop's transition: approved moves the task to approved, changes_requested
// cycles it back to fixing unless max_review_rounds has been exhausted, in
// which case the task fails with exec.review_exhausted.
func (o *Orchestrator) AdvanceReview(ctx context.Context, task *store.Task, maxReviewRounds int, reviewer string, verdict store.ReviewVerdict, comments []string) error {
	rounds, err := o.store.IncrementReviewRounds(ctx, task.ID)
	if err != nil {
		return err
	}

	review := &store.Review{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Round:    rounds,
		Reviewer: reviewer,
		Verdict:  verdict,
		Comments: comments,
	}
	if err := o.store.CreateReview(ctx, review); err != nil {
		return err
	}

	if verdict == store.VerdictApproved {
		return o.store.SetTaskStatus(ctx, task.ID, store.TaskApproved)
	}

	if rounds >= maxReviewRounds {
		return o.store.MarkTaskResult(ctx, task.ID, store.TaskResult{
			Success: false,
			Error:   execerrors.New(execerrors.KindExecReviewExhausted, fmt.Sprintf("exceeded %d review rounds", maxReviewRounds)).Error(),
		})
	}
	return o.store.SetTaskStatus(ctx, task.ID, store.TaskFixing)
}

// ResumeSession re-validates a paused or previously-started session exists
// and transitions it back to executing so workers can resume claiming.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, execerrors.Wrap(execerrors.KindOrchestratorStore, "load session for resume", err)
	}
	if sess.Status == store.SessionComplete || sess.Status == store.SessionFailed {
		return sess, execerrors.New(execerrors.KindOrchestratorStore,
			fmt.Sprintf("session %s already in terminal state %s", sessionID, sess.Status))
	}
	if err := o.store.SetSessionStatus(ctx, sessionID, store.SessionExecuting); err != nil {
		return nil, execerrors.Wrap(execerrors.KindOrchestratorStore, "resume session", err)
	}
	sess.Status = store.SessionExecuting
	return sess, nil
}
