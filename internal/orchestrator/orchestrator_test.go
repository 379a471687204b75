package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harrison/conductor/internal/execerrors"
	"github.com/harrison/conductor/internal/planparser"
	"github.com/harrison/conductor/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func samplePlan() *planparser.Plan {
	return &planparser.Plan{
		Name: "plan",
		Batches: []planparser.Batch{
			{
				Number: 1, Title: "Setup",
				Tasks: []planparser.Task{
					{Number: "1.1", Title: "First task", Implementation: "do it", VerificationSteps: []string{"go vet ./..."}},
					{Number: "1.2", Title: "Second task", Implementation: "do it too", VerificationSteps: []string{"go vet ./..."}},
				},
			},
			{
				Number: 2, Title: "Follow-up", Dependencies: []int{1},
				Tasks: []planparser.Task{
					{Number: "2.1", Title: "Depends on batch 1", Implementation: "finish up"},
				},
			},
		},
	}
}

func TestStartExecutionCreatesSessionBatchesAndTasks(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.StartExecution(ctx, samplePlan(), StartOptions{PlanPath: "plan.md", BatchLo: 1, BatchHi: 2})
	require.NoError(t, err)
	require.Equal(t, 3, sess.TasksTotal)
	require.Equal(t, defaultMaxReviewRounds, sess.MaxReviewRounds)

	batches, err := st.ListBatches(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, store.BatchReady, batches[0].Status)
	require.Equal(t, store.BatchPending, batches[1].Status)

	tasks, err := st.ListTasks(ctx, batches[0].ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestStartExecutionEmptyRangeIsFatal(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.StartExecution(context.Background(), samplePlan(), StartOptions{PlanPath: "plan.md", BatchLo: 5, BatchHi: 9})
	require.Error(t, err)
	require.True(t, execerrors.Is(err, execerrors.KindOrchestratorEmptyRange))
}

func TestReadyBatchesGatedOnDependency(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.StartExecution(ctx, samplePlan(), StartOptions{PlanPath: "plan.md", BatchLo: 1, BatchHi: 2})
	require.NoError(t, err)

	ready, err := o.ReadyBatches(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, 1, ready[0].BatchNumber)

	require.NoError(t, o.MarkBatchExecuting(ctx, ready[0].ID))
	require.NoError(t, o.MarkBatchComplete(ctx, ready[0].ID))

	ready, err = o.ReadyBatches(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, 2, ready[0].BatchNumber)

	_ = st
}

func TestAdvanceReviewApprovedTransitionsTask(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()
	sess, err := o.StartExecution(ctx, samplePlan(), StartOptions{PlanPath: "plan.md", BatchLo: 1, BatchHi: 1})
	require.NoError(t, err)
	batches, err := st.ListBatches(ctx, sess.ID)
	require.NoError(t, err)
	tasks, err := st.ListTasks(ctx, batches[0].ID)
	require.NoError(t, err)
	task := tasks[0]

	require.NoError(t, o.AdvanceReview(ctx, task, 3, "reviewer-agent", store.VerdictApproved, nil))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskApproved, got.Status)
}

func TestAdvanceReviewExhaustsAfterMaxRounds(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()
	sess, err := o.StartExecution(ctx, samplePlan(), StartOptions{PlanPath: "plan.md", BatchLo: 1, BatchHi: 1})
	require.NoError(t, err)
	batches, err := st.ListBatches(ctx, sess.ID)
	require.NoError(t, err)
	tasks, err := st.ListTasks(ctx, batches[0].ID)
	require.NoError(t, err)
	task := tasks[0]

	for i := 0; i < 2; i++ {
		require.NoError(t, o.AdvanceReview(ctx, task, 3, "reviewer-agent", store.VerdictChangesRequested, []string{"fix x"}))
	}
	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskFixing, got.Status)

	require.NoError(t, o.AdvanceReview(ctx, got, 3, "reviewer-agent", store.VerdictChangesRequested, []string{"fix y"}))
	got, err = st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, got.Status)
}

func TestResumeSessionRejectsTerminalState(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()
	sess, err := o.StartExecution(ctx, samplePlan(), StartOptions{PlanPath: "plan.md", BatchLo: 1, BatchHi: 1})
	require.NoError(t, err)
	require.NoError(t, st.SetSessionStatus(ctx, sess.ID, store.SessionComplete))

	_, err = o.ResumeSession(ctx, sess.ID)
	require.Error(t, err)
}
