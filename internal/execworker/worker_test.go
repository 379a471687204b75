package execworker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/harrison/conductor/internal/agentdriver"
	"github.com/harrison/conductor/internal/store"
	"github.com/harrison/conductor/internal/worktree"
)

type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{}) {}
func (testLogger) Warnf(format string, args ...interface{}) {}

func initMainRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	run("add", "-A")
	run("commit", "-m", "initial")
	run("remote", "add", "origin", dir)
	run("fetch", "origin")
	run("branch", "--set-upstream-to=origin/main", "main")
	return dir
}

func fakeAgentWritesFile(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent script requires a POSIX shell")
	}
	dir := t.TempDir()
	claudePath := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(claudePath, []byte("#!/bin/sh\necho done > generated.txt\n"), 0755))

	ghPath := filepath.Join(dir, "gh")
	ghScript := `
if [ "$1" = "pr" ] && [ "$2" = "list" ]; then
  echo '[]'
  exit 0
fi
if [ "$1" = "pr" ] && [ "$2" = "create" ]; then
  echo 'https://example.test/pr/1'
  exit 0
fi
exit 0
`
	require.NoError(t, os.WriteFile(ghPath, []byte("#!/bin/sh\n"+ghScript), 0755))

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
}

func seedClaimableTask(t *testing.T, st *store.Store, sessionID string) *store.Task {
	t.Helper()
	ctx := context.Background()
	batch := &store.Batch{ID: uuid.NewString(), SessionID: sessionID, BatchNumber: 1}
	require.NoError(t, st.CreateBatch(ctx, batch))
	require.NoError(t, st.MarkBatchExecuting(ctx, batch.ID))

	task := &store.Task{
		ID: uuid.NewString(), BatchID: batch.ID, TaskNumber: "1.1", Title: "Do the thing",
		Extra: store.TaskExtra{ImplementationText: "write a file"},
	}
	require.NoError(t, st.CreateTask(ctx, task))
	return task
}

func TestWorkerExecutesOneTaskAndRecordsResult(t *testing.T) {
	fakeAgentWritesFile(t)
	repo := initMainRepo(t)

	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sess := &store.Session{ID: uuid.NewString(), PlanPath: "plan.md", BatchLo: 1, BatchHi: 1, TasksTotal: 1}
	require.NoError(t, st.CreateSession(ctx, sess))
	require.NoError(t, st.SetSessionStatus(ctx, sess.ID, store.SessionExecuting))
	task := seedClaimableTask(t, st, sess.ID)

	pool := worktree.NewPool(worktree.Config{Size: 1, BaseDir: t.TempDir(), MainRepoPath: repo, MainBranch: "main"})
	require.NoError(t, pool.Initialize(ctx))
	defer pool.Cleanup(ctx)

	driver := agentdriver.NewDriver(agentdriver.Config{AgentPath: "claude", AutoMerge: false})
	w := NewWorker(Config{ID: "worker-1", SessionID: sess.ID, PollInterval: 10 * time.Millisecond}, st, pool, driver, testLogger{})

	// Drain exactly one task, then stop the loop so Run returns.
	go func() {
		time.Sleep(50 * time.Millisecond)
		w.Stop()
	}()
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, w.Run(runCtx))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskPRCreated, got.Status)
	require.NotEmpty(t, got.Commits)
}

func TestWorkerStopsWhenSessionComplete(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sess := &store.Session{ID: uuid.NewString(), PlanPath: "plan.md", BatchLo: 1, BatchHi: 1}
	require.NoError(t, st.CreateSession(ctx, sess))
	require.NoError(t, st.SetSessionStatus(ctx, sess.ID, store.SessionComplete))

	pool := worktree.NewPool(worktree.Config{Size: 1, BaseDir: t.TempDir(), MainRepoPath: t.TempDir(), MainBranch: "main"})
	driver := agentdriver.NewDriver(agentdriver.Config{})
	w := NewWorker(Config{ID: "worker-1", SessionID: sess.ID}, st, pool, driver, testLogger{})

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, w.Run(runCtx))
}

func TestWorkerStopsWhenSessionPaused(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sess := &store.Session{ID: uuid.NewString(), PlanPath: "plan.md", BatchLo: 1, BatchHi: 1}
	require.NoError(t, st.CreateSession(ctx, sess))
	require.NoError(t, st.SetSessionStatus(ctx, sess.ID, store.SessionPaused))

	pool := worktree.NewPool(worktree.Config{Size: 1, BaseDir: t.TempDir(), MainRepoPath: t.TempDir(), MainBranch: "main"})
	driver := agentdriver.NewDriver(agentdriver.Config{})
	w := NewWorker(Config{ID: "worker-1", SessionID: sess.ID}, st, pool, driver, testLogger{})

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, w.Run(runCtx))
}
