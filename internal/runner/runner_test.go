package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harrison/conductor/internal/orchestrator"
	"github.com/harrison/conductor/internal/planparser"
	"github.com/harrison/conductor/internal/store"
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

func fakeAgentAndForge(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts require a POSIX shell")
	}
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "claude"),
		[]byte("#!/bin/sh\necho \"task $$\" > \"generated-$$.txt\"\n"), 0755))

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
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gh"), []byte("#!/bin/sh\n"+ghScript), 0755))

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
}

func twoBatchPlan() *planparser.Plan {
	return &planparser.Plan{
		Name: "plan",
		Batches: []planparser.Batch{
			{
				Number: 1, Title: "Setup",
				Tasks: []planparser.Task{
					{Number: "1.1", Title: "First task", Implementation: "write a file"},
				},
			},
			{
				Number: 2, Title: "Follow-up", Dependencies: []int{1},
				Tasks: []planparser.Task{
					{Number: "2.1", Title: "Second task", Implementation: "write another file"},
				},
			},
		},
	}
}

func TestRunnerDrivesSessionToCompletion(t *testing.T) {
	fakeAgentAndForge(t)
	repo := initMainRepo(t)

	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	orch := orchestrator.New(st)
	sess, err := orch.StartExecution(ctx, twoBatchPlan(), orchestrator.StartOptions{
		PlanPath: "plan.md", BatchLo: 1, BatchHi: 2,
	})
	require.NoError(t, err)

	r := New(Config{
		NumWorkers:      1,
		WorktreeBaseDir: t.TempDir(),
		MainRepoPath:    repo,
		MainBranch:      "main",
		AgentPath:       "claude",
		PollInterval:    10 * time.Millisecond,
		IdlePollInterval: 20 * time.Millisecond,
	}, st, testLogger{})

	require.NoError(t, r.Initialize(ctx, sess.ID))
	defer r.Shutdown(ctx)

	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	require.NoError(t, r.Run(runCtx, sess.ID))

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionComplete, got.Status)
}
