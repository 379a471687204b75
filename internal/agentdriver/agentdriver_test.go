package agentdriver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func initSandboxRepo(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", branch)
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

// fakeAgent installs a PATH-shimmed script standing in for the coding agent
// CLI; it optionally writes a file to prove it ran against the sandbox cwd.
func fakeAgent(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
}

func TestRunNoChangesIsSuccessWithoutPublish(t *testing.T) {
	fakeAgent(t, `exit 0`)
	repo := initSandboxRepo(t, "worktree-wt-1")

	d := NewDriver(Config{AgentPath: "claude"})
	res, err := d.Run(context.Background(), repo, "worktree-wt-1", Task{
		Number: "1.1", Title: "No-op task", Implementation: "do nothing",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Empty(t, res.Commits)
	require.False(t, res.Merged)
}

func TestRunSkipExternalSideEffectsCommitsLocallyOnly(t *testing.T) {
	fakeAgent(t, `echo "changed" > sandbox_output.txt`)
	repo := initSandboxRepo(t, "worktree-wt-2")

	d := NewDriver(Config{AgentPath: "claude", SkipExternalSideEffects: true})
	res, err := d.Run(context.Background(), repo, "worktree-wt-2", Task{
		Number: "1.1", Title: "Offline task", Implementation: "write a file",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Commits, 1)
	require.False(t, res.Merged)
	require.Zero(t, res.ChangeNumber)
	require.Empty(t, res.ChangeURL)
}

func TestBuildPromptIncludesFilesAndVerification(t *testing.T) {
	p := buildPrompt(Task{
		Number: "2.3", Title: "Add widget", Implementation: "wire up the widget",
		Files:             []string{"internal/widget/widget.go"},
		VerificationSteps: []string{"go test ./..."},
	})
	require.Contains(t, p, "Task 2.3: Add widget")
	require.Contains(t, p, "internal/widget/widget.go")
	require.Contains(t, p, "wire up the widget")
	require.Contains(t, p, "go test ./...")
}

func TestCommitChangesSkipsWhenTreeClean(t *testing.T) {
	repo := initSandboxRepo(t, "main")
	sha, files, err := commitChanges(context.Background(), repo, "1.1", "Nothing to do")
	require.NoError(t, err)
	require.Empty(t, sha)
	require.Empty(t, files)
}

func TestCommitChangesCommitsNewFile(t *testing.T) {
	repo := initSandboxRepo(t, "main")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "new.txt"), []byte("hi"), 0644))

	sha, files, err := commitChanges(context.Background(), repo, "1.1", "Add new file")
	require.NoError(t, err)
	require.NotEmpty(t, sha)
	require.Contains(t, files, "new.txt")
}
