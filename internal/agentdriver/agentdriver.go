// Package agentdriver runs a single task end-to-end inside a sandbox: it
// builds a prompt from the task's implementation notes, invokes a coding
// agent CLI against the sandbox, commits whatever the agent produced, and
// publishes the result as a change request via internal/forge.
package agentdriver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/conductor/internal/claude"
	"github.com/harrison/conductor/internal/execerrors"
	"github.com/harrison/conductor/internal/forge"
)

// agentTimeout bounds a single coding-agent invocation.
const agentTimeout = 30 * time.Minute

// Task is the subset of task fields the driver needs to build a prompt and
// publish the result; callers populate it from their own task record.
type Task struct {
	Number            string
	Title             string
	BatchNumber       int
	Implementation    string
	Files             []string
	VerificationSteps []string
}

// Result reports what happened while driving a task.
type Result struct {
	Success      bool
	BranchName   string
	Commits      []string
	FilesChanged []string
	Merged       bool
	ChangeNumber int
	ChangeURL    string
	AgentOutput  string
}

// Config configures one Driver invocation.
type Config struct {
	AgentPath  string // coding agent binary; defaults to "claude"
	AutoMerge  bool
	BaseBranch string // branch PRs target; defaults to "main"

	// SkipExternalSideEffects, when set, stops a run after the local commit:
	// no push, no change request, no merge. For offline/test runs (§4.4,
	// §4.5 step 6).
	SkipExternalSideEffects bool
}

// Driver runs tasks against a sandbox path that already has its own
// dedicated branch checked out (see internal/worktree). It never creates
// branches itself: the legacy create-your-own-branch path from the system
// this was adapted from is deliberately not carried forward, since every
// caller in this codebase supplies a sandbox.
type Driver struct {
	cfg Config
}

// NewDriver constructs a Driver.
func NewDriver(cfg Config) *Driver {
	if cfg.AgentPath == "" {
		cfg.AgentPath = "claude"
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &Driver{cfg: cfg}
}

// Run executes task in sandboxPath on branch, publishing the result as a PR
// (and merging it, if AutoMerge is set) once the agent's changes are
// committed and pushed.
func (d *Driver) Run(ctx context.Context, sandboxPath, branch string, task Task) (*Result, error) {
	prompt := buildPrompt(task)

	output, err := d.invokeAgent(ctx, sandboxPath, prompt)
	result := &Result{BranchName: branch, AgentOutput: output}
	if err != nil {
		return result, err
	}

	commitSHA, filesChanged, err := commitChanges(ctx, sandboxPath, task.Number, task.Title)
	if err != nil {
		return result, execerrors.Wrap(execerrors.KindExecVCSError, "commit task changes", err)
	}
	if commitSHA == "" {
		// Agent made no changes; nothing to publish.
		result.Success = true
		return result, nil
	}
	result.Commits = []string{commitSHA}
	result.FilesChanged = filesChanged

	if d.cfg.SkipExternalSideEffects {
		// Local commit only: no push, no change request, no merge.
		result.Success = true
		return result, nil
	}

	if err := pushBranch(ctx, sandboxPath, branch); err != nil {
		return result, execerrors.Wrap(execerrors.KindExecPublishError, "push branch", err)
	}

	fc := forge.NewClient(sandboxPath, d.cfg.BaseBranch)
	title := fmt.Sprintf("Task %s: %s", task.Number, task.Title)
	body := prBody(task, filesChanged)

	cr, err := fc.CreateChangeRequest(ctx, branch, title, body)
	if err != nil {
		return result, err
	}
	result.ChangeNumber = cr.Number
	result.ChangeURL = cr.URL

	if d.cfg.AutoMerge && cr.Number != 0 {
		merge, err := fc.MergeChangeRequest(ctx, cr.Number)
		if err != nil {
			return result, err
		}
		result.Merged = merge.Merged
	}

	result.Success = true
	return result, nil
}

func buildPrompt(task Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n", task.Number, task.Title)

	b.WriteString("## Files to modify\n")
	for _, f := range task.Files {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\n## Implementation\n")
	b.WriteString(task.Implementation)

	b.WriteString("\n\n## Verification\nAfter completing, run these commands to verify:\n")
	for _, step := range task.VerificationSteps {
		fmt.Fprintf(&b, "- %s\n", step)
	}

	b.WriteString("\n## Instructions\n")
	b.WriteString("1. Implement the changes described above\n")
	b.WriteString("2. Ensure all tests pass\n")
	b.WriteString("3. Follow existing code patterns\n")
	b.WriteString("4. Do not modify unrelated files\n")

	return b.String()
}

func prBody(task Task, files []string) string {
	fileList := "- see diff"
	if len(files) > 0 {
		lines := make([]string, len(files))
		for i, f := range files {
			lines[i] = "- `" + f + "`"
		}
		fileList = strings.Join(lines, "\n")
	}
	return fmt.Sprintf("## Task %s: %s\n\n**Batch:** %d\n\n### Files Changed\n%s\n",
		task.Number, task.Title, task.BatchNumber, fileList)
}

// invokeAgent runs the coding agent CLI in sandboxPath with the task prompt
// on stdin-equivalent -p flag, mirroring the non-interactive print mode the
// agent's CLI exposes. The prompt is also dropped to a scratch file in the
// sandbox so a human can inspect what was asked for after the fact.
func (d *Driver) invokeAgent(ctx context.Context, sandboxPath, prompt string) (string, error) {
	promptFile := filepath.Join(sandboxPath, ".agent_prompt.md")
	if err := os.WriteFile(promptFile, []byte(prompt), 0644); err != nil {
		return "", execerrors.Wrap(execerrors.KindExecAgentNotFound, "write prompt file", err)
	}
	defer os.Remove(promptFile)

	ctx, cancel := context.WithTimeout(ctx, agentTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.cfg.AgentPath, "--print", "-p", prompt)
	cmd.Dir = sandboxPath
	claude.SetCleanEnv(cmd)

	out, err := cmd.CombinedOutput()
	output := string(out)

	if ctx.Err() == context.DeadlineExceeded {
		return output, execerrors.New(execerrors.KindExecAgentTimeout,
			fmt.Sprintf("agent execution timed out after %s", agentTimeout))
	}
	if isNotFoundErr(err) {
		return output, execerrors.Wrap(execerrors.KindExecAgentNotFound, d.cfg.AgentPath+" not found in PATH", err)
	}
	// A non-zero exit from the agent is not fatal by itself: the agent may
	// have partially applied changes worth committing. The caller inspects
	// the working tree next.
	return output, nil
}

func isNotFoundErr(err error) bool {
	e, ok := err.(*exec.Error)
	return ok && e.Err == exec.ErrNotFound
}

func commitChanges(ctx context.Context, dir, taskNumber, taskTitle string) (string, []string, error) {
	status, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(status) == "" {
		return "", nil, nil
	}

	var files []string
	for _, line := range strings.Split(strings.TrimRight(status, "\n"), "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}

	if _, err := runGit(ctx, dir, "add", "-A"); err != nil {
		return "", nil, err
	}

	msg := fmt.Sprintf("feat(pipeline): %s\n\nTask %s from autonomous pipeline execution.",
		taskTitle, taskNumber)
	if _, err := runGit(ctx, dir, "commit", "-m", msg); err != nil {
		return "", nil, err
	}

	sha, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(sha), files, nil
}

func pushBranch(ctx context.Context, dir, branch string) error {
	_, err := runGit(ctx, dir, "push", "-u", "origin", branch)
	return err
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
