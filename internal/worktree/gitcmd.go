package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// stepTimeout bounds every individual subprocess invocation the pool makes
// against the primary repository or a sandbox (§4.3 reset protocol: "each
// step has a 30-second hard timeout").
const stepTimeout = 30 * time.Second

// runGit runs a git subcommand with a 30-second hard timeout, returning
// combined stdout+stderr for diagnostics.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), stepTimeout)
	}
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// runGitLong is runGit with a caller-supplied timeout, used for the
// slower worktree-add/remove operations (§4.3: "60 second" setup timeout).
func runGitLong(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), timeout)
	}
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
