package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resetProtocol returns a sandbox to a clean state matching the main
// branch tip (§4.3, bit-exact semantics):
//  1. missing path -> no-op
//  2. missing VCS metadata -> no-op
//  3. force-checkout the sandbox's own bound branch
//  4. hard-reset to the origin-tracked tip of the main branch
//  5. clean untracked and ignored files
//  6. delete every local branch other than main and the sandbox's own
//
// Each step runs with its own 30-second timeout (enforced by runGit); any
// failure here is surfaced to the caller, who transitions the sandbox to
// error.
func (p *Pool) resetProtocol(ctx context.Context, sb *Sandbox) error {
	if _, err := os.Stat(sb.Path); os.IsNotExist(err) {
		return nil
	}
	if _, err := os.Stat(filepath.Join(sb.Path, ".git")); os.IsNotExist(err) {
		return nil
	}

	if _, err := runGit(ctx, sb.Path, "checkout", "-f", sb.Branch); err != nil {
		return fmt.Errorf("checkout own branch: %w", err)
	}

	mainRef := fmt.Sprintf("origin/%s", p.cfg.MainBranch)
	if _, err := runGit(ctx, sb.Path, "reset", "--hard", mainRef); err != nil {
		return fmt.Errorf("reset to %s: %w", mainRef, err)
	}

	if _, err := runGit(ctx, sb.Path, "clean", "-fd"); err != nil {
		return fmt.Errorf("clean untracked files: %w", err)
	}

	if err := p.deleteStrayBranches(ctx, sb); err != nil {
		return fmt.Errorf("delete stray branches: %w", err)
	}

	return nil
}

func (p *Pool) deleteStrayBranches(ctx context.Context, sb *Sandbox) error {
	out, err := runGit(ctx, sb.Path, "branch", "--list")
	if err != nil {
		return err
	}

	for _, line := range strings.Split(out, "\n") {
		branch := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		if branch == "" || branch == p.cfg.MainBranch || branch == sb.Branch {
			continue
		}
		if _, err := runGit(ctx, sb.Path, "branch", "-D", branch); err != nil {
			return err
		}
	}
	return nil
}
