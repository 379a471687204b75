package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harrison/conductor/internal/execerrors"
	"github.com/harrison/conductor/internal/filelock"
)

const setupTimeout = 60 * time.Second

// Config configures pool Initialize.
type Config struct {
	Size         int
	BaseDir      string
	MainRepoPath string
	MainBranch   string // defaults to "main"
}

// Pool is a bounded set of isolated, resettable worktree sandboxes.
type Pool struct {
	cfg       Config
	mu        sync.Mutex
	sandboxes []*Sandbox
	baseLock  *filelock.FileLock
}

// NewPool constructs a Pool; call Initialize before use.
func NewPool(cfg Config) *Pool {
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	return &Pool{cfg: cfg}
}

func (p *Pool) sandboxID(i int) string     { return fmt.Sprintf("wt-%d", i) }
func (p *Pool) sandboxPath(i int) string   { return filepath.Join(p.cfg.BaseDir, p.sandboxID(i)) }
func (p *Pool) sandboxBranch(i int) string { return fmt.Sprintf("worktree-%s", p.sandboxID(i)) }

// Initialize ensures base_dir exists and creates N sandboxes, each a
// linked worktree on its own dedicated branch forked from the main
// branch. Any failure aborts initialization (fail-fast). Cross-process
// contention on base_dir is guarded by a file lock — a concern the
// single-process original this was adapted from never needed.
func (p *Pool) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.BaseDir, 0755); err != nil {
		return execerrors.Wrap(execerrors.KindPoolResetError, "create pool base dir", err)
	}

	p.baseLock = filelock.NewFileLock(filepath.Join(p.cfg.BaseDir, ".pool.lock"))
	if err := p.baseLock.Lock(); err != nil {
		return execerrors.Wrap(execerrors.KindPoolResetError, "lock pool base dir", err)
	}

	for i := 1; i <= p.cfg.Size; i++ {
		sb, err := p.createSandbox(ctx, i)
		if err != nil {
			return execerrors.Wrap(execerrors.KindPoolResetError, fmt.Sprintf("create sandbox wt-%d", i), err)
		}
		p.sandboxes = append(p.sandboxes, sb)
	}
	return nil
}

func (p *Pool) createSandbox(ctx context.Context, i int) (*Sandbox, error) {
	path := p.sandboxPath(i)
	branch := p.sandboxBranch(i)

	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove existing sandbox dir: %w", err)
		}
	}

	// Force-delete any pre-existing branch of the same name; errors are
	// expected (and ignored) when the branch does not exist.
	_, _ = runGit(ctx, p.cfg.MainRepoPath, "branch", "-D", branch)

	if _, err := runGitLong(ctx, p.cfg.MainRepoPath, setupTimeout,
		"worktree", "add", path, "-b", branch, p.cfg.MainBranch); err != nil {
		return nil, fmt.Errorf("worktree add: %w", err)
	}

	now := time.Now()
	return &Sandbox{
		ID:         p.sandboxID(i),
		Path:       path,
		Branch:     branch,
		Status:     StatusFree,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// Acquire waits until a sandbox is free or the deadline passes. While
// holding the pool mutex it first attempts opportunistic recovery of any
// error-state sandboxes, then first-fits a free sandbox.
func (p *Pool) Acquire(ctx context.Context, label string, timeout time.Duration) (*Sandbox, error) {
	deadline := time.Now().Add(timeout)

	for {
		sb, busy := p.tryAcquireOnce(ctx, label)
		if sb != nil {
			return sb, nil
		}

		if time.Now().After(deadline) {
			return nil, execerrors.New(execerrors.KindPoolAcquireTimeout,
				fmt.Sprintf("no sandbox available within %s; busy: %v", timeout, busy))
		}

		remaining := time.Until(deadline)
		wait := time.Second
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (p *Pool) tryAcquireOnce(ctx context.Context, label string) (*Sandbox, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Opportunistic recovery of error-state sandboxes before picking one.
	for _, sb := range p.sandboxes {
		if sb.Status == StatusError {
			if err := p.resetProtocol(ctx, sb); err == nil {
				sb.Status = StatusFree
			}
		}
	}

	var busy []string
	for _, sb := range p.sandboxes {
		if sb.Status == StatusFree {
			sb.Status = StatusBusy
			sb.CurrentTask = label
			sb.LastUsedAt = time.Now()
			return sb, nil
		}
		if sb.Status == StatusBusy {
			busy = append(busy, sb.ID)
		}
	}
	return nil, busy
}

// Release runs the reset protocol on a sandbox and returns it to the free
// pool on success. On failure the sandbox transitions to error and is
// eligible for recovery on the next Acquire.
func (p *Pool) Release(ctx context.Context, sb *Sandbox) error {
	err := p.resetProtocol(ctx, sb)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		sb.Status = StatusError
		return execerrors.Wrap(execerrors.KindPoolResetError, fmt.Sprintf("reset sandbox %s", sb.ID), err)
	}
	sb.Status = StatusFree
	sb.CurrentTask = ""
	return nil
}

// HealthCheck reports per-sandbox issues: missing path, missing VCS
// metadata, a busy sandbox stuck for over 30 minutes, or an error state.
// Error-state sandboxes get an opportunistic recovery attempt.
func (p *Pool) HealthCheck(ctx context.Context) []HealthReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	reports := make([]HealthReport, 0, len(p.sandboxes))
	for _, sb := range p.sandboxes {
		report := HealthReport{SandboxID: sb.ID, Healthy: true}

		if _, err := os.Stat(sb.Path); os.IsNotExist(err) {
			report.Healthy = false
			report.Issues = append(report.Issues, IssuePathMissing)
		} else if _, err := os.Stat(filepath.Join(sb.Path, ".git")); os.IsNotExist(err) {
			report.Healthy = false
			report.Issues = append(report.Issues, IssueNotRepository)
		}

		if sb.Status == StatusBusy && time.Since(sb.LastUsedAt) > stuckBusyThreshold {
			report.Healthy = false
			report.Issues = append(report.Issues, IssueStuckBusy)
		}

		if sb.Status == StatusError {
			report.Healthy = false
			report.Issues = append(report.Issues, IssueErrorState)
			if err := p.resetProtocol(ctx, sb); err != nil {
				if recreated := p.recreateSandbox(ctx, sb); recreated == nil {
					report.RecoveryResult = "recreated"
				} else {
					report.RecoveryResult = ""
					report.RecoveryError = err.Error()
				}
			} else {
				sb.Status = StatusFree
				report.RecoveryResult = "reset"
			}
		}

		reports = append(reports, report)
	}
	return reports
}

func (p *Pool) recreateSandbox(ctx context.Context, sb *Sandbox) error {
	var index int
	fmt.Sscanf(sb.ID, "wt-%d", &index)
	p.removeSandboxDirectory(ctx, sb)
	fresh, err := p.createSandbox(ctx, index)
	if err != nil {
		return err
	}
	*sb = *fresh
	return nil
}

// Cleanup removes every sandbox via the VCS worktree-removal command,
// falls back to a forced directory removal, then deletes the bound
// branch. Invoked at shutdown.
func (p *Pool) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, sb := range p.sandboxes {
		if err := p.removeSandboxDirectory(ctx, sb); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.sandboxes = nil

	if p.baseLock != nil {
		_ = p.baseLock.Unlock()
	}
	return firstErr
}

func (p *Pool) removeSandboxDirectory(ctx context.Context, sb *Sandbox) error {
	if _, err := runGitLong(ctx, p.cfg.MainRepoPath, setupTimeout,
		"worktree", "remove", "--force", sb.Path); err != nil {
		_ = os.RemoveAll(sb.Path)
	}
	_, err := runGit(ctx, p.cfg.MainRepoPath, "branch", "-D", sb.Branch)
	return err
}

// NumFree, NumBusy, and NumError report pool occupancy.
func (p *Pool) NumFree() int  { return p.countStatus(StatusFree) }
func (p *Pool) NumBusy() int  { return p.countStatus(StatusBusy) }
func (p *Pool) NumError() int { return p.countStatus(StatusError) }

func (p *Pool) countStatus(s Status) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sb := range p.sandboxes {
		if sb.Status == s {
			n++
		}
	}
	return n
}

// Snapshot returns a point-in-time copy of every sandbox's state, sorted
// by id, for status reporting.
func (p *Pool) Snapshot() []Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sandbox, len(p.sandboxes))
	for i, sb := range p.sandboxes {
		out[i] = *sb
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
