// Package forge publishes task branches as change requests against a code
// forge. It shells out to the `gh` CLI rather than linking a forge SDK: no
// example in this codebase's dependency pack links one, and introducing a
// forge client library here would be unrounded by anything else in the
// stack.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/harrison/conductor/internal/claude"
	"github.com/harrison/conductor/internal/execerrors"
)

const cliTimeout = 30 * time.Second

// ChangeRequest is a forge pull/merge request as reported by the `gh` CLI.
type ChangeRequest struct {
	Number    int
	URL       string
	State     string // "OPEN", "MERGED", "CLOSED"
	Mergeable bool
}

// Client publishes branches as change requests in a single owner/repo.
type Client struct {
	RepoDir string // working directory gh should run from (a sandbox or the main repo)
	Base    string // base branch PRs target, e.g. "main"
}

// NewClient constructs a Client bound to a repo checkout.
func NewClient(repoDir, base string) *Client {
	if base == "" {
		base = "main"
	}
	return &Client{RepoDir: repoDir, Base: base}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = c.RepoDir
	claude.SetCleanEnv(cmd)

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", execerrors.New(execerrors.KindExecVCSError,
			fmt.Sprintf("gh %s timed out after %s", strings.Join(args, " "), cliTimeout))
	}
	if err != nil {
		return "", execerrors.Wrap(execerrors.KindExecVCSError,
			fmt.Sprintf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out))), err)
	}
	return string(out), nil
}

type prListEntry struct {
	Number    int    `json:"number"`
	URL       string `json:"url"`
	State     string `json:"state"`
	Mergeable string `json:"mergeable"`
}

// FindOpenChangeRequest returns the open PR for a branch, if one exists.
func (c *Client) FindOpenChangeRequest(ctx context.Context, branch string) (*ChangeRequest, error) {
	out, err := c.run(ctx, "pr", "list", "--head", branch, "--state", "open",
		"--json", "number,url,state,mergeable")
	if err != nil {
		return nil, err
	}

	var entries []prListEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, execerrors.Wrap(execerrors.KindExecVCSError, "parse gh pr list output", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	e := entries[0]
	return &ChangeRequest{
		Number:    e.Number,
		URL:       e.URL,
		State:     e.State,
		Mergeable: e.Mergeable == "MERGEABLE",
	}, nil
}

// CreateChangeRequest opens a PR for branch against Base, or returns the
// existing open PR for that branch if one is already present.
func (c *Client) CreateChangeRequest(ctx context.Context, branch, title, body string) (*ChangeRequest, error) {
	if existing, err := c.FindOpenChangeRequest(ctx, branch); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	out, err := c.run(ctx, "pr", "create",
		"--head", branch, "--base", c.Base,
		"--title", title, "--body", body)
	if err != nil {
		return nil, execerrors.Wrap(execerrors.KindExecPublishError, "create change request", err)
	}

	url := strings.TrimSpace(out)
	lines := strings.Split(url, "\n")
	url = strings.TrimSpace(lines[len(lines)-1])

	return c.FindOpenChangeRequestByURL(ctx, branch, url)
}

// FindOpenChangeRequestByURL re-queries the branch's PR list, since `gh pr
// create` prints only a URL. Falls back to a synthetic record carrying just
// the URL if the list lookup comes back empty (e.g. state flipped fast).
func (c *Client) FindOpenChangeRequestByURL(ctx context.Context, branch, url string) (*ChangeRequest, error) {
	cr, err := c.FindOpenChangeRequest(ctx, branch)
	if err != nil {
		return nil, err
	}
	if cr != nil {
		return cr, nil
	}
	return &ChangeRequest{URL: url, State: "OPEN"}, nil
}

// MergeResult reports the outcome of MergeChangeRequest.
type MergeResult struct {
	Merged bool
	SHA    string
}

// MergeChangeRequest squash-merges an open change request and deletes its
// branch on the remote.
func (c *Client) MergeChangeRequest(ctx context.Context, number int) (*MergeResult, error) {
	out, err := c.run(ctx, "pr", "merge", fmt.Sprintf("%d", number),
		"--squash", "--delete-branch")
	if err != nil {
		return nil, execerrors.Wrap(execerrors.KindExecPublishError,
			fmt.Sprintf("merge change request #%d", number), err)
	}
	if !strings.Contains(strings.ToLower(out), "merged") {
		return &MergeResult{Merged: false}, nil
	}

	sha, err := c.currentRemoteSHA(ctx, c.Base)
	if err != nil {
		return &MergeResult{Merged: true}, nil
	}
	return &MergeResult{Merged: true, SHA: sha}, nil
}

func (c *Client) currentRemoteSHA(ctx context.Context, branch string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "origin/"+branch)
	cmd.Dir = c.RepoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("rev-parse origin/%s: %w", branch, err)
	}
	return strings.TrimSpace(string(out)), nil
}
