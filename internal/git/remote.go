package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Fetch updates remote-tracking refs from remote, pruning deleted branches.
func (c *CLI) Fetch(ctx context.Context, remote string) error {
	if _, err := c.run(ctx, "fetch", "--prune", remote); err != nil {
		return &FetchError{Remote: remote, Err: err}
	}
	return nil
}

// Pull updates the current branch from remote/branch, fast-forwarding when
// possible and merging otherwise. upToDate is true when there was nothing to
// pull. A merge that stops on conflicts is returned as *ConflictError and
// left in place.
func (c *CLI) Pull(ctx context.Context, remote, branch string) (bool, error) {
	before, _ := c.Head(ctx)
	out, err := c.run(ctx, "pull", "--ff-only", remote, branch)
	if err != nil {
		if !notFastForward(stderrOf(err)) {
			return false, fmt.Errorf("failed to pull %s from %s: %w", branch, remote, err)
		}
		out, err = c.run(ctx, PullMergeArgs(remote, branch)...)
		if err != nil {
			if paths := c.unmergedPaths(ctx, c.dir); len(paths) > 0 {
				return false, &ConflictError{Op: OpMerge, Paths: paths}
			}
			return false, fmt.Errorf("failed to merge %s from %s: %w", branch, remote, err)
		}
	}
	if strings.Contains(out, "Already up to date") || strings.Contains(out, "Already up-to-date") {
		return true, nil
	}
	after, _ := c.Head(ctx)
	return before != "" && before == after, nil
}

// PullMergeArgs returns the arguments of the merging pull used when the
// branch has diverged from its upstream.
func PullMergeArgs(remote, branch string) []string {
	return []string{"pull", "--no-rebase", "--ff", "--no-edit", remote, branch}
}

func notFastForward(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{"not possible to fast-forward", "divergent branches", "diverging branches"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// PushArgs returns the arguments Push passes to git.
func PushArgs(remote, branch string) []string {
	return []string{"push", remote, branch}
}

// Push pushes branch to remote. Failures are returned as *PushError
// classified as transient or permission denied.
func (c *CLI) Push(ctx context.Context, remote, branch string) error {
	if _, err := c.run(ctx, PushArgs(remote, branch)...); err != nil {
		stderr := stderrOf(err)
		return &PushError{
			Kind:   ClassifyPushFailure(stderr),
			Remote: remote,
			Branch: branch,
			Stderr: stderr,
			Err:    err,
		}
	}
	return nil
}

// DeleteBranch deletes name locally, on the configured remote, or both.
// With LocationBoth both deletions are attempted and their errors joined.
func (c *CLI) DeleteBranch(ctx context.Context, name string, location Location) error {
	var errs []error
	if location == LocationLocal || location == LocationBoth {
		if _, err := c.run(ctx, "branch", "-D", name); err != nil {
			errs = append(errs, &DeleteError{Branch: name, Location: LocationLocal, Err: err})
		}
	}
	if location == LocationRemote || location == LocationBoth {
		if _, err := c.run(ctx, "push", c.remote, "--delete", name); err != nil {
			errs = append(errs, &DeleteError{Branch: name, Location: LocationRemote, Err: err})
		}
	}
	if location != LocationLocal && location != LocationRemote && location != LocationBoth {
		return &DeleteError{Branch: name, Location: location, Err: fmt.Errorf("unknown location")}
	}
	return errors.Join(errs...)
}
