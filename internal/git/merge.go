package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CleanupError is returned when a trial merge could not be fully reverted.
// Recovery lists the commands an operator runs to restore the repository.
type CleanupError struct {
	Worktree string
	Recovery []string
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to clean up trial merge worktree %s: %v (run: %s)",
		e.Worktree, e.Err, strings.Join(e.Recovery, " && "))
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// SimulateMerge predicts whether merging b into a would conflict without
// touching the working tree or index. base is recorded in the report.
func (c *CLI) SimulateMerge(ctx context.Context, base, a, b string) (ConflictReport, error) {
	var (
		report ConflictReport
		err    error
	)
	switch c.simulationStrategy(ctx) {
	case ConflictCheckMergeTree:
		report, err = c.mergeTree(ctx, a, b)
	default:
		report, err = c.trialMerge(ctx, a, b)
	}
	report.MergeBase = base
	return report, err
}

func (c *CLI) simulationStrategy(ctx context.Context) string {
	if c.conflictCheck != ConflictCheckAuto {
		return c.conflictCheck
	}
	if c.SupportsMergeTree(ctx) {
		return ConflictCheckMergeTree
	}
	return ConflictCheckTrial
}

// SupportsMergeTree reports whether git merge-tree --write-tree is available (git >= 2.38).
func (c *CLI) SupportsMergeTree(ctx context.Context) bool {
	major, minor := c.version(ctx)
	return major > 2 || (major == 2 && minor >= 38)
}

// mergeTree computes the merge entirely in the object store.
func (c *CLI) mergeTree(ctx context.Context, a, b string) (ConflictReport, error) {
	out, err := c.run(ctx, "merge-tree", "--write-tree", "--name-only", "--no-messages", "-z", a, b)
	if err == nil {
		return ConflictReport{Verdict: VerdictClean}, nil
	}
	if exitCode(err) != 1 {
		return ConflictReport{}, fmt.Errorf("merge-tree of %s and %s failed: %w", a, b, err)
	}
	// First field is the resulting tree; the remaining fields are conflicted paths.
	fields := splitNUL(out)
	if len(fields) > 1 {
		return ConflictReport{Verdict: VerdictConflicting, Paths: fields[1:]}, nil
	}
	return ConflictReport{
		Verdict: VerdictIndeterminate,
		Warning: "merge-tree reported conflicts without naming paths",
	}, nil
}

// trialMerge runs a real merge inside a disposable detached worktree and
// always reverts it, even when ctx is cancelled.
func (c *CLI) trialMerge(ctx context.Context, a, b string) (report ConflictReport, err error) {
	scratch, err := os.MkdirTemp("", "branchsync-trial-")
	if err != nil {
		return ConflictReport{}, fmt.Errorf("failed to create trial merge directory: %w", err)
	}
	wt := filepath.Join(scratch, "worktree")

	if _, err := c.run(ctx, "worktree", "add", "--detach", wt, a); err != nil {
		_ = os.RemoveAll(scratch)
		return ConflictReport{}, fmt.Errorf("failed to create trial merge worktree: %w", err)
	}

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if cerr := c.removeTrialWorktree(cleanupCtx, wt); cerr != nil {
			report = ConflictReport{}
			err = cerr
			return
		}
		_ = os.RemoveAll(scratch)
	}()

	_, mergeErr := c.runIn(ctx, wt, "merge", "--no-commit", "--no-ff", b)
	if mergeErr == nil {
		return ConflictReport{Verdict: VerdictClean}, nil
	}
	if paths := c.unmergedPaths(ctx, wt); len(paths) > 0 {
		return ConflictReport{Verdict: VerdictConflicting, Paths: paths}, nil
	}
	return ConflictReport{}, fmt.Errorf("trial merge of %s into %s failed: %w", b, a, mergeErr)
}

func (c *CLI) removeTrialWorktree(ctx context.Context, wt string) error {
	// Fails harmlessly when no merge is in progress.
	_, _ = c.runIn(ctx, wt, "merge", "--abort")
	if _, err := c.run(ctx, "worktree", "remove", "--force", wt); err != nil {
		return &CleanupError{
			Worktree: wt,
			Recovery: []string{
				fmt.Sprintf("git -C %s merge --abort", wt),
				fmt.Sprintf("git worktree remove --force %s", wt),
				"git worktree prune",
			},
			Err: err,
		}
	}
	return nil
}

// Merge merges source into the current branch with a merge commit.
// Conflicts are reported as *ConflictError and left in place.
func (c *CLI) Merge(ctx context.Context, source, message string) error {
	args := []string{"merge", "--no-ff", "--no-edit"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, source)
	if _, err := c.run(ctx, args...); err != nil {
		if paths := c.unmergedPaths(ctx, c.dir); len(paths) > 0 {
			return &ConflictError{Op: OpMerge, Paths: paths}
		}
		return fmt.Errorf("failed to merge %s: %w", source, err)
	}
	return nil
}

// Rebase rebases the current branch onto onto. Conflicts are reported as
// *ConflictError and left in place.
func (c *CLI) Rebase(ctx context.Context, onto string) error {
	// GIT_EDITOR=true keeps rebase from opening an editor in non-interactive runs.
	if _, err := c.runner.Run(ctx, c.dir, []string{"GIT_EDITOR=true"}, "rebase", onto); err != nil {
		if paths := c.unmergedPaths(ctx, c.dir); len(paths) > 0 {
			return &ConflictError{Op: OpRebase, Paths: paths}
		}
		return fmt.Errorf("failed to rebase onto %s: %w", onto, err)
	}
	return nil
}
