// Package merge integrates a candidate branch into a target branch by merge
// or rebase, reporting conflicts with the commands needed to finish or undo them.
package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	errs "branchsync/internal/errors"
	"branchsync/internal/git"
	"branchsync/internal/logger"
	"branchsync/internal/prompt"
)

// Strategy selects how a candidate is integrated.
type Strategy string

const (
	StrategyMerge  Strategy = "merge"
	StrategyRebase Strategy = "rebase"
)

// ParseStrategy parses "merge" or "rebase"; empty means merge.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyMerge:
		return StrategyMerge, nil
	case StrategyRebase:
		return StrategyRebase, nil
	}
	return "", fmt.Errorf("invalid strategy '%s': use one of: merge, rebase", s)
}

// StashPrefix starts the label of every automatic stash.
const StashPrefix = "branchsync-autostash-"

// Request describes one integration.
type Request struct {
	Target    string
	Candidate string
	Remote    string
	Strategy  Strategy
	Message   string
}

// Prepared describes the state after Prepare.
type Prepared struct {
	// StashLabel is set when uncommitted changes were stashed.
	StashLabel string
	UpToDate   bool
}

// Result describes a successful integration.
type Result struct {
	Prepared
	Head string
}

// ConflictResult is returned (wrapped with kind Conflict) when the
// integration stops on conflicts. The repository is left in the conflicted
// state; Continue and Abort are the command sequences to finish or undo it.
type ConflictResult struct {
	Op        git.Operation
	Target    string
	Candidate string
	Paths     []string
	Continue  []string
	Abort     []string
}

func (c *ConflictResult) Error() string {
	return fmt.Sprintf("%s of %s into %s stopped with conflicts in: %s",
		c.Op, c.Candidate, c.Target, strings.Join(c.Paths, ", "))
}

// RecoveryCommands returns the continue and abort sequences for a stopped op.
func RecoveryCommands(op git.Operation, paths []string) (cont, abort []string) {
	add := "git add " + strings.Join(quotePaths(paths), " ")
	if op == git.OpRebase {
		return []string{add, "git rebase --continue"}, []string{"git rebase --abort"}
	}
	return []string{add, "git commit --no-edit"}, []string{"git merge --abort"}
}

func quotePaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if strings.ContainsAny(p, " \t'\"") {
			out[i] = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
			continue
		}
		out[i] = p
	}
	return out
}

// Executor performs integrations through a git.Client.
type Executor struct {
	client    git.Client
	confirmer prompt.Confirmer
	log       *logger.Logger
	now       func() time.Time
}

// New returns an Executor. confirmer is asked before stashing.
func New(client git.Client, confirmer prompt.Confirmer, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Discard(nil)
	}
	return &Executor{client: client, confirmer: confirmer, log: log, now: time.Now}
}

// Run prepares the target and integrates the candidate into it.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	prepared, err := e.Prepare(ctx, req.Target, req.Remote)
	if err != nil {
		return Result{}, err
	}
	head, err := e.Integrate(ctx, req)
	if err != nil {
		return Result{Prepared: prepared}, err
	}
	return Result{Prepared: prepared, Head: head}, nil
}

// Prepare makes the working tree clean (stashing after confirmation),
// checks out target and pulls it from remote.
func (e *Executor) Prepare(ctx context.Context, target, remote string) (Prepared, error) {
	const op errs.Op = "merge.Prepare"
	var prepared Prepared

	label, err := e.EnsureClean(ctx)
	if err != nil {
		return prepared, err
	}
	prepared.StashLabel = label

	e.log.User("Checking out %s", target)
	if err := e.client.Checkout(ctx, target); err != nil {
		return prepared, errs.E(op, errs.KindFatal, err)
	}

	if remote == "" {
		return prepared, nil
	}
	upToDate, err := e.client.Pull(ctx, remote, target)
	if err != nil {
		var conflictErr *git.ConflictError
		if errs.As(err, &conflictErr) {
			cont, abort := RecoveryCommands(conflictErr.Op, conflictErr.Paths)
			return prepared, errs.E(op, errs.KindConflict, &ConflictResult{
				Op:        conflictErr.Op,
				Target:    target,
				Candidate: remote + "/" + target,
				Paths:     conflictErr.Paths,
				Continue:  cont,
				Abort:     abort,
			})
		}
		return prepared, errs.E(op, errs.KindFatal, err)
	}
	prepared.UpToDate = upToDate
	if upToDate {
		e.log.User("%s is already up to date with %s", target, remote)
	} else {
		e.log.User("Updated %s from %s", target, remote)
	}
	return prepared, nil
}

// EnsureClean returns "" when the tree is clean. A dirty tree is stashed
// after confirmation and the stash label returned. Uncommitted changes are
// never discarded.
func (e *Executor) EnsureClean(ctx context.Context) (string, error) {
	const op errs.Op = "merge.EnsureClean"

	clean, err := e.client.IsClean(ctx)
	if err != nil {
		return "", errs.E(op, errs.KindFatal, err)
	}
	if clean {
		return "", nil
	}

	label := StashPrefix + e.now().Format("20060102-150405")
	question := fmt.Sprintf("Working tree has uncommitted changes. Stash them as %s and continue?", label)
	if e.confirmer == nil || !e.confirmer.Confirm(question, false) {
		return "", errs.E(op, errs.KindUserAbort, fmt.Errorf("%w: %w", errs.ErrDirtyWorktree, errs.ErrDeclined))
	}
	if err := e.client.Stash(ctx, label); err != nil {
		return "", errs.E(op, errs.KindFatal, fmt.Errorf("%w: %w", errs.ErrDirtyWorktree, err))
	}
	e.log.User("Stashed uncommitted changes as %s (restore with: git stash pop)", label)
	return label, nil
}

// Integrate merges or rebases req.Candidate into the checked-out target and
// returns the new head.
func (e *Executor) Integrate(ctx context.Context, req Request) (string, error) {
	const op errs.Op = "merge.Integrate"

	var err error
	switch req.Strategy {
	case StrategyRebase:
		e.log.User("Rebasing %s onto %s", req.Target, req.Candidate)
		err = e.client.Rebase(ctx, req.Candidate)
	default:
		e.log.User("Merging %s into %s", req.Candidate, req.Target)
		err = e.client.Merge(ctx, req.Candidate, req.Message)
	}
	if err != nil {
		var conflictErr *git.ConflictError
		if errs.As(err, &conflictErr) {
			cont, abort := RecoveryCommands(conflictErr.Op, conflictErr.Paths)
			return "", errs.E(op, errs.KindConflict, &ConflictResult{
				Op:        conflictErr.Op,
				Target:    req.Target,
				Candidate: req.Candidate,
				Paths:     conflictErr.Paths,
				Continue:  cont,
				Abort:     abort,
			})
		}
		return "", errs.E(op, errs.KindFatal, err)
	}

	head, err := e.client.Head(ctx)
	if err != nil {
		return "", errs.E(op, errs.KindFatal, err)
	}
	return head, nil
}
