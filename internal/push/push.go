// Package push pushes a branch to its remote with exponential backoff.
// Policy rejections (protected branches, missing permissions) are never retried.
package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	errs "branchsync/internal/errors"
	"branchsync/internal/git"
	"branchsync/internal/logger"
)

// Defaults used when Options leaves a value unset.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 2 * time.Second
)

// Options configures a Retrier.
type Options struct {
	// MaxRetries is the total number of push attempts.
	MaxRetries int
	// InitialDelay is the wait after the first failure; it doubles after each further failure.
	InitialDelay time.Duration
	DryRun       bool
}

// ProtectionFunc reports whether branch is protected on the hosting service.
type ProtectionFunc func(ctx context.Context, branch string) (bool, error)

// Result describes a push.
type Result struct {
	Remote   string
	Branch   string
	Attempts int
	// Delays are the waits between attempts, in order.
	Delays []time.Duration
	// Commands holds the git commands a dry run would execute.
	Commands []string
	// Manual holds instructions for pushing by hand after a permission failure.
	Manual []string
	// Protected is set when the hosting service reported the branch protection state.
	Protected *bool
}

// Retrier pushes through a git.Client.
type Retrier struct {
	client     git.Client
	opts       Options
	log        *logger.Logger
	timer      backoff.Timer
	protection ProtectionFunc
	now        func() time.Time
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithTimer replaces the backoff timer (tests use one that fires immediately).
func WithTimer(t backoff.Timer) Option {
	return func(r *Retrier) { r.timer = t }
}

// WithProtection enables the branch-protection lookup after permission failures.
func WithProtection(fn ProtectionFunc) Option {
	return func(r *Retrier) { r.protection = fn }
}

// New returns a Retrier.
func New(client git.Client, opts Options, log *logger.Logger, options ...Option) *Retrier {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if log == nil {
		log = logger.Discard(nil)
	}
	r := &Retrier{client: client, opts: opts, log: log, now: time.Now}
	for _, o := range options {
		o(r)
	}
	return r
}

func (r *Retrier) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.InitialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = r.opts.InitialDelay << uint(r.opts.MaxRetries)
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.opts.MaxRetries-1)), ctx)
}

// Push pushes branch to remote. A dry run executes nothing and returns the
// command sequence. Permission failures return immediately with kind
// PermissionDenied and manual instructions; other failures are retried and
// finally returned with kind TransientRemote.
func (r *Retrier) Push(ctx context.Context, remote, branch string) (Result, error) {
	const op errs.Op = "push.Push"
	res := Result{Remote: remote, Branch: branch}

	if r.opts.DryRun {
		cmd := git.PushArgs(remote, branch)
		res.Commands = []string{"git " + strings.Join(cmd, " ")}
		r.log.User("%s", git.FormatCommandPreview(cmd))
		return res, nil
	}

	var lastErr error
	operation := func() error {
		res.Attempts++
		r.log.User("Pushing %s to %s (attempt %d/%d)", branch, remote, res.Attempts, r.opts.MaxRetries)
		err := r.client.Push(ctx, remote, branch)
		if err == nil {
			return nil
		}
		lastErr = err
		var pushErr *git.PushError
		if errs.As(err, &pushErr) && pushErr.Kind == git.PushPermissionDenied {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		res.Delays = append(res.Delays, d)
		r.log.UserWarn("Push failed: %v. Retrying in %s", err, d)
	}

	err := backoff.RetryNotifyWithTimer(operation, r.newBackOff(ctx), notify, r.timer)
	if err == nil {
		r.log.Success("Pushed %s to %s", branch, remote)
		return res, nil
	}
	if lastErr == nil {
		// The context ended before the first attempt completed.
		return res, errs.E(op, errs.KindFatal, err)
	}

	var pushErr *git.PushError
	if errs.As(lastErr, &pushErr) && pushErr.Kind == git.PushPermissionDenied {
		res.Manual = r.manualInstructions(remote, branch)
		if r.protection != nil {
			if protected, perr := r.protection(ctx, branch); perr == nil {
				res.Protected = &protected
			} else {
				r.log.Warn("branch protection lookup failed", "branch", branch, "error", perr)
			}
		}
		return res, errs.E(op, errs.KindPermissionDenied, lastErr)
	}
	if ctx.Err() != nil {
		return res, errs.E(op, errs.KindTransientRemote, fmt.Errorf("push interrupted after %d attempt(s): %w", res.Attempts, lastErr))
	}
	return res, errs.E(op, errs.KindTransientRemote, fmt.Errorf("push failed after %d attempt(s): %w", res.Attempts, lastErr))
}

func (r *Retrier) manualInstructions(remote, branch string) []string {
	side := fmt.Sprintf("branchsync/%s-%s", branch, r.now().Format("20060102-150405"))
	return []string{
		fmt.Sprintf("git push %s %s", remote, branch),
		fmt.Sprintf("git push %s %s:refs/heads/%s", remote, branch, side),
	}
}
