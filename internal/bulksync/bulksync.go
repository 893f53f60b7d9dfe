// Package bulksync merges every branch that is ahead of a target branch into
// it in one locked session, recording start and end breadcrumbs.
package bulksync

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"branchsync/internal/branches"
	"branchsync/internal/breadcrumb"
	"branchsync/internal/config"
	"branchsync/internal/conflict"
	errs "branchsync/internal/errors"
	"branchsync/internal/git"
	"branchsync/internal/lock"
	"branchsync/internal/logger"
	"branchsync/internal/merge"
	"branchsync/internal/prompt"
	"branchsync/internal/push"
)

// File names used inside the state directory when no path is configured.
const (
	LockFileName       = "sync.lock"
	BreadcrumbFileName = "breadcrumbs.log"
)

// Options configures a session. Build it once and do not modify it afterwards.
type Options struct {
	Target        string
	Remote        string
	SessionPrefix string
	AllowList     []string
	LockPath      string
	LockMaxAge    time.Duration
	// MergeMessage is a template with {branch} and {target} placeholders.
	MergeMessage string
	Push         push.Options
	// AutoPush pushes after a completed session without asking.
	AutoPush bool
	// DeleteMerged deletes merged session branches after a successful push.
	DeleteMerged bool
	DryRun       bool
}

// OptionsFromConfig builds Options for target. Lock and breadcrumb paths not
// set in cfg are placed in stateDir.
func OptionsFromConfig(cfg *config.Config, target, stateDir string) Options {
	if cfg == nil {
		cfg = &config.DefaultConfig
	}
	gitCfg := cfg.Git
	if gitCfg == nil {
		gitCfg = config.DefaultConfig.Git
	}
	syncCfg := cfg.Sync
	if syncCfg == nil {
		syncCfg = config.DefaultConfig.Sync
	}
	pushCfg := cfg.Push
	if pushCfg == nil {
		pushCfg = config.DefaultConfig.Push
	}
	return Options{
		Target:        target,
		Remote:        gitCfg.Remote,
		SessionPrefix: syncCfg.SessionPrefix,
		AllowList:     append([]string(nil), syncCfg.AllowList...),
		LockPath:      config.ResolvePath(cfg, syncCfg.LockPath, filepath.Join(stateDir, LockFileName)),
		LockMaxAge:    syncCfg.LockMaxAge,
		MergeMessage:  syncCfg.MergeMessage,
		Push: push.Options{
			MaxRetries:   pushCfg.MaxRetries,
			InitialDelay: pushCfg.InitialDelay,
		},
	}
}

// BreadcrumbPath returns the configured breadcrumb log, or the default one in stateDir.
func BreadcrumbPath(cfg *config.Config, stateDir string) string {
	p := ""
	if cfg != nil && cfg.Sync != nil {
		p = cfg.Sync.BreadcrumbLog
	}
	return config.ResolvePath(cfg, p, filepath.Join(stateDir, BreadcrumbFileName))
}

// State is the position of a session in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateLockAcquired
	StateTargetUpdated
	StateCandidatesSnapshotted
	StateMerging
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLockAcquired:
		return "lock acquired"
	case StateTargetUpdated:
		return "target updated"
	case StateCandidatesSnapshotted:
		return "candidates snapshotted"
	case StateMerging:
		return "merging"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind is the overall result of a session.
type Kind int

const (
	Completed Kind = iota
	Skipped
	Aborted
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "Completed"
	case Skipped:
		return "Skipped"
	case Aborted:
		return "Aborted"
	}
	return "Unknown"
}

// Conflict identifies the candidate that stopped a session.
type Conflict struct {
	Candidate string
	Paths     []string
}

// Outcome reports what a session did. Merged lists merged branches in order.
type Outcome struct {
	Kind      Kind
	SessionID string
	Target    string
	// Reason classifies Err for skipped and aborted sessions.
	Reason errs.Kind
	Err    error
	Merged []string
	// Candidates is the snapshot the session worked from.
	Candidates []branches.BranchRef
	Conflict   *Conflict
	// NextCommands are the commands available to the operator after an abort.
	NextCommands []string
	StashLabel   string
	Head         string
	Push         *push.Result
	PushErr      error
	Deleted      []string
	Warnings     []string
	// Planned holds the commands a dry run would execute.
	Planned []string
}

// MergedCount returns the number of merged branches.
func (o Outcome) MergedCount() int {
	return len(o.Merged)
}

func (o Outcome) String() string {
	switch o.Kind {
	case Completed:
		return fmt.Sprintf("Completed(merged=%d)", o.MergedCount())
	case Skipped:
		return fmt.Sprintf("Skipped(reason=%s)", o.reasonText())
	default:
		return fmt.Sprintf("Aborted(reason=%s, merged=%d)", o.reasonText(), o.MergedCount())
	}
}

func (o Outcome) reasonText() string {
	if errs.Is(o.Err, errs.ErrLockHeld) {
		return "lock held"
	}
	return o.Reason.String()
}

// Orchestrator runs sync sessions.
type Orchestrator struct {
	client    git.Client
	opts      Options
	log       *logger.Logger
	confirmer prompt.Confirmer
	locks     *lock.Manager
	sink      breadcrumb.Sink
	pushOpts  []push.Option
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfirmer sets the confirmation provider. Without one every
// confirmation is declined.
func WithConfirmer(c prompt.Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

// WithLocks sets the lock manager.
func WithLocks(m *lock.Manager) Option {
	return func(o *Orchestrator) { o.locks = m }
}

// WithBreadcrumbs sets the breadcrumb sink.
func WithBreadcrumbs(s breadcrumb.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithPushOptions passes options to the push retrier.
func WithPushOptions(opts ...push.Option) Option {
	return func(o *Orchestrator) { o.pushOpts = append(o.pushOpts, opts...) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator.
func New(client git.Client, opts Options, log *logger.Logger, options ...Option) *Orchestrator {
	if log == nil {
		log = logger.Discard(nil)
	}
	if opts.Remote == "" {
		opts.Remote = config.DefaultConfig.Git.Remote
	}
	if opts.MergeMessage == "" {
		opts.MergeMessage = config.DefaultConfig.Sync.MergeMessage
	}
	o := &Orchestrator{
		client:    client,
		opts:      opts,
		log:       log,
		confirmer: prompt.AlwaysNo,
		sink:      &breadcrumb.Memory{},
		now:       time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	if o.locks == nil {
		o.locks = lock.NewManager(log)
	}
	return o
}

// session carries the mutable state of one Run.
type session struct {
	*Orchestrator
	id       string
	log      *logger.Logger
	state    State
	outcome  Outcome
	original string
	// stuck is set when a conflicted merge could not be aborted; the
	// working tree must then stay on the target.
	stuck bool
}

func (s *session) enter(state State) {
	s.log.Debug("session state", "from", s.state.String(), "to", state.String())
	s.state = state
}

func (s *session) abort(reason errs.Kind, err error) Outcome {
	s.enter(StateAborted)
	s.outcome.Kind = Aborted
	s.outcome.Reason = reason
	s.outcome.Err = err
	return s.outcome
}

// Run executes one session. The returned Outcome is always meaningful; Run
// never returns a Go error for expected results such as a held lock.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	id := uuid.New().String()
	s := &session{
		Orchestrator: o,
		id:           id,
		log:          o.log.With("session", id, "target", o.opts.Target),
		outcome:      Outcome{SessionID: id, Target: o.opts.Target},
	}
	if o.opts.DryRun {
		return s.plan(ctx)
	}
	return s.run(ctx)
}

func (s *session) run(ctx context.Context) Outcome {
	target := s.opts.Target

	original, err := s.client.CurrentBranch(ctx)
	if err != nil {
		return s.abort(errs.KindFatal, err)
	}
	s.original = original

	handle, err := s.locks.Acquire(ctx, s.opts.LockPath, s.opts.LockMaxAge)
	if err != nil {
		kind := errs.KindOf(err)
		if kind == errs.KindSkippable {
			s.log.UserWarn("Skipping sync: %v", err)
			s.outcome.Kind = Skipped
			s.outcome.Reason = kind
			s.outcome.Err = err
			return s.outcome
		}
		return s.abort(errs.KindFatal, err)
	}
	defer func() {
		if rerr := handle.Release(); rerr != nil {
			s.log.Warn("failed to release lock", "path", handle.Path, "error", rerr)
		}
	}()
	s.enter(StateLockAcquired)

	executor := merge.New(s.client, s.confirmer, s.log)
	label, err := executor.EnsureClean(ctx)
	if err != nil {
		return s.abort(errs.KindOf(err), err)
	}
	s.outcome.StashLabel = label

	s.log.User("Fetching %s", s.opts.Remote)
	if err := s.client.Fetch(ctx, s.opts.Remote); err != nil {
		return s.abort(errs.KindTransientRemote, err)
	}
	if _, err := executor.Prepare(ctx, target, s.opts.Remote); err != nil {
		var result *merge.ConflictResult
		if errs.As(err, &result) {
			s.pullConflict(ctx, result, err)
		} else {
			s.abort(errs.KindOf(err), err)
		}
		if !s.stuck {
			s.returnToOriginal(ctx)
		}
		return s.outcome
	}
	s.enter(StateTargetUpdated)

	head, err := s.client.Head(ctx)
	if err != nil {
		s.returnToOriginal(ctx)
		return s.abort(errs.KindFatal, err)
	}
	if err := s.sink.Append(breadcrumb.Start(s.now(), target, head)); err != nil {
		s.returnToOriginal(ctx)
		return s.abort(errs.KindFatal, fmt.Errorf("failed to write start breadcrumb: %w", err))
	}

	s.mergeAll(ctx, executor, handle)
	s.writeEnd(ctx)

	if s.outcome.Kind == Completed {
		s.enter(StateDone)
		if s.outcome.MergedCount() > 0 {
			s.offerPush(ctx)
		}
	}
	if !s.stuck {
		s.returnToOriginal(ctx)
	}
	return s.outcome
}

// mergeAll snapshots candidates and merges them in order, recording the
// result in s.outcome.
func (s *session) mergeAll(ctx context.Context, executor *merge.Executor, handle *lock.Handle) {
	target := s.opts.Target

	candidates, err := s.snapshot(ctx)
	if err != nil {
		s.abort(errs.KindFatal, err)
		return
	}
	s.outcome.Candidates = candidates
	s.enter(StateCandidatesSnapshotted)

	if len(candidates) == 0 {
		s.log.User("No branches are ahead of %s", target)
		s.outcome.Kind = Completed
		return
	}

	if !s.confirmBatch(candidates) {
		s.abort(errs.KindUserAbort, errs.E(errs.Op("bulksync.Run"), errs.KindUserAbort, errs.ErrDeclined))
		return
	}

	detector := conflict.New(s.client)
	s.enter(StateMerging)
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			s.abort(errs.KindFatal, fmt.Errorf("sync interrupted: %w", err))
			return
		}
		if err := handle.Refresh(); err != nil {
			s.log.Warn("failed to refresh lock", "path", handle.Path, "error", err)
		}
		s.log.Info("processing candidate", "index", i, "branch", c.Name, "ahead", c.Ahead)

		rev := c.Rev()
		report, err := detector.Detect(ctx, target, rev)
		if err != nil {
			s.abort(errs.KindOf(err), err)
			return
		}
		if report.Verdict == git.VerdictConflicting {
			s.conflictAbort(ctx, c.Name, report.Paths, false)
			return
		}
		if err := conflict.Decide(report, c.Name, s.confirmer); err != nil {
			s.abort(errs.KindUserAbort, err)
			return
		}

		_, err = executor.Integrate(ctx, merge.Request{
			Target:    target,
			Candidate: rev,
			Strategy:  merge.StrategyMerge,
			Message:   config.RenderMergeMessage(s.opts.MergeMessage, c.Name, target),
		})
		if err != nil {
			var result *merge.ConflictResult
			if errs.As(err, &result) {
				s.conflictAbort(ctx, c.Name, result.Paths, true)
				return
			}
			s.abort(errs.KindOf(err), err)
			return
		}
		s.outcome.Merged = append(s.outcome.Merged, c.Name)
		s.log.Success("Merged %s into %s", c.Name, target)
	}
	s.outcome.Kind = Completed
}

// snapshot returns the candidates for this session. Later changes to the
// repository do not affect the returned list.
func (s *session) snapshot(ctx context.Context) ([]branches.BranchRef, error) {
	classifier := branches.New(s.client, branches.Options{
		Target:        s.opts.Target,
		Remote:        s.opts.Remote,
		SessionPrefix: s.opts.SessionPrefix,
		AllowList:     s.opts.AllowList,
		Summaries:     true,
	})
	refs, err := classifier.Eligible(ctx)
	if err != nil {
		return nil, err
	}
	return append([]branches.BranchRef(nil), refs...), nil
}

func (s *session) confirmBatch(candidates []branches.BranchRef) bool {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge %d branch(es) into %s?\n", len(candidates), s.opts.Target)
	for _, c := range candidates {
		fmt.Fprintf(&b, "  %s (%d ahead, %d behind) %s\n", c.Name, c.Ahead, c.Behind, c.Summary)
	}
	return s.confirmer.Confirm(strings.TrimRight(b.String(), "\n"), false)
}

// conflictAbort stops the session on candidate. When a merge was started it
// is aborted so no merge is left in progress.
func (s *session) conflictAbort(ctx context.Context, candidate string, paths []string, started bool) {
	target := s.opts.Target
	s.outcome.Conflict = &Conflict{Candidate: candidate, Paths: paths}
	s.log.UserWarn("%s conflicts with %s in: %s", candidate, target, strings.Join(paths, ", "))

	if started {
		// Bound by the session context; a cancelled session still has to undo the merge.
		if err := s.client.AbortMerge(context.WithoutCancel(ctx)); err != nil {
			cont, abort := merge.RecoveryCommands(git.OpMerge, paths)
			s.outcome.NextCommands = append(cont, abort...)
			s.outcome.Warnings = append(s.outcome.Warnings, fmt.Sprintf("failed to abort merge: %v", err))
			s.stuck = true
			s.abort(errs.KindConflict, fmt.Errorf("merge of %s stopped with conflicts and could not be aborted: %w", candidate, err))
			return
		}
	}

	cont, _ := merge.RecoveryCommands(git.OpMerge, paths)
	s.outcome.NextCommands = append([]string{
		"git checkout " + target,
		fmt.Sprintf("git merge --no-ff %s", candidate),
	}, cont...)
	s.abort(errs.KindConflict, &git.ConflictError{Op: git.OpMerge, Paths: paths})
}

// pullConflict stops the session when the target diverged from its upstream
// and merging the upstream commits conflicted. The pull merge is aborted so
// the target keeps only its local commits.
func (s *session) pullConflict(ctx context.Context, c *merge.ConflictResult, err error) {
	target := s.opts.Target
	s.outcome.Conflict = &Conflict{Candidate: c.Candidate, Paths: c.Paths}
	s.log.UserWarn("%s has diverged from %s and conflicts in: %s", target, c.Candidate, strings.Join(c.Paths, ", "))

	if aerr := s.client.AbortMerge(context.WithoutCancel(ctx)); aerr != nil {
		s.outcome.NextCommands = append(append([]string{}, c.Continue...), c.Abort...)
		s.outcome.Warnings = append(s.outcome.Warnings, fmt.Sprintf("failed to abort merge: %v", aerr))
		s.stuck = true
		s.abort(errs.KindConflict, fmt.Errorf("update of %s stopped with conflicts and could not be aborted: %w", target, aerr))
		return
	}

	s.outcome.NextCommands = append([]string{
		"git checkout " + target,
		"git " + strings.Join(git.PullMergeArgs(s.opts.Remote, target), " "),
	}, c.Continue...)
	s.abort(errs.KindConflict, err)
}

func (s *session) offerPush(ctx context.Context) {
	target := s.opts.Target
	if !s.opts.AutoPush && !s.confirmer.Confirm(fmt.Sprintf("Push %s to %s?", target, s.opts.Remote), false) {
		s.log.User("Not pushing. Push later with: git push %s %s", s.opts.Remote, target)
		return
	}

	retrier := push.New(s.client, s.opts.Push, s.log, s.pushOpts...)
	res, err := retrier.Push(ctx, s.opts.Remote, target)
	s.outcome.Push = &res
	if err != nil {
		s.outcome.PushErr = err
		s.log.UserWarn("Push failed; local merges are kept: %v", err)
		for _, cmd := range res.Manual {
			s.log.User("  %s", cmd)
		}
		return
	}
	if s.opts.DeleteMerged {
		s.deleteMerged(ctx)
	}
}

func (s *session) deleteMerged(ctx context.Context) {
	merged := make(map[string]bool, len(s.outcome.Merged))
	for _, name := range s.outcome.Merged {
		merged[name] = true
	}
	for _, c := range s.outcome.Candidates {
		if !c.Session || !merged[c.Name] || c.Name == s.original {
			continue
		}
		if err := s.client.DeleteBranch(ctx, c.Name, c.Location); err != nil {
			s.outcome.Warnings = append(s.outcome.Warnings, fmt.Sprintf("failed to delete %s: %v", c.Name, err))
			s.log.UserWarn("Failed to delete %s: %v", c.Name, err)
			continue
		}
		s.outcome.Deleted = append(s.outcome.Deleted, c.Name)
		s.log.Success("Deleted %s (%s)", c.Name, c.Location)
	}
}

// writeEnd appends the end breadcrumb with the current head.
func (s *session) writeEnd(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	head, err := s.client.Head(ctx)
	if err != nil {
		head = "unknown"
	}
	s.outcome.Head = head
	if err := s.sink.Append(breadcrumb.End(s.now(), s.opts.Target, head, s.outcome.MergedCount())); err != nil {
		s.outcome.Warnings = append(s.outcome.Warnings, fmt.Sprintf("failed to write end breadcrumb: %v", err))
		s.log.Warn("failed to write end breadcrumb", "error", err)
	}
}

// returnToOriginal checks out the branch that was active when the session
// began. Failure is a warning.
func (s *session) returnToOriginal(ctx context.Context) {
	if s.original == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	current, err := s.client.CurrentBranch(ctx)
	if err == nil && current == s.original {
		return
	}
	if err := s.client.Checkout(ctx, s.original); err != nil {
		msg := fmt.Sprintf("could not return to %s: %v", s.original, err)
		s.outcome.Warnings = append(s.outcome.Warnings, msg)
		s.log.UserWarn("Could not return to %s: %v", s.original, err)
	}
}

// plan lists what a session would do without taking the lock or touching
// the repository.
func (s *session) plan(ctx context.Context) Outcome {
	target := s.opts.Target
	candidates, err := s.snapshot(ctx)
	if err != nil {
		return s.abort(errs.KindFatal, err)
	}
	s.outcome.Candidates = candidates

	planned := []string{
		"git fetch --prune " + s.opts.Remote,
		"git checkout " + target,
		fmt.Sprintf("git pull --ff-only %s %s || git %s", s.opts.Remote, target,
			strings.Join(git.PullMergeArgs(s.opts.Remote, target), " ")),
	}
	for _, c := range candidates {
		msg := config.RenderMergeMessage(s.opts.MergeMessage, c.Name, target)
		planned = append(planned, fmt.Sprintf("git merge --no-ff --no-edit -m %q %s", msg, c.Rev()))
	}
	if len(candidates) > 0 {
		planned = append(planned, "git "+strings.Join(git.PushArgs(s.opts.Remote, target), " "))
	}
	s.outcome.Planned = planned
	for _, cmd := range planned {
		s.log.User("[DRY RUN] %s", cmd)
	}
	s.outcome.Kind = Completed
	return s.outcome
}
