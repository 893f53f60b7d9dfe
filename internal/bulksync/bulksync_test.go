package bulksync

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchsync/internal/breadcrumb"
	"branchsync/internal/config"
	errs "branchsync/internal/errors"
	"branchsync/internal/git"
	"branchsync/internal/git/gittest"
	"branchsync/internal/lock"
	"branchsync/internal/logger"
	"branchsync/internal/prompt"
	"branchsync/internal/push"
)

type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) { t.c <- time.Now() }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

type fixture struct {
	fake     *gittest.Fake
	opts     Options
	crumbs   *breadcrumb.File
	confirm  *prompt.Scripted
	out      *bytes.Buffer
	lockPath string
}

// newFixture returns a repository on branch "work" with target "main" and
// the given local branches ahead of main by the given counts.
func newFixture(t *testing.T, ahead map[string]int, order ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	fake := gittest.NewFake("work", "main", "work")
	for _, name := range order {
		fake.AddLocal(name, ahead[name])
	}
	lockPath := filepath.Join(dir, "branchsync", LockFileName)
	return &fixture{
		fake: fake,
		opts: Options{
			Target:   "main",
			Remote:   "origin",
			LockPath: lockPath,
			Push:     push.Options{MaxRetries: 3, InitialDelay: time.Second},
		},
		crumbs:   breadcrumb.NewFile(filepath.Join(dir, "branchsync", BreadcrumbFileName)),
		confirm:  &prompt.Scripted{},
		out:      &bytes.Buffer{},
		lockPath: lockPath,
	}
}

func (f *fixture) orchestrator(extra ...Option) *Orchestrator {
	options := []Option{
		WithConfirmer(f.confirm),
		WithBreadcrumbs(f.crumbs),
		WithLocks(lock.NewManager(nil)),
		WithPushOptions(push.WithTimer(&instantTimer{c: make(chan time.Time, 1)})),
		WithClock(func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }),
	}
	return New(f.fake, f.opts, logger.Discard(f.out), append(options, extra...)...)
}

func (f *fixture) breadcrumbs(t *testing.T) []breadcrumb.Entry {
	t.Helper()
	entries, err := breadcrumb.ReadFile(f.crumbs.Path)
	require.NoError(t, err)
	return entries
}

func TestRunCleanSync(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 3, "b": 1}, "a", "b")
	f.confirm.Answers = []bool{true, false}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind, out.Err)
	assert.Equal(t, 2, out.MergedCount())
	assert.Equal(t, []string{"a", "b"}, out.Merged)
	assert.Equal(t, "Completed(merged=2)", out.String())
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, "merge-2", out.Head)

	entries := f.breadcrumbs(t)
	require.Len(t, entries, 2)
	assert.Equal(t, breadcrumb.ActionStart, entries[0].Action)
	assert.Equal(t, "head-main", entries[0].Head)
	assert.Equal(t, breadcrumb.ActionEnd, entries[1].Action)
	assert.Equal(t, "merge-2", entries[1].Head)
	require.NotNil(t, entries[1].Merged)
	assert.Equal(t, 2, *entries[1].Merged)

	assert.Equal(t, []string{
		"checkout main",
		"pull origin main",
		"merge a",
		"merge b",
		"checkout work",
	}, f.fake.Mutations())
	assert.Equal(t, []string{
		"Merge branch 'a' into main (branchsync)",
		"Merge branch 'b' into main (branchsync)",
	}, f.fake.Messages)
	assert.Equal(t, 0, f.fake.PushCalls(), "push was declined")
	assert.NoFileExists(t, f.lockPath)

	require.Len(t, f.confirm.Prompts, 2)
	assert.Contains(t, f.confirm.Prompts[0], "Merge 2 branch(es) into main?")
	assert.Contains(t, f.confirm.Prompts[0], "a (3 ahead, 0 behind)")
	assert.Contains(t, f.confirm.Prompts[1], "Push main to origin?")
}

func TestRunExcludesBranchesNotAhead(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1, "even": 0}, "a", "even")
	f.confirm.Answers = []bool{true}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "a", out.Candidates[0].Name)
	assert.Empty(t, f.fake.CallsWithPrefix("merge even"))
}

func TestRunNothingToMerge(t *testing.T) {
	f := newFixture(t, nil)

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	assert.Equal(t, 0, out.MergedCount())
	assert.Empty(t, f.confirm.Prompts)
	entries := f.breadcrumbs(t)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, *entries[1].Merged)
}

func TestRunConflictingCandidate(t *testing.T) {
	t.Run("conflict during merge is aborted", func(t *testing.T) {
		f := newFixture(t, map[string]int{"a": 1, "c": 2, "d": 1}, "a", "c", "d")
		f.fake.MergeErrs = map[string]error{"c": &git.ConflictError{Op: git.OpMerge, Paths: []string{"x.txt"}}}
		f.confirm.Answers = []bool{true}

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindConflict, out.Reason)
		assert.Equal(t, 1, out.MergedCount())
		assert.Equal(t, "Aborted(reason=recoverable conflict, merged=1)", out.String())
		require.NotNil(t, out.Conflict)
		assert.Equal(t, "c", out.Conflict.Candidate)
		assert.Equal(t, []string{"x.txt"}, out.Conflict.Paths)

		op, err := f.fake.InProgress(context.Background())
		require.NoError(t, err)
		assert.Equal(t, git.OpNone, op, "no merge left in progress")
		assert.Len(t, f.fake.CallsWithPrefix("abort-merge"), 1)
		assert.Empty(t, f.fake.CallsWithPrefix("merge d"), "no partial continuation")
		assert.Contains(t, out.NextCommands, "git merge --no-ff c")

		entries := f.breadcrumbs(t)
		require.Len(t, entries, 2)
		assert.Equal(t, 1, *entries[1].Merged)
		assert.Equal(t, "merge-1", entries[1].Head)
		assert.Equal(t, "checkout work", f.fake.Mutations()[len(f.fake.Mutations())-1])
		assert.NoFileExists(t, f.lockPath)
	})

	t.Run("predicted conflict stops before merging", func(t *testing.T) {
		f := newFixture(t, map[string]int{"c": 1}, "c")
		f.fake.Reports = map[string]git.ConflictReport{"c": {Verdict: git.VerdictConflicting, Paths: []string{"x.txt"}}}
		f.confirm.Answers = []bool{true}

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindConflict, out.Reason)
		assert.Equal(t, 0, out.MergedCount())
		assert.Empty(t, f.fake.CallsWithPrefix("merge"))
		assert.Empty(t, f.fake.CallsWithPrefix("abort-merge"))
	})

	t.Run("failed abort leaves the target checked out", func(t *testing.T) {
		f := newFixture(t, map[string]int{"c": 1}, "c")
		f.fake.MergeErrs = map[string]error{"c": &git.ConflictError{Op: git.OpMerge, Paths: []string{"x.txt"}}}
		f.fake.AbortErr = errors.New("disk full")
		f.confirm.Answers = []bool{true}

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindConflict, out.Reason)
		assert.Contains(t, out.NextCommands, "git merge --abort")
		assert.Equal(t, "main", f.fake.Current)
		assert.NoFileExists(t, f.lockPath)
	})
}

func TestRunConflictingTargetUpdate(t *testing.T) {
	t.Run("pull merge is aborted", func(t *testing.T) {
		f := newFixture(t, map[string]int{"a": 1}, "a")
		f.fake.PullErr = &git.ConflictError{Op: git.OpMerge, Paths: []string{"README.md"}}

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindConflict, out.Reason)
		require.NotNil(t, out.Conflict)
		assert.Equal(t, "origin/main", out.Conflict.Candidate)
		assert.Equal(t, []string{
			"checkout main", "pull origin main", "abort-merge", "checkout work",
		}, f.fake.Mutations())
		assert.Equal(t, []string{
			"git checkout main",
			"git pull --no-rebase --ff --no-edit origin main",
			"git add README.md",
			"git commit --no-edit",
		}, out.NextCommands)
		assert.Empty(t, f.breadcrumbs(t))
		assert.NoFileExists(t, f.lockPath)
	})

	t.Run("failed abort leaves the target checked out", func(t *testing.T) {
		f := newFixture(t, map[string]int{"a": 1}, "a")
		f.fake.PullErr = &git.ConflictError{Op: git.OpMerge, Paths: []string{"README.md"}}
		f.fake.AbortErr = errors.New("disk full")

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindConflict, out.Reason)
		assert.Contains(t, out.NextCommands, "git merge --abort")
		assert.Equal(t, "main", f.fake.Current)
	})
}

func TestRunLockContention(t *testing.T) {
	first := newFixture(t, map[string]int{"a": 1, "b": 1}, "a", "b")
	first.confirm.Answers = []bool{true, false}

	second := gittest.NewFake("work", "main", "work")
	second.AddLocal("a", 1)
	var nested Outcome
	first.fake.OnMerge = func(_ *gittest.Fake, source string) {
		if source != "a" {
			return
		}
		orch := New(second, first.opts, nil, WithConfirmer(prompt.AlwaysYes), WithLocks(lock.NewManager(nil)))
		nested = orch.Run(context.Background())
	}

	out := first.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	require.Equal(t, Skipped, nested.Kind)
	assert.Equal(t, errs.KindSkippable, nested.Reason)
	assert.True(t, errs.Is(nested.Err, errs.ErrLockHeld))
	assert.Equal(t, "Skipped(reason=lock held)", nested.String())
	assert.Empty(t, second.Calls, "skipped session performs no git operations")
}

func TestRunPermissionDeniedPush(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1, "b": 1}, "a", "b")
	f.opts.AutoPush = true
	f.fake.PushErrs = []error{&git.PushError{
		Kind:   git.PushPermissionDenied,
		Remote: "origin",
		Branch: "main",
		Err:    errors.New("remote: error: GH006: Protected branch update failed"),
	}}
	f.confirm.Answers = []bool{true}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind, "local merges stand")
	assert.Equal(t, 2, out.MergedCount())
	require.Error(t, out.PushErr)
	assert.Equal(t, errs.KindPermissionDenied, errs.KindOf(out.PushErr))
	require.NotNil(t, out.Push)
	assert.Equal(t, 1, out.Push.Attempts)
	assert.Empty(t, out.Push.Delays)
	assert.NotEmpty(t, out.Push.Manual)
	assert.Equal(t, 1, f.fake.PushCalls())
	assert.Equal(t, "merge-2", f.fake.Heads["main"])
	assert.Empty(t, f.fake.CallsWithPrefix("abort"))
}

func TestRunTransientPushRetries(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1}, "a")
	f.opts.AutoPush = true
	transient := &git.PushError{Kind: git.PushTransient, Remote: "origin", Branch: "main", Err: errors.New("timeout")}
	f.fake.PushErrs = []error{transient, nil}
	f.confirm.Answers = []bool{true}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	require.NoError(t, out.PushErr)
	assert.Equal(t, 2, out.Push.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, out.Push.Delays)
}

func TestRunSnapshotIsImmutable(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1, "b": 1}, "a", "b")
	f.confirm.Answers = []bool{true, false}
	f.fake.OnMerge = func(fake *gittest.Fake, source string) {
		if source == "a" {
			fake.AddLocal("aa-late", 5)
			fake.AddRemote("late", 2)
		}
	}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	assert.Equal(t, []string{"a", "b"}, out.Merged)
	assert.Empty(t, f.fake.CallsWithPrefix("merge aa-late"))
	assert.Empty(t, f.fake.CallsWithPrefix("merge origin/late"))
}

func TestRunSessionBranchesFirst(t *testing.T) {
	f := newFixture(t, map[string]int{"alpha": 1, "claude/fix": 1}, "alpha", "claude/fix")
	f.confirm.Answers = []bool{true, false}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	assert.Equal(t, []string{"claude/fix", "alpha"}, out.Merged)
}

func TestRunDeclines(t *testing.T) {
	t.Run("batch confirmation declined", func(t *testing.T) {
		f := newFixture(t, map[string]int{"a": 1}, "a")
		f.confirm.Answers = []bool{false}

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindUserAbort, out.Reason)
		assert.True(t, errs.Is(out.Err, errs.ErrDeclined))
		assert.Empty(t, f.fake.CallsWithPrefix("merge"))
		entries := f.breadcrumbs(t)
		require.Len(t, entries, 2)
		assert.Equal(t, 0, *entries[1].Merged)
		assert.NoFileExists(t, f.lockPath)
	})

	t.Run("dirty tree not stashed", func(t *testing.T) {
		f := newFixture(t, map[string]int{"a": 1}, "a")
		f.fake.Dirty = true
		f.confirm.Answers = []bool{false}

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindUserAbort, out.Reason)
		assert.True(t, errs.Is(out.Err, errs.ErrDirtyWorktree))
		assert.Empty(t, f.fake.Mutations())
		assert.Empty(t, f.breadcrumbs(t))
		assert.NoFileExists(t, f.lockPath)
	})

	t.Run("unrelated candidate declined", func(t *testing.T) {
		f := newFixture(t, map[string]int{"orphan": 1}, "orphan")
		f.fake.Unrelated = map[string]bool{"orphan": true}
		f.confirm.Answers = []bool{true, false}

		out := f.orchestrator().Run(context.Background())

		require.Equal(t, Aborted, out.Kind)
		assert.Equal(t, errs.KindUserAbort, out.Reason)
		assert.Contains(t, f.confirm.Prompts[1], "branches may be unrelated")
		assert.Empty(t, f.fake.CallsWithPrefix("merge"))
	})
}

func TestRunStashesDirtyTree(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1}, "a")
	f.fake.Dirty = true
	f.confirm.Answers = []bool{true, true, false}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	assert.True(t, strings.HasPrefix(out.StashLabel, "branchsync-autostash-"))
	assert.Equal(t, "stash "+out.StashLabel, f.fake.Mutations()[0])
}

func TestRunFetchFailure(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1}, "a")
	f.fake.FetchErr = errors.New("could not resolve host")

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Aborted, out.Kind)
	assert.Equal(t, errs.KindTransientRemote, out.Reason)
	assert.Empty(t, f.fake.Mutations())
	assert.NoFileExists(t, f.lockPath)
}

func TestRunReturnToOriginalIsBestEffort(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1}, "a")
	f.fake.CheckoutErrs = map[string]error{"work": errors.New("would be overwritten")}
	f.confirm.Answers = []bool{true, false}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "could not return to work")
}

func TestRunDeleteMerged(t *testing.T) {
	f := newFixture(t, map[string]int{"claude/one": 1, "human": 1}, "claude/one", "human")
	f.opts.AutoPush = true
	f.opts.DeleteMerged = true
	f.confirm.Answers = []bool{true}

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	assert.Equal(t, []string{"claude/one"}, out.Deleted)
	assert.Equal(t, []string{"delete claude/one local"}, f.fake.CallsWithPrefix("delete"))
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1, "b": 2}, "a", "b")
	f.opts.DryRun = true

	out := f.orchestrator().Run(context.Background())

	require.Equal(t, Completed, out.Kind)
	assert.Empty(t, f.fake.Mutations())
	assert.Empty(t, f.fake.CallsWithPrefix("fetch"))
	assert.NoFileExists(t, f.lockPath)
	assert.Equal(t, []string{
		"git fetch --prune origin",
		"git checkout main",
		"git pull --ff-only origin main || git pull --no-rebase --ff --no-edit origin main",
		`git merge --no-ff --no-edit -m "Merge branch 'a' into main (branchsync)" a`,
		`git merge --no-ff --no-edit -m "Merge branch 'b' into main (branchsync)" b`,
		"git push origin main",
	}, out.Planned)
	assert.Contains(t, f.out.String(), "[DRY RUN] git push origin main")
}

func TestRunInterrupted(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 1, "b": 1}, "a", "b")
	f.confirm.Answers = []bool{true}
	ctx, cancel := context.WithCancel(context.Background())
	f.fake.OnMerge = func(_ *gittest.Fake, source string) {
		if source == "a" {
			cancel()
		}
	}

	out := f.orchestrator().Run(ctx)

	require.Equal(t, Aborted, out.Kind)
	assert.Equal(t, []string{"a"}, out.Merged)
	assert.True(t, errors.Is(out.Err, context.Canceled))
	assert.NoFileExists(t, f.lockPath)
	entries := f.breadcrumbs(t)
	require.Len(t, entries, 2)
	assert.Equal(t, breadcrumb.ActionEnd, entries[1].Action)
}

func TestOptionsFromConfig(t *testing.T) {
	state := t.TempDir()
	cfg := &config.Config{
		Git:  &config.GitConfig{Remote: "upstream"},
		Sync: &config.SyncConfig{SessionPrefix: "bot/", AllowList: []string{"bot/*"}, LockMaxAge: time.Minute, MergeMessage: "sync {branch}"},
		Push: &config.PushConfig{MaxRetries: 5, InitialDelay: time.Second},
	}

	opts := OptionsFromConfig(cfg, "develop", state)
	assert.Equal(t, "develop", opts.Target)
	assert.Equal(t, "upstream", opts.Remote)
	assert.Equal(t, "bot/", opts.SessionPrefix)
	assert.Equal(t, []string{"bot/*"}, opts.AllowList)
	assert.Equal(t, filepath.Join(state, LockFileName), opts.LockPath)
	assert.Equal(t, time.Minute, opts.LockMaxAge)
	assert.Equal(t, 5, opts.Push.MaxRetries)
	assert.Equal(t, filepath.Join(state, BreadcrumbFileName), BreadcrumbPath(cfg, state))

	cfg.Sync.AllowList[0] = "changed"
	assert.Equal(t, []string{"bot/*"}, opts.AllowList, "options do not share state with the config")

	defaults := OptionsFromConfig(nil, "main", state)
	assert.Equal(t, "origin", defaults.Remote)
	assert.Equal(t, 3, defaults.Push.MaxRetries)
}
