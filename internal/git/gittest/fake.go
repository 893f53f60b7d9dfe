// Package gittest provides an in-memory git.Client for tests.
package gittest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"branchsync/internal/git"
)

// Fake is a scriptable git.Client. Zero-valued maps mean "no special
// behavior": merges succeed, simulations are clean, counts are zero.
type Fake struct {
	mu sync.Mutex

	Local   []git.Ref
	Remote  []git.Ref
	Current string
	Heads   map[string]string
	// AheadBehind maps a revision to its {ahead, behind} counts against any base.
	AheadBehind map[string][2]int
	// MergeBases maps a revision to its merge base with any other revision;
	// missing entries resolve to "base".
	MergeBases map[string]string
	Unrelated  map[string]bool
	Reports    map[string]git.ConflictReport
	SimErrs    map[string]error
	MergeErrs  map[string]error
	RebaseErrs map[string]error
	// PushErrs are returned by successive Push calls; nil entries succeed.
	PushErrs      []error
	FetchErr      error
	PullErr       error
	PullUpToDate  bool
	CheckoutErrs  map[string]error
	DeleteErrs    map[string]error
	Dirty         bool
	StashErr      error
	AbortErr      error
	InProgressOp  git.Operation
	URL           string
	GitCommonDir  string
	StatusOutput  string
	SummaryPrefix string

	// OnMerge runs after each successful merge (e.g. to add branches mid-session).
	OnMerge func(f *Fake, source string)

	Calls []string
	// Messages holds the commit message of each successful merge.
	Messages  []string
	mergeSeq  int
	pushCalls int
}

var _ git.Client = (*Fake)(nil)

// NewFake returns a Fake on branch current with the given local branches.
func NewFake(current string, local ...string) *Fake {
	f := &Fake{Current: current, Heads: map[string]string{}}
	for _, name := range local {
		f.Local = append(f.Local, git.Ref{Name: name, FullName: "refs/heads/" + name, Location: git.LocationLocal})
		f.Heads[name] = "head-" + name
	}
	return f
}

// AddLocal appends a local branch.
func (f *Fake) AddLocal(name string, ahead int) {
	f.Local = append(f.Local, git.Ref{Name: name, FullName: "refs/heads/" + name, Location: git.LocationLocal})
	if f.Heads == nil {
		f.Heads = map[string]string{}
	}
	f.Heads[name] = "head-" + name
	f.SetCounts(name, ahead, 0)
}

// AddRemote appends a remote-tracking branch on origin.
func (f *Fake) AddRemote(name string, ahead int) {
	f.Remote = append(f.Remote, git.Ref{Name: name, FullName: "refs/remotes/origin/" + name, Remote: "origin", Location: git.LocationRemote})
	f.SetCounts("origin/"+name, ahead, 0)
}

// SetCounts sets ahead/behind for rev.
func (f *Fake) SetCounts(rev string, ahead, behind int) {
	if f.AheadBehind == nil {
		f.AheadBehind = map[string][2]int{}
	}
	f.AheadBehind[rev] = [2]int{ahead, behind}
}

func (f *Fake) setHead(h string) {
	if f.Heads == nil {
		f.Heads = map[string]string{}
	}
	f.Heads[f.Current] = h
}

func (f *Fake) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallsWithPrefix returns recorded calls starting with prefix.
func (f *Fake) CallsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns recorded calls that change repository state.
func (f *Fake) Mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		switch strings.SplitN(c, " ", 2)[0] {
		case "checkout", "pull", "merge", "rebase", "push", "stash", "delete", "abort-merge", "abort-rebase":
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) ListLocalBranches(context.Context) ([]git.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]git.Ref(nil), f.Local...), nil
}

func (f *Fake) ListRemoteBranches(context.Context) ([]git.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]git.Ref(nil), f.Remote...), nil
}

func (f *Fake) Fetch(_ context.Context, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch %s", remote)
	if f.FetchErr != nil {
		return &git.FetchError{Remote: remote, Err: f.FetchErr}
	}
	return nil
}

func (f *Fake) CountAheadBehind(_ context.Context, _, other string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.AheadBehind[other]
	return c[0], c[1]
}

func (f *Fake) MergeBase(_ context.Context, _, b string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unrelated[b] {
		return "", false
	}
	if base, ok := f.MergeBases[b]; ok {
		return base, true
	}
	return "base", true
}

func (f *Fake) SimulateMerge(_ context.Context, base, _, b string) (git.ConflictReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("simulate %s", b)
	if err := f.SimErrs[b]; err != nil {
		return git.ConflictReport{}, err
	}
	report, ok := f.Reports[b]
	if !ok {
		report = git.ConflictReport{Verdict: git.VerdictClean}
	}
	report.MergeBase = base
	return report, nil
}

func (f *Fake) Merge(_ context.Context, source, message string) error {
	f.mu.Lock()
	f.record("merge %s", source)
	if err := f.MergeErrs[source]; err != nil {
		var conflict *git.ConflictError
		if errors.As(err, &conflict) {
			f.InProgressOp = git.OpMerge
		}
		f.mu.Unlock()
		return err
	}
	f.mergeSeq++
	f.Messages = append(f.Messages, message)
	f.setHead(fmt.Sprintf("merge-%d", f.mergeSeq))
	f.SetCounts(source, 0, 0)
	hook := f.OnMerge
	f.mu.Unlock()
	if hook != nil {
		hook(f, source)
	}
	return nil
}

func (f *Fake) Rebase(_ context.Context, onto string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rebase %s", onto)
	if err := f.RebaseErrs[onto]; err != nil {
		var conflict *git.ConflictError
		if errors.As(err, &conflict) {
			f.InProgressOp = git.OpRebase
		}
		return err
	}
	f.mergeSeq++
	f.setHead(fmt.Sprintf("rebase-%d", f.mergeSeq))
	return nil
}

// PushCalls returns how many times Push was invoked.
func (f *Fake) PushCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushCalls
}

func (f *Fake) Push(_ context.Context, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("push %s %s", remote, branch)
	i := f.pushCalls
	f.pushCalls++
	if i < len(f.PushErrs) {
		return f.PushErrs[i]
	}
	return nil
}

func (f *Fake) DeleteBranch(_ context.Context, name string, location git.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete %s %s", name, location)
	if err := f.DeleteErrs[name]; err != nil {
		return err
	}
	if location == git.LocationLocal || location == git.LocationBoth {
		f.Local = removeRef(f.Local, name)
	}
	if location == git.LocationRemote || location == git.LocationBoth {
		f.Remote = removeRef(f.Remote, name)
	}
	return nil
}

func (f *Fake) CurrentBranch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Current, nil
}

func (f *Fake) Checkout(_ context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkout %s", branch)
	if err := f.CheckoutErrs[branch]; err != nil {
		return err
	}
	f.Current = branch
	return nil
}

func (f *Fake) Pull(_ context.Context, remote, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s %s", remote, branch)
	return f.PullUpToDate, f.PullErr
}

func (f *Fake) IsClean(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Dirty, nil
}

func (f *Fake) Status(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StatusOutput, nil
}

func (f *Fake) Stash(_ context.Context, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stash %s", label)
	if f.StashErr != nil {
		return f.StashErr
	}
	f.Dirty = false
	return nil
}

func (f *Fake) Head(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.Heads[f.Current]; ok {
		return h, nil
	}
	return "head-" + f.Current, nil
}

func (f *Fake) AbortMerge(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("abort-merge")
	if f.AbortErr != nil {
		return f.AbortErr
	}
	f.InProgressOp = git.OpNone
	return nil
}

func (f *Fake) AbortRebase(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("abort-rebase")
	if f.AbortErr != nil {
		return f.AbortErr
	}
	f.InProgressOp = git.OpNone
	return nil
}

func (f *Fake) InProgress(context.Context) (git.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.InProgressOp, nil
}

func (f *Fake) CommitSummary(_ context.Context, rev string) git.CommitSummary {
	return git.CommitSummary{ShortHash: "abc1234", Subject: f.SummaryPrefix + rev, Age: "2 hours ago"}
}

func (f *Fake) RemoteURL(_ context.Context, remote string) (string, error) {
	if f.URL == "" {
		return "", fmt.Errorf("no URL for remote %s", remote)
	}
	return f.URL, nil
}

func (f *Fake) CommonDir(context.Context) (string, error) {
	if f.GitCommonDir == "" {
		return "", fmt.Errorf("no git directory")
	}
	return f.GitCommonDir, nil
}

func removeRef(refs []git.Ref, name string) []git.Ref {
	out := refs[:0]
	for _, r := range refs {
		if r.Name != name {
			out = append(out, r)
		}
	}
	return out
}
