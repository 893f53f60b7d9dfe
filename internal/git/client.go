// Package git wraps the git binary and the GitHub API behind the operations
// branchsync needs: branch listing, conflict simulation, merge and rebase,
// push and branch deletion.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Client is the VCS surface used by the classifier, detector, executor,
// retrier and orchestrator.
type Client interface {
	ListLocalBranches(ctx context.Context) ([]Ref, error)
	ListRemoteBranches(ctx context.Context) ([]Ref, error)
	Fetch(ctx context.Context, remote string) error
	CountAheadBehind(ctx context.Context, base, other string) (ahead, behind int)
	MergeBase(ctx context.Context, a, b string) (string, bool)
	SimulateMerge(ctx context.Context, base, a, b string) (ConflictReport, error)
	Merge(ctx context.Context, source, message string) error
	Rebase(ctx context.Context, onto string) error
	Push(ctx context.Context, remote, branch string) error
	DeleteBranch(ctx context.Context, name string, location Location) error

	CurrentBranch(ctx context.Context) (string, error)
	Checkout(ctx context.Context, branch string) error
	Pull(ctx context.Context, remote, branch string) (upToDate bool, err error)
	IsClean(ctx context.Context) (bool, error)
	Status(ctx context.Context) (string, error)
	Stash(ctx context.Context, label string) error
	Head(ctx context.Context) (string, error)
	AbortMerge(ctx context.Context) error
	AbortRebase(ctx context.Context) error
	InProgress(ctx context.Context) (Operation, error)
	CommitSummary(ctx context.Context, rev string) CommitSummary
	RemoteURL(ctx context.Context, remote string) (string, error)
	CommonDir(ctx context.Context) (string, error)
}

// CLI implements Client by running git in a working directory.
type CLI struct {
	dir           string
	remote        string
	conflictCheck string
	runner        Runner
	inspector     *Inspector

	versionOnce sync.Once
	major       int
	minor       int
}

var _ Client = (*CLI)(nil)

// Option configures a CLI.
type Option func(*CLI)

// WithRunner replaces the process runner (tests inject fakes).
func WithRunner(r Runner) Option {
	return func(c *CLI) { c.runner = r }
}

// WithRemote sets the remote used for remote branch listing and deletion.
func WithRemote(remote string) Option {
	return func(c *CLI) {
		if remote != "" {
			c.remote = remote
		}
	}
}

// WithConflictCheck selects the SimulateMerge strategy: auto, merge-tree or trial.
func WithConflictCheck(strategy string) Option {
	return func(c *CLI) {
		if strategy != "" {
			c.conflictCheck = strategy
		}
	}
}

// WithoutInspector disables the in-process go-git reader; every query spawns git.
func WithoutInspector() Option {
	return func(c *CLI) { c.inspector = nil }
}

// NewCLI returns a Client operating on the repository at dir.
func NewCLI(dir string, opts ...Option) *CLI {
	c := &CLI{
		dir:           dir,
		remote:        "origin",
		conflictCheck: ConflictCheckAuto,
		runner:        ExecRunner{},
		inspector:     NewInspector(dir),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the working directory of the client.
func (c *CLI) Dir() string {
	return c.dir
}

// Remote returns the configured remote name.
func (c *CLI) Remote() string {
	return c.remote
}

func (c *CLI) run(ctx context.Context, args ...string) (string, error) {
	return c.runner.Run(ctx, c.dir, nil, args...)
}

func (c *CLI) runIn(ctx context.Context, dir string, args ...string) (string, error) {
	return c.runner.Run(ctx, dir, nil, args...)
}

// ListLocalBranches lists refs/heads in for-each-ref order.
func (c *CLI) ListLocalBranches(ctx context.Context) ([]Ref, error) {
	out, err := c.run(ctx, "for-each-ref", "--format=%(refname)%09%(objectname)", "refs/heads")
	if err != nil {
		return nil, fmt.Errorf("failed to list local branches: %w", err)
	}
	return parseRefs(out, "refs/heads/", "", LocationLocal), nil
}

// ListRemoteBranches lists refs/remotes/<remote> in for-each-ref order,
// excluding the <remote>/HEAD symbolic ref.
func (c *CLI) ListRemoteBranches(ctx context.Context) ([]Ref, error) {
	prefix := "refs/remotes/" + c.remote + "/"
	out, err := c.run(ctx, "for-each-ref", "--format=%(refname)%09%(objectname)", strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to list remote branches: %w", err)
	}
	return parseRefs(out, prefix, c.remote, LocationRemote), nil
}

func parseRefs(out, prefix, remote string, loc Location) []Ref {
	var refs []Ref
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		full, hash, _ := strings.Cut(line, "\t")
		name := strings.TrimPrefix(full, prefix)
		if name == full || name == "" || name == "HEAD" {
			continue
		}
		refs = append(refs, Ref{Name: name, FullName: full, Hash: hash, Remote: remote, Location: loc})
	}
	return refs
}

// CountAheadBehind returns how many commits other has that base lacks
// (ahead) and the reverse (behind). Failures yield (0, 0).
func (c *CLI) CountAheadBehind(ctx context.Context, base, other string) (ahead, behind int) {
	out, err := c.run(ctx, "rev-list", "--left-right", "--count", base+"..."+other)
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0
	}
	behind, err1 := strconv.Atoi(fields[0])
	ahead, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return ahead, behind
}

// MergeBase returns the merge base of a and b, if any.
func (c *CLI) MergeBase(ctx context.Context, a, b string) (string, bool) {
	if c.inspector != nil {
		if base, found, err := c.inspector.MergeBase(a, b); err == nil {
			return base, found
		}
	}
	out, err := c.run(ctx, "merge-base", a, b)
	if err != nil {
		return "", false
	}
	base := strings.TrimSpace(out)
	return base, base != ""
}

// CurrentBranch returns the checked-out branch, or "" when HEAD is detached.
func (c *CLI) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}

// Checkout switches the working tree to branch.
func (c *CLI) Checkout(ctx context.Context, branch string) error {
	if _, err := c.run(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", branch, err)
	}
	return nil
}

// IsClean reports whether the working tree and index have no changes.
func (c *CLI) IsClean(ctx context.Context) (bool, error) {
	out, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// Status returns `git status --porcelain` output.
func (c *CLI) Status(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("failed to check working tree status: %w", err)
	}
	return out, nil
}

// Stash saves uncommitted changes, including untracked files, under label.
func (c *CLI) Stash(ctx context.Context, label string) error {
	if _, err := c.run(ctx, "stash", "push", "--include-untracked", "-m", label); err != nil {
		return fmt.Errorf("failed to stash changes: %w", err)
	}
	return nil
}

// Head returns the full hash of HEAD.
func (c *CLI) Head(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// AbortMerge aborts an in-progress merge.
func (c *CLI) AbortMerge(ctx context.Context) error {
	if _, err := c.run(ctx, "merge", "--abort"); err != nil {
		return fmt.Errorf("failed to abort merge: %w", err)
	}
	return nil
}

// AbortRebase aborts an in-progress rebase.
func (c *CLI) AbortRebase(ctx context.Context) error {
	if _, err := c.run(ctx, "rebase", "--abort"); err != nil {
		return fmt.Errorf("failed to abort rebase: %w", err)
	}
	return nil
}

// InProgress reports whether a merge or rebase is waiting for resolution.
func (c *CLI) InProgress(ctx context.Context) (Operation, error) {
	gitDir, err := c.gitPath(ctx, "")
	if err != nil {
		return OpNone, err
	}
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, dir)); err == nil {
			return OpRebase, nil
		}
	}
	if _, err := os.Stat(filepath.Join(gitDir, "MERGE_HEAD")); err == nil {
		return OpMerge, nil
	}
	return OpNone, nil
}

// CommitSummary describes rev. Resolution failures yield an empty summary.
func (c *CLI) CommitSummary(ctx context.Context, rev string) CommitSummary {
	if c.inspector != nil {
		if s, err := c.inspector.CommitSummary(rev); err == nil {
			return s
		}
	}
	out, err := c.run(ctx, "log", "-1", "--format=%h%x09%s%x09%cr", rev)
	if err != nil {
		return CommitSummary{}
	}
	parts := strings.SplitN(strings.TrimSpace(out), "\t", 3)
	if len(parts) != 3 {
		return CommitSummary{}
	}
	return CommitSummary{ShortHash: parts[0], Subject: parts[1], Age: parts[2]}
}

// RemoteURL returns the fetch URL of remote.
func (c *CLI) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := c.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", fmt.Errorf("failed to get URL of remote %s: %w", remote, err)
	}
	return strings.TrimSpace(out), nil
}

// CommonDir returns the absolute path of the repository's common git
// directory, shared by all worktrees.
func (c *CLI) CommonDir(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("failed to locate git directory: %w", err)
	}
	return c.absolute(strings.TrimSpace(out))
}

// TopLevel returns the absolute path of the working tree root.
func (c *CLI) TopLevel(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// gitPath returns the absolute per-worktree git directory joined with name.
func (c *CLI) gitPath(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return "", fmt.Errorf("failed to locate git directory: %w", err)
	}
	dir, err := c.absolute(strings.TrimSpace(out))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (c *CLI) absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	base := c.dir
	if base == "" {
		base = "."
	}
	return filepath.Abs(filepath.Join(base, p))
}

// unmergedPaths lists paths with unresolved conflicts in dir.
func (c *CLI) unmergedPaths(ctx context.Context, dir string) []string {
	out, err := c.runIn(ctx, dir, "diff", "--name-only", "-z", "--diff-filter=U")
	if err != nil {
		return nil
	}
	return splitNUL(out)
}

// version returns the git major and minor version, or (0, 0) when unknown.
func (c *CLI) version(ctx context.Context) (int, int) {
	c.versionOnce.Do(func() {
		out, err := c.run(ctx, "version")
		if err != nil {
			return
		}
		c.major, c.minor = parseVersion(out)
	})
	return c.major, c.minor
}

// parseVersion parses output such as "git version 2.43.0" or
// "git version 2.39.3 (Apple Git-146)".
func parseVersion(out string) (int, int) {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return 0, 0
	}
	parts := strings.SplitN(fields[2], ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return major, minor
}

// splitNUL splits -z output into unquoted paths, dropping empties and duplicates.
func splitNUL(out string) []string {
	var fields []string
	seen := make(map[string]bool)
	for _, f := range strings.Split(out, "\x00") {
		f = strings.Trim(f, "\n")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields
}

func exitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

func stderrOf(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
