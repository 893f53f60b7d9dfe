// Package branches classifies repository branches into session branches
// (created by an assistant, identified by a name prefix) and other branches,
// and selects the ones eligible for syncing into a target.
package branches

import (
	"context"
	"fmt"
	"path"
	"strings"

	"branchsync/internal/git"
)

// DefaultSessionPrefix marks assistant-generated branches.
const DefaultSessionPrefix = "claude/"

// BranchRef is a branch as seen by the classifier. Ahead and Behind are
// relative to the target and only filled by Eligible; use Counts for fresh values.
type BranchRef struct {
	Name     string
	Location git.Location
	Remote   string
	Session  bool
	Ahead    int
	Behind   int
	Summary  git.CommitSummary
}

// Rev returns the revision that names the branch tip: the local branch when
// one exists, otherwise the remote-tracking ref.
func (b BranchRef) Rev() string {
	if b.Location == git.LocationRemote && b.Remote != "" {
		return b.Remote + "/" + b.Name
	}
	return b.Name
}

// Options controls classification.
type Options struct {
	Target        string
	Remote        string
	SessionPrefix string
	// AllowList holds path.Match patterns; empty means every branch is eligible.
	AllowList []string
	// Summaries fills BranchRef.Summary for each branch.
	Summaries bool
}

// Classifier lists and partitions branches.
type Classifier struct {
	client git.Client
	opts   Options
}

// New returns a Classifier. An empty SessionPrefix selects DefaultSessionPrefix.
func New(client git.Client, opts Options) *Classifier {
	if opts.SessionPrefix == "" {
		opts.SessionPrefix = DefaultSessionPrefix
	}
	return &Classifier{client: client, opts: opts}
}

// Classify returns session branches first, then the others. Within each
// partition the order returned by the VCS client is kept. The target branch
// is never included.
func (c *Classifier) Classify(ctx context.Context) ([]BranchRef, error) {
	local, err := c.client.ListLocalBranches(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := c.client.ListRemoteBranches(ctx)
	if err != nil {
		return nil, err
	}

	var session, others []BranchRef
	for _, ref := range mergeListings(local, remote) {
		if ref.Name == c.opts.Target || ref.Name == "HEAD" || !c.allowed(ref.Name) {
			continue
		}
		ref.Session = strings.HasPrefix(ref.Name, c.opts.SessionPrefix)
		if c.opts.Summaries {
			ref.Summary = c.client.CommitSummary(ctx, ref.Rev())
		}
		if ref.Session {
			session = append(session, ref)
		} else {
			others = append(others, ref)
		}
	}
	return append(session, others...), nil
}

// Counts returns the current ahead/behind counts of ref relative to the target.
func (c *Classifier) Counts(ctx context.Context, ref BranchRef) (ahead, behind int) {
	return c.client.CountAheadBehind(ctx, c.opts.Target, ref.Rev())
}

// Eligible returns classified branches strictly ahead of the target, with
// Ahead and Behind filled at the time of the call.
func (c *Classifier) Eligible(ctx context.Context) ([]BranchRef, error) {
	refs, err := c.Classify(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]BranchRef, 0, len(refs))
	for _, ref := range refs {
		ref.Ahead, ref.Behind = c.Counts(ctx, ref)
		if ref.Ahead >= 1 {
			eligible = append(eligible, ref)
		}
	}
	return eligible, nil
}

// Find returns the classified branch called name.
func (c *Classifier) Find(ctx context.Context, name string) (BranchRef, error) {
	refs, err := c.Classify(ctx)
	if err != nil {
		return BranchRef{}, err
	}
	for _, ref := range refs {
		if ref.Name == name {
			return ref, nil
		}
	}
	return BranchRef{}, fmt.Errorf("branch '%s' not found", name)
}

func (c *Classifier) allowed(name string) bool {
	if len(c.opts.AllowList) == 0 {
		return true
	}
	for _, pattern := range c.opts.AllowList {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// mergeListings interleaves two name-ordered listings without re-sorting
// either, tagging branches present in both as LocationBoth.
func mergeListings(local, remote []git.Ref) []BranchRef {
	remoteIdx := make(map[string]int, len(remote))
	for i, r := range remote {
		remoteIdx[r.Name] = i
	}
	localNames := make(map[string]bool, len(local))
	for _, l := range local {
		localNames[l.Name] = true
	}

	out := make([]BranchRef, 0, len(local)+len(remote))
	j := 0
	flushRemote := func(upTo string, all bool) {
		for j < len(remote) && (all || remote[j].Name < upTo) {
			if !localNames[remote[j].Name] {
				out = append(out, BranchRef{Name: remote[j].Name, Location: git.LocationRemote, Remote: remote[j].Remote})
			}
			j++
		}
	}
	for _, l := range local {
		flushRemote(l.Name, false)
		ref := BranchRef{Name: l.Name, Location: git.LocationLocal}
		if i, ok := remoteIdx[l.Name]; ok {
			ref.Location = git.LocationBoth
			ref.Remote = remote[i].Remote
		}
		out = append(out, ref)
	}
	flushRemote("", true)
	return out
}
