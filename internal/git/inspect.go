package git

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Inspector answers read-only history questions in-process with go-git.
// The repository is opened lazily on first use.
type Inspector struct {
	dir string

	once sync.Once
	repo *gogit.Repository
	err  error
}

// NewInspector returns an Inspector for the repository containing dir.
func NewInspector(dir string) *Inspector {
	return &Inspector{dir: dir}
}

func (i *Inspector) open() (*gogit.Repository, error) {
	i.once.Do(func() {
		dir := i.dir
		if dir == "" {
			dir = "."
		}
		// EnableDotGitCommonDir routes reads correctly inside linked worktrees.
		i.repo, i.err = gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{
			DetectDotGit:          true,
			EnableDotGitCommonDir: true,
		})
		if i.err != nil {
			i.err = fmt.Errorf("failed to open repository: %w", i.err)
		}
	})
	return i.repo, i.err
}

func (i *Inspector) commit(rev string) (*object.Commit, error) {
	repo, err := i.open()
	if err != nil {
		return nil, err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	c, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	return c, nil
}

// MergeBase returns the best common ancestor of a and b. found is false when
// the revisions share no history.
func (i *Inspector) MergeBase(a, b string) (base string, found bool, err error) {
	ca, err := i.commit(a)
	if err != nil {
		return "", false, err
	}
	cb, err := i.commit(b)
	if err != nil {
		return "", false, err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return "", false, fmt.Errorf("failed to compute merge base of %s and %s: %w", a, b, err)
	}
	if len(bases) == 0 {
		return "", false, nil
	}
	return bases[0].Hash.String(), true, nil
}

// CommitSummary describes the commit rev points at.
func (i *Inspector) CommitSummary(rev string) (CommitSummary, error) {
	c, err := i.commit(rev)
	if err != nil {
		return CommitSummary{}, err
	}
	subject := strings.TrimSpace(strings.SplitN(c.Message, "\n", 2)[0])
	when := c.Committer.When
	return CommitSummary{
		ShortHash: c.Hash.String()[:7],
		Subject:   subject,
		When:      when,
		Age:       humanize.Time(when),
	}, nil
}
