package git

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func TestListBranches(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	work, _ := newTestRepo(t)

	runGit(t, work, "branch", "feature/b")
	runGit(t, work, "branch", "claude/a")
	runGit(t, work, "push", "origin", "claude/a")

	client := NewCLI(work)

	t.Run("local branches in for-each-ref order", func(t *testing.T) {
		refs, err := client.ListLocalBranches(ctx)
		require.NoError(t, err)
		var names []string
		for _, r := range refs {
			names = append(names, r.Name)
			assert.Equal(t, LocationLocal, r.Location)
			assert.Len(t, r.Hash, 40)
		}
		assert.Equal(t, []string{"claude/a", "feature/b", "main"}, names)
	})

	t.Run("remote branches exclude HEAD", func(t *testing.T) {
		refs, err := client.ListRemoteBranches(ctx)
		require.NoError(t, err)
		var names []string
		for _, r := range refs {
			names = append(names, r.Name)
			assert.Equal(t, "origin", r.Remote)
			assert.Equal(t, LocationRemote, r.Location)
		}
		assert.Equal(t, []string{"claude/a", "main"}, names)
	})
}

func TestCountAheadBehind(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	work, _ := newTestRepo(t)

	runGit(t, work, "checkout", "-b", "feature")
	commitFile(t, work, "a.txt", "a\n", "a")
	commitFile(t, work, "b.txt", "b\n", "b")
	runGit(t, work, "checkout", "main")
	commitFile(t, work, "c.txt", "c\n", "c")

	client := NewCLI(work)
	ahead, behind := client.CountAheadBehind(ctx, "main", "feature")
	assert.Equal(t, 2, ahead)
	assert.Equal(t, 1, behind)

	ahead, behind = client.CountAheadBehind(ctx, "main", "does-not-exist")
	assert.Equal(t, 0, ahead)
	assert.Equal(t, 0, behind)
}

func TestMergeBase(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	work, _ := newTestRepo(t)
	root := runGit(t, work, "rev-parse", "HEAD")

	runGit(t, work, "checkout", "-b", "feature")
	commitFile(t, work, "a.txt", "a\n", "a")
	runGit(t, work, "checkout", "--orphan", "unrelated")
	runGit(t, work, "rm", "-rf", "--cached", ".")
	commitFile(t, work, "other.txt", "other\n", "unrelated root")
	runGit(t, work, "checkout", "-f", "main")

	for name, client := range map[string]*CLI{
		"go-git":  NewCLI(work),
		"git cli": NewCLI(work, WithoutInspector()),
	} {
		t.Run(name, func(t *testing.T) {
			base, ok := client.MergeBase(ctx, "main", "feature")
			require.True(t, ok)
			assert.Equal(t, root, base)

			_, ok = client.MergeBase(ctx, "main", "unrelated")
			assert.False(t, ok)
		})
	}
}

func TestCommitSummary(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	work, _ := newTestRepo(t)
	commitFile(t, work, "a.txt", "a\n", "add a\n\nlonger body")

	for name, client := range map[string]*CLI{
		"go-git":  NewCLI(work),
		"git cli": NewCLI(work, WithoutInspector()),
	} {
		t.Run(name, func(t *testing.T) {
			s := client.CommitSummary(ctx, "main")
			assert.Equal(t, "add a", s.Subject)
			assert.Len(t, s.ShortHash, 7)
			assert.NotEmpty(t, s.Age)

			assert.Empty(t, client.CommitSummary(ctx, "nope").String())
		})
	}
}

func TestWorkingTreeState(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	work, _ := newTestRepo(t)
	client := NewCLI(work)

	clean, err := client.IsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	writeFile(t, work, "dirty.txt", "x\n")
	clean, err = client.IsClean(ctx)
	require.NoError(t, err)
	assert.False(t, clean)

	require.NoError(t, client.Stash(ctx, "branchsync-autostash-test"))
	clean, err = client.IsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Contains(t, runGit(t, work, "stash", "list"), "branchsync-autostash-test")

	branch, err := client.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	runGit(t, work, "checkout", "--detach")
	branch, err = client.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", branch)
}

func TestCommonDir(t *testing.T) {
	requireGit(t)
	work, _ := newTestRepo(t)
	dir, err := NewCLI(work).CommonDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runGit(t, work, "rev-parse", "--absolute-git-dir"), dir)

	top, err := NewCLI(work).TopLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runGit(t, work, "rev-parse", "--show-toplevel"), top)

	_, err = NewCLI(t.TempDir()).TopLevel(context.Background())
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		out          string
		major, minor int
	}{
		{"git version 2.43.0", 2, 43},
		{"git version 2.39.3 (Apple Git-146)", 2, 39},
		{"git version 2.38.0.windows.1", 2, 38},
		{"garbage", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			major, minor := parseVersion(tt.out)
			assert.Equal(t, tt.major, major)
			assert.Equal(t, tt.minor, minor)
		})
	}
}

func TestSimulationStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("auto picks merge-tree on new git", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]fakeResult{"version": {out: "git version 2.43.0\n"}}}
		c := NewCLI("", WithRunner(runner))
		assert.Equal(t, ConflictCheckMergeTree, c.simulationStrategy(ctx))
	})

	t.Run("auto falls back to trial on old git", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]fakeResult{"version": {out: "git version 2.30.1\n"}}}
		c := NewCLI("", WithRunner(runner))
		assert.Equal(t, ConflictCheckTrial, c.simulationStrategy(ctx))
	})

	t.Run("explicit strategy wins", func(t *testing.T) {
		c := NewCLI("", WithRunner(&fakeRunner{}), WithConflictCheck(ConflictCheckTrial))
		assert.Equal(t, ConflictCheckTrial, c.simulationStrategy(ctx))
	})
}

func TestMergeTreeOutput(t *testing.T) {
	ctx := context.Background()
	args := "merge-tree --write-tree --name-only --no-messages -z main feature"

	t.Run("conflicting paths follow the tree id", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]fakeResult{
			args: {out: "4b825dc\x00src/a.go\x00src/b.go\x00", err: &CommandError{ExitCode: 1, Err: errors.New("exit status 1")}},
		}}
		c := NewCLI("", WithRunner(runner), WithConflictCheck(ConflictCheckMergeTree))
		report, err := c.SimulateMerge(ctx, "abc", "main", "feature")
		require.NoError(t, err)
		assert.Equal(t, VerdictConflicting, report.Verdict)
		assert.Equal(t, []string{"src/a.go", "src/b.go"}, report.Paths)
		assert.Equal(t, "abc", report.MergeBase)
	})

	t.Run("paths are taken verbatim", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]fakeResult{
			args: {out: "4b825dc\x00caf\u00e9.txt\x00dir/with space.md\x00", err: &CommandError{ExitCode: 1, Err: errors.New("exit status 1")}},
		}}
		c := NewCLI("", WithRunner(runner), WithConflictCheck(ConflictCheckMergeTree))
		report, err := c.SimulateMerge(ctx, "abc", "main", "feature")
		require.NoError(t, err)
		assert.Equal(t, []string{"caf\u00e9.txt", "dir/with space.md"}, report.Paths)
	})

	t.Run("other exit codes are errors", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]fakeResult{
			args: {err: &CommandError{ExitCode: 128, Err: errors.New("exit status 128")}},
		}}
		c := NewCLI("", WithRunner(runner), WithConflictCheck(ConflictCheckMergeTree))
		_, err := c.SimulateMerge(ctx, "abc", "main", "feature")
		require.Error(t, err)
	})
}
