package branches

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchsync/internal/git"
	"branchsync/internal/git/gittest"
)

func names(refs []BranchRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Name)
	}
	return out
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("session branches first, VCS order kept within partitions", func(t *testing.T) {
		fake := gittest.NewFake("main", "alpha", "claude/zeta", "main", "zulu", "claude/beta")
		c := New(fake, Options{Target: "main"})

		refs, err := c.Classify(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"claude/zeta", "claude/beta", "alpha", "zulu"}, names(refs))
		assert.True(t, refs[0].Session)
		assert.False(t, refs[2].Session)
	})

	t.Run("local and remote listings are merged with locations", func(t *testing.T) {
		fake := gittest.NewFake("main", "b", "d", "main")
		fake.AddRemote("a", 1)
		fake.AddRemote("b", 1)
		fake.AddRemote("c", 1)
		fake.AddRemote("main", 0)
		c := New(fake, Options{Target: "main", SessionPrefix: "bot/"})

		refs, err := c.Classify(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, names(refs))
		assert.Equal(t, git.LocationRemote, refs[0].Location)
		assert.Equal(t, "origin/a", refs[0].Rev())
		assert.Equal(t, git.LocationBoth, refs[1].Location)
		assert.Equal(t, "b", refs[1].Rev())
		assert.Equal(t, git.LocationLocal, refs[3].Location)
	})

	t.Run("allow list filters branches", func(t *testing.T) {
		fake := gittest.NewFake("main", "claude/a", "feature/x", "hotfix/y", "main")
		c := New(fake, Options{Target: "main", AllowList: []string{"feature/*", "claude/*"}})

		refs, err := c.Classify(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"claude/a", "feature/x"}, names(refs))
	})

	t.Run("summaries are filled on request", func(t *testing.T) {
		fake := gittest.NewFake("main", "x", "main")
		c := New(fake, Options{Target: "main", Summaries: true})

		refs, err := c.Classify(ctx)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "abc1234 x (2 hours ago)", refs[0].Summary.String())
	})
}

func TestEligible(t *testing.T) {
	ctx := context.Background()
	fake := gittest.NewFake("main", "main")
	fake.AddLocal("claude/a", 3)
	fake.AddLocal("claude/merged", 0)
	fake.AddLocal("feature", 1)
	fake.SetCounts("feature", 1, 4)

	c := New(fake, Options{Target: "main"})
	refs, err := c.Eligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude/a", "feature"}, names(refs))
	assert.Equal(t, 3, refs[0].Ahead)
	assert.Equal(t, 4, refs[1].Behind)

	t.Run("counts are recomputed on demand", func(t *testing.T) {
		fake.SetCounts("claude/a", 5, 0)
		ahead, _ := c.Counts(ctx, refs[0])
		assert.Equal(t, 5, ahead)
		assert.Equal(t, 3, refs[0].Ahead, "snapshot value is not mutated")
	})
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	fake := gittest.NewFake("main", "main", "claude/a")
	c := New(fake, Options{Target: "main"})

	ref, err := c.Find(ctx, "claude/a")
	require.NoError(t, err)
	assert.True(t, ref.Session)

	_, err = c.Find(ctx, "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
