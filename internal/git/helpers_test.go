package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// runGit runs git in dir and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...) // #nosec G204 - test helper with fixed git args
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), gitConfigEnv()...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	writeFile(t, dir, name, content)
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-m", message)
}

// newTestRepo creates a work repository on main with one commit, pushed to a
// bare origin whose HEAD points at main.
func newTestRepo(t *testing.T) (work, origin string) {
	t.Helper()
	origin = t.TempDir()
	runGit(t, origin, "init", "--bare", "--initial-branch=main")

	work = t.TempDir()
	runGit(t, work, "init", "--initial-branch=main")
	runGit(t, work, "config", "user.email", "test@example.com")
	runGit(t, work, "config", "user.name", "Test User")
	runGit(t, work, "config", "commit.gpgsign", "false")
	commitFile(t, work, "README.md", "# test\n", "initial commit")
	runGit(t, work, "remote", "add", "origin", origin)
	runGit(t, work, "push", "-u", "origin", "main")
	runGit(t, work, "remote", "set-head", "origin", "main")
	return work, origin
}

// fakeRunner returns canned results keyed by the joined git arguments.
type fakeRunner struct {
	results map[string]fakeResult
	calls   [][]string
}

type fakeResult struct {
	out string
	err error
}

func (f *fakeRunner) Run(_ context.Context, _ string, _ []string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if r, ok := f.results[strings.Join(args, " ")]; ok {
		return r.out, r.err
	}
	return "", nil
}
