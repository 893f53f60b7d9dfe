package commands

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// commandFlags lists every flag registered on the command tree so tests can
// restore defaults between Execute calls on the shared rootCmd.
var commandFlags = []string{
	"dir", "verbose", "target", "help",
	"all", "output", "exit-code",
	"rebase", "yes", "no-check", "message",
	"dry-run", "push", "delete-merged",
	"local", "remote", "both", "api", "force", "fix",
}

// resetFlags restores default flag values on cmd and its children so a
// previous test's flags don't leak into the next Execute().
func resetFlags(cmd *cobra.Command) {
	for _, name := range commandFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		if f := cmd.PersistentFlags().Lookup(name); f != nil {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCommand runs branchsync against repo with args and returns the
// combined user output.
func executeCommand(t *testing.T, repo, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"-C", repo}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// runGit runs git in dir and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...) // #nosec G204 - test helper with fixed git args
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-m", message)
}

// newTestRepo creates a work repository on main with one commit, pushed to
// a bare origin.
func newTestRepo(t *testing.T) (work, origin string) {
	t.Helper()
	requireGit(t)
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
	return work, origin
}

// addBranch creates branch from main with one commit touching name.
func addBranch(t *testing.T, work, branch, name, content string) {
	t.Helper()
	runGit(t, work, "checkout", "-q", "-b", branch, "main")
	commitFile(t, work, name, content, "work on "+branch)
	runGit(t, work, "checkout", "-q", "main")
}
