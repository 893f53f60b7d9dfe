package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes git with the given arguments in dir. It returns stdout even
// when the command fails; a non-zero exit is reported as *CommandError.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, args ...string) (string, error)
}

// ExecRunner runs the git binary found on PATH.
type ExecRunner struct {
	// Binary overrides the executable name (default "git").
	Binary string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 - args are built by this package, not shell-interpreted
	if dir != "" {
		cmd.Dir = dir
	}
	if extra := append(gitConfigEnv(), env...); len(extra) > 0 {
		cmd.Env = append(os.Environ(), extra...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	cmdErr := &CommandError{
		Args:     args,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		cmdErr.Err = ctx.Err()
	}
	return stdout.String(), cmdErr
}

// gitConfigEnv returns env vars so git subprocesses see GIT_CONFIG_GLOBAL when set (e.g. in CI tests).
func gitConfigEnv() []string {
	if v := os.Getenv("GIT_CONFIG_GLOBAL"); v != "" {
		return []string{"GIT_CONFIG_GLOBAL=" + v}
	}
	return nil
}

// FormatCommandPreview formats a git invocation for dry-run output.
func FormatCommandPreview(args []string) string {
	if len(args) == 0 {
		return "[DRY RUN] git"
	}
	return fmt.Sprintf("[DRY RUN] git %s", strings.Join(args, " "))
}
