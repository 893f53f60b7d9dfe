package git

import (
	"fmt"
	"regexp"
	"strings"
)

// CommandError is returned when a git command exits unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	cmd := "git " + strings.Join(e.Args, " ")
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", cmd, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ConflictError reports a merge or rebase that stopped on conflicting paths.
// The repository is left in the conflicted state for the caller to resolve or abort.
type ConflictError struct {
	Op    Operation
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s stopped with conflicts in %d path(s): %s", e.Op, len(e.Paths), strings.Join(e.Paths, ", "))
}

// PushErrorKind classifies a failed push.
type PushErrorKind int

const (
	PushTransient PushErrorKind = iota + 1
	PushPermissionDenied
)

func (k PushErrorKind) String() string {
	if k == PushPermissionDenied {
		return "permission denied"
	}
	return "transient"
}

// PushError is returned by Push.
type PushError struct {
	Kind   PushErrorKind
	Remote string
	Branch string
	Stderr string
	Err    error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s to %s failed (%s): %v", e.Branch, e.Remote, e.Kind, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// FetchError is returned by Fetch.
type FetchError struct {
	Remote string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed: %v", e.Remote, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DeleteError is returned by DeleteBranch.
type DeleteError struct {
	Branch   string
	Location Location
	Err      error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete %s branch %s failed: %v", e.Location, e.Branch, e.Err)
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

var permissionDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)protected branch`),
	regexp.MustCompile(`\b403\b`),
	regexp.MustCompile(`(?i)permission denied`),
	regexp.MustCompile(`(?i)permission to .* denied`),
	regexp.MustCompile(`GH006`),
	regexp.MustCompile(`(?i)pre-receive hook declined`),
}

// ClassifyPushFailure returns PushPermissionDenied when stderr matches a
// known policy rejection, PushTransient otherwise.
func ClassifyPushFailure(stderr string) PushErrorKind {
	for _, re := range permissionDeniedPatterns {
		if re.MatchString(stderr) {
			return PushPermissionDenied
		}
	}
	return PushTransient
}
