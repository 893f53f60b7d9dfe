package git

import (
	"fmt"
	"strings"
	"time"
)

// Location tells where a branch exists.
type Location int

const (
	LocationLocal Location = iota + 1
	LocationRemote
	LocationBoth
)

func (l Location) String() string {
	switch l {
	case LocationLocal:
		return "local"
	case LocationRemote:
		return "remote"
	case LocationBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseLocation parses "local", "remote" or "both".
func ParseLocation(s string) (Location, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return LocationLocal, nil
	case "remote":
		return LocationRemote, nil
	case "both":
		return LocationBoth, nil
	}
	return 0, fmt.Errorf("invalid branch location '%s': use one of: local, remote, both", s)
}

// Ref is a branch as listed by the VCS. Name is the short branch name
// without the refs/heads/ or refs/remotes/<remote>/ prefix.
type Ref struct {
	Name     string
	FullName string
	Hash     string
	Remote   string
	Location Location
}

// Verdict is the outcome of a conflict check.
type Verdict int

const (
	VerdictClean Verdict = iota + 1
	VerdictConflicting
	VerdictIndeterminate
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictConflicting:
		return "conflicting"
	case VerdictIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// ConflictReport describes whether merging two revisions would conflict.
// Paths is empty unless Verdict is VerdictConflicting. MergeBase is empty
// when the revisions share no history.
type ConflictReport struct {
	Verdict   Verdict
	Paths     []string
	MergeBase string
	Warning   string
}

// CommitSummary is a one-line description of a commit.
type CommitSummary struct {
	ShortHash string
	Subject   string
	When      time.Time
	Age       string
}

func (s CommitSummary) String() string {
	if s.ShortHash == "" {
		return ""
	}
	if s.Age == "" {
		return fmt.Sprintf("%s %s", s.ShortHash, s.Subject)
	}
	return fmt.Sprintf("%s %s (%s)", s.ShortHash, s.Subject, s.Age)
}

// Operation names an in-progress multi-step git operation.
type Operation string

const (
	OpNone   Operation = ""
	OpMerge  Operation = "merge"
	OpRebase Operation = "rebase"
)

// Conflict check strategies.
const (
	ConflictCheckAuto      = "auto"
	ConflictCheckMergeTree = "merge-tree"
	ConflictCheckTrial     = "trial"
)
