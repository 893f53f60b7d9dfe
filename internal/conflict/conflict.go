// Package conflict predicts merge conflicts between a target and a candidate
// branch without modifying the working tree or index.
package conflict

import (
	"context"
	"fmt"
	"strings"

	errs "branchsync/internal/errors"
	"branchsync/internal/git"
	"branchsync/internal/prompt"
)

// UnrelatedWarning is reported when two branches share no history.
const UnrelatedWarning = "branches may be unrelated"

// Detector runs conflict checks through a git.Client.
type Detector struct {
	client git.Client
	// VerifyPurity compares working tree status before and after each check
	// and fails when they differ.
	VerifyPurity bool
}

// New returns a Detector.
func New(client git.Client) *Detector {
	return &Detector{client: client}
}

// Detect reports whether merging candidate into target would conflict.
func (d *Detector) Detect(ctx context.Context, target, candidate string) (git.ConflictReport, error) {
	const op errs.Op = "conflict.Detect"

	var before string
	if d.VerifyPurity {
		s, err := d.client.Status(ctx)
		if err != nil {
			return git.ConflictReport{}, errs.E(op, errs.KindFatal, err)
		}
		before = s
	}

	base, ok := d.client.MergeBase(ctx, target, candidate)
	if !ok {
		return git.ConflictReport{Verdict: git.VerdictIndeterminate, Warning: UnrelatedWarning}, nil
	}

	report, err := d.client.SimulateMerge(ctx, base, target, candidate)
	if err != nil {
		var cleanupErr *git.CleanupError
		if errs.As(err, &cleanupErr) {
			return git.ConflictReport{}, errs.E(op, errs.KindFatal, err)
		}
		return git.ConflictReport{}, errs.E(op, fmt.Errorf("conflict check of %s against %s failed: %w", candidate, target, err))
	}

	if d.VerifyPurity {
		after, err := d.client.Status(ctx)
		if err != nil {
			return git.ConflictReport{}, errs.E(op, errs.KindFatal, err)
		}
		if after != before {
			return git.ConflictReport{}, errs.E(op, errs.KindFatal, "conflict check modified the working tree")
		}
	}
	return report, nil
}

// Decide applies the confirmation policy to report. Clean reports proceed.
// Conflicting and indeterminate reports proceed only after explicit
// confirmation; a declined confirmation returns errors.ErrDeclined.
func Decide(report git.ConflictReport, candidate string, confirmer prompt.Confirmer) error {
	var question string
	switch report.Verdict {
	case git.VerdictClean:
		return nil
	case git.VerdictConflicting:
		question = fmt.Sprintf("Merging %s will conflict in %d path(s): %s. Proceed anyway?",
			candidate, len(report.Paths), strings.Join(report.Paths, ", "))
	default:
		warning := report.Warning
		if warning == "" {
			warning = "conflict status unknown"
		}
		question = fmt.Sprintf("Could not determine whether %s merges cleanly (%s). Proceed anyway?", candidate, warning)
	}
	if confirmer == nil || !confirmer.Confirm(question, false) {
		return errs.E(errs.Op("conflict.Decide"), errs.KindUserAbort, errs.ErrDeclined)
	}
	return nil
}
