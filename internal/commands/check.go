package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"branchsync/internal/branches"
	"branchsync/internal/conflict"
	"branchsync/internal/git"
)

var checkCmd = &cobra.Command{
	Use:   "check <branch>",
	Short: "Predict whether a branch merges cleanly into the target",
	Long: `Simulates merging the branch into the target branch and reports the
conflicting paths, if any. The working tree and index are not modified:
git merge-tree is used when available (git 2.38+), otherwise the merge is
tried in a disposable worktree.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.SilenceUsage = true
	checkCmd.Flags().Bool("exit-code", false, "Return an error unless the merge is predicted clean")
}

func runCheck(cmd *cobra.Command, args []string) error {
	exitCode, _ := cmd.Flags().GetBool("exit-code")

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	target, err := e.target(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	classifier := branches.New(e.client, branches.Options{Target: target, Remote: e.remote, SessionPrefix: e.cfg.Sync.SessionPrefix})
	ref, err := classifier.Find(ctx, args[0])
	if err != nil {
		return err
	}

	detector := conflict.New(e.client)
	detector.VerifyPurity = true
	report, err := detector.Detect(ctx, target, ref.Rev())
	if err != nil {
		return err
	}
	ahead, behind := classifier.Counts(ctx, ref)
	e.log.Info("conflict check", "branch", ref.Name, "target", target, "verdict", report.Verdict.String(), "paths", len(report.Paths))

	printReport(cmd.OutOrStdout(), ref.Name, target, ahead, behind, report)
	if exitCode && report.Verdict != git.VerdictClean {
		return fmt.Errorf("%s does not merge cleanly into %s", ref.Name, target)
	}
	return nil
}

func printReport(out io.Writer, branch, target string, ahead, behind int, report git.ConflictReport) {
	outf(out, "%s is %d ahead and %d behind %s\n", branch, ahead, behind, target)
	switch report.Verdict {
	case git.VerdictClean:
		outf(out, "✓ %s merges cleanly into %s\n", branch, target)
	case git.VerdictConflicting:
		outf(out, "✗ %s conflicts with %s in %d path(s):\n", branch, target, len(report.Paths))
		for _, p := range report.Paths {
			outf(out, "  %s\n", p)
		}
	default:
		warning := report.Warning
		if warning == "" {
			warning = "conflict status unknown"
		}
		outf(out, "? could not determine whether %s merges cleanly: %s\n", branch, warning)
	}
	if report.MergeBase != "" {
		outf(out, "merge base: %s\n", shortHash(report.MergeBase))
	}
}

func shortHash(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
