package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"branchsync/internal/breadcrumb"
	"branchsync/internal/bulksync"
	"branchsync/internal/lock"
	"branchsync/internal/push"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge every branch ahead of the target in one locked session",
	Long: `Runs a bulk sync session:

  1. take the sync lock (a running session makes this one skip)
  2. require a clean working tree (offer to stash otherwise)
  3. fetch and update the target branch from its upstream
  4. list the branches ahead of the target and ask once for the whole list
  5. merge them in order with --no-ff; the first conflict aborts the session
  6. offer to push the target

Start and end of every session are appended to the breadcrumb log
(sync.breadcrumb_log) with the head commit, so an interrupted session can be
reconstructed.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.SilenceUsage = true
	syncCmd.Flags().BoolP("yes", "y", false, "Answer yes to every confirmation")
	syncCmd.Flags().Bool("push", false, "Push the target after a completed session without asking")
	syncCmd.Flags().Bool("delete-merged", false, "Delete merged session branches after a successful push")
	syncCmd.Flags().Bool("dry-run", false, "Show the planned git commands without executing them")
}

func runSync(cmd *cobra.Command, _ []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	autoPush, _ := cmd.Flags().GetBool("push")
	deleteMerged, _ := cmd.Flags().GetBool("delete-merged")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

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
	out := cmd.OutOrStdout()

	opts := bulksync.OptionsFromConfig(e.cfg, target, e.stateDir)
	opts.AutoPush = autoPush
	opts.DeleteMerged = deleteMerged
	opts.DryRun = dryRun

	crumbPath := bulksync.BreadcrumbPath(e.cfg, e.stateDir)
	warnUnfinished(out, crumbPath)

	options := []bulksync.Option{
		bulksync.WithConfirmer(newConfirmer(cmd, yes)),
		bulksync.WithLocks(lock.NewManager(e.log)),
		bulksync.WithBreadcrumbs(breadcrumb.NewFile(crumbPath)),
	}
	if lookup := e.protectionLookup(ctx); lookup != nil {
		options = append(options, bulksync.WithPushOptions(push.WithProtection(lookup)))
	}

	outcome := bulksync.New(e.client, opts, e.log, options...).Run(ctx)
	e.log.Info("sync finished", "session", outcome.SessionID, "outcome", outcome.String())
	printOutcome(out, outcome)

	if outcome.Kind == bulksync.Aborted {
		return fmt.Errorf("sync aborted after merging %d branch(es): %w", outcome.MergedCount(), outcome.Err)
	}
	return nil
}

// warnUnfinished reports a previous session that wrote a start breadcrumb
// without an end breadcrumb.
func warnUnfinished(out io.Writer, path string) {
	entries, err := breadcrumb.ReadFile(path)
	if err != nil {
		return
	}
	if last, ok := breadcrumb.Unfinished(entries); ok {
		outf(out, "⚠ A previous sync of %s started %s did not finish (head was %s). See %s\n",
			last.Branch, humanize.Time(last.Time), shortHash(last.Head), path)
	}
}

func printOutcome(out io.Writer, o bulksync.Outcome) {
	outln(out, "")
	switch o.Kind {
	case bulksync.Completed:
		if len(o.Planned) > 0 {
			outf(out, "Dry run: %d branch(es) would be merged into %s\n", len(o.Candidates), o.Target)
			return
		}
		outf(out, "✓ Sync of %s completed: %d branch(es) merged\n", o.Target, o.MergedCount())
	case bulksync.Skipped:
		outf(out, "Sync of %s skipped: %v\n", o.Target, o.Err)
		return
	default:
		outf(out, "✗ Sync of %s aborted (%s) after merging %d branch(es)\n", o.Target, o.Reason, o.MergedCount())
		if o.Err != nil {
			outf(out, "  %v\n", o.Err)
		}
	}

	for _, name := range o.Merged {
		outf(out, "  merged %s\n", name)
	}
	if o.Conflict != nil {
		outf(out, "%s conflicts with %s in %s\n", o.Conflict.Candidate, o.Target, conflictSummary(o.Conflict.Paths))
	}
	printCommands(out, "Next steps:", o.NextCommands)

	if o.PushErr != nil && o.Push != nil {
		outf(out, "⚠ Push failed; the local merges are kept: %v\n", o.PushErr)
		printPushFailure(out, *o.Push)
	}
	for _, name := range o.Deleted {
		outf(out, "  deleted %s\n", name)
	}
	if o.StashLabel != "" {
		outf(out, "Your changes are stashed as %s (restore with: git stash pop)\n", o.StashLabel)
	}
	for _, w := range o.Warnings {
		outf(out, "⚠ %s\n", w)
	}
}
