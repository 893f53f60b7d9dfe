package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"branchsync/internal/branches"
	"branchsync/internal/config"
	"branchsync/internal/conflict"
	errs "branchsync/internal/errors"
	"branchsync/internal/lock"
	"branchsync/internal/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>",
	Short: "Merge or rebase one branch into the target branch",
	Long: `Checks out the target branch, updates it from its upstream and merges the
branch into it with --no-ff (or rebases with --rebase). A predicted conflict
asks for confirmation first. On conflict the repository is left in the
conflicted state and the commands to continue or abort are printed.

Uncommitted changes are stashed only after confirmation and never discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: runMerge,
}

func init() {
	mergeCmd.SilenceUsage = true
	mergeCmd.Flags().Bool("rebase", false, "Rebase instead of merge (default from sync.strategy)")
	mergeCmd.Flags().BoolP("yes", "y", false, "Answer yes to every confirmation")
	mergeCmd.Flags().Bool("no-check", false, "Skip the conflict prediction")
	mergeCmd.Flags().StringP("message", "m", "", "Merge commit message (default from sync.merge_message)")
}

func runMerge(cmd *cobra.Command, args []string) error {
	rebase, _ := cmd.Flags().GetBool("rebase")
	yes, _ := cmd.Flags().GetBool("yes")
	noCheck, _ := cmd.Flags().GetBool("no-check")
	message, _ := cmd.Flags().GetString("message")

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	strategy, err := merge.ParseStrategy(e.cfg.Sync.Strategy)
	if err != nil {
		return err
	}
	if rebase {
		strategy = merge.StrategyRebase
	}

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
	if message == "" {
		message = config.MergeMessage(e.cfg, ref.Name, target)
	}

	handle, err := lock.NewManager(e.log).Acquire(ctx, e.lockPath(), e.cfg.Sync.LockMaxAge)
	if err != nil {
		return err
	}
	defer func() { _ = handle.Release() }()

	confirmer := newConfirmer(cmd, yes)
	if !noCheck {
		report, err := conflict.New(e.client).Detect(ctx, target, ref.Rev())
		if err != nil {
			return err
		}
		if err := conflict.Decide(report, ref.Name, confirmer); err != nil {
			return err
		}
	}

	executor := merge.New(e.client, confirmer, e.log)
	res, err := executor.Run(ctx, merge.Request{
		Target:    target,
		Candidate: ref.Rev(),
		Remote:    e.remote,
		Strategy:  strategy,
		Message:   message,
	})
	out := cmd.OutOrStdout()
	if err != nil {
		var conflictResult *merge.ConflictResult
		if errs.As(err, &conflictResult) {
			printConflict(out, conflictResult)
		}
		if res.StashLabel != "" {
			outf(out, "Your changes are stashed as %s (restore with: git stash pop)\n", res.StashLabel)
		}
		return err
	}

	e.log.Success("%s %s into %s (head %s)", strategyVerb(strategy), ref.Name, target, shortHash(res.Head))
	if res.StashLabel != "" {
		outf(out, "Your changes are stashed as %s (restore with: git stash pop)\n", res.StashLabel)
	}
	return nil
}

func strategyVerb(s merge.Strategy) string {
	if s == merge.StrategyRebase {
		return "Rebased"
	}
	return "Merged"
}

func printConflict(out io.Writer, c *merge.ConflictResult) {
	outf(out, "✗ %s\n", c.Error())
	printCommands(out, "Resolve the conflicts, then continue with:", c.Continue)
	printCommands(out, "Or give up with:", c.Abort)
}

// conflictSummary renders paths for one-line messages.
func conflictSummary(paths []string) string {
	if len(paths) == 0 {
		return "unknown paths"
	}
	return fmt.Sprintf("%d path(s): %v", len(paths), paths)
}
