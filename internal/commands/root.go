// Package commands implements the CLI commands for the branchsync tool.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "branchsync",
	Short: "Synchronize and merge work branches into a target branch",
	Long: `branchsync keeps a target branch in step with the work branches created
alongside it. It lists the branches ahead of the target, predicts merge
conflicts without touching the working tree, merges or rebases single
branches, pushes with retries, and merges every eligible branch in one
locked session that leaves an audit trail of breadcrumbs.`,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so deferred cleanup (lock release, trial worktree removal) runs.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringP("dir", "C", ".", "Run as if branchsync was started in this directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Mirror log records to stderr")
	rootCmd.PersistentFlags().String("target", "", "Target branch (default: git.trunk_branch, then main or master)")

	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
