package commands

import (
	"io"

	"github.com/spf13/cobra"

	"branchsync/internal/push"
)

var pushCmd = &cobra.Command{
	Use:   "push [branch]",
	Short: "Push a branch to its remote with retries",
	Long: `Pushes the branch (default: the target branch) to the configured remote.
Network failures are retried with exponential backoff (push.max_retries
attempts, starting at push.initial_delay). Rejections by branch protection
or missing permissions are not retried; manual push instructions are shown
instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func init() {
	pushCmd.SilenceUsage = true
	pushCmd.Flags().Bool("dry-run", false, "Show the git commands without executing them")
}

func runPush(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	branch := ""
	if len(args) == 1 {
		branch = args[0]
	} else if branch, err = e.target(cmd); err != nil {
		return err
	}

	ctx := commandContext(cmd)
	var options []push.Option
	if lookup := e.protectionLookup(ctx); lookup != nil {
		options = append(options, push.WithProtection(lookup))
	}
	retrier := push.New(e.client, push.Options{
		MaxRetries:   e.cfg.Push.MaxRetries,
		InitialDelay: e.cfg.Push.InitialDelay,
		DryRun:       dryRun,
	}, e.log, options...)

	res, err := retrier.Push(ctx, e.remote, branch)
	if err != nil {
		printPushFailure(cmd.OutOrStdout(), res)
		return err
	}
	return nil
}

func printPushFailure(out io.Writer, res push.Result) {
	if res.Protected != nil {
		if *res.Protected {
			outf(out, "%s is a protected branch on the remote.\n", res.Branch)
		} else {
			outf(out, "%s is not protected on the remote; check your permissions.\n", res.Branch)
		}
	}
	printCommands(out, "Push manually, or push to a side branch and open a pull request:", res.Manual)
}
