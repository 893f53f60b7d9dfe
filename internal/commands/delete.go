package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"branchsync/internal/branches"
	"branchsync/internal/config"
	"branchsync/internal/git"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <branch>",
	Short: "Delete a branch locally, on the remote, or both",
	Long: `Deletes a branch. Without a location flag the branch is deleted wherever it
exists. The target branch and the checked-out branch are never deleted.

With --api the remote branch is deleted through the GitHub API (token from
the variable named by github.token_env) instead of git push --delete.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.SilenceUsage = true
	deleteCmd.Flags().Bool("local", false, "Delete only the local branch")
	deleteCmd.Flags().Bool("remote", false, "Delete only the remote branch")
	deleteCmd.Flags().Bool("both", false, "Delete the local and the remote branch")
	deleteCmd.Flags().Bool("api", false, "Delete the remote branch through the GitHub API")
	deleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	deleteCmd.MarkFlagsMutuallyExclusive("local", "remote", "both")
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	yes, _ := cmd.Flags().GetBool("yes")
	useAPI, _ := cmd.Flags().GetBool("api")

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
	if name == target {
		return fmt.Errorf("refusing to delete the target branch '%s'", target)
	}
	current, err := e.client.CurrentBranch(ctx)
	if err != nil {
		return err
	}

	classifier := branches.New(e.client, branches.Options{Target: target, Remote: e.remote, SessionPrefix: e.cfg.Sync.SessionPrefix})
	ref, err := classifier.Find(ctx, name)
	if err != nil {
		return err
	}
	location, err := deleteLocation(cmd, ref.Location)
	if err != nil {
		return err
	}
	if location != git.LocationRemote && name == current {
		return fmt.Errorf("refusing to delete the checked-out branch '%s': switch to another branch first", name)
	}

	question := fmt.Sprintf("Delete %s (%s)?", name, location)
	if !newConfirmer(cmd, yes).Confirm(question, false) {
		outln(cmd.OutOrStdout(), "Aborted")
		return nil
	}

	if useAPI && location != git.LocationLocal {
		if location == git.LocationBoth {
			if err := e.client.DeleteBranch(ctx, name, git.LocationLocal); err != nil {
				return err
			}
		}
		if err := deleteRemoteWithAPI(cmd, e, name); err != nil {
			return err
		}
	} else if err := e.client.DeleteBranch(ctx, name, location); err != nil {
		return err
	}
	e.log.Success("Deleted %s (%s)", name, location)
	return nil
}

// deleteLocation returns the location selected by flags, or where the
// branch exists when no flag is given.
func deleteLocation(cmd *cobra.Command, exists git.Location) (git.Location, error) {
	for _, flag := range []string{"local", "remote", "both"} {
		if set, _ := cmd.Flags().GetBool(flag); set {
			loc, err := git.ParseLocation(flag)
			if err != nil {
				return 0, err
			}
			if loc != exists && exists != git.LocationBoth {
				return 0, fmt.Errorf("branch does not exist %s (found: %s)", describeLocation(loc), exists)
			}
			return loc, nil
		}
	}
	return exists, nil
}

func describeLocation(l git.Location) string {
	switch l {
	case git.LocationLocal:
		return "locally"
	case git.LocationRemote:
		return "on the remote"
	default:
		return "both locally and on the remote"
	}
}

func deleteRemoteWithAPI(cmd *cobra.Command, e *env, name string) error {
	ctx := commandContext(cmd)
	token := config.GitHubToken(e.cfg)
	if token == "" {
		return fmt.Errorf("--api requires a GitHub token in $%s", e.cfg.GitHub.TokenEnv)
	}
	url, err := e.client.RemoteURL(ctx, e.remote)
	if err != nil {
		return err
	}
	owner, repo, err := git.ParseGitHubOwnerRepo(url)
	if err != nil {
		return err
	}
	client, err := git.NewClient(ctx, token, e.cfg.GitHub.BaseURL)
	if err != nil {
		return err
	}
	return git.DeleteRemoteBranchAPI(ctx, client, owner, repo, name)
}
