package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"branchsync/internal/breadcrumb"
	"branchsync/internal/bulksync"
	"branchsync/internal/git"
	"branchsync/internal/lock"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check for leftovers of interrupted sync sessions",
	Long: `Checks the repository for a stale sync lock, a merge or rebase waiting for
resolution, and a session whose start breadcrumb has no matching end.
With --fix a stale lock is removed. Merges and rebases are never aborted
automatically; the commands to do so are printed instead.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.SilenceUsage = true
	doctorCmd.Flags().Bool("fix", false, "Remove a stale sync lock")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	fix, _ := cmd.Flags().GetBool("fix")

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	var issues []string

	m := lock.NewManager(e.log)
	info, err := m.Status(e.lockPath(), e.cfg.Sync.LockMaxAge)
	if err != nil {
		return err
	}
	if info.Exists && info.Stale {
		issue := fmt.Sprintf("stale sync lock %s (pid %d, age %s)", info.Path, info.PID, info.Age.Round(time.Second))
		if fix {
			if err := m.Clear(info.Path); err != nil {
				return err
			}
			issue += ": removed"
		}
		issues = append(issues, issue)
	}

	op, err := e.client.InProgress(ctx)
	if err != nil {
		return err
	}
	if op != git.OpNone {
		issues = append(issues, fmt.Sprintf("a %s is waiting for resolution: finish it, or run 'git %s --abort'", op, op))
	}

	crumbPath := bulksync.BreadcrumbPath(e.cfg, e.stateDir)
	entries, err := breadcrumb.ReadFile(crumbPath)
	if err != nil {
		return err
	}
	if last, ok := breadcrumb.Unfinished(entries); ok {
		issues = append(issues, fmt.Sprintf("sync of %s started %s never finished (head was %s)",
			last.Branch, humanize.Time(last.Time), shortHash(last.Head)))
	}

	if len(issues) == 0 {
		outln(out, "No problems found.")
		return nil
	}
	outln(out, "Issues found:")
	for _, issue := range issues {
		outf(out, "  %s\n", issue)
	}
	e.log.Info("doctor", "issues", len(issues), "fix", fix)
	return nil
}
