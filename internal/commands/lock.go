package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"branchsync/internal/lock"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect or clear the sync lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who holds the sync lock",
	Args:  cobra.NoArgs,
	RunE:  runLockStatus,
}

var lockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the sync lock file",
	Long: `Removes the sync lock file when it is stale (older than sync.lock_max_age
and its owner process is gone). Use --force to remove a lock that still
looks held.`,
	Args: cobra.NoArgs,
	RunE: runLockClear,
}

func init() {
	lockStatusCmd.SilenceUsage = true
	lockClearCmd.SilenceUsage = true
	lockClearCmd.Flags().Bool("force", false, "Remove the lock even if its owner looks alive")
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockClearCmd)
}

func runLockStatus(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	info, err := lock.NewManager(e.log).Status(e.lockPath(), e.cfg.Sync.LockMaxAge)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	outf(out, "Lock: %s\n", info.Path)
	if !info.Exists {
		outln(out, "Status: free")
		return nil
	}
	state := "held"
	if info.Stale {
		state = "stale (will be reclaimed by the next sync)"
	}
	owner := "not running"
	if info.Alive {
		owner = "running"
	}
	outf(out, "Status: %s\n", state)
	outf(out, "Owner: pid %d (%s)\n", info.PID, owner)
	outf(out, "Age: %s (acquired %s)\n", info.Age.Round(time.Second), humanize.Time(time.Now().Add(-info.Age)))
	return nil
}

func runLockClear(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	m := lock.NewManager(e.log)
	info, err := m.Status(e.lockPath(), e.cfg.Sync.LockMaxAge)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !info.Exists {
		outln(out, "No lock to clear")
		return nil
	}
	if !info.Stale && !force {
		return fmt.Errorf("lock is held by pid %d (age %s); use --force to remove it anyway", info.PID, info.Age.Round(time.Second))
	}
	if err := m.Clear(info.Path); err != nil {
		return err
	}
	e.log.Warn("lock cleared", "path", info.Path, "pid", info.PID, "forced", force)
	outf(out, "Removed %s\n", info.Path)
	return nil
}
