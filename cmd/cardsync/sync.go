package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/clioutput"
	"github.com/marcus/cardsync/internal/syncconfig"
	"github.com/marcus/cardsync/internal/syncqueue"
)

var (
	syncPushOnly   bool
	syncPullOnly   bool
	syncStatusOnly bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push local changes and pull remote changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			clioutput.Error("not logged in (no api key configured)")
			return fmt.Errorf("not authenticated")
		}

		st, cs, q, err := openStack()
		if err != nil {
			clioutput.Error("%v", err)
			return err
		}
		defer st.Close()

		if syncStatusOnly {
			return runSyncStatus(q)
		}

		mgr, err := newManager(st, cs, q)
		if err != nil {
			clioutput.Error("%v", err)
			return err
		}

		if syncPushOnly || syncPullOnly {
			clioutput.Warning("--push/--pull run a full cycle; partial sync is not supported standalone")
		}

		result, err := mgr.Sync(runContext())
		if err != nil {
			clioutput.Error("sync failed: %v", err)
			return err
		}

		clioutput.Success("synced: pushed %d, pulled %d, %d conflict(s) resolved", result.Pushed, result.Pulled, result.Conflicts)
		for _, r := range result.Resolutions {
			kind := "adopted"
			if r.Merged {
				kind = "merged"
			}
			clioutput.Info("  %s %s %s", r.EntityType, clioutput.ShortID(r.EntityID), kind)
		}
		return nil
	},
}

func runSyncStatus(q *syncqueue.Queue) error {
	status := q.Status()
	pending, err := q.GetPendingChanges()
	if err != nil {
		clioutput.Error("read pending changes: %v", err)
		return err
	}
	clioutput.Info(clioutput.FormatSyncStatus(status))
	clioutput.Info(clioutput.FormatPendingSummary(pending))
	return nil
}

func init() {
	syncCmd.Flags().BoolVar(&syncPushOnly, "push", false, "push only (informational; full cycle always runs)")
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull", false, "pull only (informational; full cycle always runs)")
	syncCmd.Flags().BoolVar(&syncStatusOnly, "status", false, "show sync status only, without syncing")
	rootCmd.AddCommand(syncCmd)
}
