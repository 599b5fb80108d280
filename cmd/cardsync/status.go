package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/clioutput"
	"github.com/marcus/cardsync/internal/migration"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cs, q, err := openStack()
		if err != nil {
			clioutput.Error("%v", err)
			return err
		}
		defer st.Close()

		if err := runSyncStatus(q); err != nil {
			return err
		}

		total, err := cs.CountTotal()
		if err != nil {
			clioutput.Error("count crdt documents: %v", err)
			return err
		}
		clioutput.Info("crdt documents stored: %d", total)

		completed, err := migration.New(st, cs).IsMigrationCompleted()
		if err != nil {
			clioutput.Error("%v", err)
			return err
		}
		if completed {
			clioutput.Success("crdt migration: completed")
		} else {
			clioutput.Warning("crdt migration: not yet run (run: cardsync migrate)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
