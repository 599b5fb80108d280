package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/clioutput"
	"github.com/marcus/cardsync/internal/migration"
	"github.com/marcus/cardsync/internal/syncconfig"
)

var migrateBatchSize int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Seed CRDT documents for rows that predate the sync core",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cs, _, err := openStack()
		if err != nil {
			clioutput.Error("%v", err)
			return err
		}
		defer st.Close()

		actorID, err := syncconfig.GetActorID()
		if err != nil {
			clioutput.Error("load actor id: %v", err)
			return err
		}

		m := migration.New(st, cs)
		result := m.RunMigrationWithBatching(actorID, migrateBatchSize, func(p migration.Progress) {
			clioutput.Info(clioutput.FormatMigrationProgress(p))
		})
		clioutput.Info(clioutput.FormatMigrationResult(result))
		return result.Err
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateBatchSize, "batch-size", migration.DefaultBatchSize, "rows migrated per batch")
	rootCmd.AddCommand(migrateCmd)
}
