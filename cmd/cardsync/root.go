// Package cmd implements the cardsync demo CLI using cobra: a thin
// exerciser over internal/syncmanager and internal/migration so the sync
// core can be driven from a terminal instead of only from tests.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/clioutput"
	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/store"
	"github.com/marcus/cardsync/internal/syncconfig"
	"github.com/marcus/cardsync/internal/syncmanager"
	"github.com/marcus/cardsync/internal/syncqueue"
	"github.com/marcus/cardsync/internal/syncserverclient"
)

var (
	versionStr   string
	storeDir     string
	storeDirFlag string
)

// SetVersion sets the version string and enables --version.
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "cardsync",
	Short: "Offline-first spaced-repetition sync engine demo CLI",
	Long: `cardsync drives a local flashcard replica (decks, note types, notes,
field values, cards, review log) and synchronizes it with a remote server
over push/pull, reconciling concurrent edits with a CRDT merge layer and a
server-wins fallback.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initStoreDir()
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDirFlag, "store-dir", "", "local store directory (default: ~/.cardsync)")
}

func initStoreDir() error {
	if storeDirFlag != "" {
		dir := storeDirFlag
		if !filepath.IsAbs(dir) {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("determine working directory: %w", err)
			}
			dir = filepath.Join(cwd, dir)
		}
		storeDir = filepath.Clean(dir)
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determine home directory: %w", err)
	}
	storeDir = filepath.Join(home, ".cardsync")
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		clioutput.Error("%v", err)
		os.Exit(1)
	}
}

// openStack opens the local store, CRDT sync state store and sync queue
// rooted at storeDir. Callers must Close() the returned store.
func openStack() (*store.Store, *crdtstore.Store, *syncqueue.Queue, error) {
	st, err := store.Open(storeDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open local store: %w", err)
	}
	cs, err := crdtstore.Open(st)
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("open crdt sync state: %w", err)
	}
	return st, cs, syncqueue.New(st, cs), nil
}

// newManager builds a syncmanager.Manager wired to the configured sync
// server, using the client's push/pull methods as the injected transport
// functions.
func newManager(st *store.Store, cs *crdtstore.Store, q *syncqueue.Queue) (*syncmanager.Manager, error) {
	actorID, err := syncconfig.GetActorID()
	if err != nil {
		return nil, fmt.Errorf("load actor id: %w", err)
	}
	client := syncserverclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey())
	return syncmanager.New(q, st, cs, actorID, syncconfig.GetAutoSyncDebounce(), client.Push, client.Pull), nil
}

func runContext() context.Context {
	return context.Background()
}
