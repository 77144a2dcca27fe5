package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/storage/sqlite"
)

// openStore opens the vault's dedupe/ledger database. Both the seen_events
// and sync_ledger tables live in artifacts/dedupe.db; there is no separate
// sync_ledger.db file.
func openStore(ctx context.Context, vaultRoot string) (*sqlite.Store, error) {
	return sqlite.Open(ctx, filepath.Join(vaultRoot, "artifacts", "dedupe.db"))
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ingestion dedupe statistics",
	Long: `Report how many distinct events the vault has seen and how many
deliveries were suppressed as duplicates. Reads artifacts/dedupe.db, which
holds both the dedupe seen-set and the sync ledger.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		root, err := vaultRoot()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), root)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(stats)
		}
		fmt.Printf("Unique events:     %d\n", stats.TotalUnique)
		fmt.Printf("Total deliveries:  %d\n", stats.TotalSeen)
		fmt.Printf("With duplicates:   %d\n", stats.EventsWithDuplicates)
		fmt.Printf("Duplicate rate:    %.1f%%\n", stats.DuplicateRate*100)
		if len(stats.BySource) > 0 {
			fmt.Println("By source:")
			for source, n := range stats.BySource {
				fmt.Printf("  %-12s %d\n", source, n)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
