package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/config"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect and prune rejected payloads",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined payloads, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		v, err := openVault()
		if err != nil {
			return err
		}
		records, err := v.Quarantine().List(kind, limit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("Quarantine is empty")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %-8s  %s\n", r.Timestamp, r.Kind, r.Reason)
			if len(r.Errors) > 0 {
				fmt.Printf("    %s\n", strings.Join(r.Errors, "; "))
			}
		}
		return nil
	},
}

var quarantineCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete quarantine records older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ttl, _ := cmd.Flags().GetInt("ttl-days")
		if ttl == 0 {
			ttl = config.DedupeTTLDays()
		}

		v, err := openVault()
		if err != nil {
			return err
		}
		removed, err := v.Quarantine().Cleanup(ttl)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]int{"removed": removed})
		}
		fmt.Printf("Removed %d quarantine record(s)\n", removed)
		return nil
	},
}

func init() {
	quarantineListCmd.Flags().String("kind", "", "filter by entity kind")
	quarantineListCmd.Flags().Int("limit", 20, "maximum records to show (0 = all)")
	quarantineCleanupCmd.Flags().Int("ttl-days", 0, "retention in days (default: dedupe TTL)")
	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineCleanupCmd)
	rootCmd.AddCommand(quarantineCmd)
}
