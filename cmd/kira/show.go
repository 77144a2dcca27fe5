package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		entity, err := v.ReadEntity(args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"id":       entity.ID,
				"kind":     entity.Kind,
				"metadata": entity.Metadata,
				"content":  entity.Content,
				"path":     entity.Path,
			})
		}

		fmt.Printf("%s (%s)\n", entity.ID, entity.Kind)
		keys := make([]string, 0, len(entity.Metadata))
		for k := range entity.Metadata {
			if k == "id" || k == "kind" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, entity.Metadata[k])
		}
		if entity.Content != "" {
			fmt.Printf("\n%s\n", entity.Content)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
