package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List entities, optionally filtered by kind",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind types.Kind
		if len(args) == 1 {
			kind = types.Kind(args[0])
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		v, err := openVault()
		if err != nil {
			return err
		}
		entities, err := v.ListEntities(kind, limit, offset)
		if err != nil {
			return err
		}

		if jsonOutput {
			out := make([]map[string]any, 0, len(entities))
			for _, e := range entities {
				out = append(out, map[string]any{
					"id":    e.ID,
					"kind":  e.Kind,
					"title": e.Title(),
				})
			}
			return outputJSON(out)
		}

		if len(entities) == 0 {
			fmt.Println("No entities found")
			return nil
		}
		for _, e := range entities {
			line := fmt.Sprintf("%-40s  %s", e.ID, e.Title())
			if status := types.StringField(e.Metadata, "status"); status != "" {
				line += fmt.Sprintf("  [%s]", status)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 0, "maximum entities to return (0 = all)")
	listCmd.Flags().Int("offset", 0, "entities to skip")
	rootCmd.AddCommand(listCmd)
}
