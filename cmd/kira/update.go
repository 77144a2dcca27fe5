package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an entity's fields or body",
	Long: `Update front-matter fields with repeated --set key=value flags and
remove fields with --unset. Passing --content replaces the Markdown body.
Validation failures reject the whole update and leave the file untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		unsets, _ := cmd.Flags().GetStringArray("unset")
		if len(sets) == 0 && len(unsets) == 0 && !cmd.Flags().Changed("content") {
			fmt.Println("Nothing to update")
			return nil
		}

		updates, err := parseKeyValues(sets)
		if err != nil {
			return err
		}
		// nil values delete the field.
		for _, key := range unsets {
			updates[key] = nil
		}

		var content *string
		if cmd.Flags().Changed("content") {
			body, _ := cmd.Flags().GetString("content")
			content = &body
		}

		v, err := openVault()
		if err != nil {
			return err
		}
		entity, err := v.UpdateEntity(cmd.Context(), args[0], updates, content)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"id":       entity.ID,
				"metadata": entity.Metadata,
			})
		}
		fmt.Printf("Updated %s\n", entity.ID)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringArray("set", nil, "field to set as key=value (repeatable)")
	updateCmd.Flags().StringArray("unset", nil, "field to remove (repeatable)")
	updateCmd.Flags().String("content", "", "replacement Markdown body")
	rootCmd.AddCommand(updateCmd)
}
