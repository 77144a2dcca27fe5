package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/types"
)

var createCmd = &cobra.Command{
	Use:   "create <kind> <title>",
	Short: "Create an entity in the vault",
	Long: `Create a typed Markdown entity. Kind is one of task, note, event,
project, contact, meeting. Additional front-matter fields are set with
repeated --field key=value flags; values that parse as JSON are stored
typed (numbers, booleans, lists), everything else as a string.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.Kind(args[0])
		title := args[1]

		fields, _ := cmd.Flags().GetStringArray("field")
		content, _ := cmd.Flags().GetString("content")
		id, _ := cmd.Flags().GetString("id")
		status, _ := cmd.Flags().GetString("status")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		meta, err := parseKeyValues(fields)
		if err != nil {
			return err
		}
		meta[types.MetaTitle] = title
		if id != "" {
			meta["id"] = id
		}
		if status != "" {
			meta["status"] = status
		}
		if len(tags) > 0 {
			meta["tags"] = tags
		}

		v, err := openVault()
		if err != nil {
			return err
		}
		entity, err := v.CreateEntity(cmd.Context(), kind, meta, content)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"id":   entity.ID,
				"kind": entity.Kind,
				"path": entity.Path,
			})
		}
		fmt.Printf("Created %s: %s\n", entity.Kind, entity.ID)
		return nil
	},
}

// parseKeyValues turns repeated key=value flags into metadata. Values that
// decode as JSON keep their type so "--field priority=2" stores a number.
func parseKeyValues(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: field %q is not key=value", types.ErrValidation, pair)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			meta[key] = typed
		} else {
			meta[key] = value
		}
	}
	return meta, nil
}

func init() {
	createCmd.Flags().StringArray("field", nil, "front-matter field as key=value (repeatable)")
	createCmd.Flags().String("content", "", "Markdown body")
	createCmd.Flags().String("id", "", "explicit entity ID (default: generated)")
	createCmd.Flags().String("status", "", "initial status")
	createCmd.Flags().StringSlice("tag", nil, "tags (repeatable or comma-separated)")
	rootCmd.AddCommand(createCmd)
}
