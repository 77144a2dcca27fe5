package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var linksCmd = &cobra.Command{
	Use:   "links [id]",
	Short: "Show an entity's links, or graph-wide diagnostics",
	Long: `With an entity ID, prints its outgoing and incoming links. With
--orphans lists entities nothing links to; with --broken lists links whose
target does not exist.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orphans, _ := cmd.Flags().GetBool("orphans")
		broken, _ := cmd.Flags().GetBool("broken")

		v, err := openVault()
		if err != nil {
			return err
		}

		switch {
		case orphans:
			ids := v.Orphans()
			if jsonOutput {
				return outputJSON(map[string]any{"orphans": ids})
			}
			if len(ids) == 0 {
				fmt.Println("No orphans")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil

		case broken:
			links, err := v.BrokenLinks()
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(map[string]any{"broken": links})
			}
			if len(links) == 0 {
				fmt.Println("No broken links")
				return nil
			}
			for _, l := range links {
				fmt.Printf("%s -> %s (%s)\n", l.SourceID, l.TargetID, l.Type)
			}
			return nil

		case len(args) == 1:
			links, err := v.GetEntityLinks(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(links)
			}
			fmt.Printf("Outgoing (%d):\n", len(links.Outgoing))
			for _, l := range links.Outgoing {
				fmt.Printf("  -> %s (%s)\n", l.TargetID, l.Type)
			}
			fmt.Printf("Incoming (%d):\n", len(links.Incoming))
			for _, l := range links.Incoming {
				fmt.Printf("  <- %s (%s)\n", l.SourceID, l.Type)
			}
			return nil

		default:
			return cmd.Help()
		}
	},
}

func init() {
	linksCmd.Flags().Bool("orphans", false, "list entities with no incoming links")
	linksCmd.Flags().Bool("broken", false, "list links whose target is missing")
	rootCmd.AddCommand(linksCmd)
}
