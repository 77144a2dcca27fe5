package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an entity and its link-graph edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		v, err := openVault()
		if err != nil {
			return err
		}

		if !force {
			links, err := v.GetEntityLinks(args[0])
			if err != nil {
				return err
			}
			if n := len(links.Incoming); n > 0 {
				fmt.Printf("%s has %d incoming link(s); they will become broken. Continue? [y/N] ", args[0], n)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.ToLower(strings.TrimSpace(answer)) != "y" {
					fmt.Println("Aborted")
					return nil
				}
			}
		}

		if err := v.DeleteEntity(cmd.Context(), args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"deleted": args[0]})
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolP("force", "f", false, "skip the incoming-link confirmation")
	rootCmd.AddCommand(deleteCmd)
}
