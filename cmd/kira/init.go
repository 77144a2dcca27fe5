package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/vault"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a kira vault",
	Long: `Initialize a vault at the given path (default: current directory).
Creates the entity folders, the inbox drop zone, and the .kira/ control
directory with default schemas.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}

		v, err := vault.Init(abs)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]string{"vault": v.Root()})
		}
		fmt.Printf("Initialized kira vault in %s\n", v.Root())
		fmt.Println("Drop adapter payloads into inbox/, or run 'kira create task \"...\"'")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
