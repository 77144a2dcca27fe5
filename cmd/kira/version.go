package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version is overridden by ldflags at release build time.
	Version = "0.1.0"
	Build   = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(_ *cobra.Command, _ []string) error {
		commit := resolveCommit()
		if jsonOutput {
			out := map[string]string{"version": Version, "build": Build}
			if commit != "" {
				out["commit"] = commit
			}
			return outputJSON(out)
		}
		if commit != "" {
			fmt.Printf("kira version %s (%s: %s)\n", Version, Build, commit)
		} else {
			fmt.Printf("kira version %s (%s)\n", Version, Build)
		}
		return nil
	},
}

func resolveCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
			return setting.Value[:8]
		}
	}
	return ""
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
