package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/logging"
	"github.com/untoldecay/kira/internal/plugin"
	"github.com/untoldecay/kira/internal/policy"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Run and inspect plugins",
}

var pluginRunCmd = &cobra.Command{
	Use:   "run <manifest>",
	Short: "Run a plugin under the sandbox host",
	Long: `Launch the plugin described by the manifest as a sandboxed
subprocess and serve its vault.* JSON-RPC requests until interrupted.
Requests outside the manifest's granted permissions are refused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := plugin.LoadManifest(args[0])
		if err != nil {
			return err
		}
		for _, violation := range policy.GetViolations(manifest.Policy()) {
			fmt.Fprintf(os.Stderr, "Warning: manifest: %s\n", violation)
		}

		root, err := vaultRoot()
		if err != nil {
			return err
		}
		closer := logging.SetupDaemon(root, verbose)
		defer closer.Close()

		v, err := openVault()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		p := plugin.New(manifest, v, log.Logger)
		if err := p.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("Plugin %s %s running (ctrl-c to stop)\n", manifest.Name, manifest.Version)

		<-ctx.Done()
		return p.Terminate(false)
	},
}

var pluginCheckCmd = &cobra.Command{
	Use:   "check <manifest>",
	Short: "Validate a plugin manifest and its permission policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		manifest, err := plugin.LoadManifest(args[0])
		if err != nil {
			return err
		}
		violations := policy.GetViolations(manifest.Policy())

		if jsonOutput {
			return outputJSON(map[string]any{
				"name":       manifest.Name,
				"version":    manifest.Version,
				"valid":      len(violations) == 0,
				"violations": violations,
			})
		}
		if len(violations) == 0 {
			fmt.Printf("%s %s: ok\n", manifest.Name, manifest.Version)
			return nil
		}
		for _, violation := range violations {
			fmt.Printf("  %s\n", violation)
		}
		return fmt.Errorf("manifest has %d violation(s)", len(violations))
	},
}

func init() {
	pluginCmd.AddCommand(pluginRunCmd)
	pluginCmd.AddCommand(pluginCheckCmd)
	rootCmd.AddCommand(pluginCmd)
}
