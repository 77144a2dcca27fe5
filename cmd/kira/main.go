package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/config"
	"github.com/untoldecay/kira/internal/eventbus"
	"github.com/untoldecay/kira/internal/logging"
	"github.com/untoldecay/kira/internal/types"
	"github.com/untoldecay/kira/internal/vault"
)

var (
	jsonOutput bool
	verbose    bool
	vaultFlag  string
)

// errNoVault marks a missing vault as a configuration problem, not I/O.
var errNoVault = errors.New("no vault found: run 'kira init' or pass --vault")

var rootCmd = &cobra.Command{
	Use:   "kira",
	Short: "Reactive Markdown vault runtime",
	Long: `kira keeps a personal knowledge vault of typed Markdown files and
reacts to inbound events: it normalizes adapter payloads, deduplicates them,
buffers out-of-order deliveries, and applies them to the vault through a
single-writer host API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if err := config.Initialize(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
		}
		logging.SetupCLI(verbose)
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.JSON()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "vault path (default: discovered from the working directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto the CLI contract:
// 0 success, 1 generic, 2 validation, 5 I/O, 6 configuration.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrFolderContract),
		errors.Is(err, types.ErrAlreadyExists):
		return 2
	case errors.Is(err, types.ErrIO),
		errors.Is(err, types.ErrLockTimeout):
		return 5
	case errors.Is(err, errNoVault):
		return 6
	default:
		return 1
	}
}

// vaultRoot resolves the target vault: --vault flag, then config/discovery.
func vaultRoot() (string, error) {
	if vaultFlag != "" {
		return vaultFlag, nil
	}
	if path := config.VaultPath(); path != "" {
		return path, nil
	}
	return "", errNoVault
}

// openVault opens the resolved vault with configured timezone and lock
// budget, and a live bus so host operations emit events.
func openVault() (*vault.Vault, error) {
	root, err := vaultRoot()
	if err != nil {
		return nil, err
	}
	opts := []vault.Option{
		vault.WithBus(eventbus.New()),
		vault.WithLockTimeout(config.LockTimeout()),
		vault.WithLogger(log.Logger),
	}
	if tz, err := config.Timezone(); err == nil {
		opts = append(opts, vault.WithTimezone(tz))
	}
	return vault.Open(root, opts...)
}

func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling output: %v", types.ErrFatal, err)
	}
	fmt.Println(string(data))
	return nil
}
