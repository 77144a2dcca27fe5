package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/eventbus"
	"github.com/untoldecay/kira/internal/pipeline"
	"github.com/untoldecay/kira/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source> [file]",
	Short: "Push one adapter payload through the pipeline",
	Long: `Normalize, hash, and deduplicate a single JSON payload as if an
adapter had delivered it. Reads from the file argument or stdin. Duplicate
deliveries are reported and dropped without side effects.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]

		var raw []byte
		var err error
		if len(args) == 2 {
			raw, err = os.ReadFile(args[1])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("%w: reading payload: %v", types.ErrIO, err)
		}

		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("%w: payload is not a JSON object: %v", types.ErrValidation, err)
		}

		root, err := vaultRoot()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), root)
		if err != nil {
			return err
		}
		defer store.Close()

		p := pipeline.New(store, eventbus.New(), nil, log.Logger)
		res, err := p.Ingest(cmd.Context(), source, payload)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(res)
		}
		switch {
		case res.Duplicate:
			fmt.Printf("Duplicate of %s, dropped\n", res.EventID)
		case res.Accepted:
			fmt.Printf("Accepted %s as %s\n", res.EventID, res.EventType)
		default:
			fmt.Println("Rejected:")
			for _, e := range res.Errors {
				fmt.Printf("  %s\n", e)
			}
			return fmt.Errorf("%w: payload rejected", types.ErrValidation)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
