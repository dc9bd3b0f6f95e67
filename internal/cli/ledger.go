package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newLedgerCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Store and list document records on the ledger",
	}

	var result string
	store := &cobra.Command{
		Use:   "store <file>",
		Short: "Hash a file and record it with a result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			client, closeLedger := openLedger(cmd.Context(), opts)
			defer closeLedger()
			receipt, err := client.StoreRecord(cmd.Context(), f, result)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
	store.Flags().StringVarP(&result, "result", "r", "", "result string stored next to the hash")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the records of the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeLedger := openLedger(cmd.Context(), opts)
			defer closeLedger()
			records, err := client.ListMyRecords(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, records)
		},
	}

	cmd.AddCommand(store, list)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
