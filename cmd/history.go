package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	historyTenant string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent operation log entries for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Engine.History(cmd.Context(), historyTenant, historyLimit)
		if err != nil {
			return eris.Wrapf(err, "history %s", historyTenant)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyTenant, "tenant", "", "tenant id (required)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max entries")
	_ = historyCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(historyCmd)
}
