package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processTenant string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one enrichment pass for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.ProcessEnrichment(ctx, processTenant)
		if err != nil {
			return eris.Wrapf(err, "process %s", processTenant)
		}

		zap.L().Info("enrichment pass complete",
			zap.String("tenant", processTenant),
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
		)
		return printResult(result)
	},
}

func init() {
	processCmd.Flags().StringVar(&processTenant, "tenant", "", "tenant id (required)")
	_ = processCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(processCmd)
}
