package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processAllCmd = &cobra.Command{
	Use:   "process-all",
	Short: "Run one enrichment pass for every active tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.ProcessAllTenants(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("all-tenant pass complete",
			zap.Int("processed", result.Processed),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
		return printResult(result)
	},
}

func init() {
	rootCmd.AddCommand(processAllCmd)
}
