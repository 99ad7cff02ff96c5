package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retryTenant string

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Reset failed records for another enrichment pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.RetryFailed(ctx, retryTenant)
		if err != nil {
			return eris.Wrapf(err, "retry-failed %s", retryTenant)
		}

		zap.L().Info("retry reset complete",
			zap.String("tenant", retryTenant),
			zap.Int("reset", result.Processed),
		)
		return printResult(result)
	},
}

func init() {
	retryFailedCmd.Flags().StringVar(&retryTenant, "tenant", "", "tenant id (required)")
	_ = retryFailedCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(retryFailedCmd)
}
