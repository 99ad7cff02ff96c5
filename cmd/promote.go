package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var promoteTenant string

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Move pending records into their terminal category tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.PromoteToCategories(ctx, promoteTenant)
		if err != nil {
			return eris.Wrapf(err, "promote %s", promoteTenant)
		}

		zap.L().Info("promotion complete",
			zap.String("tenant", promoteTenant),
			zap.Int("promoted", result.Processed),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
		return printResult(result)
	},
}

func init() {
	promoteCmd.Flags().StringVar(&promoteTenant, "tenant", "", "tenant id (required)")
	_ = promoteCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(promoteCmd)
}
