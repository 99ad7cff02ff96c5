package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reconcileTenant string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Process operator deletions and reactivations in the working table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.ReconcileBufferChanges(ctx, reconcileTenant)
		if err != nil {
			return eris.Wrapf(err, "reconcile %s", reconcileTenant)
		}

		zap.L().Info("reconciliation complete",
			zap.String("tenant", reconcileTenant),
			zap.Int("deleted", result.Processed),
			zap.Int("reactivated", result.Reactivated),
			zap.Int("failed", result.Failed),
		)
		return printResult(result)
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileTenant, "tenant", "", "tenant id (required)")
	_ = reconcileCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(reconcileCmd)
}
