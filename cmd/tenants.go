package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/model"
)

var (
	provisionID   string
	provisionName string
	provisionRoot string
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage the tenant registry",
}

var tenantsProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new tenant (blob root, store tables, registry entry)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.ProvisionTenant(ctx, model.Tenant{
			ID:       provisionID,
			Name:     provisionName,
			BlobRoot: provisionRoot,
		})
		if err != nil {
			return eris.Wrapf(err, "provision %s", provisionID)
		}

		zap.L().Info("tenant provisioned", zap.String("tenant", provisionID))
		return printResult(result)
	},
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env.Tenants.All())
	},
}

var tenantsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <tenant-id>",
	Short: "Exclude a tenant from batch operations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Tenants.Deactivate(args[0]); err != nil {
			return err
		}
		zap.L().Info("tenant deactivated", zap.String("tenant", args[0]))
		return nil
	},
}

func init() {
	tenantsProvisionCmd.Flags().StringVar(&provisionID, "id", "", "tenant id (required, lowercase alphanumeric)")
	tenantsProvisionCmd.Flags().StringVar(&provisionName, "name", "", "display name")
	tenantsProvisionCmd.Flags().StringVar(&provisionRoot, "root", "", "blob root (default tenants/<id>)")
	_ = tenantsProvisionCmd.MarkFlagRequired("id")

	tenantsCmd.AddCommand(tenantsProvisionCmd)
	tenantsCmd.AddCommand(tenantsListCmd)
	tenantsCmd.AddCommand(tenantsDeactivateCmd)
	rootCmd.AddCommand(tenantsCmd)
}
