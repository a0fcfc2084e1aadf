package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valinor-ai/tenantry/internal/registry"
)

func newMigrateTenantsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-tenants",
		Short: "Emit an Updated event for every active tenant, re-running provisioning and migrations",
		Long: `Re-provision every active tenant in registry order.

Each tenant gets one Updated lifecycle event, so its database is ensured and
pending migrations are applied. The run stops at the first tenant whose hooks
fail; tenants before it are already migrated.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := registry.Reprovision(cmd.Context(), a.registry, a.dispatcher)
			fmt.Fprintf(cmd.OutOrStdout(), "re-provisioned %d tenant(s)\n", n)
			return err
		},
	}
}
