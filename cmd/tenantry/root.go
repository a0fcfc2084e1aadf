package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/valinor-ai/tenantry/internal/platform/config"
	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
)

// cli carries what every subcommand needs once flags are parsed.
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "tenantry",
		Short:         "Hostname-based multi-tenancy: tenant registry, identification and per-tenant databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			c.cfg = cfg
			c.logger = telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			telemetry.SetDefault(c.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		newServeCmd(c),
		newMigrateTenantsCmd(c),
		newSeedCmd(c),
	)
	return root
}
