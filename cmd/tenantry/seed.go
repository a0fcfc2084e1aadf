package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valinor-ai/tenantry/internal/registry"
)

func newSeedCmd(c *cli) *cobra.Command {
	var name, hostname string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Ensure the root tenant exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				name = c.cfg.Registry.RootName
			}
			if hostname == "" {
				hostname = c.cfg.Registry.RootHostname
			}

			a, err := buildApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			t, created, err := registry.SeedRoot(cmd.Context(), a.registry, name, hostname)
			if t == nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "seeded root tenant %s (%s)\n", t.Key, hostname)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "root tenant %s already answers %s\n", t.Key, hostname)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "root tenant name (default registry.root_name)")
	cmd.Flags().StringVar(&hostname, "hostname", "", "root tenant hostname (default registry.root_hostname)")
	return cmd
}
