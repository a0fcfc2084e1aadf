package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/valinor-ai/tenantry/internal/registry"
)

func newServeCmd(c *cli) *cobra.Command {
	var reprovision bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tenant-scoped traffic and the tenant management API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			c.logger.Info("tenantry starting",
				"port", c.cfg.Server.Port,
				"strategy", c.cfg.Identification.Strategy,
				"registry", c.cfg.Registry.Backend,
			)

			srv := a.server()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			if reprovision {
				g.Go(func() error {
					// a failing tenant is reported but does not stop serving
					n, err := registry.Reprovision(gctx, a.registry, a.dispatcher)
					if err != nil {
						c.logger.Error("startup re-provisioning stopped", "tenants", n, "error", err)
						return nil
					}
					c.logger.Info("startup re-provisioning finished", "tenants", n)
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&reprovision, "reprovision", false, "re-run provisioning and migrations for every active tenant at startup")
	return cmd
}
