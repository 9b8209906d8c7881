package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMetricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Expose run engine metrics",
	}
	cmd.AddCommand(newMetricsServeCommand())
	return cmd
}

func newMetricsServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve Prometheus metrics until interrupted",
		Long: `Serve the Prometheus endpoint. With manifests.watch enabled the manifest
directory is watched as well, so cached environments and fires are
refreshed when their files change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if !a.cfg.Telemetry.MetricsEnabled {
					return fmt.Errorf("metrics are disabled; set telemetry.metrics_enabled in the config")
				}
				if addr == "" {
					addr = a.tel.Config.Metrics.ListenAddress
				}

				if a.cfg.Manifests.Watch {
					if err := a.manifests.Watch(ctx, nil); err != nil {
						return err
					}
				}
				if a.policy != nil && len(a.cfg.Policy.Paths) > 0 {
					if err := a.policy.Watch(ctx, a.cfg.Policy.Paths); err != nil {
						return err
					}
				}

				log.Info().
					Str("address", addr).
					Str("path", a.tel.Config.Metrics.Path).
					Msg("Serving metrics")
				return a.tel.Metrics.Serve(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides telemetry.metrics_address)")
	return cmd
}
