package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/awsrt/awsrt/pkg/render"
	"github.com/awsrt/awsrt/pkg/sim"
)

type renderFlags struct {
	t     int
	out   string
	scale int
	opts  render.Options
}

func (f *renderFlags) addImage(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&f.scale, "scale", 1, "pixels per cell edge")
}

func (f *renderFlags) addColormap(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.opts.Colormap, "cmap", render.DefaultColormap, "colormap (gray, inferno, viridis)")
	cmd.Flags().Float64Var(&f.opts.VMin, "vmin", 0, "value mapped to the low end of the colormap")
	cmd.Flags().Float64Var(&f.opts.VMax, "vmax", 1, "value mapped to the high end of the colormap")
}

// resolveT maps a negative index to the run's latest slice.
func (f *renderFlags) resolveT(ctx context.Context, a *app, runID string) (int, error) {
	if f.t >= 0 {
		return f.t, nil
	}
	return a.ctrl.Latest(ctx, runID)
}

func writePNG(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return output(cmd, map[string]interface{}{"path": path, "bytes": len(data)}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "✓ wrote %s (%d bytes)\n", path, len(data))
		return err
	})
}

func newRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render fields as PNG images",
	}
	cmd.AddCommand(
		newRenderStateCommand(),
		newRenderBeliefCommand(),
		newRenderLegendCommand(),
		newRenderPreviewCommand(),
	)
	return cmd
}

func newRenderStateCommand() *cobra.Command {
	f := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "state <run_id>",
		Short: "Render a state slice (burning cells in red)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := f.resolveT(ctx, a, args[0])
				if err != nil {
					return err
				}
				g, err := a.ctrl.ReadState(ctx, args[0], t)
				if err != nil {
					return err
				}
				data, err := render.StatePNG(g, f.scale)
				if err != nil {
					return err
				}
				return writePNG(cmd, f.out, data)
			})
		},
	}
	cmd.Flags().IntVarP(&f.t, "t", "t", -1, "time index (default latest)")
	f.addImage(cmd)
	return cmd
}

func newRenderBeliefCommand() *cobra.Command {
	f := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "belief <run_id>",
		Short: "Render a belief slice through a colormap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := f.resolveT(ctx, a, args[0])
				if err != nil {
					return err
				}
				g, err := a.ctrl.ReadBelief(ctx, args[0], t)
				if err != nil {
					return err
				}
				f.opts.Scale = f.scale
				data, err := render.BeliefPNG(g, f.opts)
				if err != nil {
					return err
				}
				return writePNG(cmd, f.out, data)
			})
		},
	}
	cmd.Flags().IntVarP(&f.t, "t", "t", -1, "time index (default latest)")
	f.addImage(cmd)
	f.addColormap(cmd)
	return cmd
}

func newRenderLegendCommand() *cobra.Command {
	f := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "legend",
		Short: "Render a horizontal colorbar",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := render.LegendPNG(f.opts)
			if err != nil {
				return err
			}
			return writePNG(cmd, f.out, data)
		},
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (default stdout)")
	f.addColormap(cmd)
	return cmd
}

func newRenderPreviewCommand() *cobra.Command {
	var (
		envID string
		prior sim.PriorBelief
	)
	f := &renderFlags{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the initial belief an environment would start with",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, fs, err := manifestsOnly()
			if err != nil {
				return err
			}
			env, err := fs.ResolveEnvironment(cmd.Context(), envID)
			if err != nil {
				return err
			}
			g, err := prior.Field(env)
			if err != nil {
				return err
			}
			f.opts.Scale = f.scale
			data, err := render.BeliefPNG(g, f.opts)
			if err != nil {
				return err
			}
			return writePNG(cmd, f.out, data)
		},
	}

	cmd.Flags().StringVar(&envID, "env", "", "environment id")
	cmd.Flags().StringVar(&prior.Prior, "prior", sim.PriorUniform, "belief prior")
	_ = cmd.MarkFlagRequired("env")
	f.addImage(cmd)
	f.addColormap(cmd)
	return cmd
}
