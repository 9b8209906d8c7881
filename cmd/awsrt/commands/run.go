package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/awsrt/awsrt/pkg/archive"
	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/runs"
	"github.com/awsrt/awsrt/pkg/stores"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Initialize, step and inspect runs",
	}
	cmd.AddCommand(
		newRunInitCommand(),
		newRunStepCommand(),
		newRunAdvanceCommand(),
		newRunMetaCommand(),
		newRunLatestCommand(),
		newRunListCommand(),
		newRunVerifyCommand(),
		newRunEventsCommand(),
		newRunExportCommand(),
	)
	return cmd
}

func newRunInitCommand() *cobra.Command {
	var (
		envID, fireID, name string
		dt                  time.Duration
		horizon             int
		q                   float64
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a run from an environment and a fire",
		Example: `  awsrt run init --env env-1a2b3c4d5e-f00baa --fire fire-9f8e7d6c5b-0a0b0c --horizon 48 --q 0.25`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				req := runs.NewInitRequest(envID, fireID)
				req.Name = name
				req.StepSeconds = int64(a.cfg.Runs.DefaultStepDuration / time.Second)
				req.Horizon = a.cfg.Runs.DefaultHorizon
				req.SpreadProbability = a.cfg.Runs.DefaultSpreadProbability
				if cmd.Flags().Changed("dt") {
					req.StepSeconds = int64(dt / time.Second)
				}
				if cmd.Flags().Changed("horizon") {
					req.Horizon = horizon
				}
				if cmd.Flags().Changed("q") {
					req.SpreadProbability = q
				}

				res, err := a.ctrl.Init(ctx, req)
				if err != nil {
					return err
				}
				return output(cmd, res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s\t%dx%d\thorizon=%d\tphase=%s\n",
						res.Config.RunID, res.Meta.Height, res.Meta.Width, res.Meta.Horizon, res.Meta.Phase)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVar(&envID, "env", "", "environment id")
	cmd.Flags().StringVar(&fireID, "fire", "", "fire id")
	cmd.Flags().StringVar(&name, "name", "run", "run name")
	cmd.Flags().DurationVar(&dt, "dt", engine.DefaultStepDuration, "simulated time per step")
	cmd.Flags().IntVar(&horizon, "horizon", engine.DefaultHorizon, "number of time slices including t=0")
	cmd.Flags().Float64Var(&q, "q", engine.DefaultSpreadProbability, "per-neighbor spread probability")
	_ = cmd.MarkFlagRequired("env")
	_ = cmd.MarkFlagRequired("fire")

	return cmd
}

func printStep(cmd *cobra.Command, res engine.StepResult) error {
	return output(cmd, res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "t=%d done=%t\n", res.T, res.Done)
		return err
	})
}

func newRunStepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "step <run_id>",
		Short: "Advance a run by one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.ctrl.Step(ctx, args[0])
				if err != nil {
					return err
				}
				return printStep(cmd, res)
			})
		},
	}
}

func newRunAdvanceCommand() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "advance <run_id>",
		Short: "Advance a run by up to n steps, stopping at the horizon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.ctrl.Advance(ctx, args[0], n)
				if err != nil {
					return err
				}
				return printStep(cmd, res)
			})
		},
	}

	cmd.Flags().IntVarP(&n, "steps", "n", 1, "maximum number of steps")
	return cmd
}

func newRunMetaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "meta <run_id>",
		Short: "Show the stored shape and phase of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				meta, err := a.ctrl.Meta(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, meta, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "run_id:  %s\nshape:   %d x %d x %d\nhorizon: %d\nphase:   %s\n",
						meta.RunID, meta.T, meta.Height, meta.Width, meta.Horizon, meta.Phase)
					return err
				})
			})
		},
	}
}

func newRunLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <run_id>",
		Short: "Print the newest committed time index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := a.ctrl.Latest(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, map[string]interface{}{"run_id": args[0], "t": t}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, t)
					return err
				})
			})
		},
	}
}

func newRunListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				cfgs, err := a.ctrl.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				return output(cmd, cfgs, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "RUN ID\tNAME\tENV ID\tFIRE ID\tGRID\tHORIZON\tQ\tCREATED")
					for _, c := range cfgs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dx%d\t%d\t%g\t%s\n",
							c.RunID, c.Name, c.EnvID, c.FireID, c.Height, c.Width, c.Horizon,
							c.SpreadProbability, c.CreatedAt.Format(time.RFC3339))
					}
					return tw.Flush()
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	return cmd
}

func newRunVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <run_id>",
		Short: "Replay every stored transition and compare it to the stored fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.ctrl.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				if err := output(cmd, report, func(w io.Writer) error {
					if report.OK() {
						_, err := fmt.Fprintf(w, "✓ %d transitions reproduced\n", report.Checked)
						return err
					}
					_, err := fmt.Fprintf(w, "✗ %s diverges at t=%d after %d matching transitions\n",
						report.Series, report.Mismatch, report.Checked)
					return err
				}); err != nil {
					return err
				}
				if !report.OK() {
					return engine.NewIntegrityFaultError(fmt.Sprintf("run %s does not replay", args[0]), nil).
						WithResource(args[0]).
						WithDetail("t", report.Mismatch)
				}
				return nil
			})
		},
	}
}

func newRunEventsCommand() *cobra.Command {
	var (
		limit int
		level string
	)

	cmd := &cobra.Command{
		Use:   "events <run_id>",
		Short: "Show the recorded lifecycle events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				runID := args[0]
				var lvl *stores.EventLevel
				if level != "" {
					l := stores.EventLevel(level)
					lvl = &l
				}
				events, err := a.store.GetEvents(ctx, &runID, lvl, limit, 0)
				if err != nil {
					return err
				}
				return output(cmd, events, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "TIME\tTYPE\tLEVEL\tMESSAGE")
					for _, e := range events {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.Level, e.Message)
					}
					return tw.Flush()
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events")
	cmd.Flags().StringVar(&level, "level", "", "only show events of this level")
	return cmd
}

func newRunExportCommand() *cobra.Command {
	var ensureBucket bool

	cmd := &cobra.Command{
		Use:   "export <run_id>",
		Short: "Export a run to the configured S3-compatible bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				store, err := archive.NewMinioStore(a.cfg.ArchiveStoreConfig())
				if err != nil {
					return engine.NewInvalidInputError("archive is not configured", err)
				}
				if ensureBucket {
					if err := store.EnsureBucket(ctx); err != nil {
						return err
					}
				}
				report, err := archive.NewExporter(a.ctrl, store, a.tel.Logger.Zerolog()).Export(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd, report, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "✓ exported %d objects (%d bytes) to %s/%s\n",
						report.Objects, report.Bytes, a.cfg.Archive.Bucket, report.Prefix)
					return err
				})
			})
		},
	}

	cmd.Flags().BoolVar(&ensureBucket, "create-bucket", false, "create the bucket if it does not exist")
	return cmd
}
