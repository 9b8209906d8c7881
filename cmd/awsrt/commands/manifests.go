package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/manifests"
)

func newEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environment manifests",
	}
	cmd.AddCommand(newEnvCreateCommand(), newEnvListCommand(), newEnvShowCommand())
	return cmd
}

func newEnvCreateCommand() *cobra.Command {
	var (
		file string
		spec manifests.EnvironmentSpec
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an environment",
		Example: `  awsrt env create --height 128 --width 96 --cell-size 30
  awsrt env create --file env.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if err := readSpec(file, &spec); err != nil {
					return err
				}
			}
			_, fs, err := manifestsOnly()
			if err != nil {
				return err
			}
			env, err := fs.SaveEnvironment(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return output(cmd, env, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, env.ID)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the environment spec from a YAML or JSON file")
	cmd.Flags().IntVar(&spec.Grid.Height, "height", 0, "grid rows")
	cmd.Flags().IntVar(&spec.Grid.Width, "width", 0, "grid columns")
	cmd.Flags().Float64Var(&spec.Grid.CellSize, "cell-size", 30, "cell edge in meters")
	cmd.Flags().StringVar(&spec.Grid.CRS, "crs", engine.DefaultCRS, "coordinate reference system code")
	cmd.Flags().Int64Var(&spec.Seed, "seed", 0, "environment seed")

	return cmd
}

func newEnvListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, fs, err := manifestsOnly()
			if err != nil {
				return err
			}
			entries, err := fs.ListEnvironments(cmd.Context())
			if err != nil {
				return err
			}

			type row struct {
				ID    string              `json:"env_id"`
				Env   *engine.Environment `json:"environment,omitempty"`
				Error string              `json:"error,omitempty"`
			}
			rows := make([]row, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, row{ID: e.ID, Env: e.Env, Error: errorText(e.Err)})
			}

			return output(cmd, rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENV ID\tGRID\tCELL SIZE\tCRS")
				for _, r := range rows {
					if r.Env == nil {
						fmt.Fprintf(tw, "%s\t<error: %s>\t\t\n", r.ID, r.Error)
						continue
					}
					g := r.Env.Grid
					fmt.Fprintf(tw, "%s\t%dx%d\t%g\t%s\n", r.ID, g.Height, g.Width, g.CellSize, g.CRS)
				}
				return tw.Flush()
			})
		},
	}
}

func newEnvShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <env_id>",
		Short: "Show an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, fs, err := manifestsOnly()
			if err != nil {
				return err
			}
			env, err := fs.ResolveEnvironment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(cmd, env, func(w io.Writer) error {
				return yaml.NewEncoder(w).Encode(env)
			})
		},
	}
}

func newFireCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fire",
		Short: "Manage fire manifests",
	}
	cmd.AddCommand(newFireCreateCommand(), newFireListCommand(), newFireShowCommand())
	return cmd
}

func newFireCreateCommand() *cobra.Command {
	var (
		file    string
		ignites []string
		spec    manifests.FireSpec
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a fire in an environment",
		Example: `  awsrt fire create --env env-1a2b3c4d5e-f00baa --ignite 10,12 --ignite 10,13
  awsrt fire create --file fire.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if err := readSpec(file, &spec); err != nil {
					return err
				}
			}
			for _, s := range ignites {
				c, err := parseCell(s)
				if err != nil {
					return err
				}
				spec.Ignitions.Locations = append(spec.Ignitions.Locations, c)
			}

			_, fs, err := manifestsOnly()
			if err != nil {
				return err
			}
			fire, err := fs.SaveFire(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return output(cmd, fire, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, fire.ID)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the fire spec from a YAML or JSON file")
	cmd.Flags().StringVar(&spec.EnvID, "env", "", "environment id")
	cmd.Flags().StringArrayVar(&ignites, "ignite", nil, "ignition cell as row,col (repeatable)")
	cmd.Flags().StringVar(&spec.Model, "model", engine.DefaultSpreadModel, "spread model identifier")
	cmd.Flags().Int64Var(&spec.Seed, "seed", 0, "fire seed")
	cmd.Flags().IntVar(&spec.Ignitions.T0, "t0", 0, "recorded ignition time index")

	return cmd
}

func newFireListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List fires",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, fs, err := manifestsOnly()
			if err != nil {
				return err
			}
			entries, err := fs.ListFires(cmd.Context())
			if err != nil {
				return err
			}

			type row struct {
				ID    string               `json:"fire_id"`
				Fire  *engine.FireManifest `json:"fire,omitempty"`
				Error string               `json:"error,omitempty"`
			}
			rows := make([]row, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, row{ID: e.ID, Fire: e.Fire, Error: errorText(e.Err)})
			}

			return output(cmd, rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FIRE ID\tENV ID\tMODEL\tIGNITIONS")
				for _, r := range rows {
					if r.Fire == nil {
						fmt.Fprintf(tw, "%s\t<error: %s>\t\t\n", r.ID, r.Error)
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.ID, r.Fire.EnvID, r.Fire.Model, len(r.Fire.Ignitions.Locations))
				}
				return tw.Flush()
			})
		},
	}
}

func newFireShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <fire_id>",
		Short: "Show a fire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, fs, err := manifestsOnly()
			if err != nil {
				return err
			}
			fire, err := fs.ResolveFire(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(cmd, fire, func(w io.Writer) error {
				return yaml.NewEncoder(w).Encode(fire)
			})
		},
	}
}

// readSpec decodes a YAML or JSON manifest spec. JSON is valid YAML.
func readSpec(path string, into interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return engine.NewInvalidInputError(fmt.Sprintf("failed to parse %s", path), err)
	}
	return nil
}

func parseCell(s string) (engine.Cell, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return engine.Cell{}, engine.NewInvalidInputError(fmt.Sprintf("ignition %q must be row,col", s), nil)
	}
	row, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return engine.Cell{}, engine.NewInvalidInputError(fmt.Sprintf("invalid ignition row in %q", s), err)
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return engine.Cell{}, engine.NewInvalidInputError(fmt.Sprintf("invalid ignition column in %q", s), err)
	}
	return engine.Cell{Row: row, Col: col}, nil
}
