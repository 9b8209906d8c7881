package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/awsrt/awsrt/pkg/engine"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, v, commit, buildDate string) error {
	version = v
	rootCmd := newRootCommand(v, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error class to a process exit status.
func ExitCode(err error) int {
	switch engine.ClassOf(err) {
	case engine.ErrorClassNotFound:
		return 2
	case engine.ErrorClassInvalidInput:
		return 3
	case engine.ErrorClassShapeMismatch, engine.ErrorClassIntegrityFault:
		return 4
	default:
		return 1
	}
}

func newRootCommand(v, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "awsrt",
		Short: "awsrt - deterministic wildfire spread and belief run engine",
		Long: `awsrt simulates stochastic fire spread on a raster grid and records, for
every time step, the binary fire state and a belief field that estimates
the probability each cell is burning.

Runs are reproducible: the random source of every step is derived from
the run id and step index, so replaying a run yields identical fields.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./awsrt.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newFireCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newMetricsCommand())

	return rootCmd
}
