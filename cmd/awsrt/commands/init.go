package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awsrt/awsrt/pkg/config"
	"github.com/awsrt/awsrt/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an awsrt workspace",
		Long: `Initialize a workspace: write a config file, create the data and manifest
directories and migrate the run database.`,
		Example: `  # Initialize in the current directory
  awsrt init

  # Initialize with a custom config path
  awsrt init --config /etc/awsrt/awsrt.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := configPath
			if path == "" {
				path = config.DefaultFileName
			}

			cfg := config.Default()
			if _, err := os.Stat(path); err == nil && !force {
				loaded, err := config.Load(path)
				if err != nil {
					return err
				}
				cfg = loaded
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Using existing config: %s\n", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to stat config: %w", err)
			} else {
				cfg.ApplyEnv()
				if err := cfg.Save(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote config: %s\n", path)
			}

			log.Info().Str("config", path).Str("data_dir", cfg.DataDir).Msg("Initializing workspace")

			for _, dir := range []string{cfg.DataDir, cfg.ManifestDir(), filepath.Join(cfg.DataDir, "policies")} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created directory: %s\n", dir)
			}

			store, err := stores.NewSQLiteStore(cfg.StoreConfig())
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if err := store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("store health check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized database: %s\n", cfg.DatabasePath())

			fmt.Fprintln(cmd.OutOrStdout(), "\nWorkspace ready. Next steps:")
			fmt.Fprintln(cmd.OutOrStdout(), "  awsrt env create --height 64 --width 64")
			fmt.Fprintln(cmd.OutOrStdout(), "  awsrt fire create --env <env_id> --ignite 32,32")
			fmt.Fprintln(cmd.OutOrStdout(), "  awsrt run init --env <env_id> --fire <fire_id>")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file with defaults")

	return cmd
}
