package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/awsrt/awsrt/pkg/config"
	"github.com/awsrt/awsrt/pkg/fields"
	"github.com/awsrt/awsrt/pkg/manifests"
	"github.com/awsrt/awsrt/pkg/policy"
	"github.com/awsrt/awsrt/pkg/runs"
	"github.com/awsrt/awsrt/pkg/sim"
	"github.com/awsrt/awsrt/pkg/stores"
	"github.com/awsrt/awsrt/pkg/telemetry"
)

// app holds the collaborators a command needs, built from the config file.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	manifests *manifests.FileStore
	codec     *fields.Codec
	policy    *policy.Engine
	ctrl      *runs.Controller
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

// openApp wires the store, manifests, policies and controller.
// Callers must close the returned app.
func openApp(ctx context.Context) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	if a.tel, err = telemetry.NewTelemetry(cfg.TelemetryConfig(version)); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := a.tel.Logger.Zerolog()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if a.store, err = stores.NewSQLiteStore(cfg.StoreConfig()); err != nil {
		return nil, err
	}
	if err := a.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, err
	}
	a.tel.Events.Subscribe(runs.EventRecorder(a.store, a.tel.Logger), nil)

	if a.manifests, err = manifests.NewFileStore(cfg.ManifestDir(), logger); err != nil {
		return nil, err
	}

	level, err := fields.ParseLevel(cfg.Fields.CompressionLevel)
	if err != nil {
		return nil, err
	}
	if a.codec, err = fields.NewCodec(level); err != nil {
		return nil, err
	}

	ctrlCfg := runs.Config{
		Store:     a.store,
		Manifests: a.manifests,
		Belief:    sim.PriorBelief{Prior: sim.PriorUniform},
		Fields:    fields.Options{TileSize: cfg.Fields.TileSize, Codec: a.codec},
		Telemetry: a.tel,
	}
	if cfg.Policy.Enabled {
		if a.policy, err = policy.NewEngine(logger); err != nil {
			return nil, err
		}
		if len(cfg.Policy.Paths) > 0 {
			if err := a.policy.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
				return nil, err
			}
		}
		ctrlCfg.Admission = policy.NewAdmitter(a.policy, a.tel.Events, logger)
	}

	if a.ctrl, err = runs.NewController(ctrlCfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.tel != nil {
		_ = a.tel.Shutdown(ctx)
	}
	if a.codec != nil {
		_ = a.codec.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

// manifestsOnly opens just the manifest store, for commands that never touch runs.
func manifestsOnly() (*config.Config, *manifests.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := telemetry.NewLogger(cfg.TelemetryConfig(version).Logging)
	if err != nil {
		return nil, nil, err
	}
	fs, err := manifests.NewFileStore(cfg.ManifestDir(), logger.Zerolog())
	if err != nil {
		return nil, nil, err
	}
	return cfg, fs, nil
}

// output prints v as JSON with --json, otherwise calls text.
func output(cmd *cobra.Command, v interface{}, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
