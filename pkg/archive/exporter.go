package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
)

// Source reads a run's committed data.
// *runs.Controller satisfies it.
type Source interface {
	Config(ctx context.Context, runID string) (*engine.RunConfig, error)
	Meta(ctx context.Context, runID string) (engine.RunMeta, error)
	ReadEncoded(ctx context.Context, runID, series string, t int) ([]byte, error)
}

// Manifest is written as meta.json next to the slices.
type Manifest struct {
	engine.RunMeta
	Series map[string]SeriesEntry `json:"series"`
}

// SeriesEntry describes one exported series.
type SeriesEntry struct {
	DType string `json:"dtype"`
	Codec string `json:"codec"`
	Order string `json:"order"`
}

// Report summarizes a finished export.
type Report struct {
	RunID   string `json:"run_id"`
	Prefix  string `json:"prefix"`
	Objects int    `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

// Exporter copies runs into an object store.
type Exporter struct {
	source Source
	store  ObjectStore
	logger zerolog.Logger
}

// NewExporter creates an exporter.
func NewExporter(source Source, store ObjectStore, logger zerolog.Logger) *Exporter {
	return &Exporter{
		source: source,
		store:  store,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Prefix returns the key prefix of a run's objects.
func Prefix(runID string) string {
	return path.Join("runs", runID)
}

// SliceKey returns the object key of one slice.
func SliceKey(runID, series string, t int) string {
	return path.Join(Prefix(runID), series, fmt.Sprintf("%06d.zst", t))
}

// Export uploads config.json, every slice of both series and finally meta.json.
// The slice count is fixed when the export starts.
func (e *Exporter) Export(ctx context.Context, runID string) (*Report, error) {
	cfg, err := e.source.Config(ctx, runID)
	if err != nil {
		return nil, err
	}
	meta, err := e.source.Meta(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: runID, Prefix: Prefix(runID)}
	put := func(key string, data []byte, contentType string) error {
		if err := putBytes(ctx, e.store, key, data, contentType); err != nil {
			return engine.NewInternalError("archive upload failed", err).
				WithResource(runID).
				WithOperation("export").
				WithDetail("key", key)
		}
		report.Objects++
		report.Bytes += int64(len(data))
		return nil
	}

	cfgJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run config: %w", err)
	}
	if err := put(path.Join(report.Prefix, "config.json"), cfgJSON, "application/json"); err != nil {
		return nil, err
	}

	for _, series := range []string{fields.StateSeries, fields.BeliefSeries} {
		for t := 0; t < meta.T; t++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := e.source.ReadEncoded(ctx, runID, series, t)
			if err != nil {
				return nil, err
			}
			if err := put(SliceKey(runID, series, t), data, "application/zstd"); err != nil {
				return nil, err
			}
		}
	}

	manifest := Manifest{
		RunMeta: meta,
		Series: map[string]SeriesEntry{
			fields.StateSeries:  {DType: "u1", Codec: fields.CodecName, Order: "row-major"},
			fields.BeliefSeries: {DType: "f4", Codec: fields.CodecName, Order: "row-major"},
		},
	}
	metaJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run meta: %w", err)
	}
	if err := put(path.Join(report.Prefix, "meta.json"), metaJSON, "application/json"); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("run_id", runID).
		Int("objects", report.Objects).
		Int64("bytes", report.Bytes).
		Msg("Run exported")
	return report, nil
}
