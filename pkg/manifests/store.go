package manifests

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/awsrt/awsrt/pkg/engine"
)

// Id prefixes.
const (
	EnvPrefix  = "env-"
	FirePrefix = "fire-"
)

var idPattern = regexp.MustCompile(`^(env|fire)-[A-Za-z0-9_-]+$`)

// extensions are tried in order when resolving an id. New manifests are
// always written as JSON.
var extensions = []string{".json", ".yaml", ".yml"}

// EnvironmentSpec is the content of a new environment.
type EnvironmentSpec struct {
	Grid                engine.GridSpec `json:"grid" yaml:"grid"`
	Seed                int64           `json:"seed" yaml:"seed"`
	TerrainElevPath     *string         `json:"terrain_elev_path" yaml:"terrain_elev_path"`
	FeasibilityMaskPath *string         `json:"feasibility_mask_path" yaml:"feasibility_mask_path"`
}

// FireSpec is the content of a new fire.
type FireSpec struct {
	EnvID     string              `json:"env_id" yaml:"env_id"`
	Ignitions engine.IgnitionSpec `json:"ignitions" yaml:"ignitions"`
	Model     string              `json:"model" yaml:"model"`
	Seed      int64               `json:"seed" yaml:"seed"`
}

// EnvironmentEntry is one listing result. Env is nil when Err is set.
type EnvironmentEntry struct {
	ID  string
	Env *engine.Environment
	Err error
}

// FireEntry is one listing result. Fire is nil when Err is set.
type FireEntry struct {
	ID   string
	Fire *engine.FireManifest
	Err  error
}

// FileStore keeps environment and fire manifests as files in one directory.
// Manifests are immutable once written, so resolved values are cached until
// the watcher sees their file change.
type FileStore struct {
	dir    string
	schema *schema
	logger zerolog.Logger

	mu    sync.RWMutex
	envs  map[string]*engine.Environment
	fires map[string]*engine.FireManifest
}

// NewFileStore opens (and creates) a manifest directory.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("manifest directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	sch, err := newSchema()
	if err != nil {
		return nil, err
	}
	return &FileStore{
		dir:    dir,
		schema: sch,
		logger: logger.With().Str("component", "manifests").Logger(),
		envs:   make(map[string]*engine.Environment),
		fires:  make(map[string]*engine.FireManifest),
	}, nil
}

// Dir returns the manifest directory.
func (s *FileStore) Dir() string { return s.dir }

// SaveEnvironment validates spec, assigns a content-derived id and writes it.
func (s *FileStore) SaveEnvironment(ctx context.Context, spec EnvironmentSpec) (*engine.Environment, error) {
	if spec.Grid.CRS == "" {
		spec.Grid.CRS = engine.DefaultCRS
	}
	env := &engine.Environment{
		Grid:                spec.Grid,
		Seed:                spec.Seed,
		TerrainElevPath:     spec.TerrainElevPath,
		FeasibilityMaskPath: spec.FeasibilityMaskPath,
	}
	if err := env.Grid.Validate(); err != nil {
		return nil, err
	}
	if err := s.schema.check("Environment", env); err != nil {
		return nil, err
	}

	id, err := newID(EnvPrefix, spec)
	if err != nil {
		return nil, err
	}
	env.ID = id
	if err := s.write(ctx, id, env); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.envs[id] = env
	s.mu.Unlock()

	s.logger.Info().Str("env_id", id).Int("H", env.Grid.Height).Int("W", env.Grid.Width).Msg("environment saved")
	return env, nil
}

// SaveFire validates spec against its environment and writes it.
func (s *FileStore) SaveFire(ctx context.Context, spec FireSpec) (*engine.FireManifest, error) {
	env, err := s.ResolveEnvironment(ctx, spec.EnvID)
	if err != nil {
		return nil, err
	}

	if spec.Ignitions.Type == "" {
		spec.Ignitions.Type = engine.IgnitionPoint
	}
	if spec.Model == "" {
		spec.Model = engine.DefaultSpreadModel
	}
	if err := spec.Ignitions.Validate(env.Grid); err != nil {
		return nil, err
	}

	fire := &engine.FireManifest{
		EnvID:     env.ID,
		Ignitions: spec.Ignitions,
		Model:     spec.Model,
		Seed:      spec.Seed,
	}
	if err := s.schema.check("Fire", fire); err != nil {
		return nil, err
	}

	id, err := newID(FirePrefix, spec)
	if err != nil {
		return nil, err
	}
	fire.ID = id
	if err := s.write(ctx, id, fire); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.fires[id] = fire
	s.mu.Unlock()

	s.logger.Info().Str("fire_id", id).Str("env_id", env.ID).Int("ignitions", len(fire.Ignitions.Locations)).Msg("fire saved")
	return fire, nil
}

// ResolveEnvironment implements engine.ManifestResolver.
func (s *FileStore) ResolveEnvironment(ctx context.Context, envID string) (*engine.Environment, error) {
	s.mu.RLock()
	env, ok := s.envs[envID]
	s.mu.RUnlock()
	if ok {
		return env, nil
	}

	env = &engine.Environment{}
	if err := s.load(ctx, envID, EnvPrefix, env); err != nil {
		return nil, err
	}
	if env.ID != envID {
		return nil, engine.NewIntegrityFaultError(fmt.Sprintf("manifest file for %s declares id %q", envID, env.ID), nil).
			WithResource(envID)
	}
	if env.Grid.CRS == "" {
		env.Grid.CRS = engine.DefaultCRS
	}
	if err := s.schema.check("Environment", env); err != nil {
		return nil, withResource(err, envID)
	}

	s.mu.Lock()
	s.envs[envID] = env
	s.mu.Unlock()
	return env, nil
}

// ResolveFire implements engine.ManifestResolver.
func (s *FileStore) ResolveFire(ctx context.Context, fireID string) (*engine.FireManifest, error) {
	s.mu.RLock()
	fire, ok := s.fires[fireID]
	s.mu.RUnlock()
	if ok {
		return fire, nil
	}

	fire = &engine.FireManifest{}
	if err := s.load(ctx, fireID, FirePrefix, fire); err != nil {
		return nil, err
	}
	if fire.ID != fireID {
		return nil, engine.NewIntegrityFaultError(fmt.Sprintf("manifest file for %s declares id %q", fireID, fire.ID), nil).
			WithResource(fireID)
	}
	if fire.Ignitions.Type == "" {
		fire.Ignitions.Type = engine.IgnitionPoint
	}
	if fire.Model == "" {
		fire.Model = engine.DefaultSpreadModel
	}
	if err := s.schema.check("Fire", fire); err != nil {
		return nil, withResource(err, fireID)
	}

	s.mu.Lock()
	s.fires[fireID] = fire
	s.mu.Unlock()
	return fire, nil
}

// ListEnvironments resolves every environment file, sorted by id.
// A manifest that fails to load is reported in its entry, not dropped.
func (s *FileStore) ListEnvironments(ctx context.Context) ([]EnvironmentEntry, error) {
	ids, err := s.ids(EnvPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]EnvironmentEntry, 0, len(ids))
	for _, id := range ids {
		env, err := s.ResolveEnvironment(ctx, id)
		out = append(out, EnvironmentEntry{ID: id, Env: env, Err: err})
	}
	return out, nil
}

// ListFires resolves every fire file, sorted by id.
func (s *FileStore) ListFires(ctx context.Context) ([]FireEntry, error) {
	ids, err := s.ids(FirePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]FireEntry, 0, len(ids))
	for _, id := range ids {
		fire, err := s.ResolveFire(ctx, id)
		out = append(out, FireEntry{ID: id, Fire: fire, Err: err})
	}
	return out, nil
}

// evict drops a cached manifest so the next resolve rereads its file.
func (s *FileStore) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.envs, id)
	delete(s.fires, id)
}

func (s *FileStore) ids(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := idFromFilename(e.Name())
		if ok && strings.HasPrefix(id, prefix) {
			seen[id] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) load(ctx context.Context, id, prefix string, into interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(id, prefix) || !idPattern.MatchString(id) {
		return engine.NewNotFoundError(fmt.Sprintf("no %smanifest with id %q", prefix, id), nil).WithResource(id)
	}

	for _, ext := range extensions {
		path := filepath.Join(s.dir, id+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return engine.NewInternalError("failed to read manifest", err).WithResource(id)
		}

		if ext == ".json" {
			err = json.Unmarshal(data, into)
		} else {
			err = yaml.Unmarshal(data, into)
		}
		if err != nil {
			return engine.NewInvalidInputError(fmt.Sprintf("malformed manifest %s: %v", filepath.Base(path), err), err).
				WithResource(id)
		}
		return nil
	}

	kind := strings.TrimSuffix(prefix, "-")
	if kind == "env" {
		kind = "environment"
	}
	return engine.NewNotFoundError(fmt.Sprintf("%s %s not found", kind, id), nil).WithResource(id)
}

func (s *FileStore) write(ctx context.Context, id string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return engine.NewInternalError("failed to encode manifest", err).WithResource(id)
	}

	path := filepath.Join(s.dir, id+".json")
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+id+"-*")
	if err != nil {
		return engine.NewInternalError("failed to write manifest", err).WithResource(id)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return engine.NewInternalError("failed to write manifest", err).WithResource(id)
	}
	if err := tmp.Close(); err != nil {
		return engine.NewInternalError("failed to write manifest", err).WithResource(id)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return engine.NewInternalError("failed to write manifest", err).WithResource(id)
	}
	return nil
}

// newID derives prefix + sha1(canonical JSON)[:10] + "-" + 6 random hex chars.
func newID(prefix string, payload interface{}) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", engine.NewInternalError("failed to hash manifest", err)
	}
	sum := sha1.Sum(canonical)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + hex.EncodeToString(sum[:])[:10] + "-" + random[:6], nil
}

// canonicalJSON re-encodes v through a generic map so keys are sorted.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func idFromFilename(name string) (string, bool) {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			id := strings.TrimSuffix(name, ext)
			return id, idPattern.MatchString(id)
		}
	}
	return "", false
}

func withResource(err error, id string) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Resource == "" {
		ee.WithResource(id)
	}
	return err
}

var _ engine.ManifestResolver = (*FileStore)(nil)
