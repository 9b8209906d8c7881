package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// configSchema constrains .cue config files. Durations are written as Go
// duration strings, as in YAML.
const configSchema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" | "0"

#Config: {
	data_dir?: string & !=""
	database?: {
		path?:              string
		max_open_conns?:    int & >=1
		max_idle_conns?:    int & >=0
		conn_max_lifetime?: #Duration
	}
	fields?: {
		tile_size?:         int & >=1 & <=256
		compression_level?: "fastest" | "default" | "better" | "best"
	}
	runs?: {
		default_horizon?:            int & >=1
		default_step_duration?:      #Duration
		default_spread_probability?: number & >=0 & <=1
	}
	manifests?: {
		dir?:   string
		watch?: bool
	}
	policy?: {
		enabled?: bool
		paths?: [...string]
	}
	archive?: {
		endpoint?:   string
		access_key?: string
		secret_key?: string
		region?:     string
		use_ssl?:    bool
		bucket?:     string
	}
	telemetry?: {
		log_level?:        "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:       "console" | "json"
		metrics_enabled?:  bool
		metrics_address?:  string
		tracing_exporter?: "none" | "stdout" | "otlp"
		tracing_endpoint?: string
	}
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
	schemaMu   sync.Mutex
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(configSchema)
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile config schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Config"))
	})
	return schemaCtx, schemaDef, schemaErr
}

// cueToYAML checks a CUE config file against the schema and exports it as YAML.
func cueToYAML(path string, data []byte) ([]byte, error) {
	ctx, def, err := loadSchema()
	if err != nil {
		return nil, err
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	val := ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %s", path, describe(err))
	}
	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %s", path, describe(err))
	}
	out, err := cueyaml.Encode(unified)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", path, err)
	}
	return out, nil
}

func describe(err error) string {
	errs := cueerrors.Errors(err)
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s (line %d)", msg, pos.Line())
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}
