package manifests

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/awsrt/awsrt/pkg/engine"
)

const manifestSchema = `
#Grid: {
	H:         int & >0
	W:         int & >0
	cell_size: number & >0
	crs_code:  string & =~"^[A-Z]+:[0-9]+$"
}

#Environment: {
	env_id?:                string
	grid:                   #Grid
	seed:                   int
	terrain_elev_path?:     string | null
	feasibility_mask_path?: string | null
}

#Cell: {
	row: int & >=0
	col: int & >=0
}

#Fire: {
	fire_id?: string
	env_id:   string & =~"^env-"
	ignitions: {
		type:      "point"
		locations: [#Cell, ...#Cell]
		t0:        int & >=0
	}
	model: string & !=""
	seed:  int
}
`

// schema validates manifests with struct tags and the CUE definitions above.
// cue.Context is not safe for concurrent use, hence the mutex.
type schema struct {
	mu       sync.Mutex
	ctx      *cue.Context
	defs     map[string]cue.Value
	validate *validator.Validate
}

func newSchema() (*schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(manifestSchema, cue.Filename("manifests.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	defs := make(map[string]cue.Value)
	for _, name := range []string{"Environment", "Fire"} {
		def := root.LookupPath(cue.MakePath(cue.Def(name)))
		if err := def.Err(); err != nil {
			return nil, fmt.Errorf("schema definition #%s: %w", name, err)
		}
		defs[name] = def
	}

	return &schema{
		ctx:      ctx,
		defs:     defs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// check runs struct-tag validation and then unifies v with the named definition.
func (s *schema) check(def string, v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return engine.NewInvalidInputError(fmt.Sprintf("invalid %s manifest: %v", strings.ToLower(def), err), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.Encode(v)
	if err := data.Err(); err != nil {
		return engine.NewInternalError("failed to encode manifest", err)
	}
	unified := s.defs[def].Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return engine.NewInvalidInputError(
			fmt.Sprintf("%s manifest violates schema: %s", strings.ToLower(def), describe(err)), err)
	}
	return nil
}

func describe(err error) string {
	errs := cueerrors.Errors(err)
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return strings.Join(msgs, "; ")
}
