package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
)

const (
	// PackageRoot is the Rego namespace every admission policy lives under.
	PackageRoot = "data.awsrt"

	// builtinPackageRoot is reserved for the built-in policies.
	builtinPackageRoot = PackageRoot + ".policies"

	reloadDelay = 500 * time.Millisecond
)

// Loader reads admission policies from .rego and .json files.
//
// A .rego file may carry a package-scoped METADATA block: title names the
// policy (default: the file name), description documents it and
// custom.severity sets the default severity of its violations.
//
//	# METADATA
//	# title: min-cell-size
//	# description: Rejects grids with cells under 10 m.
//	# custom:
//	#   severity: error
//	package awsrt.admission.min_cell_size
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// Load reads every policy file under paths. Directories are walked
// recursively. Any unreadable or invalid file fails the whole load, as do
// two files declaring the same policy name.
func (l *Loader) Load(ctx context.Context, paths []string) ([]Policy, error) {
	files, err := policyFiles(paths)
	if err != nil {
		return nil, err
	}

	var (
		policies []Policy
		errs     []error
		sources  = make(map[string]string, len(files))
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := l.loadFile(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := sources[p.Name]; dup {
			errs = append(errs, fmt.Errorf("policy %s is declared by both %s and %s", p.Name, prev, file))
			continue
		}
		sources[p.Name] = file
		policies = append(policies, *p)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	l.logger.Info().
		Int("policies", len(policies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")
	return policies, nil
}

// policyFiles expands paths into a sorted list of .rego and .json files.
// Explicit file paths are kept whatever their extension.
func policyFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPolicyFile(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRego(path, string(data))
	case ".json":
		p, err = parseJSON(path, data)
	default:
		err = fmt.Errorf("unsupported policy file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Debug().
		Str("path", path).
		Str("policy", p.Name).
		Str("severity", string(p.Severity)).
		Msg("Policy loaded from file")
	return p, nil
}

// parseRego builds a policy from a module's source and its annotations.
func parseRego(path, src string) (*Policy, error) {
	module, err := parseAdmissionModule(path, src)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     src,
		Severity: SeverityWarning,
		Enabled:  true,
		Source:   path,
	}
	for _, a := range module.Annotations {
		if a.Scope != "package" {
			continue
		}
		if a.Title != "" {
			p.Name = a.Title
		}
		p.Description = a.Description
		if sev, ok := a.Custom["severity"]; ok {
			s, err := parseSeverity(sev)
			if err != nil {
				return nil, err
			}
			p.Severity = s
		}
		if tags, ok := a.Custom["tags"].([]interface{}); ok {
			for _, t := range tags {
				p.Tags = append(p.Tags, fmt.Sprint(t))
			}
		}
	}
	if p.Description == "" {
		p.Description = leadingComment(src)
	}
	return p, nil
}

// parseJSON reads a policy definition whose rego field holds the module.
func parseJSON(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if p.Name == "" {
		return nil, errors.New("policy has no name")
	}
	if p.Rego == "" {
		return nil, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	if _, err := parseAdmissionModule(path, p.Rego); err != nil {
		return nil, err
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if _, err := parseSeverity(string(p.Severity)); err != nil {
		return nil, err
	}
	p.Source = path
	return &p, nil
}

// parseAdmissionModule parses src and checks it can act as an admission
// policy: a package under PackageRoot, outside the built-in namespace,
// that defines a deny rule.
func parseAdmissionModule(path, src string) (*ast.Module, error) {
	module, err := ast.ParseModuleWithOpts(path, src, ast.ParserOptions{
		ProcessAnnotation: true,
		RegoVersion:       ast.RegoV1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	pkg := module.Package.Path.String()
	if !strings.HasPrefix(pkg, PackageRoot+".") {
		return nil, fmt.Errorf("package %s is outside %s", strings.TrimPrefix(pkg, "data."), strings.TrimPrefix(PackageRoot, "data."))
	}
	if pkg == builtinPackageRoot || strings.HasPrefix(pkg, builtinPackageRoot+".") {
		return nil, fmt.Errorf("package %s is reserved for built-in policies", strings.TrimPrefix(pkg, "data."))
	}
	for _, r := range module.Rules {
		if ref := r.Head.Ref(); len(ref) == 1 && ref.String() == "deny" {
			return module, nil
		}
	}
	return nil, fmt.Errorf("package %s defines no deny rule", strings.TrimPrefix(pkg, "data."))
}

func parseSeverity(v interface{}) (Severity, error) {
	s, _ := v.(string)
	switch sev := Severity(s); sev {
	case SeverityInfo, SeverityWarning, SeverityError:
		return sev, nil
	}
	return "", fmt.Errorf("invalid severity %v", v)
}

// leadingComment joins the comment lines above the package clause.
func leadingComment(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}
		if c := strings.TrimSpace(strings.TrimPrefix(trimmed, "#")); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// Watch calls reload with a freshly loaded policy set whenever a policy file
// under paths changes. Bursts of events are coalesced. A load that fails is
// logged and reload is not called. The watch stops when ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Single files are watched through their directory so editors that
	// replace files by rename keep triggering reloads.
	files := make(map[string]bool)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to stat policy path: %w", err)
		}
		if !info.IsDir() {
			files[filepath.Clean(path)] = true
			err = watcher.Add(filepath.Dir(path))
		} else {
			err = addTree(watcher, path)
		}
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	relevant := func(name string) bool {
		return files[filepath.Clean(name)] || isPolicyFile(name)
	}
	go l.processEvents(ctx, watcher, relevant, func() {
		policies, err := l.Load(ctx, paths)
		if err != nil {
			l.logger.Error().Err(err).Msg("Policy reload failed, keeping current policies")
			return
		}
		if err := reload(policies); err != nil {
			l.logger.Error().Err(err).Msg("Failed to apply reloaded policies")
		}
	})

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, relevant func(string) bool, reload func()) {
	defer func() { _ = watcher.Close() }()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if event.Op == fsnotify.Chmod || !relevant(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}
