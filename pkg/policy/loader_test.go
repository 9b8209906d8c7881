package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writePolicyFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func regoPackage(pkg string) string {
	return "package " + pkg + "\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"
}

func loadOne(t *testing.T, path string) Policy {
	t.Helper()
	loaded, err := newTestLoader().Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(loaded))
	}
	return loaded[0]
}

func TestLoadRegoMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignitions.rego")
	writePolicyFile(t, path, `# METADATA
# title: max-ignitions
# description: Caps the number of ignition points.
# custom:
#   severity: error
#   tags: [fire, limits]
package awsrt.admission.max_ignitions

deny contains msg if {
	input.fire.ignitions > 100
	msg := "too many ignitions"
}
`)

	p := loadOne(t, path)
	if p.Name != "max-ignitions" {
		t.Errorf("Name = %q, want max-ignitions", p.Name)
	}
	if p.Description != "Caps the number of ignition points." {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Severity = %s, want error", p.Severity)
	}
	if strings.Join(p.Tags, ",") != "fire,limits" {
		t.Errorf("Tags = %v", p.Tags)
	}
	if p.Source != path || !p.Enabled {
		t.Errorf("Source = %q, Enabled = %t", p.Source, p.Enabled)
	}
}

func TestLoadRegoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignition-count.rego")
	src := "# Rejects fires with too many ignition points\n" + regoPackage("awsrt.admission.ignition_count")
	writePolicyFile(t, path, src)

	p := loadOne(t, path)
	if p.Name != "ignition-count" {
		t.Errorf("Name = %q, want ignition-count", p.Name)
	}
	if p.Rego != src {
		t.Error("Rego content doesn't match")
	}
	if p.Description != "Rejects fires with too many ignition points" {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Severity = %s, want warning", p.Severity)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test-policy.json")
	data, err := json.Marshal(Policy{
		Name:        "test-json-policy",
		Description: "A test policy",
		Rego:        regoPackage("awsrt.admission.json"),
		Severity:    SeverityError,
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writePolicyFile(t, path, string(data))

	p := loadOne(t, path)
	if p.Name != "test-json-policy" || p.Severity != SeverityError || p.Source != path {
		t.Errorf("Unexpected policy %+v", p)
	}
}

func TestLoadRejectsInvalidPolicies(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"outside namespace", "a.rego", regoPackage("local.x"), "outside awsrt"},
		{"builtin namespace", "b.rego", regoPackage("awsrt.policies.grid_size"), "reserved"},
		{"no deny rule", "c.rego", "package awsrt.admission.c\n\nallow := true\n", "no deny rule"},
		{"syntax error", "d.rego", "package awsrt.admission.d\n\ndeny contains x if {", "parse"},
		{"bad severity", "e.rego", "# METADATA\n# custom:\n#   severity: fatal\n" + regoPackage("awsrt.admission.e"), "severity"},
		{"json without name", "f.json", `{"rego": "package awsrt.admission.f"}`, "no name"},
		{"json without rego", "g.json", `{"name": "g"}`, "no rego"},
		{"invalid json", "h.json", "{", "JSON"},
		{"unsupported type", "i.txt", "not a policy", "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writePolicyFile(t, path, tt.content)
			_, err := newTestLoader().Load(context.Background(), []string{path})
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "subdir")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}
	writePolicyFile(t, filepath.Join(dir, "p1.rego"), regoPackage("awsrt.admission.p1"))
	writePolicyFile(t, filepath.Join(dir, "p2.rego"), regoPackage("awsrt.admission.p2"))
	writePolicyFile(t, filepath.Join(sub, "p3.rego"), regoPackage("awsrt.admission.p3"))
	writePolicyFile(t, filepath.Join(dir, "README.md"), "# Test")

	loader := newTestLoader()
	loaded, err := loader.Load(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	names := make([]string, len(loaded))
	for i, p := range loaded {
		names[i] = p.Name
	}
	if strings.Join(names, ",") != "p1,p2,p3" {
		t.Errorf("Loaded %v, want p1,p2,p3 in path order", names)
	}

	writePolicyFile(t, filepath.Join(sub, "broken.json"), "{")
	if _, err := loader.Load(context.Background(), []string{dir}); err == nil {
		t.Error("Expected a broken file to fail the directory load")
	}
}

func TestLoadMixedPaths(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "dir1")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	writePolicyFile(t, filepath.Join(sub, "p1.rego"), regoPackage("awsrt.admission.p1"))
	file := filepath.Join(dir, "p2.rego")
	writePolicyFile(t, file, regoPackage("awsrt.admission.p2"))

	loaded, err := newTestLoader().Load(context.Background(), []string{sub, file})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}
}

func TestLoadDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		writePolicyFile(t, filepath.Join(dir, sub, "limit.rego"), regoPackage("awsrt.admission."+sub))
	}

	_, err := newTestLoader().Load(context.Background(), []string{dir})
	if err == nil || !strings.Contains(err.Error(), "declared by both") {
		t.Errorf("Load = %v, want duplicate name error", err)
	}
}

func TestLoadNonExistentPath(t *testing.T) {
	if _, err := newTestLoader().Load(context.Background(), []string{"/nonexistent/path"}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestLeadingComment(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"single line", "# This is a test policy\npackage test", "This is a test policy"},
		{"multi line", "# This is a test policy\n# that spans multiple lines\npackage test", "This is a test policy that spans multiple lines"},
		{"no comments", "package test\ndeny contains msg if { false; msg := \"x\" }", ""},
		{"empty comment lines", "# First line\n#\n# Second line\npackage test", "First line Second line"},
		{"blank lines first", "\n\n# Late\npackage test", "Late"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingComment(tt.content); got != tt.expected {
				t.Errorf("leadingComment = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	writePolicyFile(t, filepath.Join(dir, "single-ignition.rego"), `package awsrt.admission.single_ignition

deny contains violation if {
	input.fire.ignitions < 2
	violation := {"message": "at least two ignitions required", "severity": "error"}
}
`)

	ctx := context.Background()
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	result, err := eng.Evaluate(ctx, NewInput(testRun(8, 8, 24, 0.3)))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected file policy to deny")
	}
	if result.Violations[0].Policy != "single-ignition" {
		t.Errorf("Unexpected violation %+v", result.Violations[0])
	}

	// A failing load leaves the loaded set untouched.
	writePolicyFile(t, filepath.Join(dir, "stray.rego"), regoPackage("local.stray"))
	if err := eng.LoadPolicies(ctx, []string{dir}); err == nil {
		t.Fatal("Expected LoadPolicies to fail")
	}
	if _, err := eng.GetPolicy("single-ignition"); err != nil {
		t.Errorf("policy dropped after failed load: %v", err)
	}
}

func waitForPolicy(t *testing.T, eng *Engine, name string, present bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := eng.GetPolicy(name); (err == nil) == present {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("policy %s present=%t not reached", name, present)
}

func TestEngineWatch(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	watched := filepath.Join(dir, "watched.rego")
	writePolicyFile(t, watched, regoPackage("awsrt.admission.watched"))
	waitForPolicy(t, eng, "watched", true)

	// A broken edit is ignored until it is fixed.
	writePolicyFile(t, filepath.Join(dir, "broken.rego"), "package awsrt.admission.broken\n\ndeny contains x if {")
	time.Sleep(2 * reloadDelay)
	if _, err := eng.GetPolicy("watched"); err != nil {
		t.Fatalf("watched policy dropped by a broken edit: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "broken.rego")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := os.Remove(watched); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	waitForPolicy(t, eng, "watched", false)
}
