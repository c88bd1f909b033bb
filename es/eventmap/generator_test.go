package eventmap

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func discover(t *testing.T, dir string) *Generator {
	t.Helper()
	gen := NewGenerator(&Config{InputDir: dir, OutputDir: t.TempDir()})
	if err := gen.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	return gen
}

func TestGenerator_Discover(t *testing.T) {
	gen := discover(t, "testdata/events")

	if gen.PackageName() != "scopes" {
		t.Errorf("PackageName() = %q, want scopes", gen.PackageName())
	}

	want := []EventInfo{
		{Name: "AliasAssigned", Type: "AliasAssigned", Pointer: true, File: "scopes.go"},
		{Name: "ParentChanged", Type: "ParentChanged", File: "hierarchy.go"},
		{Name: "ScopeCreated", Type: "ScopeCreated", File: "scopes.go"},
		{Name: "ScopeRenamed", Type: "scope.renamed", File: "scopes.go"},
	}
	if got := gen.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("Events() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestGenerator_Source(t *testing.T) {
	gen := discover(t, "testdata/events")

	code, err := gen.Source()
	if err != nil {
		t.Fatalf("Source() failed: %v", err)
	}
	src := string(code)

	if !strings.HasPrefix(src, "// Code generated by eventmap-gen. DO NOT EDIT.") {
		t.Error("missing generated code header")
	}
	for _, want := range []string{
		"package scopes",
		`registry.Register("AliasAssigned", &AliasAssigned{})`,
		`registry.Register("ScopeCreated", ScopeCreated{})`,
		`registry.Register("scope.renamed", ScopeRenamed{})`,
		`"ParentChanged",`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("generated code does not contain %s:\n%s", want, src)
		}
	}
	for _, unwanted := range []string{"Snapshot", "scopeArchived", "TestOnlyEvent", "Scope{}"} {
		if strings.Contains(src, unwanted) {
			t.Errorf("generated code should not mention %s", unwanted)
		}
	}

	if _, err := parser.ParseFile(token.NewFileSet(), "gen.go", code, 0); err != nil {
		t.Errorf("generated code does not parse: %v", err)
	}
}

func TestGenerator_Generate(t *testing.T) {
	outputDir := t.TempDir()
	gen := NewGenerator(&Config{InputDir: "testdata/events", OutputDir: outputDir})
	if err := gen.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if err := gen.Generate(); err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(outputDir, "events_registry.gen.go"))
	if err != nil {
		t.Fatalf("generated file missing: %v", err)
	}
	if !strings.Contains(string(content), "func RegisterEvents(registry *codec.Registry) error") {
		t.Error("generated file does not declare RegisterEvents")
	}
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestGenerator_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name: "duplicate tag",
			files: map[string]string{
				"a.go": "package events\n\nimport \"github.com/getpup/eventlog/es\"\n\ntype Created struct{ es.Base }\n\n//eventlog:type Created\ntype Made struct{ es.Base }\n",
			},
			want: `event type "Created"`,
		},
		{
			name: "mixed packages",
			files: map[string]string{
				"a.go": "package events\n",
				"b.go": "package other\n",
			},
			want: "declares package",
		},
		{
			name: "syntax error",
			files: map[string]string{
				"a.go": "package events\n\ntype Broken struct {\n",
			},
			want: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewGenerator(&Config{InputDir: writeFiles(t, tt.files)})
			err := gen.Discover()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Discover() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestGenerator_NoEvents(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.go": "package events\n\ntype Plain struct{ Name string }\n",
	})
	gen := NewGenerator(&Config{InputDir: dir})
	if err := gen.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if _, err := gen.Source(); err == nil || !strings.Contains(err.Error(), "no events discovered") {
		t.Errorf("Source() error = %v, want no events discovered", err)
	}
}

func TestGenerator_IgnoresPreviousOutput(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"events.go":              "package events\n\nimport \"github.com/getpup/eventlog/es\"\n\ntype Created struct{ es.Base }\n",
		"events_registry.gen.go": "package events\n\nthis is not go\n",
	})
	gen := NewGenerator(&Config{InputDir: dir})
	if err := gen.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if len(gen.Events()) != 1 {
		t.Errorf("discovered %d events, want 1", len(gen.Events()))
	}
}
