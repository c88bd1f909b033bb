package eventmap

import (
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// esImportPath is the package whose Base marks a struct as an event.
const esImportPath = "github.com/getpup/eventlog/es"

const (
	directiveType    = "//eventlog:type "
	directivePointer = "//eventlog:pointer"
	directiveSkip    = "//eventlog:skip"
)

// EventInfo represents a discovered domain event struct.
type EventInfo struct {
	// Name is the Go type name
	Name string

	// Type is the tag the event is registered under
	Type string

	// Pointer registers &Name{} instead of Name{}
	Pointer bool

	// File is the source file the struct was found in
	File string
}

// Config configures the code generation.
type Config struct {
	InputDir   string // Directory of the events package
	OutputDir  string // Directory where generated code will be written (default: InputDir)
	OutputFile string // Name of the generated file (default: events_registry.gen.go)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		OutputFile: "events_registry.gen.go",
	}
}

// Generator generates event registration code.
type Generator struct {
	config      Config
	packageName string
	events      []EventInfo
}

// NewGenerator creates a new generator with the given configuration.
func NewGenerator(config *Config) *Generator {
	c := *config
	if c.OutputFile == "" {
		c.OutputFile = DefaultConfig().OutputFile
	}
	if c.OutputDir == "" {
		c.OutputDir = c.InputDir
	}
	return &Generator{
		config: c,
		events: make([]EventInfo, 0),
	}
}

// PackageName returns the package name of the discovered files.
func (g *Generator) PackageName() string {
	return g.packageName
}

// Events returns the discovered events sorted by tag.
func (g *Generator) Events() []EventInfo {
	return g.events
}

// Discover parses the Go files of the input directory and collects every
// exported struct that embeds es.Base. Subdirectories, tests and the
// generated file itself are ignored.
func (g *Generator) Discover() error {
	entries, err := os.ReadDir(g.config.InputDir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", g.config.InputDir, err)
	}

	fset := token.NewFileSet()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") || name == g.config.OutputFile {
			continue
		}

		path := filepath.Join(g.config.InputDir, name)
		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if g.packageName == "" {
			g.packageName = file.Name.Name
		} else if g.packageName != file.Name.Name {
			return fmt.Errorf("%s declares package %s, expected %s", path, file.Name.Name, g.packageName)
		}

		g.collect(file, name)
	}

	sort.Slice(g.events, func(i, j int) bool {
		return g.events[i].Type < g.events[j].Type
	})
	for i := 1; i < len(g.events); i++ {
		if g.events[i].Type == g.events[i-1].Type {
			return fmt.Errorf("event type %q is declared by both %s and %s",
				g.events[i].Type, g.events[i-1].Name, g.events[i].Name)
		}
	}
	return nil
}

func (g *Generator) collect(file *ast.File, fileName string) {
	esName, ok := localName(file)
	if !ok {
		return
	}

	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}

		for _, spec := range genDecl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok || !typeSpec.Name.IsExported() || typeSpec.TypeParams != nil {
				continue
			}
			structType, ok := typeSpec.Type.(*ast.StructType)
			if !ok || !embedsBase(structType, esName) {
				continue
			}

			doc := typeSpec.Doc
			if doc == nil && len(genDecl.Specs) == 1 {
				doc = genDecl.Doc
			}
			event := EventInfo{Name: typeSpec.Name.Name, Type: typeSpec.Name.Name, File: fileName}
			if applyDirectives(&event, doc) {
				g.events = append(g.events, event)
			}
		}
	}
}

// localName returns the name file uses for the es package.
func localName(file *ast.File) (string, bool) {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || path != esImportPath {
			continue
		}
		if imp.Name != nil {
			if imp.Name.Name == "_" || imp.Name.Name == "." {
				return "", false
			}
			return imp.Name.Name, true
		}
		return "es", true
	}
	return "", false
}

func embedsBase(structType *ast.StructType, esName string) bool {
	for _, field := range structType.Fields.List {
		if len(field.Names) != 0 {
			continue
		}
		sel, ok := field.Type.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Base" {
			continue
		}
		if pkg, ok := sel.X.(*ast.Ident); ok && pkg.Name == esName {
			return true
		}
	}
	return false
}

// applyDirectives reports false when the struct is skipped.
func applyDirectives(event *EventInfo, doc *ast.CommentGroup) bool {
	if doc == nil {
		return true
	}
	for _, comment := range doc.List {
		text := strings.TrimSpace(comment.Text)
		switch {
		case text == directiveSkip:
			return false
		case text == directivePointer:
			event.Pointer = true
		case strings.HasPrefix(text, directiveType):
			if tag := strings.TrimSpace(strings.TrimPrefix(text, directiveType)); tag != "" {
				event.Type = tag
			}
		}
	}
	return true
}

// Generate writes the registration code to the output file.
func (g *Generator) Generate() error {
	code, err := g.Source()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(g.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(g.config.OutputDir, g.config.OutputFile)
	if err := os.WriteFile(outputPath, code, 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// Source returns the gofmt-ed registration code.
func (g *Generator) Source() ([]byte, error) {
	if len(g.events) == 0 {
		return nil, fmt.Errorf("no events discovered in %s", g.config.InputDir)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "// Code generated by eventmap-gen. DO NOT EDIT.\n\npackage %s\n\n", g.packageName)
	sb.WriteString("import \"github.com/getpup/eventlog/es/codec\"\n\n")

	sb.WriteString("// RegisterEvents binds the event types of this package to their tags.\n")
	sb.WriteString("func RegisterEvents(registry *codec.Registry) error {\n")
	for _, event := range g.events {
		prototype := event.Name + "{}"
		if event.Pointer {
			prototype = "&" + prototype
		}
		fmt.Fprintf(&sb, "\tif err := registry.Register(%q, %s); err != nil {\n\t\treturn err\n\t}\n", event.Type, prototype)
	}
	sb.WriteString("\treturn nil\n}\n\n")

	sb.WriteString("// EventTypes returns the tags bound by RegisterEvents.\n")
	sb.WriteString("func EventTypes() []string {\n\treturn []string{\n")
	for _, event := range g.events {
		fmt.Fprintf(&sb, "\t\t%q,\n", event.Type)
	}
	sb.WriteString("\t}\n}\n")

	code, err := format.Source([]byte(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to format generated code: %w", err)
	}
	return code, nil
}
