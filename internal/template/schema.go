package template

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// SchemaSuffix names the JSON Schema files that constrain the structure of
// one kind: monitoring.schema.json applies to every "monitoring" template.
const SchemaSuffix = ".schema.json"

// schemaSet maps a kind to its compiled schema.
type schemaSet map[dashboard.Kind]*jsonschema.Schema

// findSchemas returns the schema files directly in dir, sorted.
func findSchemas(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+SchemaSuffix))
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// loadSchemas compiles every schema file. A schema that fails to compile is
// reported and its kind left unconstrained.
func loadSchemas(paths []string) (schemaSet, []error) {
	set := schemaSet{}
	var errs []error
	compiler := jsonschema.NewCompiler()

	for _, path := range paths {
		kind := dashboard.Kind(strings.TrimSuffix(filepath.Base(path), SchemaSuffix))
		sch, err := compileSchema(compiler, path)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeSchema, File: path, Message: err.Error()})
			continue
		}
		set[kind] = sch
	}
	return set, errs
}

func compileSchema(compiler *jsonschema.Compiler, path string) (*jsonschema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	url := "file://" + filepath.ToSlash(abs)
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// check validates t's structure against the schema of its kind. A missing
// structure is checked as an empty object.
func (s schemaSet) check(t Template) error {
	sch, ok := s[t.Kind]
	if !ok {
		return nil
	}
	structure := t.Structure
	if len(structure) == 0 {
		structure = dashboard.Structure("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(structure))
	if err != nil {
		return fmt.Errorf("template %q: structure: %w", t.Name, err)
	}
	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("template %q: structure does not match %s schema: %s", t.Name, t.Kind, oneLine(verr.Error()))
		}
		return fmt.Errorf("template %q: %w", t.Name, err)
	}
	return nil
}

func oneLine(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "; ")
}

// applySchemas drops every template whose structure violates its schema.
func applySchemas(templates []Template, set schemaSet, errs []error) ([]Template, []error) {
	if len(set) == 0 {
		return templates, errs
	}
	out := templates[:0]
	for _, t := range templates {
		if err := set.check(t); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeSchema, File: t.Source, Message: err.Error()})
			continue
		}
		out = append(out, t)
	}
	return out, errs
}
