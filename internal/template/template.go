// Package template loads dashboard provisioning templates.
//
// A template names a configuration, its kind and opaque structure, and the
// channels it should be bound to. Templates are read from a directory
// holding CUE files (one package, templates under the top-level
// "dashboard" struct) and YAML files (a "dashboards" list per file).
// Optional <kind>.schema.json files constrain the structure of that kind.
//
//	dashboard: servers: {
//		kind:        "monitoring"
//		description: "game servers"
//		structure: {title: "Servers", hosts: ["eu-1", "us-1"]}
//		bindings: [{guild: "900", channel: "1001"}]
//	}
//
// The structure is emitted as JSON and never interpreted further.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// Template is one provisioning template.
type Template struct {
	Name        string
	Kind        dashboard.Kind
	Description string
	Structure   dashboard.Structure
	Bindings    []Binding

	// Source is the file the template was read from.
	Source string
}

// Binding places a template in a channel.
type Binding struct {
	Guild   string `yaml:"guild" json:"guild"`
	Channel string `yaml:"channel" json:"channel"`
}

// Result is the outcome of Load.
type Result struct {
	Templates []Template
	FileCount int
	// Schemas is the number of kinds constrained by a schema file.
	Schemas int
}

// Lookup returns the template with the given name.
func (r *Result) Lookup(name string) (Template, bool) {
	for _, t := range r.Templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// Error codes reported by Load.
const (
	ErrCodeNotFound    = "T001" // directory missing
	ErrCodeNoFiles     = "T002" // no CUE or YAML files
	ErrCodeLoadFailed  = "T003" // CUE load or YAML decode failed
	ErrCodeBuildFailed = "T004" // CUE value did not build
	ErrCodeInvalid     = "T005" // template field missing or malformed
	ErrCodeDuplicate   = "T006" // template name defined twice
	ErrCodeSchema      = "T007" // schema invalid or structure violates it
)

// LoadError is a problem with one file or template.
type LoadError struct {
	Code    string
	File    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads every template under dir. All problems are collected; the
// returned Result holds the templates that loaded cleanly, sorted by name.
func Load(dir string) (*Result, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("templates directory not found: %s", dir)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, yamlFiles, err := findFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("scanning %s: %v", dir, err)}}
	}
	if len(cueFiles) == 0 && len(yamlFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE or YAML files found in %s", dir)}}
	}

	result := &Result{FileCount: len(cueFiles) + len(yamlFiles)}
	var errs []error

	if len(cueFiles) > 0 {
		templates, cueErrs := loadCUE(dir)
		result.Templates = append(result.Templates, templates...)
		errs = append(errs, cueErrs...)
	}
	for _, path := range yamlFiles {
		templates, yamlErrs := loadYAML(path)
		result.Templates = append(result.Templates, templates...)
		errs = append(errs, yamlErrs...)
	}

	result.Templates, errs = dedupe(result.Templates, errs)

	schemaFiles, err := findSchemas(dir)
	if err != nil {
		errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("scanning %s: %v", dir, err)})
	}
	schemas, schemaErrs := loadSchemas(schemaFiles)
	errs = append(errs, schemaErrs...)
	result.Schemas = len(schemas)
	result.Templates, errs = applySchemas(result.Templates, schemas, errs)
	sort.Slice(result.Templates, func(i, j int) bool {
		return result.Templates[i].Name < result.Templates[j].Name
	})
	return result, errs
}

// findFiles returns the CUE and YAML files directly in dir, sorted. CUE
// files form one package, so subdirectories are not searched.
func findFiles(dir string) (cueFiles, yamlFiles []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = append(cueFiles, path)
		case ".yaml", ".yml":
			yamlFiles = append(yamlFiles, path)
		}
	}
	return cueFiles, yamlFiles, nil
}

// dedupe drops every template after the first with the same name.
func dedupe(templates []Template, errs []error) ([]Template, []error) {
	seen := make(map[string]string, len(templates))
	out := templates[:0]
	for _, t := range templates {
		if first, ok := seen[t.Name]; ok {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicate,
				File:    t.Source,
				Message: fmt.Sprintf("template %q already defined in %s", t.Name, first),
			})
			continue
		}
		seen[t.Name] = t.Source
		out = append(out, t)
	}
	return out, errs
}

// validate checks the fields every template needs.
func validate(t Template) error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return fmt.Errorf("name is required")
	case t.Kind == "":
		return fmt.Errorf("template %q: kind is required", t.Name)
	case dashboard.ValidChannelID(string(t.Kind)):
		return fmt.Errorf("template %q: kind %q is indistinguishable from a channel id", t.Name, t.Kind)
	}
	for i, b := range t.Bindings {
		if !dashboard.ValidChannelID(b.Channel) {
			return fmt.Errorf("template %q: binding %d: malformed channel id %q", t.Name, i, b.Channel)
		}
	}
	return nil
}
