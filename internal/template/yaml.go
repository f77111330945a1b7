package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

type yamlFile struct {
	Dashboards []yamlTemplate `yaml:"dashboards"`
}

type yamlTemplate struct {
	Name        string    `yaml:"name"`
	Kind        string    `yaml:"kind"`
	Description string    `yaml:"description"`
	Structure   any       `yaml:"structure"`
	Bindings    []Binding `yaml:"bindings"`
}

// loadYAML decodes every document in path.
func loadYAML(path string) ([]Template, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, File: path, Message: err.Error()}}
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var templates []Template
	var errs []error
	for {
		var doc yamlFile
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, File: path, Message: err.Error()})
			break
		}
		for _, yt := range doc.Dashboards {
			t, err := yt.template(path)
			if err != nil {
				errs = append(errs, &LoadError{Code: ErrCodeInvalid, File: path, Message: err.Error()})
				continue
			}
			templates = append(templates, t)
		}
	}
	return templates, errs
}

func (yt yamlTemplate) template(source string) (Template, error) {
	t := Template{
		Name:        yt.Name,
		Kind:        dashboard.Kind(yt.Kind),
		Description: yt.Description,
		Bindings:    yt.Bindings,
		Source:      source,
	}
	if yt.Structure != nil {
		data, err := json.Marshal(yt.Structure)
		if err != nil {
			return Template{}, fmt.Errorf("template %q: structure: %w", yt.Name, err)
		}
		t.Structure = dashboard.Structure(data)
	}
	if err := validate(t); err != nil {
		return Template{}, err
	}
	return t, nil
}
