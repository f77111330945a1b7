package template

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// loadCUE builds the CUE package in dir and extracts dashboard.*.
func loadCUE(dir string) ([]Template, []error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, File: dir, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, File: dir, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, File: dir, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	root := value.LookupPath(cue.ParsePath("dashboard"))
	if !root.Exists() {
		return nil, nil
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("iterating dashboards: %v", err), Pos: root.Pos()}}
	}

	var templates []Template
	var errs []error
	for iter.Next() {
		t, err := compileTemplate(iter.Label(), iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		templates = append(templates, t)
	}
	return templates, errs
}

// compileTemplate converts one dashboard.<name> value.
func compileTemplate(name string, v cue.Value) (Template, error) {
	invalid := func(msg string, pos cue.Value) error {
		return &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("dashboard.%s: %s", name, msg), Pos: pos.Pos()}
	}

	t := Template{Name: name, Source: v.Pos().Filename()}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return Template{}, invalid("kind is required", v)
	}
	kind, err := kindVal.String()
	if err != nil {
		return Template{}, invalid(fmt.Sprintf("kind: %v", err), kindVal)
	}
	t.Kind = dashboard.Kind(kind)

	if descVal := v.LookupPath(cue.ParsePath("description")); descVal.Exists() {
		if t.Description, err = descVal.String(); err != nil {
			return Template{}, invalid(fmt.Sprintf("description: %v", err), descVal)
		}
	}

	structVal := v.LookupPath(cue.ParsePath("structure"))
	if structVal.Exists() {
		data, err := structVal.MarshalJSON()
		if err != nil {
			return Template{}, invalid(fmt.Sprintf("structure: %v", err), structVal)
		}
		t.Structure = dashboard.Structure(data)
	}

	if bindVal := v.LookupPath(cue.ParsePath("bindings")); bindVal.Exists() {
		list, err := bindVal.List()
		if err != nil {
			return Template{}, invalid(fmt.Sprintf("bindings: %v", err), bindVal)
		}
		for list.Next() {
			var b Binding
			if err := list.Value().Decode(&b); err != nil {
				return Template{}, invalid(fmt.Sprintf("binding: %v", err), list.Value())
			}
			t.Bindings = append(t.Bindings, b)
		}
	}

	if err := validate(t); err != nil {
		return Template{}, invalid(err.Error(), v)
	}
	return t, nil
}
