package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a reconciliation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Templates is a template directory loaded before Configurations.
	// Relative paths are resolved against the scenario file's directory.
	Templates string `yaml:"templates,omitempty"`

	// Configurations are stored before the first step.
	Configurations []ConfigurationSpec `yaml:"configurations,omitempty"`

	// Instances are provisioned (without rendering) before the first step.
	Instances []InstanceSpec `yaml:"instances,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ConfigurationSpec is an inline configuration.
type ConfigurationSpec struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description,omitempty"`
	Structure   any    `yaml:"structure,omitempty"`
}

// InstanceSpec is an eagerly provisioned instance.
type InstanceSpec struct {
	Config   string `yaml:"config"`
	Guild    string `yaml:"guild,omitempty"`
	Channel  string `yaml:"channel"`
	Inactive bool   `yaml:"inactive,omitempty"`
}

// Step is one operation against the system or one injected fault.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	Channel   string `yaml:"channel,omitempty"`
	Guild     string `yaml:"guild,omitempty"`
	Config    string `yaml:"config,omitempty"`
	Kind      string `yaml:"kind,omitempty"`
	Key       string `yaml:"key,omitempty"`
	Structure any    `yaml:"structure,omitempty"`

	// Message is the error text for fail_render.
	Message string `yaml:"message,omitempty"`

	// Expect, when set, is checked against the step's outcome.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect is the expected outcome of a step.
type StepExpect struct {
	// Outcome is "ok", an error code (VALIDATION, RENDER, PERSISTENCE,
	// INFRASTRUCTURE), NO_CONTROLLER or ERROR. Empty means "ok".
	Outcome string `yaml:"outcome,omitempty"`

	// Ref is the expected artifact ref after the step.
	Ref string `yaml:"ref,omitempty"`

	// Report holds expected reconcile counters (subset match), keyed by
	// their JSON names.
	Report map[string]int `yaml:"report,omitempty"`
}

// Step operations.
const (
	OpSync           = "sync"
	OpReconcile      = "reconcile"
	OpActivate       = "activate"
	OpRefresh        = "refresh"
	OpDeactivate     = "deactivate"
	OpFailRender     = "fail_render"
	OpEmptyRender    = "empty_render"
	OpHangRender     = "hang_render"
	OpDeleteArtifact = "delete_artifact"
	OpFailPersist    = "fail_persist"
	OpHealPersist    = "heal_persist"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Channel selects the instance or message list (instance,
	// no_instance, messages; optional filter for trace_count).
	Channel string `yaml:"channel,omitempty"`

	// Expect holds expected instance fields: state, artifact_ref,
	// is_active, configuration.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Op is the step op or "render" counted by trace_count.
	Op string `yaml:"op,omitempty"`

	// Ops is the expected step order for trace_order.
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number for messages and trace_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertInstance   = "instance"
	AssertNoInstance = "no_instance"
	AssertMessages   = "messages"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Templates != "" && !filepath.IsAbs(scenario.Templates) {
		scenario.Templates = filepath.Join(filepath.Dir(path), scenario.Templates)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Templates != "" {
		if _, err := os.Stat(s.Templates); os.IsNotExist(err) {
			return fmt.Errorf("templates directory not found: %s", s.Templates)
		}
	}

	for i, c := range s.Configurations {
		if c.Name == "" || c.Kind == "" {
			return fmt.Errorf("configurations[%d]: name and kind are required", i)
		}
	}
	for i, inst := range s.Instances {
		if inst.Config == "" || inst.Channel == "" {
			return fmt.Errorf("instances[%d]: config and channel are required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	switch s.Op {
	case OpSync:
		if s.Channel == "" || s.Config == "" {
			return fmt.Errorf("steps[%d]: channel and config are required for sync", index)
		}
	case OpReconcile, OpFailPersist, OpHealPersist:
	case OpDeactivate:
		if s.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for deactivate", index)
		}
	case OpActivate, OpRefresh, OpFailRender, OpEmptyRender, OpHangRender, OpDeleteArtifact:
		if s.Channel == "" {
			return fmt.Errorf("steps[%d]: channel is required for %s", index, s.Op)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertInstance:
		if a.Channel == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: channel and expect are required for instance", index)
		}
	case AssertNoInstance, AssertMessages:
		if a.Channel == "" {
			return fmt.Errorf("assertions[%d]: channel is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
