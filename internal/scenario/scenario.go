// Package scenario loads and runs tracking scenarios: a scripted sequence of
// client calls followed by expectations on the hits a collector twin
// received.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one scenario file.
type Scenario struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Reset       bool          `yaml:"reset" json:"reset"`
	Steps       []Step        `yaml:"steps" json:"steps"`
	Expect      []Expectation `yaml:"expect" json:"expect"`
}

// Step is one client call. Exactly one operation field is set.
type Step struct {
	Name string `yaml:"name" json:"name"`

	Navigate       string         `yaml:"navigate" json:"navigate,omitempty"`
	Widget         string         `yaml:"widget" json:"widget,omitempty"`
	Action         string         `yaml:"action" json:"action,omitempty"`
	View           string         `yaml:"view" json:"view,omitempty"`
	DataPoint      string         `yaml:"data_point" json:"data_point,omitempty"`
	Export         string         `yaml:"export" json:"export,omitempty"`
	Consent        *bool          `yaml:"consent" json:"consent,omitempty"`
	UserProperties map[string]any `yaml:"user_properties" json:"user_properties,omitempty"`
	Extra          map[string]any `yaml:"extra" json:"extra,omitempty"`
}

// operations lists which operations the step sets.
func (s Step) operations() []string {
	var ops []string
	if s.Navigate != "" {
		ops = append(ops, "navigate")
	}
	if s.Action != "" {
		ops = append(ops, "action")
	}
	if s.View != "" {
		ops = append(ops, "view")
	}
	if s.DataPoint != "" {
		ops = append(ops, "data_point")
	}
	if s.Export != "" {
		ops = append(ops, "export")
	}
	if s.Consent != nil {
		ops = append(ops, "consent")
	}
	if len(s.UserProperties) > 0 {
		ops = append(ops, "user_properties")
	}
	return ops
}

// Expectation asserts on the hits matching Kind and Target.
type Expectation struct {
	Name   string `yaml:"name" json:"name"`
	Kind   string `yaml:"kind" json:"kind"`
	Target string `yaml:"target" json:"target"`
	// Count, when set, is the exact number of matching hits. Otherwise at
	// least one is required.
	Count *int `yaml:"count" json:"count,omitempty"`
	// Params must all be present, by string form, on at least one match.
	Params map[string]string `yaml:"params" json:"params,omitempty"`
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, st := range s.Steps {
		ops := st.operations()
		if len(ops) != 1 {
			return fmt.Errorf("step %d (%s): exactly one operation required, got %v", i, st.Name, ops)
		}
		needsWidget := ops[0] == "action" || ops[0] == "view" || ops[0] == "data_point" || ops[0] == "export"
		if needsWidget && st.Widget == "" {
			return fmt.Errorf("step %d (%s): widget is required for %s", i, st.Name, ops[0])
		}
	}
	for i, e := range s.Expect {
		if e.Kind == "" {
			return fmt.Errorf("expectation %d (%s): kind is required", i, e.Name)
		}
		if e.Count != nil && *e.Count < 0 {
			return fmt.Errorf("expectation %d (%s): count must not be negative", i, e.Name)
		}
	}
	return nil
}

// LoadScenario parses a YAML or JSON scenario, chosen by file extension.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var s Scenario
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		return nil, fmt.Errorf("unsupported scenario format %q (expected .json, .yaml, or .yml)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadDir loads every scenario file in dir, in name order.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory %s: %w", dir, err)
	}

	var scenarios []*Scenario
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		s, err := LoadScenario(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}
	return scenarios, nil
}
