package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/blockflow/internal/ir"
)

// Scenario is a scripted run against a set of flows: load them, apply
// steps, check values, and optionally compare the saved result with a
// golden file.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Flows maps flow names to their source.
	Flows map[string]FlowSource `yaml:"flows"`

	// Steps run in order. Each step performs at most one action and then
	// checks its expect values.
	Steps []Step `yaml:"steps"`

	// Assertions run once, after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Golden compares the final snapshot with testdata/golden/<name>.golden.
	Golden bool `yaml:"golden,omitempty"`
}

// FlowSource is either a CUE file defining flow.<name>, or an inline
// persisted document.
type FlowSource struct {
	// File is a CUE file path, relative to the scenario file.
	File string `yaml:"file,omitempty"`

	// Doc is the persisted form of the flow.
	Doc map[string]any `yaml:"doc,omitempty"`
}

// Step is one scenario action. Paths are dotted and start at the flow
// name, e.g. calc.a.0.
type Step struct {
	Set    *WriteStep `yaml:"set,omitempty"`
	Update *WriteStep `yaml:"update,omitempty"`
	Bind   *BindStep  `yaml:"bind,omitempty"`

	// Call fires #call on the block at this path.
	Call string `yaml:"call,omitempty"`

	// Wait blocks until a value appears, for async functions.
	Wait *WaitStep `yaml:"wait,omitempty"`

	// Expect maps paths to the values they must hold after the step.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// WriteStep writes Value to the property at Path.
type WriteStep struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// BindStep binds the property at Path to To, which is relative to the
// property's block.
type BindStep struct {
	Path string `yaml:"path"`
	To   string `yaml:"to"`
}

// WaitStep waits until Path holds Value, or any value when Value is unset.
type WaitStep struct {
	Path    string        `yaml:"path"`
	Value   any           `yaml:"value,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultWaitTimeout bounds a wait step without an explicit timeout.
const DefaultWaitTimeout = 2 * time.Second

// action returns the step's action name, "" for a check-only step.
func (s Step) action() string {
	switch {
	case s.Set != nil:
		return ActionSet
	case s.Update != nil:
		return ActionUpdate
	case s.Bind != nil:
		return ActionBind
	case s.Call != "":
		return ActionCall
	case s.Wait != nil:
		return ActionWait
	}
	return ""
}

func (s Step) actionCount() int {
	n := 0
	for _, set := range []bool{s.Set != nil, s.Update != nil, s.Bind != nil, s.Call != "", s.Wait != nil} {
		if set {
			n++
		}
	}
	return n
}

// Step actions, as recorded in the trace.
const (
	ActionSet    = "set"
	ActionUpdate = "update"
	ActionBind   = "bind"
	ActionCall   = "call"
	ActionWait   = "wait"
	ActionExpect = "expect"
)

// Assertion types.
const (
	AssertValueEquals   = "value_equals"
	AssertSavedEquals   = "saved_equals"
	AssertRevisionCount = "revision_count"
)

// LoadScenario reads and parses a scenario YAML file. Flow file paths
// are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving flow file paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Reject unknown fields so typos like "expects:" fail loudly
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for name, src := range scenario.Flows {
		if src.File != "" && !filepath.IsAbs(src.File) && basePath != "" {
			src.File = filepath.Join(basePath, src.File)
			scenario.Flows[name] = src
		}
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
	if len(s.Flows) == 0 {
		return fmt.Errorf("flows map is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for name, src := range s.Flows {
		switch {
		case src.File == "" && src.Doc == nil:
			return fmt.Errorf("flows.%s: file or doc is required", name)
		case src.File != "" && src.Doc != nil:
			return fmt.Errorf("flows.%s: file and doc are exclusive", name)
		case src.File != "":
			if _, err := os.Stat(src.File); os.IsNotExist(err) {
				return fmt.Errorf("flows.%s: file not found: %s", name, src.File)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch n := step.actionCount(); {
	case n > 1:
		return fmt.Errorf("steps[%d]: only one action per step", i)
	case n == 0 && len(step.Expect) == 0:
		return fmt.Errorf("steps[%d]: action or expect is required", i)
	}

	var paths []string
	switch {
	case step.Set != nil:
		paths = append(paths, step.Set.Path)
	case step.Update != nil:
		paths = append(paths, step.Update.Path)
	case step.Bind != nil:
		if !ir.ValidPath(step.Bind.To) {
			return fmt.Errorf("steps[%d].bind: invalid target %q", i, step.Bind.To)
		}
		paths = append(paths, step.Bind.Path)
	case step.Call != "":
		paths = append(paths, step.Call)
	case step.Wait != nil:
		if step.Wait.Timeout < 0 {
			return fmt.Errorf("steps[%d].wait: negative timeout", i)
		}
		paths = append(paths, step.Wait.Path)
	}
	for p := range step.Expect {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if !ir.ValidPath(p) {
			return fmt.Errorf("steps[%d]: invalid path %q", i, p)
		}
	}
	return nil
}
