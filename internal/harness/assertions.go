package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/event"
	"github.com/roach88/blockflow/internal/ir"
	"github.com/roach88/blockflow/internal/store"
)

// Assertion is a check run after the last step.
//
//   - value_equals: the live value at path equals value
//   - saved_equals: in the stored document of flow, the entry at path
//     equals value (path may address a binding, e.g. b.~0)
//   - revision_count: flow has exactly count stored revisions
type Assertion struct {
	Type  string `yaml:"type"`
	Flow  string `yaml:"flow,omitempty"`
	Path  string `yaml:"path,omitempty"`
	Value any    `yaml:"value,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// AssertionContext gives assertions access to the graph and the store.
type AssertionContext struct {
	Ctx   context.Context
	Store *store.Store
	// Lookup reads a live value on the graph goroutine.
	Lookup func(path string) (any, error)
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %v\n", ev.Step, ev.Action, ev.Path, ev.Value)
		}
	}
	return buf.String()
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Type {
	case AssertValueEquals:
		if !ir.ValidPath(a.Path) {
			return fmt.Errorf("assertions[%d]: path is required for value_equals", index)
		}
	case AssertSavedEquals:
		if a.Flow == "" || !ir.ValidPath(a.Path) {
			return fmt.Errorf("assertions[%d]: flow and path are required for saved_equals", index)
		}
	case AssertRevisionCount:
		if a.Flow == "" {
			return fmt.Errorf("assertions[%d]: flow is required for revision_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}

// EvaluateAssertions runs every assertion and returns the failures.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertValueEquals:
			err = assertValueEquals(a, actx)
		case AssertSavedEquals:
			err = assertSavedEquals(a, actx)
		case AssertRevisionCount:
			err = assertRevisionCount(a, actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			if ae, ok := err.(*AssertionError); ok {
				ae.Trace = result.Trace
			}
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func assertValueEquals(a Assertion, actx *AssertionContext) error {
	actual, err := actx.Lookup(a.Path)
	if err != nil {
		return err
	}
	return compare(a.Type, a.Path, a.Value, actual)
}

func assertSavedEquals(a Assertion, actx *AssertionContext) error {
	doc, err := actx.Store.LoadFlow(actx.Ctx, a.Flow)
	if err != nil {
		return fmt.Errorf("load %s: %w", a.Flow, err)
	}
	return compare(a.Type, a.Flow+"."+a.Path, a.Value, lookupDoc(doc, a.Path))
}

func assertRevisionCount(a Assertion, actx *AssertionContext) error {
	history, err := actx.Store.History(actx.Ctx, a.Flow)
	if err != nil {
		return fmt.Errorf("history %s: %w", a.Flow, err)
	}
	if len(history) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s has %d revisions", a.Flow, a.Count),
			Actual:   fmt.Sprintf("%d revisions", len(history)),
		}
	}
	return nil
}

func compare(kind, path string, expected, actual any) error {
	want, err := ir.Normalize(expected)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", path, err)
	}
	if !valuesEqual(actual, want) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s = %v", path, want),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

// lookupDoc walks a dotted path through nested documents.
func lookupDoc(doc map[string]any, path string) any {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// exportValue turns a live value into something comparable with
// decoded YAML: blocks become their saved form, events a marker string.
func exportValue(v any) any {
	switch val := v.(type) {
	case *block.Block:
		return val.Save()
	case *block.Job:
		return val.Save()
	case *event.Event:
		return EventMarker
	case *event.ErrorEvent:
		return ErrorMarker
	}
	if event.IsWait(v) {
		return WaitMarker
	}
	return v
}

// Markers standing in for runtime-only values in expectations.
const (
	EventMarker = "<event>"
	ErrorMarker = "<error>"
	WaitMarker  = "<wait>"
)

// valuesEqual compares values with DeepEqual semantics.
func valuesEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return reflect.DeepEqual(actual, expected)
}
