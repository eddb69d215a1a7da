package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/blockflow/internal/ir"
)

// Snapshot is what a golden file holds: the steps that ran and every
// flow as stored afterwards.
type Snapshot struct {
	Scenario string
	Trace    []TraceEvent
	Flows    map[string]map[string]any
}

// toCanonicalMap converts a Snapshot to plain values for canonical JSON.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":   float64(ev.Step),
			"action": ev.Action,
		}
		if ev.Path != "" {
			m["path"] = ev.Path
		}
		if ev.Value != nil {
			m["value"] = ev.Value
		}
		trace[i] = m
	}
	flows := make(map[string]any, len(s.Flows))
	for name, doc := range s.Flows {
		flows[name] = doc
	}
	return map[string]any{
		"scenario": s.Scenario,
		"trace":    trace,
		"flows":    flows,
	}
}

// Marshal returns the snapshot as canonical JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden runs scenario and compares its snapshot with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{Scenario: name, Trace: result.Trace, Flows: result.Flows}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
