package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/compiler"
	"github.com/roach88/blockflow/internal/engine"
	"github.com/roach88/blockflow/internal/event"
	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/functions/builtin"
	"github.com/roach88/blockflow/internal/ir"
	"github.com/roach88/blockflow/internal/store"
	"github.com/roach88/blockflow/internal/testutil"
)

// waitPoll is how often a wait step re-reads its path.
const waitPoll = 5 * time.Millisecond

// Harness drives one scenario. Steps run on the engine goroutine through
// Engine.Do, so the graph sees them exactly like transport commands.
type Harness struct {
	ctx    context.Context
	store  *store.Store
	engine *engine.Engine
	root   *block.Root
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential block
// ids, so results are reproducible.
//
// Execution flow:
//  1. Open an in-memory store and a Root with the builtin functions
//  2. Compile and validate the scenario's flows, load them through the engine
//  3. Run each step, then check its expect values
//  4. Save every flow and evaluate the assertions
//  5. Snapshot the stored flows into the result
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := functions.NewRegistry()
	builtin.Register(reg)

	seeds, err := loadFlows(scenario, reg)
	if err != nil {
		return nil, err
	}

	root := block.NewRoot(
		block.WithIDGenerator(testutil.NewSequentialIDs("b")),
		block.WithRegistry(reg),
		block.WithStorage(st),
		block.WithLogger(logger),
	)
	defer root.Close()

	// autosave stays on for the shutdown save; the tick never fires
	eng := engine.New(root, engine.WithLogger(logger), engine.WithTickInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Load(ctx, seeds); err != nil {
		cancel()
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	h := &Harness{ctx: ctx, store: st, engine: eng, root: root}
	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(i, step, result)
	}

	var saveErr error
	if err := eng.Do(ctx, func() { saveErr = eng.SaveAll(ctx) }); err != nil {
		return nil, err
	}
	if saveErr != nil {
		return nil, fmt.Errorf("failed to save flows: %w", saveErr)
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Lookup: h.lookup}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	flows, err := st.LoadFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored flows: %w", err)
	}
	result.Flows = flows
	return result, nil
}

// executeStep performs the step's action and checks its expect values.
// Failures are recorded on result; later steps still run.
func (h *Harness) executeStep(i int, step Step, result *Result) {
	action := step.action()
	var err error
	switch action {
	case ActionSet, ActionUpdate:
		w := step.Set
		if w == nil {
			w = step.Update
		}
		var v any
		v, err = ir.Normalize(w.Value)
		if err == nil {
			err = h.do(func() error {
				p := h.root.QueryProperty(w.Path, true)
				if p == nil {
					return fmt.Errorf("%s does not resolve", w.Path)
				}
				if action == ActionSet {
					p.SetValue(v)
				} else {
					p.UpdateValue(v)
				}
				return nil
			})
		}
		result.addTrace(i, action, w.Path, v)

	case ActionBind:
		err = h.do(func() error {
			p := h.root.QueryProperty(step.Bind.Path, true)
			if p == nil {
				return fmt.Errorf("%s does not resolve", step.Bind.Path)
			}
			p.SetBinding(step.Bind.To)
			return nil
		})
		result.addTrace(i, action, step.Bind.Path, step.Bind.To)

	case ActionCall:
		err = h.do(func() error {
			b, ok := h.root.QueryValue(step.Call).(*block.Block)
			if !ok {
				return fmt.Errorf("%s is not a block", step.Call)
			}
			b.UpdateValue(block.FieldCall, event.New(h.root.Clock()))
			return nil
		})
		result.addTrace(i, action, step.Call, nil)

	case ActionWait:
		var want any
		want, err = ir.Normalize(step.Wait.Value)
		if err == nil {
			err = h.wait(step.Wait.Path, want, step.Wait.Timeout)
		}
		result.addTrace(i, action, step.Wait.Path, want)

	default:
		result.addTrace(i, ActionExpect, "", nil)
	}
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d].%s: %v", i, action, err))
	}

	paths := make([]string, 0, len(step.Expect))
	for p := range step.Expect {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		actual, err := h.lookup(p)
		if err == nil {
			err = compare("expect", p, step.Expect[p], actual)
		}
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
	}
}

// wait polls path until it holds want, or any settled value when want
// is nil.
func (h *Harness) wait(path string, want any, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		v, err := h.lookup(path)
		if err != nil {
			return err
		}
		if want == nil && v != nil && v != WaitMarker {
			return nil
		}
		if want != nil && valuesEqual(v, want) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for %s (last %v)", timeout, path, v)
		}
		time.Sleep(waitPoll)
	}
}

// lookup reads the exported value at path on the engine goroutine.
func (h *Harness) lookup(path string) (any, error) {
	var v any
	err := h.do(func() error {
		v = exportValue(h.root.QueryValue(path))
		return nil
	})
	return v, err
}

func (h *Harness) do(fn func() error) error {
	var err error
	if doErr := h.engine.Do(h.ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

// loadFlows compiles the scenario's flow sources into documents and
// validates them against reg.
func loadFlows(s *Scenario, reg *functions.Registry) (map[string]map[string]any, error) {
	flows := make(map[string]map[string]any, len(s.Flows))
	compiled := make(map[string]map[string]map[string]any)

	for name, src := range s.Flows {
		var doc map[string]any
		if src.File != "" {
			byName, ok := compiled[src.File]
			if !ok {
				v, err := compiler.BuildInstance(filepath.Dir(src.File), filepath.Base(src.File))
				if err != nil {
					return nil, fmt.Errorf("flow %s: %w", name, err)
				}
				var errs []error
				byName, errs = compiler.CompileFlows(v)
				if len(errs) > 0 {
					return nil, fmt.Errorf("%s: %w", src.File, errors.Join(errs...))
				}
				compiled[src.File] = byName
			}
			if doc, ok = byName[name]; !ok {
				return nil, fmt.Errorf("flow %s is not defined in %s", name, src.File)
			}
		} else {
			n, err := ir.Normalize(src.Doc)
			if err != nil {
				return nil, fmt.Errorf("flow %s: %w", name, err)
			}
			doc = n.(map[string]any)
		}

		if errs := compiler.Validate(name, doc, reg); len(errs) > 0 {
			return nil, fmt.Errorf("flow %s: %w", name, errs[0])
		}
		flows[name] = doc
	}
	return flows, nil
}
