package block

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Storage persists flows, the top-level jobs of a Root.
// Implemented by store.Store.
type Storage interface {
	SaveFlow(ctx context.Context, name string, doc map[string]any) error
	LoadFlows(ctx context.Context) (map[string]map[string]any, error)
	DeleteFlow(ctx context.Context, name string) error
}

// ErrNoStorage is returned by flow persistence calls on a Root without
// storage.
var ErrNoStorage = errors.New("root has no storage")

// AddFlow creates (or replaces) the flow name and loads doc into it.
func (r *Root) AddFlow(name string, doc map[string]any) *Job {
	j := r.CreateJob(name)
	if j == nil {
		return nil
	}
	j.Load(doc)
	r.logger.Info("flow loaded", "flow", name)
	return j
}

// Flow returns the flow name, or nil.
func (r *Root) Flow(name string) *Job {
	p := r.LookupProperty(name)
	if p == nil {
		return nil
	}
	if b, ok := p.Value().(*Block); ok && b.asJob != nil && b.prop == p {
		return b.asJob
	}
	return nil
}

// FlowNames returns the names of every flow, sorted.
func (r *Root) FlowNames() []string {
	var names []string
	for name, child := range r.Children() {
		if child.asJob != nil && name != FieldGlobal {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SaveFlow writes the flow name to storage.
func (r *Root) SaveFlow(ctx context.Context, name string) error {
	if r.storage == nil {
		return ErrNoStorage
	}
	j := r.Flow(name)
	if j == nil {
		return &GraphError{Code: ErrCodeNotFound, Path: name, Message: "flow not found"}
	}
	if err := r.storage.SaveFlow(ctx, name, j.Save()); err != nil {
		return fmt.Errorf("save flow %s: %w", name, err)
	}
	r.logger.Info("flow saved", "flow", name)
	return nil
}

// LoadFlows restores every stored flow.
func (r *Root) LoadFlows(ctx context.Context) error {
	if r.storage == nil {
		return ErrNoStorage
	}
	docs, err := r.storage.LoadFlows(ctx)
	if err != nil {
		return fmt.Errorf("load flows: %w", err)
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.AddFlow(name, docs[name])
	}
	return nil
}

// DeleteFlow destroys the flow and removes it from storage.
func (r *Root) DeleteFlow(ctx context.Context, name string) error {
	if p := r.LookupProperty(name); p != nil {
		p.SetValue(nil)
	}
	if r.storage == nil {
		return nil
	}
	if err := r.storage.DeleteFlow(ctx, name); err != nil {
		return fmt.Errorf("delete flow %s: %w", name, err)
	}
	r.logger.Info("flow deleted", "flow", name)
	return nil
}
