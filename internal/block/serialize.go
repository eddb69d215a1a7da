package block

import (
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/blockflow/internal/ir"
)

// Save returns the block in the persisted format: saved values by name,
// binding paths under "~name", owned child blocks as nested maps. The map
// always carries #is so it is recognisable as a block.
func (b *Block) Save() map[string]any {
	out := make(map[string]any)
	if b.destroyed {
		return out
	}
	for name, p := range b.props {
		if p.kind.IsReference() || p.kind == KindWaiting {
			continue
		}
		if p.bindingPath != "" {
			out[BindingPrefix+name] = p.bindingPath
			continue
		}
		switch v := p.saved.(type) {
		case nil:
		case *Block:
			if v.prop == p && !v.destroyed {
				out[name] = v.Save()
			}
		default:
			out[name] = v
		}
	}
	if _, ok := out[FieldIs]; !ok {
		out[FieldIs] = ""
	}
	return out
}

// IsBlockDoc reports whether a persisted value describes a child block.
func IsBlockDoc(v any) bool { return ir.IsBlockDoc(v) }

// Load applies a persisted map on top of the current state. Function
// instantiation waits until every field is loaded.
func (b *Block) Load(data map[string]any) {
	if b.destroyed {
		b.root.violate(&GraphError{Code: ErrCodeDestroyed, Path: b.id, Message: "load into destroyed block"})
		return
	}
	b.bulk(func() {
		for _, k := range sortedKeys(data) {
			b.loadField(k, data[k], false)
		}
	})
}

// LiveUpdate applies data as a diff: fields missing from data are cleared,
// unchanged fields and child blocks keep their runtime state.
func (b *Block) LiveUpdate(data map[string]any) {
	if b.destroyed {
		b.root.violate(&GraphError{Code: ErrCodeDestroyed, Path: b.id, Message: "update of destroyed block"})
		return
	}
	b.bulk(func() {
		for _, name := range b.Names() {
			p := b.props[name]
			if p.saved == nil && p.bindingPath == "" {
				continue
			}
			if _, ok := data[name]; ok {
				continue
			}
			if _, ok := data[BindingPrefix+name]; ok {
				continue
			}
			p.Clear()
		}
		for _, k := range sortedKeys(data) {
			b.loadField(k, data[k], true)
		}
	})
}

func (b *Block) bulk(fn func()) {
	outer := b.loading
	b.loading = true
	fn()
	b.loading = outer
	if !outer && b.deferredFn && !b.destroyed {
		b.loadFunction()
	}
}

func (b *Block) loadField(key string, v any, live bool) {
	if name, ok := strings.CutPrefix(key, BindingPrefix); ok {
		if ClassifyName(name).IsReference() {
			return
		}
		path, _ := v.(string)
		b.GetProperty(name).SetBinding(path)
		return
	}
	if ClassifyName(key).IsReference() || ClassifyName(key) == KindWaiting {
		return
	}
	p := b.GetProperty(key)
	if m, ok := v.(map[string]any); ok && IsBlockDoc(m) {
		if live {
			if child, ok := p.Value().(*Block); ok && child.prop == p && p.bindingPath == "" {
				child.LiveUpdate(m)
				return
			}
		}
		if child := b.CreateBlock(key); child != nil {
			child.Load(m)
		}
		return
	}
	if live && p.bindingPath == "" && reflect.DeepEqual(p.saved, v) {
		return
	}
	p.SetValue(v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
