package block

import (
	"strings"

	"github.com/roach88/blockflow/internal/reactive"
)

// Binding forwards the value found at a dotted path, re-resolving as the
// blocks along the path change.
//
// "a.b.c" is the field c of whatever "a.b" resolves to: a Block (c is
// then its property) or a plain map (c is a key). The parent path gets its
// own shared Binding, so a chain of bindings mirrors the path.
//
// There is exactly one Binding per (block, path). It lives while something
// listens to it.
type Binding struct {
	block  *Block
	path   string
	field  string
	parent *Binding
	prop   *Property

	disp      *reactive.Dispatcher[any]
	destroyed bool
}

type bindingParentListener struct{ b *Binding }

func (l bindingParentListener) OnSourceChange(*reactive.Dispatcher[any]) {}
func (l bindingParentListener) OnChange(v any)                           { l.b.resolve(v) }

type bindingSourceListener struct{ b *Binding }

func (l bindingSourceListener) OnSourceChange(*reactive.Dispatcher[any]) {}
func (l bindingSourceListener) OnChange(v any)                           { l.b.disp.Update(v) }

func newBinding(b *Block, path string) *Binding {
	binding := &Binding{
		block: b,
		path:  path,
		disp:  reactive.NewDispatcher[any](nil),
	}
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		binding.field = path
		binding.prop = b.GetProperty(path)
		binding.prop.Listen(bindingSourceListener{binding})
		return binding
	}
	binding.field = path[idx+1:]
	binding.parent = b.createBinding(path[:idx])
	binding.parent.Listen(bindingParentListener{binding})
	return binding
}

// Path returns the bound path.
func (b *Binding) Path() string { return b.path }

// Value returns the resolved value.
func (b *Binding) Value() any { return b.disp.Value() }

// Source returns the property the binding currently reads from, or nil
// when the path ends in a plain map or does not resolve.
func (b *Binding) Source() *Property { return b.prop }

// Listen attaches l.
func (b *Binding) Listen(l reactive.Listener[any]) {
	b.disp.Listen(l)
}

// Listeners returns the number of attached listeners.
func (b *Binding) Listeners() int { return b.disp.Len() }

// Unlisten detaches l. The binding is released with its last listener.
func (b *Binding) Unlisten(l reactive.Listener[any]) {
	b.disp.Unlisten(l)
	if b.disp.Len() == 0 {
		b.release()
	}
}

func (b *Binding) resolve(v any) {
	if b.destroyed {
		return
	}
	switch target := v.(type) {
	case *Block:
		if b.prop != nil && b.prop.block == target && !b.prop.destroyed {
			return
		}
		b.detachSource()
		if target.destroyed {
			b.disp.Update(nil)
			return
		}
		b.prop = target.GetProperty(b.field)
		b.prop.Listen(bindingSourceListener{b})
	case map[string]any:
		b.detachSource()
		b.disp.Update(target[b.field])
	default:
		b.detachSource()
		b.disp.Update(nil)
	}
}

func (b *Binding) detachSource() {
	if b.prop == nil {
		return
	}
	b.prop.Unlisten(bindingSourceListener{b})
	b.prop = nil
}

func (b *Binding) release() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.detachSource()
	if b.parent != nil {
		b.parent.Unlisten(bindingParentListener{b})
		b.parent = nil
	}
	if b.block.bindings[b.path] == b {
		delete(b.block.bindings, b.path)
	}
}

// Track attaches l to the shared binding for path, relative to b. l follows
// the path as the blocks along it are replaced. Returns nil when path is
// invalid or b is destroyed.
func (b *Block) Track(path string, l reactive.Listener[any]) *Binding {
	if b.destroyed {
		b.root.violate(&GraphError{Code: ErrCodeDestroyed, Path: b.id, Message: "access to destroyed block"})
		return nil
	}
	binding := b.createBinding(path)
	if binding == nil {
		return nil
	}
	binding.Listen(l)
	return binding
}
