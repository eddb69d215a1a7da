package block

import (
	"github.com/roach88/blockflow/internal/reactive"
)

// BindingSubscriber is told when a property's binding path or listener set
// changes.
type BindingSubscriber interface {
	OnBindingChange(p *Property)
}

// Property is a named reactive cell owned by a Block.
//
// It keeps two values: the live value everyone sees, and the saved value
// written on Save. They differ while a binding is active (saved is nil) or
// after UpdateValue (transient, not persisted).
//
// A property bound to a path never has a saved value.
type Property struct {
	block *Block
	name  string
	kind  Kind

	disp        *reactive.Dispatcher[any]
	saved       any
	bindingPath string
	source      *Binding

	// outputting marks a write coming from the block's own function
	outputting bool
	destroyed  bool

	subscribers []BindingSubscriber
}

// sourceListener receives values from the binding a property is bound to.
type sourceListener struct {
	p *Property
}

func (l sourceListener) OnSourceChange(*reactive.Dispatcher[any]) {}

func (l sourceListener) OnChange(v any) {
	l.p.onChange(v, false)
}

func newProperty(b *Block, name string, kind Kind) *Property {
	return &Property{
		block: b,
		name:  name,
		kind:  kind,
		disp:  reactive.NewDispatcher[any](nil),
	}
}

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// Kind returns the property kind.
func (p *Property) Kind() Kind { return p.kind }

// Block returns the owning block. nil for the void property.
func (p *Property) Block() *Block { return p.block }

// Value returns the live value.
func (p *Property) Value() any { return p.disp.Value() }

// SavedValue returns the value persisted on Save.
func (p *Property) SavedValue() any { return p.saved }

// BindingPath returns the binding path, or "" when unbound.
func (p *Property) BindingPath() string { return p.bindingPath }

// Destroyed reports whether the property has been destroyed.
func (p *Property) Destroyed() bool { return p.destroyed }

// IsVoid reports whether p is the shared sentinel returned for access to
// destroyed blocks.
func (p *Property) IsVoid() bool { return p.block == nil }

// Listen attaches l. l immediately receives the current value.
func (p *Property) Listen(l reactive.Listener[any]) {
	if p.destroyed {
		return
	}
	n := p.disp.Len()
	p.disp.Listen(l)
	if p.disp.Len() != n {
		p.notifyBinding()
	}
}

// Unlisten detaches l.
func (p *Property) Unlisten(l reactive.Listener[any]) {
	n := p.disp.Len()
	p.disp.Unlisten(l)
	if p.disp.Len() != n {
		p.notifyBinding()
	}
}

// Listeners returns the number of attached listeners.
func (p *Property) Listeners() int { return p.disp.Len() }

// Subscribe registers s for binding changes.
func (p *Property) Subscribe(s BindingSubscriber) {
	if p.destroyed {
		return
	}
	for _, existing := range p.subscribers {
		if existing == s {
			return
		}
	}
	p.subscribers = append(p.subscribers, s)
}

// Unsubscribe removes s.
func (p *Property) Unsubscribe(s BindingSubscriber) {
	for i, existing := range p.subscribers {
		if existing == s {
			p.subscribers = append(p.subscribers[:i:i], p.subscribers[i+1:]...)
			return
		}
	}
}

// SetValue clears any binding and sets a persisted value.
func (p *Property) SetValue(v any) {
	if !p.writable() {
		return
	}
	if p.bindingPath != "" {
		p.detachBinding()
		p.bindingPath = ""
		p.notifyBinding()
	}
	p.onChange(v, true)
}

// UpdateValue sets the live value without touching the saved value.
func (p *Property) UpdateValue(v any) {
	if !p.writable() {
		return
	}
	p.onChange(v, false)
}

// SetBinding binds the property to path, relative to the owning block.
// An empty path removes the binding and clears the value.
func (p *Property) SetBinding(path string) {
	if !p.writable() {
		return
	}
	if path == p.bindingPath {
		return
	}
	p.detachBinding()
	p.bindingPath = path
	p.notifyBinding()

	if path == "" {
		p.onChange(nil, true)
		return
	}
	p.saved = nil
	binding := p.block.createBinding(path)
	if binding == nil {
		p.onChange(nil, false)
		return
	}
	p.source = binding
	binding.Listen(sourceListener{p})
}

// Clear removes the saved value or binding. No-op when there is neither.
func (p *Property) Clear() {
	if p.saved == nil && p.bindingPath == "" {
		return
	}
	p.SetValue(nil)
}

func (p *Property) onChange(v any, save bool) {
	if p.destroyed {
		return
	}
	if save && !reactive.Same(p.saved, v) {
		p.saved = v
	}
	old := p.disp.Value()
	if reactive.Same(old, v) {
		return
	}
	oldBlock, _ := old.(*Block)
	if oldBlock != nil && oldBlock.prop == p {
		oldBlock.destroy()
	}
	p.disp.Set(v)

	p.block.onPropertyChange(p, v)
	if newBlock, ok := v.(*Block); ok || oldBlock != nil {
		p.block.notifyChild(p, newBlock)
	}
	p.disp.Dispatch()
}

func (p *Property) detachBinding() {
	if p.source == nil {
		return
	}
	source := p.source
	p.source = nil
	source.Unlisten(sourceListener{p})
}

func (p *Property) notifyBinding() {
	for _, s := range append([]BindingSubscriber(nil), p.subscribers...) {
		s.OnBindingChange(p)
	}
}

// writable reports whether a write may proceed, raising in strict mode.
func (p *Property) writable() bool {
	if p.block == nil {
		return false
	}
	if p.destroyed {
		p.block.root.violate(&GraphError{Code: ErrCodeDestroyed, Path: p.name, Message: "write to destroyed property"})
		return false
	}
	if p.kind.IsReference() {
		p.block.root.violate(&GraphError{Code: ErrCodeReadOnly, Path: p.name, Message: "reference properties cannot be written or bound"})
		return false
	}
	p.block.root.assertOwner()
	return true
}

func (p *Property) destroy() {
	if p.destroyed {
		return
	}
	p.detachBinding()
	old := p.disp.Value()
	p.saved = nil
	p.disp.Set(nil)
	if oldBlock, ok := old.(*Block); ok && oldBlock.prop == p {
		oldBlock.destroy()
	}
	p.destroyed = true
	if old != nil {
		p.disp.Dispatch()
	}
	p.disp.Clear()
	p.subscribers = nil
}
