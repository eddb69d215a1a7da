package protocol

import (
	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/reactive"
)

// subscription streams the value at a path. Changes between flushes
// coalesce into one update carrying the latest value.
type subscription struct {
	s       *Server
	id      string
	binding *block.Binding
	src     *block.Property
	value   any
}

func (sub *subscription) OnSourceChange(*reactive.Dispatcher[any]) {}

func (sub *subscription) OnChange(v any) {
	sub.value = v
	sub.follow()
	sub.s.conn.queue(sub)
}

func (sub *subscription) OnBindingChange(*block.Property) {
	sub.s.conn.queue(sub)
}

// follow keeps the binding-path subscription on the property the path
// currently resolves to.
func (sub *subscription) follow() {
	if sub.binding == nil {
		return
	}
	src := sub.binding.Source()
	if src == sub.src {
		return
	}
	if sub.src != nil {
		sub.src.Unsubscribe(sub)
	}
	sub.src = src
	if src != nil {
		src.Subscribe(sub)
	}
}

func (sub *subscription) frame() Message {
	m := Message{
		FieldID:    sub.id,
		FieldCmd:   CmdUpdate,
		FieldValue: EncodeValue(sub.value),
	}
	if sub.src != nil {
		if bp := sub.src.BindingPath(); bp != "" {
			m[FieldBindingPath] = bp
		}
	}
	m[FieldHasListener] = sub.hasListener()
	return m
}

// hasListener reports whether anything besides this stream listens to the
// tracked property, directly or through the shared path binding.
func (sub *subscription) hasListener() bool {
	if sub.src == nil || sub.binding == nil {
		return false
	}
	return sub.src.Listeners()-1+sub.binding.Listeners()-1 > 0
}

func (sub *subscription) sent()      {}
func (sub *subscription) more() bool { return false }

func (sub *subscription) close() {
	if sub.binding != nil {
		sub.binding.Unlisten(sub)
		sub.binding = nil
	}
	if sub.src != nil {
		sub.src.Unsubscribe(sub)
		sub.src = nil
	}
	sub.s.conn.dequeue(sub)
}

// childWatch streams a block's children: the full {name: id} map first,
// then {name: id | null} diffs.
type childWatch struct {
	s       *Server
	id      string
	b       *block.Block
	initial bool
	diff    map[string]any
}

func (w *childWatch) OnChildChange(name string, child *block.Block, _ bool) {
	if child != nil {
		w.diff[name] = child.ID()
	} else {
		w.diff[name] = nil
	}
	w.s.conn.queue(w)
}

func (w *childWatch) frame() Message {
	var value map[string]any
	if w.initial {
		value = make(map[string]any)
		for name, child := range w.b.Children() {
			value[name] = child.ID()
		}
	} else {
		if len(w.diff) == 0 {
			return nil
		}
		value = make(map[string]any, len(w.diff))
		for name, id := range w.diff {
			value[name] = id
		}
	}
	return Message{FieldID: w.id, FieldCmd: CmdUpdate, FieldValue: value}
}

func (w *childWatch) sent() {
	w.initial = false
	w.diff = make(map[string]any)
}

func (w *childWatch) more() bool { return false }

func (w *childWatch) close() {
	w.b.Unwatch(w)
	w.s.conn.dequeue(w)
}

// descWatch streams descriptor changes as {typeID: desc | null}. Each
// frame stays under the descriptor budget; the rest of the backlog goes
// out in later flushes.
type descWatch struct {
	s       *Server
	id      string
	backlog []string
	waiting map[string]bool
	count   int
	unwatch func()
}

const descEnvelope = 40

func (d *descWatch) add(typeID string) {
	if d.waiting[typeID] {
		return
	}
	d.waiting[typeID] = true
	d.backlog = append(d.backlog, typeID)
}

func (d *descWatch) frame() Message {
	reg := d.s.root.Registry()
	value := make(map[string]any)
	size := descEnvelope + len(d.id)
	d.count = 0
	for _, typeID := range d.backlog {
		var desc any
		n := len(typeID) + 8
		if e := reg.Get(typeID); e != nil {
			desc = e.Desc.Wire()
			n = len(typeID) + 4 + e.DescSize
		}
		if d.count > 0 && size+n > d.s.descBudget {
			break
		}
		value[typeID] = desc
		size += n
		d.count++
	}
	if d.count == 0 {
		return nil
	}
	return Message{FieldID: d.id, FieldCmd: CmdUpdate, FieldValue: value}
}

func (d *descWatch) sent() {
	for _, typeID := range d.backlog[:d.count] {
		delete(d.waiting, typeID)
	}
	d.backlog = d.backlog[d.count:]
	d.count = 0
}

func (d *descWatch) more() bool { return len(d.backlog) > 0 }

func (d *descWatch) close() {
	if d.unwatch != nil {
		d.unwatch()
		d.unwatch = nil
	}
	d.s.conn.dequeue(d)
}
