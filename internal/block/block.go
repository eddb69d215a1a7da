package block

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/blockflow/internal/event"
	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/ir"
	"github.com/roach88/blockflow/internal/reactive"
)

// Block is a node of the graph: a set of named properties plus an optional
// Function that computes outputs from them.
//
// Parent, job and owning-property links are non-owning. A Block owns the
// child blocks stored in its properties through CreateBlock, and destroying
// it destroys them.
type Block struct {
	id     string
	root   *Root
	job    *Job
	parent *Block
	prop   *Property
	asJob  *Job

	props    map[string]*Property
	bindings map[string]*Binding
	watchers []ChildWatcher

	typeID   string
	types    typeListener
	entry    *functions.Entry
	fn       functions.Function
	mode     functions.Mode
	sync     bool
	priority int
	length   int

	loading    bool
	deferredFn bool
	running    bool
	pending    *functions.Async
	timer      *time.Timer
	destroyed  bool
	logger     *slog.Logger
}

var _ functions.Host = (*Block)(nil)

// typeListener follows the registry entry named by #is.
type typeListener struct{ b *Block }

func (l typeListener) OnSourceChange(*reactive.Dispatcher[*functions.Entry]) {}
func (l typeListener) OnChange(e *functions.Entry)                           { l.b.onEntry(e) }

func (b *Block) init(root *Root, job *Job, parent *Block, prop *Property) {
	b.id = root.ids.Generate()
	b.root = root
	b.job = job
	b.parent = parent
	b.prop = prop
	b.props = make(map[string]*Property)
	b.bindings = make(map[string]*Binding)
	b.types = typeListener{b}
	b.priority = -1
}

func newBlock(root *Root, job *Job, parent *Block, prop *Property) *Block {
	b := &Block{}
	b.init(root, job, parent, prop)
	return b
}

// ID returns the process-unique block id.
func (b *Block) ID() string { return b.id }

// Root returns the graph root.
func (b *Block) Root() *Root { return b.root }

// Job returns the job the block belongs to. A job belongs to itself.
func (b *Block) Job() *Job { return b.job }

// AsJob returns the Job when b is one, nil otherwise.
func (b *Block) AsJob() *Job { return b.asJob }

// Parent returns the parent block, nil for the root.
func (b *Block) Parent() *Block { return b.parent }

// Prop returns the property the block is stored in.
func (b *Block) Prop() *Property { return b.prop }

// Destroyed reports whether the block has been destroyed.
func (b *Block) Destroyed() bool { return b.destroyed }

// Function returns the attached Function, if any.
func (b *Block) Function() functions.Function { return b.fn }

// TypeID returns the resolved registry id from #is.
func (b *Block) TypeID() string { return b.typeID }

// Waiting reports whether async work is pending.
func (b *Block) Waiting() bool { return b.pending != nil }

// Path returns the dotted path from the root.
func (b *Block) Path() string {
	if b.prop == nil || b.prop.block == nil {
		return ""
	}
	parent := b.prop.block.Path()
	if parent == "" {
		return b.prop.name
	}
	return parent + "." + b.prop.name
}

func (b *Block) String() string {
	return fmt.Sprintf("Block(%s %s)", b.id, b.Path())
}

// GetProperty returns the named property, creating it when missing.
//
// On a destroyed block it raises in strict mode and returns the shared
// void property otherwise.
func (b *Block) GetProperty(name string) *Property {
	if b.destroyed {
		b.root.violate(&GraphError{Code: ErrCodeDestroyed, Path: b.id, Message: "access to destroyed block"})
		return b.root.void
	}
	if p, ok := b.props[name]; ok {
		return p
	}
	kind := ClassifyName(name)
	p := newProperty(b, name, kind)
	b.props[name] = p
	switch kind {
	case KindSelf:
		p.disp.Set(b)
	case KindParent:
		if b.parent != nil {
			p.disp.Set(b.parent)
		}
	case KindJob:
		p.disp.Set(&b.job.Block)
	case KindGlobal:
		if b.root.global != nil {
			p.disp.Set(&b.root.global.Block)
		}
	}
	return p
}

// LookupProperty returns the named property without creating it. Reference
// properties always exist.
func (b *Block) LookupProperty(name string) *Property {
	if b.destroyed {
		return nil
	}
	if p, ok := b.props[name]; ok {
		return p
	}
	if ClassifyName(name).IsReference() {
		return b.GetProperty(name)
	}
	return nil
}

// QueryProperty walks a dotted path. It returns nil as soon as an
// intermediate segment is not a block. With create, the final property is
// created when missing.
func (b *Block) QueryProperty(path string, create bool) *Property {
	if !ir.ValidPath(path) {
		return nil
	}
	segs := strings.Split(path, ".")
	cur := b
	for _, seg := range segs[:len(segs)-1] {
		p := cur.LookupProperty(seg)
		if p == nil {
			return nil
		}
		next, ok := p.Value().(*Block)
		if !ok || next.destroyed {
			return nil
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if create {
		return cur.GetProperty(last)
	}
	return cur.LookupProperty(last)
}

// QueryValue returns the value at path, nil when it does not resolve.
func (b *Block) QueryValue(path string) any {
	if p := b.QueryProperty(path, false); p != nil {
		return p.Value()
	}
	return nil
}

// GetValue returns the live value of a property on this block.
func (b *Block) GetValue(name string) any {
	if p := b.LookupProperty(name); p != nil {
		return p.Value()
	}
	return nil
}

// SetValue sets a persisted value.
func (b *Block) SetValue(name string, v any) {
	b.GetProperty(name).SetValue(v)
}

// UpdateValue sets a transient value.
func (b *Block) UpdateValue(name string, v any) {
	b.GetProperty(name).UpdateValue(v)
}

// SetBinding binds a property to a path relative to this block.
func (b *Block) SetBinding(name, path string) {
	b.GetProperty(name).SetBinding(path)
}

// Output writes a function result. Unlike external writes it does not
// notify the function of an input change.
func (b *Block) Output(name string, v any) {
	p := b.GetProperty(name)
	p.outputting = true
	p.UpdateValue(v)
	p.outputting = false
}

// Length returns the #len value.
func (b *Block) Length() int { return b.length }

// Post runs fn on the graph goroutine.
func (b *Block) Post(fn func()) bool { return b.root.Post(fn) }

// Logger returns a logger tagged with the block id.
func (b *Block) Logger() *slog.Logger {
	if b.logger == nil {
		b.logger = b.root.logger.With("block", b.id)
	}
	return b.logger
}

// Names returns the property names, sorted.
func (b *Block) Names() []string {
	names := make([]string, 0, len(b.props))
	for name := range b.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateBlock creates a persisted child block in field, replacing (and
// destroying) whatever block the field owned. Returns nil when the field
// cannot be written.
func (b *Block) CreateBlock(field string) *Block {
	p := b.GetProperty(field)
	if !p.writable() {
		return nil
	}
	child := newBlock(b.root, b.job, b, p)
	p.SetValue(child)
	return child
}

// CreateOutputBlock creates a child block owned by the function: it is
// destroyed with the field but not persisted.
func (b *Block) CreateOutputBlock(field string) *Block {
	p := b.GetProperty(field)
	if !p.writable() {
		return nil
	}
	child := newBlock(b.root, b.job, b, p)
	p.outputting = true
	p.UpdateValue(child)
	p.outputting = false
	return child
}

// CreateJob creates a persisted child Job in field.
func (b *Block) CreateJob(field string) *Job {
	p := b.GetProperty(field)
	if !p.writable() {
		return nil
	}
	j := newJob(b.root, b, p)
	p.SetValue(&j.Block)
	return j
}

// CreateOutputJob creates a function-owned, non-persisted child Job.
func (b *Block) CreateOutputJob(field string) *Job {
	p := b.GetProperty(field)
	if !p.writable() {
		return nil
	}
	j := newJob(b.root, b, p)
	p.outputting = true
	p.UpdateValue(&j.Block)
	p.outputting = false
	return j
}

// Destroy removes the block from its owning property and destroys it.
// Destroying twice is a no-op.
func (b *Block) Destroy() {
	if b.destroyed {
		return
	}
	if p := b.prop; p != nil && !p.destroyed && p.Value() == b {
		if p.saved == b {
			p.SetValue(nil)
		} else {
			p.UpdateValue(nil)
		}
		return
	}
	b.destroy()
}

func (b *Block) destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.unloadFunction()
	if b.typeID != "" {
		b.root.registry.Unlisten(b.typeID, b.types)
		b.typeID = ""
	}
	b.scheduleJob().resolver.Dequeue(b)
	if b.asJob != nil && b.parent != nil {
		b.parent.job.resolver.Dequeue(b.asJob.resolver)
	}

	props := make([]*Property, 0, len(b.props))
	for _, name := range b.Names() {
		props = append(props, b.props[name])
	}
	for _, p := range props {
		p.destroy()
	}
	for _, binding := range b.bindings {
		binding.release()
	}
	b.watchers = nil
	b.root.logger.Debug("block destroyed", "block", b.id)
}

func (b *Block) createBinding(path string) *Binding {
	if !ir.ValidPath(path) {
		b.root.violate(&GraphError{Code: ErrCodeInvalidPath, Path: path, Message: "invalid binding path"})
		return nil
	}
	if existing, ok := b.bindings[path]; ok && !existing.destroyed {
		return existing
	}
	binding := newBinding(b, path)
	b.bindings[path] = binding
	return binding
}

func (b *Block) onPropertyChange(p *Property, v any) {
	if b.destroyed {
		return
	}
	switch p.kind {
	case KindPin:
		if !p.outputting {
			b.inputChanged(p.name, v)
		}
	case KindIs:
		s, _ := v.(string)
		b.setType(s)
	case KindMode:
		b.setMode(v)
	case KindCall:
		b.onCall(v)
	case KindSync:
		b.sync = truthy(v)
	case KindLen:
		b.setLength(v)
	case KindPriority:
		b.setPriority(v)
	case KindCancel:
		if event.Check(v, b.root.clock) == event.Trigger {
			b.cancel("cancel")
		}
	}
}

func (b *Block) inputChanged(name string, v any) {
	if b.fn == nil {
		return
	}
	if !b.notifyInput(name, v) {
		return
	}
	switch b.effectiveMode() {
	case functions.ModeAlways, functions.ModeOnChange:
		b.queueFunction()
	}
}

// notifyInput reports whether the function wants a run. A panicking input
// handler is reported on #emit like a failed run.
func (b *Block) notifyInput(name string, v any) (queue bool) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger().Warn("input handler panicked", "type", b.typeID, "input", name, "panic", r)
			queue = false
			if !b.destroyed {
				b.emit(event.NewError(event.CodeFailed, fmt.Sprint(r), nil))
			}
		}
	}()
	return b.fn.InputChanged(name, v)
}

func (b *Block) onCall(v any) {
	switch event.Check(v, b.root.clock) {
	case event.Trigger:
		b.queueFunction()
	case event.Error:
		b.emit(v)
	}
}

// Queue asks the scheduler to run the block's function.
func (b *Block) Queue() {
	b.queueFunction()
}

func (b *Block) queueFunction() {
	if b.destroyed || b.fn == nil {
		return
	}
	if b.effectiveMode() == functions.ModeDisabled {
		return
	}
	if b.sync && !b.running {
		b.Run()
		return
	}
	b.scheduleJob().resolver.Queue(b)
}

// scheduleJob is the job whose resolver runs this block's function. A job's
// own function runs in its parent job.
func (b *Block) scheduleJob() *Job {
	if b.asJob != nil && b.parent != nil {
		return b.parent.job
	}
	return b.job
}

// Priority implements scheduler.Runnable. -1 in #priority means the
// function's declared priority.
func (b *Block) Priority() int {
	if b.priority >= 0 {
		return b.priority
	}
	if b.entry != nil {
		return b.entry.Desc.Priority
	}
	return 1
}

// Run executes the function once and routes its result to #emit.
func (b *Block) Run() {
	if b.destroyed || b.fn == nil {
		return
	}
	if b.sync && b.pending != nil {
		fn := b.fn
		b.safely("cancel", func() { fn.Cancel("sync") })
		b.dropPending()
	}
	b.running = true
	result := b.call()
	b.running = false
	if b.destroyed {
		return
	}
	b.handleResult(result)
}

func (b *Block) call() (result any) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger().Warn("function panicked", "type", b.typeID, "panic", r)
			result = event.NewError(event.CodeFailed, fmt.Sprint(r), nil)
		}
	}()
	return b.fn.Run()
}

func (b *Block) handleResult(result any) {
	if a, ok := result.(*functions.Async); ok {
		b.await(a)
		return
	}
	if event.IsWait(result) {
		return
	}
	b.dropPending()
	switch r := result.(type) {
	case nil:
		b.emit(event.New(b.root.clock))
	case error:
		b.emit(event.FromError(r))
	default:
		b.emit(r)
	}
}

// await makes a the pending result. A result it replaces is released
// without cancelling the function; its settlement no longer matches
// b.pending and is dropped.
func (b *Block) await(a *functions.Async) {
	b.stopTimer()
	if old := b.pending; old != nil && old != a {
		old.Cancel()
	}
	b.pending = a
	b.GetProperty(FieldWaiting).UpdateValue(true)
	if d := b.root.asyncTimeout; d > 0 {
		b.timer = time.AfterFunc(d, func() {
			b.root.Post(func() { b.expire(a) })
		})
	}
	a.OnSettle(func(v any, err error) {
		b.root.Post(func() { b.settle(a, v, err) })
	})
}

// settle applies an async result, unless a later run or a cancel has
// replaced it. Settlements are keyed by Async identity, which stands in
// for the pass that created them.
func (b *Block) settle(a *functions.Async, v any, err error) {
	if b.destroyed || b.pending != a {
		return
	}
	b.pending = nil
	b.stopTimer()
	b.GetProperty(FieldWaiting).UpdateValue(nil)
	switch {
	case err != nil:
		b.emit(event.FromError(err))
	case v == nil:
		b.emit(event.New(b.root.clock))
	default:
		b.emit(v)
	}
}

func (b *Block) expire(a *functions.Async) {
	if b.destroyed || b.pending != a {
		return
	}
	if fn := b.fn; fn != nil {
		b.safely("cancel", func() { fn.Cancel("timeout") })
	}
	b.dropPending()
	b.emit(event.NewError(event.CodeTimeout, fmt.Sprintf("no result within %s", b.root.asyncTimeout), nil))
}

func (b *Block) cancel(reason string) {
	if fn := b.fn; fn != nil {
		b.safely("cancel", func() { fn.Cancel(reason) })
	}
	b.dropPending()
	if !b.destroyed {
		b.GetProperty(FieldWaiting).UpdateValue(nil)
	}
}

func (b *Block) dropPending() {
	if b.pending == nil {
		return
	}
	a := b.pending
	b.pending = nil
	b.stopTimer()
	a.Cancel()
	if !b.destroyed {
		b.GetProperty(FieldWaiting).UpdateValue(nil)
	}
}

func (b *Block) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Block) emit(v any) {
	b.GetProperty(FieldEmit).UpdateValue(v)
}

func (b *Block) setType(is string) {
	id := ""
	if is != "" {
		id = functions.Resolve(is, b.job.Namespace())
	}
	if id == b.typeID {
		return
	}
	if b.typeID != "" {
		b.root.registry.Unlisten(b.typeID, b.types)
	}
	b.typeID = id
	if id == "" {
		b.onEntry(nil)
		return
	}
	b.root.registry.Listen(id, b.types)
}

func (b *Block) onEntry(e *functions.Entry) {
	if b.destroyed {
		return
	}
	b.unloadFunction()
	b.entry = e
	if e == nil {
		return
	}
	if b.loading {
		b.deferredFn = true
		return
	}
	b.loadFunction()
}

func (b *Block) loadFunction() {
	b.deferredFn = false
	if b.entry == nil || b.fn != nil {
		return
	}
	fn, err := b.newFunction()
	if err != nil {
		b.Logger().Warn("function factory failed", "type", b.typeID, "error", err)
		b.emit(event.NewError(event.CodeFailed, err.Error(), nil))
		return
	}
	b.fn = fn
	b.Logger().Debug("function attached", "type", b.typeID)
	if b.effectiveMode() == functions.ModeAlways {
		b.queueFunction()
	}
}

func (b *Block) newFunction() (fn functions.Function, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("create %s: %v", b.typeID, r)
		}
	}()
	fn = b.entry.Factory(b)
	if fn == nil {
		return nil, fmt.Errorf("create %s: factory returned nil", b.typeID)
	}
	return fn, nil
}

// safely runs a function hook, logging a panic instead of propagating it.
func (b *Block) safely(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger().Warn("function hook panicked", "type", b.typeID, "hook", hook, "panic", r)
		}
	}()
	fn()
}

func (b *Block) unloadFunction() {
	if b.fn == nil {
		return
	}
	fn := b.fn
	b.fn = nil
	b.safely("cancel", func() { fn.Cancel("destroy") })
	b.dropPending()
	b.safely("destroy", fn.Destroy)
	b.scheduleJob().resolver.Dequeue(b)
}

func (b *Block) effectiveMode() functions.Mode {
	if b.mode != functions.ModeAuto {
		return b.mode
	}
	if b.entry != nil {
		return b.entry.Desc.Mode
	}
	return functions.ModeOnChange
}

// Mode returns the effective run mode.
func (b *Block) Mode() functions.Mode { return b.effectiveMode() }

func (b *Block) setMode(v any) {
	s, _ := v.(string)
	mode, ok := functions.ParseMode(s)
	if !ok {
		mode = functions.ModeAuto
	}
	b.mode = mode
	if b.effectiveMode() == functions.ModeAlways {
		b.queueFunction()
	}
}

func (b *Block) setLength(v any) {
	n, ok := toInt(v)
	if !ok || n < 0 {
		n = 0
	}
	b.length = n
	if b.entry != nil && b.entry.Desc.UsesLength {
		b.inputChanged(FieldLen, v)
	}
}

func (b *Block) setPriority(v any) {
	n, ok := toInt(v)
	if !ok || n < -1 || n > 3 {
		n = -1
	}
	b.priority = n
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case float32:
		return int(n), n == float32(int(n))
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	}
	if n, ok := toInt(v); ok {
		return n != 0
	}
	return true
}
