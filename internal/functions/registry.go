package functions

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/blockflow/internal/reactive"
)

// Entry is a registered type: its live factory and descriptor.
type Entry struct {
	ID       string
	Factory  Factory
	Desc     *Descriptor
	DescSize int
}

// DescListener receives descriptor changes. entry is nil when id was
// cleared.
type DescListener func(id string, entry *Entry)

// Registry maps type ids to behaviors.
//
// Each id has its own Dispatcher, so every Block bound to an id through #is
// sees re-registration and clearing as a value change. Dispatchers are
// created on first use and dropped once nothing listens and nothing is
// registered.
//
// Not thread-safe: use it from the graph's writer goroutine, or before the
// graph starts.
type Registry struct {
	types     map[string]*reactive.Dispatcher[*Entry]
	watchers  map[int]DescListener
	watcherID int
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		types:    make(map[string]*reactive.Dispatcher[*Entry]),
		watchers: make(map[int]DescListener),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TypeID joins a namespace and name.
func TypeID(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + ":" + name
}

// Add registers factory under desc.Name (prefixed by namespace when given)
// and returns the id. Registering an existing id replaces it and every bound
// Block swaps to the new behavior.
func (r *Registry) Add(factory Factory, desc Descriptor, namespace string) (string, error) {
	if factory == nil {
		return "", fmt.Errorf("register %q: nil factory", desc.Name)
	}
	if err := desc.Validate(); err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	if desc.Mode == ModeAuto {
		desc.Mode = ModeOnChange
	}
	desc.Namespace = namespace
	desc.ID = TypeID(namespace, desc.Name)

	entry := &Entry{ID: desc.ID, Factory: factory, Desc: &desc}
	entry.DescSize = desc.encodedSize()

	r.dispatcher(desc.ID).Update(entry)
	r.logger.Debug("function registered", "id", desc.ID, "priority", desc.Priority, "mode", desc.Mode)
	r.notify(desc.ID, entry)
	return desc.ID, nil
}

// MustAdd is Add that panics on error. For static registration.
func (r *Registry) MustAdd(factory Factory, desc Descriptor, namespace string) string {
	id, err := r.Add(factory, desc, namespace)
	if err != nil {
		panic(err)
	}
	return id
}

// Clear unregisters id. Bound Blocks lose their Function until id is
// registered again.
func (r *Registry) Clear(id string) {
	d, ok := r.types[id]
	if !ok || d.Value() == nil {
		return
	}
	d.Update(nil)
	r.prune(id)
	r.logger.Debug("function cleared", "id", id)
	r.notify(id, nil)
}

// Get returns the entry for id, or nil.
func (r *Registry) Get(id string) *Entry {
	if d, ok := r.types[id]; ok {
		return d.Value()
	}
	return nil
}

// IDs returns every registered id, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.types))
	for id, d := range r.types {
		if d.Value() != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Listen attaches l to id's dispatcher. l immediately receives the current
// entry, which is nil when id is not registered.
func (r *Registry) Listen(id string, l reactive.Listener[*Entry]) {
	r.dispatcher(id).Listen(l)
}

// Unlisten detaches l from id's dispatcher.
func (r *Registry) Unlisten(id string, l reactive.Listener[*Entry]) {
	d, ok := r.types[id]
	if !ok {
		return
	}
	d.Unlisten(l)
	r.prune(id)
}

// Listeners returns how many Blocks listen on id.
func (r *Registry) Listeners(id string) int {
	if d, ok := r.types[id]; ok {
		return d.Len()
	}
	return 0
}

// WatchDesc registers l for descriptor changes and returns a function that
// removes it.
func (r *Registry) WatchDesc(l DescListener) (unwatch func()) {
	r.watcherID++
	id := r.watcherID
	r.watchers[id] = l
	return func() {
		delete(r.watchers, id)
	}
}

// Resolve maps a #is value to a registry id. Values starting with ':'
// belong to namespace.
func Resolve(is, namespace string) string {
	if rest, ok := strings.CutPrefix(is, ":"); ok {
		return TypeID(namespace, rest)
	}
	return is
}

func (r *Registry) dispatcher(id string) *reactive.Dispatcher[*Entry] {
	d, ok := r.types[id]
	if !ok {
		d = reactive.NewDispatcher[*Entry](nil)
		r.types[id] = d
	}
	return d
}

func (r *Registry) prune(id string) {
	d := r.types[id]
	if d != nil && d.Len() == 0 && d.Value() == nil {
		delete(r.types, id)
	}
}

func (r *Registry) notify(id string, entry *Entry) {
	if len(r.watchers) == 0 {
		return
	}
	keys := make([]int, 0, len(r.watchers))
	for k := range r.watchers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if l, ok := r.watchers[k]; ok {
			l(id, entry)
		}
	}
}
