package protocol

import (
	"sort"
	"strconv"

	"github.com/roach88/blockflow/internal/scheduler"
)

// Callbacks receive the responses to one request. Any of them may be nil.
type Callbacks struct {
	// OnUpdate receives update and final responses.
	OnUpdate func(m Message)
	// OnDone is called when the request completes.
	OnDone func()
	// OnError is called when the request fails or the connection drops.
	OnError func(err error)
}

func (cb Callbacks) update(m Message) {
	if cb.OnUpdate != nil {
		cb.OnUpdate(m)
	}
}

func (cb Callbacks) done() {
	if cb.OnDone != nil {
		cb.OnDone()
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

type request struct {
	id     string
	cb     Callbacks
	merged *merged
}

// merged is one wire subscription shared by every local subscriber to the
// same (cmd, path). It survives reconnects and is sent again on connect.
type merged struct {
	key     string
	msg     Message
	subs    map[int]Callbacks
	nextSub int

	// cached state handed to late joiners
	state    any
	extra    Message
	hasState bool
	// watch responses are diffs folded into state
	diffs bool
}

// Client issues requests over a Connection.
type Client struct {
	conn     *Connection
	nextID   int
	requests map[string]*request
	merged   map[string]*merged

	descs        map[string]any
	descWatchers map[string]map[int]func(desc any)
	nextDesc     int
	descCancel   func()
}

// NewClient creates a client whose callbacks run on exec.
func NewClient(exec scheduler.Executor, t Transport, opts ...Option) *Client {
	c := &Client{
		requests:     make(map[string]*request),
		merged:       make(map[string]*merged),
		descs:        make(map[string]any),
		descWatchers: make(map[string]map[int]func(any)),
	}
	c.conn = newConnection(exec, t, c, newOptions(opts))
	return c
}

// Connection returns the underlying connection.
func (c *Client) Connection() *Connection { return c.conn }

// Receive implements Receiver.
func (c *Client) Receive(batch []Message) { c.conn.Receive(batch) }

// Connected implements Receiver.
func (c *Client) Connected() { c.conn.Connected() }

// Disconnected implements Receiver.
func (c *Client) Disconnected() { c.conn.Disconnected() }

// Outstanding returns the number of requests awaiting completion, merged
// ones included.
func (c *Client) Outstanding() int { return len(c.requests) }

// Get reads the value at path. OnUpdate receives value and bindingPath.
func (c *Client) Get(path string, cb Callbacks) {
	c.request(Message{FieldCmd: CmdGet, FieldPath: path}, cb)
}

// Set writes a persisted value.
func (c *Client) Set(path string, value any, cb Callbacks) {
	c.request(Message{FieldCmd: CmdSet, FieldPath: path, FieldValue: value}, cb)
}

// Update writes a transient value.
func (c *Client) Update(path string, value any, cb Callbacks) {
	c.request(Message{FieldCmd: CmdUpdate, FieldPath: path, FieldValue: value}, cb)
}

// Bind binds path to from. With absolute, from is a root path the server
// converts to a relative one. An empty from clears the binding.
func (c *Client) Bind(path, from string, absolute bool, cb Callbacks) {
	m := Message{FieldCmd: CmdBind, FieldPath: path, FieldFrom: from}
	if absolute {
		m[FieldAbsolute] = true
	}
	c.request(m, cb)
}

// Create creates a block (or job) at path loaded from data. The final
// response carries the new block id.
func (c *Client) Create(path string, data map[string]any, job bool, cb Callbacks) {
	m := Message{FieldCmd: CmdCreate, FieldPath: path, FieldData: data}
	if job {
		m[FieldJob] = true
	}
	c.request(m, cb)
}

// List lists the child blocks of the block at path whose name contains
// filter, case-insensitively, at most max of them when max > 0.
func (c *Client) List(path, filter string, max int, cb Callbacks) {
	m := Message{FieldCmd: CmdList, FieldPath: path, FieldFilter: filter}
	if max > 0 {
		m[FieldMax] = max
	}
	c.request(m, cb)
}

// Command invokes a named command on the function of the block at path.
func (c *Client) Command(path, name string, params map[string]any, cb Callbacks) {
	c.request(Message{FieldCmd: CmdCommand, FieldPath: path, FieldName: name, FieldParams: params}, cb)
}

// Save persists the flow name.
func (c *Client) Save(name string, cb Callbacks) {
	c.request(Message{FieldCmd: CmdSave, FieldPath: name}, cb)
}

// Delete destroys the flow name and removes it from storage.
func (c *Client) Delete(name string, cb Callbacks) {
	c.request(Message{FieldCmd: CmdDelete, FieldPath: name}, cb)
}

// Subscribe streams the value at path. Subscribers to the same path share
// one wire subscription; a subscriber joining after the first update gets
// the cached value immediately. The returned function unsubscribes.
func (c *Client) Subscribe(path string, cb Callbacks) (cancel func()) {
	return c.join(CmdSubscribe, CmdUnsubscribe, path, false, cb)
}

// Watch streams the children of the block at path as {name: id} maps,
// complete on first delivery and as diffs ({name: id | null}) after that.
// Late joiners receive the complete cached map.
func (c *Client) Watch(path string, cb Callbacks) (cancel func()) {
	return c.join(CmdWatch, CmdUnwatch, path, true, cb)
}

// WatchDesc calls fn with the descriptor of typeID, now if it is cached and
// again on every change. fn receives nil when the type is cleared.
func (c *Client) WatchDesc(typeID string, fn func(desc any)) (cancel func()) {
	watchers := c.descWatchers[typeID]
	if watchers == nil {
		watchers = make(map[int]func(any))
		c.descWatchers[typeID] = watchers
	}
	c.nextDesc++
	key := c.nextDesc
	watchers[key] = fn

	if c.descCancel == nil {
		c.descCancel = c.join(CmdWatchDesc, CmdUnwatch, "*", false, Callbacks{OnUpdate: c.onDescs})
	}
	if desc, ok := c.descs[typeID]; ok {
		fn(desc)
	}
	return func() {
		delete(watchers, key)
		if len(watchers) == 0 {
			delete(c.descWatchers, typeID)
		}
		if len(c.descWatchers) == 0 && c.descCancel != nil {
			c.descCancel()
			c.descCancel = nil
		}
	}
}

// Desc returns the cached descriptor of typeID.
func (c *Client) Desc(typeID string) (any, bool) {
	d, ok := c.descs[typeID]
	return d, ok
}

func (c *Client) onDescs(m Message) {
	value, _ := m[FieldValue].(map[string]any)
	for _, typeID := range sortedKeys(value) {
		desc := value[typeID]
		if desc == nil {
			delete(c.descs, typeID)
		} else {
			c.descs[typeID] = desc
		}
		watchers := c.descWatchers[typeID]
		keys := make([]int, 0, len(watchers))
		for k := range watchers {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			if fn, ok := watchers[k]; ok {
				fn(desc)
			}
		}
	}
}

func (c *Client) newID() string {
	c.nextID++
	return strconv.Itoa(c.nextID)
}

func (c *Client) request(m Message, cb Callbacks) {
	if !c.conn.IsConnected() {
		cb.fail(ErrDisconnected)
		return
	}
	id := c.newID()
	m[FieldID] = id
	c.requests[id] = &request{id: id, cb: cb}
	c.conn.Send(m)
}

func (c *Client) join(cmd, cancelCmd, path string, diffs bool, cb Callbacks) func() {
	key := cmd + ":" + path
	mr := c.merged[key]
	if mr == nil {
		mr = &merged{
			key:   key,
			msg:   Message{FieldCmd: cmd, FieldPath: path},
			subs:  make(map[int]Callbacks),
			diffs: diffs,
		}
		c.merged[key] = mr
		c.open(mr)
	}
	mr.nextSub++
	sub := mr.nextSub
	mr.subs[sub] = cb
	if mr.hasState {
		cb.update(mr.cached())
	}

	return func() {
		if _, ok := mr.subs[sub]; !ok {
			return
		}
		delete(mr.subs, sub)
		if len(mr.subs) > 0 || c.merged[key] != mr {
			return
		}
		delete(c.merged, key)
		id, _ := mr.msg[FieldID].(string)
		delete(c.requests, id)
		if c.conn.IsConnected() {
			c.conn.Send(Message{FieldID: id, FieldCmd: cancelCmd, FieldPath: path})
		}
	}
}

// open sends mr's wire request under a fresh id when connected. Otherwise
// it waits for Connected.
func (c *Client) open(mr *merged) {
	if !c.conn.IsConnected() {
		return
	}
	id := c.newID()
	m := make(Message, len(mr.msg))
	for k, v := range mr.msg {
		m[k] = v
	}
	m[FieldID] = id
	mr.msg = m
	if mr.diffs {
		// the server starts over with a complete map
		mr.state = nil
		mr.hasState = false
	}
	c.requests[id] = &request{id: id, merged: mr}
	c.conn.Send(m)
}

func (mr *merged) cached() Message {
	m := Message{FieldCmd: CmdUpdate, FieldValue: mr.state}
	if id, ok := mr.msg[FieldID]; ok {
		m[FieldID] = id
	}
	for k, v := range mr.extra {
		m[k] = v
	}
	return m
}

func (mr *merged) record(m Message) {
	value := m[FieldValue]
	if mr.diffs {
		state, _ := mr.state.(map[string]any)
		if state == nil {
			state = make(map[string]any)
		}
		next := make(map[string]any, len(state))
		for k, v := range state {
			next[k] = v
		}
		if diff, ok := value.(map[string]any); ok {
			for k, v := range diff {
				if v == nil {
					delete(next, k)
				} else {
					next[k] = v
				}
			}
		}
		value = next
	}
	mr.state = value
	mr.extra = nil
	for _, k := range []string{FieldBindingPath, FieldHasListener} {
		if v, ok := m[k]; ok {
			if mr.extra == nil {
				mr.extra = Message{}
			}
			mr.extra[k] = v
		}
	}
	mr.hasState = true
}

func (mr *merged) fanOut(fn func(cb Callbacks)) {
	keys := make([]int, 0, len(mr.subs))
	for k := range mr.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if cb, ok := mr.subs[k]; ok {
			fn(cb)
		}
	}
}

func (c *Client) handle(m Message) {
	id := stringField(m, FieldID)
	req := c.requests[id]
	if req == nil {
		c.conn.logger.Debug("response for unknown request", "id", id, "cmd", m[FieldCmd])
		return
	}
	cmd := stringField(m, FieldCmd)

	if mr := req.merged; mr != nil {
		switch cmd {
		case CmdUpdate, CmdFinal:
			mr.record(m)
			mr.fanOut(func(cb Callbacks) { cb.update(m) })
			if cmd == CmdFinal {
				c.endMerged(req, mr)
				mr.fanOut(Callbacks.done)
			}
		case CmdError:
			c.endMerged(req, mr)
			err := &ProtocolError{Cmd: stringField(mr.msg, FieldCmd), Path: stringField(mr.msg, FieldPath), Msg: stringField(m, FieldMsg)}
			mr.fanOut(func(cb Callbacks) { cb.fail(err) })
		case CmdDone:
			c.endMerged(req, mr)
			mr.fanOut(Callbacks.done)
		}
		return
	}

	switch cmd {
	case CmdUpdate:
		req.cb.update(m)
	case CmdFinal:
		delete(c.requests, id)
		req.cb.update(m)
		req.cb.done()
	case CmdError:
		delete(c.requests, id)
		req.cb.fail(&ProtocolError{Msg: stringField(m, FieldMsg)})
	case CmdDone:
		delete(c.requests, id)
		req.cb.done()
	default:
		c.conn.logger.Warn("unknown response", "id", id, "cmd", cmd)
	}
}

func (c *Client) endMerged(req *request, mr *merged) {
	delete(c.requests, req.id)
	if c.merged[mr.key] == mr {
		delete(c.merged, mr.key)
	}
	if mr.key == CmdWatchDesc+":*" {
		c.descCancel = nil
	}
}

func (c *Client) connected() {
	for _, key := range sortedKeys(c.merged) {
		c.open(c.merged[key])
	}
}

// disconnected fails every plain request. Merged requests stay and are
// sent again on the next Connected.
func (c *Client) disconnected() {
	c.conn.reset()
	var failed []*request
	for _, id := range sortedKeys(c.requests) {
		req := c.requests[id]
		if req.merged != nil {
			continue
		}
		failed = append(failed, req)
	}
	c.requests = make(map[string]*request)
	for _, req := range failed {
		req.cb.fail(ErrDisconnected)
	}
}
