package protocol

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/functions"
)

// stream is a long-lived response, ended by unsubscribe/unwatch or by
// disconnection.
type stream interface {
	close()
}

// Server answers requests against a Root. It runs on the Root's goroutine.
type Server struct {
	conn       *Connection
	root       *block.Root
	ctx        context.Context
	descBudget int
	streams    map[string]stream
}

// NewServer creates a server for root sending over t. Attach the returned
// server (its Receiver) to the transport's inbound side.
func NewServer(ctx context.Context, root *block.Root, t Transport, opts ...Option) *Server {
	o := newOptions(opts)
	s := &Server{
		root:       root,
		ctx:        ctx,
		descBudget: o.descBudget,
		streams:    make(map[string]stream),
	}
	s.conn = newConnection(root, t, s, o)
	return s
}

// Connection returns the underlying connection.
func (s *Server) Connection() *Connection { return s.conn }

// Receive implements Receiver.
func (s *Server) Receive(batch []Message) { s.conn.Receive(batch) }

// Connected implements Receiver.
func (s *Server) Connected() { s.conn.Connected() }

// Disconnected implements Receiver.
func (s *Server) Disconnected() { s.conn.Disconnected() }

// Streams returns the number of open subscriptions and watches.
func (s *Server) Streams() int { return len(s.streams) }

func (s *Server) connected() {}

func (s *Server) disconnected() {
	for _, id := range sortedKeys(s.streams) {
		s.streams[id].close()
	}
	s.streams = make(map[string]stream)
	s.conn.reset()
}

func (s *Server) handle(m Message) {
	id := stringField(m, FieldID)
	cmd := stringField(m, FieldCmd)
	path := stringField(m, FieldPath)
	defer func() {
		if r := recover(); r != nil {
			var msg string
			if err, ok := r.(error); ok {
				msg = err.Error()
			} else {
				msg = fmt.Sprint(r)
			}
			s.conn.logger.Warn("request panicked", "id", id, "cmd", cmd, "path", path, "panic", msg)
			s.fail(id, &ProtocolError{Cmd: cmd, Path: path, Msg: msg})
		}
	}()
	if err := s.dispatch(id, cmd, path, m); err != nil {
		s.conn.logger.Debug("request failed", "id", id, "cmd", cmd, "path", path, "error", err)
		s.fail(id, err)
	}
}

func (s *Server) dispatch(id, cmd, path string, m Message) error {
	switch cmd {
	case CmdGet:
		p := s.root.QueryProperty(path, false)
		if p == nil {
			return notFound(cmd, path)
		}
		resp := Message{FieldValue: EncodeValue(p.Value())}
		if bp := p.BindingPath(); bp != "" {
			resp[FieldBindingPath] = bp
		}
		s.reply(id, CmdFinal, resp)
	case CmdSet, CmdUpdate:
		p := s.root.QueryProperty(path, true)
		if p == nil {
			return notFound(cmd, path)
		}
		if cmd == CmdSet {
			p.SetValue(m[FieldValue])
		} else {
			p.UpdateValue(m[FieldValue])
		}
		s.reply(id, CmdDone, nil)
	case CmdBind:
		return s.bind(id, path, m)
	case CmdCreate:
		return s.create(id, path, m)
	case CmdList:
		return s.list(id, path, m)
	case CmdSubscribe:
		return s.subscribe(id, path)
	case CmdWatch:
		return s.watch(id, path)
	case CmdWatchDesc:
		return s.watchDesc(id)
	case CmdUnsubscribe, CmdUnwatch:
		if st, ok := s.streams[id]; ok {
			st.close()
			delete(s.streams, id)
		}
		s.reply(id, CmdDone, nil)
	case CmdCommand:
		return s.command(id, path, m)
	case CmdSave:
		if err := s.root.SaveFlow(s.ctx, path); err != nil {
			return &ProtocolError{Cmd: cmd, Path: path, Msg: err.Error()}
		}
		s.reply(id, CmdDone, nil)
	case CmdDelete:
		if err := s.root.DeleteFlow(s.ctx, path); err != nil {
			return &ProtocolError{Cmd: cmd, Path: path, Msg: err.Error()}
		}
		s.reply(id, CmdDone, nil)
	default:
		return &ProtocolError{Cmd: cmd, Msg: "unknown command"}
	}
	return nil
}

func (s *Server) bind(id, path string, m Message) error {
	p := s.root.QueryProperty(path, true)
	if p == nil {
		return notFound(CmdBind, path)
	}
	from := stringField(m, FieldFrom)
	if from != "" && boolField(m, FieldAbsolute) {
		rel, ok := block.RelativePath(p.Block(), from)
		if !ok {
			return &ProtocolError{Cmd: CmdBind, Path: path, Msg: fmt.Sprintf("cannot reach %s", from)}
		}
		from = rel
	}
	p.SetBinding(from)
	s.reply(id, CmdDone, nil)
	return nil
}

func (s *Server) create(id, path string, m Message) error {
	parent := &s.root.Block
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
		parent = s.blockAt(path[:i])
	}
	if parent == nil || field == "" {
		return notFound(CmdCreate, path)
	}
	data, _ := m[FieldData].(map[string]any)

	var child *block.Block
	if boolField(m, FieldJob) {
		if j := parent.CreateJob(field); j != nil {
			child = &j.Block
		}
	} else {
		child = parent.CreateBlock(field)
	}
	if child == nil {
		return &ProtocolError{Cmd: CmdCreate, Path: path, Msg: "field is not writable"}
	}
	child.Load(data)
	s.reply(id, CmdFinal, Message{FieldValue: child.ID()})
	return nil
}

// list answers with the child blocks of the block at path, sorted by
// name, as {name, id, is} entries.
func (s *Server) list(id, path string, m Message) error {
	b := s.blockAt(path)
	if b == nil {
		return notFound(CmdList, path)
	}
	fold := cases.Fold()
	filter := fold.String(stringField(m, FieldFilter))
	limit, hasLimit := intField(m, FieldMax)

	children := b.Children()
	out := make([]any, 0, len(children))
	for _, name := range sortedKeys(children) {
		if hasLimit && len(out) >= limit {
			break
		}
		if block.ClassifyName(name).IsReference() {
			continue
		}
		if filter != "" && !strings.Contains(fold.String(name), filter) {
			continue
		}
		child := children[name]
		out = append(out, map[string]any{"name": name, "id": child.ID(), "is": child.TypeID()})
	}
	s.reply(id, CmdFinal, Message{FieldValue: out})
	return nil
}

// claim rejects a stream request whose id is already streaming.
func (s *Server) claim(cmd, id, path string) error {
	if _, ok := s.streams[id]; ok {
		return &ProtocolError{Cmd: cmd, Path: path, Msg: "duplicate request id"}
	}
	return nil
}

func (s *Server) subscribe(id, path string) error {
	if err := s.claim(CmdSubscribe, id, path); err != nil {
		return err
	}
	sub := &subscription{s: s, id: id}
	s.streams[id] = sub
	sub.binding = s.root.Track(path, sub)
	if sub.binding == nil {
		delete(s.streams, id)
		s.conn.dequeue(sub)
		return &ProtocolError{Cmd: CmdSubscribe, Path: path, Msg: "invalid path"}
	}
	sub.follow()
	return nil
}

func (s *Server) watch(id, path string) error {
	if err := s.claim(CmdWatch, id, path); err != nil {
		return err
	}
	b := s.blockAt(path)
	if b == nil {
		return notFound(CmdWatch, path)
	}
	w := &childWatch{s: s, id: id, b: b, initial: true, diff: make(map[string]any)}
	s.streams[id] = w
	b.Watch(w)
	s.conn.queue(w)
	return nil
}

func (s *Server) watchDesc(id string) error {
	if err := s.claim(CmdWatchDesc, id, ""); err != nil {
		return err
	}
	reg := s.root.Registry()
	d := &descWatch{s: s, id: id, waiting: make(map[string]bool)}
	for _, typeID := range reg.IDs() {
		d.add(typeID)
	}
	d.unwatch = reg.WatchDesc(func(typeID string, _ *functions.Entry) {
		d.add(typeID)
		s.conn.queue(d)
	})
	s.streams[id] = d
	s.conn.queue(d)
	return nil
}

func (s *Server) command(id, path string, m Message) error {
	b := s.blockAt(path)
	if b == nil {
		return notFound(CmdCommand, path)
	}
	commander, ok := b.Function().(functions.Commander)
	if !ok {
		return &ProtocolError{Cmd: CmdCommand, Path: path, Msg: "function accepts no commands"}
	}
	params, _ := m[FieldParams].(map[string]any)
	result, err := commander.Command(stringField(m, FieldName), params)
	if err != nil {
		return &ProtocolError{Cmd: CmdCommand, Path: path, Msg: err.Error()}
	}
	s.reply(id, CmdFinal, Message{FieldValue: EncodeValue(result)})
	return nil
}

// blockAt resolves path to a block; "" is the root.
func (s *Server) blockAt(path string) *block.Block {
	if path == "" {
		return &s.root.Block
	}
	b, _ := s.root.QueryValue(path).(*block.Block)
	if b == nil || b.Destroyed() {
		return nil
	}
	return b
}

func (s *Server) reply(id, cmd string, fields Message) {
	m := Message{FieldID: id, FieldCmd: cmd}
	for k, v := range fields {
		m[k] = v
	}
	s.conn.Send(m)
}

func (s *Server) fail(id string, err error) {
	s.reply(id, CmdError, Message{FieldMsg: err.Error()})
}

func notFound(cmd, path string) error {
	return &ProtocolError{Cmd: cmd, Path: path, Msg: "not found"}
}
