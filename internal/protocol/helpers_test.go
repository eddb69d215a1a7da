package protocol

import (
	"context"
	"testing"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/functions/builtin"
	"github.com/roach88/blockflow/internal/testutil"
)

// fixture wires a Server and a Client over a pipe. Both sides share the
// root's mailbox, so run drains the whole conversation.
type fixture struct {
	root   *block.Root
	server *Server
	client *Client
	srvEnd *PipeEnd
	cliEnd *PipeEnd

	// toServer and toClient record every batch sent, acks included.
	toServer [][]Message
	toClient [][]Message
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := functions.NewRegistry()
	builtin.Register(reg)
	root := block.NewRoot(
		block.WithIDGenerator(testutil.NewSequentialIDs("b")),
		block.WithRegistry(reg),
		block.WithStrict(true),
	)
	t.Cleanup(root.Close)

	f := &fixture{root: root}
	f.srvEnd, f.cliEnd = NewPipe(root, root.Mailbox())
	f.server = NewServer(context.Background(), root, f.srvEnd, opts...)
	f.client = NewClient(root.Mailbox(), f.cliEnd, opts...)
	f.srvEnd.Attach(f.server)
	f.cliEnd.Attach(f.client)
	f.srvEnd.Observe(func(batch []Message) { f.toClient = append(f.toClient, batch) })
	f.cliEnd.Observe(func(batch []Message) { f.toServer = append(f.toServer, batch) })
	f.srvEnd.Open()
	f.run()
	return f
}

func (f *fixture) run() {
	f.root.Run()
}

// requests counts client messages with cmd.
func (f *fixture) requests(cmd string) int {
	n := 0
	for _, batch := range f.toServer {
		for _, m := range batch {
			if m[FieldCmd] == cmd {
				n++
			}
		}
	}
	return n
}

// result collects the responses of one request.
type result struct {
	updates []Message
	done    bool
	err     error
}

func (r *result) callbacks() Callbacks {
	return Callbacks{
		OnUpdate: func(m Message) { r.updates = append(r.updates, m) },
		OnDone:   func() { r.done = true },
		OnError:  func(err error) { r.err = err },
	}
}

func (r *result) values() []any {
	out := make([]any, len(r.updates))
	for i, m := range r.updates {
		out[i] = m[FieldValue]
	}
	return out
}

func (r *result) last() any {
	if len(r.updates) == 0 {
		return nil
	}
	return r.updates[len(r.updates)-1][FieldValue]
}
