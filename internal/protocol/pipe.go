package protocol

import (
	"errors"
	"sync"

	"github.com/roach88/blockflow/internal/scheduler"
)

// ErrPipeClosed is returned by Send on a closed pipe.
var ErrPipeClosed = errors.New("pipe closed")

// PipeEnd is one side of an in-process transport. Batches sent on one end
// are delivered to the receiver attached to the other, on that receiver's
// executor.
type PipeEnd struct {
	exec scheduler.Executor
	peer *PipeEnd

	mu       sync.Mutex
	recv     Receiver
	closed   bool
	observer func(batch []Message)
}

// NewPipe creates a connected pair of ends. Receivers on a run on execA,
// receivers on b on execB.
func NewPipe(execA, execB scheduler.Executor) (a, b *PipeEnd) {
	a = &PipeEnd{exec: execA}
	b = &PipeEnd{exec: execB}
	a.peer, b.peer = b, a
	return a, b
}

// Attach sets the receiver for batches arriving at this end.
func (p *PipeEnd) Attach(r Receiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recv = r
}

// Observe registers fn to see every batch sent from this end, before
// delivery.
func (p *PipeEnd) Observe(fn func(batch []Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// Open tells both receivers the pipe is up.
func (p *PipeEnd) Open() {
	p.deliver(func(r Receiver) { r.Connected() })
	p.peer.deliver(func(r Receiver) { r.Connected() })
}

// Close tells both receivers the pipe is down. Later sends fail.
func (p *PipeEnd) Close() {
	p.deliver(func(r Receiver) { r.Disconnected() })
	p.peer.deliver(func(r Receiver) { r.Disconnected() })
	p.setClosed()
	p.peer.setClosed()
}

// Reopen undoes Close.
func (p *PipeEnd) Reopen() {
	p.setOpen()
	p.peer.setOpen()
	p.Open()
}

// Send implements Transport.
func (p *PipeEnd) Send(batch []Message) error {
	p.mu.Lock()
	closed, observer := p.closed, p.observer
	p.mu.Unlock()
	if closed {
		return ErrPipeClosed
	}
	if observer != nil {
		observer(batch)
	}
	p.peer.deliver(func(r Receiver) { r.Receive(batch) })
	return nil
}

func (p *PipeEnd) deliver(fn func(r Receiver)) {
	p.exec.Post(func() {
		p.mu.Lock()
		r := p.recv
		p.mu.Unlock()
		if r != nil {
			fn(r)
		}
	})
}

func (p *PipeEnd) setClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *PipeEnd) setOpen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
}
