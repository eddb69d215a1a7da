package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/blockflow/internal/protocol"
	"github.com/roach88/blockflow/internal/scheduler"
)

// Dialer keeps a client connected to a Server, reconnecting with backoff.
// It is the protocol.Transport of the client: Send goes to whichever
// socket is current.
type Dialer struct {
	url      string
	codec    Codec
	settings Settings
	backoff  *protocol.Backoff
	logger   *slog.Logger
	dialer   *websocket.Dialer

	mu   sync.Mutex
	conn *Conn
}

// NewDialer creates a Dialer for url (ws://host/ws).
func NewDialer(url string, codec Codec, settings Settings, backoff *protocol.Backoff, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		url:      url,
		codec:    codec,
		settings: settings,
		backoff:  backoff,
		logger:   logger.With("url", url),
		dialer:   websocket.DefaultDialer,
	}
}

// Send implements protocol.Transport.
func (d *Dialer) Send(batch []protocol.Message) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	return conn.Send(batch)
}

// Run connects and serves until ctx ends. recv is told about every
// connect and disconnect through exec.
func (d *Dialer) Run(ctx context.Context, exec scheduler.Executor, recv protocol.Receiver) error {
	for {
		ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
		if err != nil {
			wait := d.backoff.Next()
			d.logger.Info("dial failed", "error", err, "retry", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		d.backoff.Reset()
		d.logger.Info("connected")

		conn := newConn(ctx, ws, d.codec, d.settings, d.logger)
		d.setConn(conn)
		conn.serve(exec, recv)
		d.setConn(nil)

		wait := d.backoff.Next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (d *Dialer) setConn(c *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = c
}
