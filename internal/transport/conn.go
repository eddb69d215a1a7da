package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/blockflow/internal/protocol"
	"github.com/roach88/blockflow/internal/scheduler"
)

// Settings are the WebSocket timeouts.
type Settings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingTimeout  time.Duration
	BufferSize   int
}

// DefaultSettings returns the default timeouts.
func DefaultSettings() Settings {
	return Settings{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
		PingTimeout:  10 * time.Second,
		BufferSize:   32,
	}
}

var (
	// ErrClosed is returned by Send after the socket closed.
	ErrClosed = errors.New("transport closed")
	// ErrBufferFull is returned by Send when the write buffer is full.
	ErrBufferFull = errors.New("transport buffer full")
)

// Conn adapts one WebSocket to protocol.Transport. Inbound batches are
// posted to the receiver's executor; a zero-length frame is a ping.
type Conn struct {
	ws       *websocket.Conn
	codec    Codec
	settings Settings
	logger   *slog.Logger

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(ctx context.Context, ws *websocket.Conn, codec Codec, settings Settings, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	return &Conn{
		ws:       ws,
		codec:    codec,
		settings: settings,
		logger:   logger,
		send:     make(chan []byte, settings.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send implements protocol.Transport. It never blocks.
func (c *Conn) Send(batch []protocol.Message) error {
	data, err := c.codec.Encode(batch)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops both loops.
func (c *Conn) Close() {
	c.cancel()
}

// serve runs the write loop in the background and the read loop until the
// socket fails or ctx ends. recv gets Connected first and Disconnected
// last, both through exec.
func (c *Conn) serve(exec scheduler.Executor, recv protocol.Receiver) {
	defer c.ws.Close()
	defer c.cancel()

	exec.Post(recv.Connected)
	defer exec.Post(recv.Disconnected)

	go c.writeLoop()
	// unblocks ReadMessage when either loop ends or ctx is cancelled
	go func() {
		<-c.ctx.Done()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("read ended", "error", err)
			return
		}
		if len(message) == 0 {
			// ping
			continue
		}
		if messageType != c.codec.FrameType() {
			c.logger.Debug("unexpected frame type", "type", messageType)
			continue
		}
		batch, err := c.codec.Decode(message)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if !exec.Post(func() { recv.Receive(batch) }) {
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(c.codec.FrameType(), data); err != nil {
				// a websocket write deadline cannot be recovered
				c.logger.Info("write failed", "error", err)
				return
			}
		case <-time.After(c.settings.PingTimeout):
			c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(c.codec.FrameType(), make([]byte, 0)); err != nil {
				return
			}
		}
	}
}
