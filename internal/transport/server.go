package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/protocol"
)

// Path is where Server accepts WebSocket connections.
const Path = "/ws"

// Server upgrades HTTP requests into protocol servers on a Root.
type Server struct {
	ctx      context.Context
	root     *block.Root
	codec    Codec
	settings Settings
	opts     []protocol.Option
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server for root. opts configure every protocol
// server it creates.
func NewServer(ctx context.Context, root *block.Root, codec Codec, settings Settings, logger *slog.Logger, opts ...protocol.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctx:      ctx,
		root:     root,
		codec:    codec,
		settings: settings,
		opts:     opts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns a mux serving Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// ServeHTTP upgrades the request and serves it until the socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	session := uuid.NewString()
	logger := s.logger.With("session", session, "remote", r.RemoteAddr)

	conn := newConn(s.ctx, ws, s.codec, s.settings, logger)
	opts := append([]protocol.Option{protocol.WithLogger(s.logger), protocol.WithSession(session)}, s.opts...)
	srv := protocol.NewServer(s.ctx, s.root, conn, opts...)
	conn.serve(s.root, srv)
}
