// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/metrics"
	"github.com/absmach/sockparse/pkg/parser"
	"github.com/absmach/sockparse/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const transport = "ws"

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrTextMessage is returned when a peer sends a text frame.
	ErrTextMessage = errors.New("text messages are not supported")
)

// Config holds the WebSocket server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// Path is the HTTP path accepting upgrades. Empty means every path.
	Path string

	// Protocol labels connections in handler contexts and metrics and is the
	// only WebSocket subprotocol offered.
	Protocol string

	// ShutdownTimeout is the maximum time to wait for active connections to drain.
	ShutdownTimeout time.Duration

	// MaxMessageSize caps the size of one inbound message. Larger messages close
	// the connection with 1009 before they are buffered. Zero means unlimited.
	MaxMessageSize int64

	// CheckOrigin overrides the upgrader's same-origin check. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool

	// Logger for server events
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Limiter refuses upgrades from hosts connecting too often. Optional.
	Limiter *ratelimit.Limiter
}

// Server upgrades HTTP requests to WebSocket and feeds every binary message
// to a parser created for that connection.
type Server struct {
	config   Config
	factory  parser.Factory
	upgrader websocket.Upgrader

	// ctx is cancelled to force active connections closed.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ http.Handler = (*Server)(nil)

// New creates a new WebSocket server with the given configuration and parser factory.
func New(cfg Config, f parser.Factory) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "mqtt"
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(r *http.Request) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  cfg,
		factory: f,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{cfg.Protocol},
			CheckOrigin:  cfg.CheckOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Listen starts the WebSocket server and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts upgrades on listener until the context is cancelled, then
// drains active connections. Serve takes ownership of listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	path := s.config.Path
	if path == "" {
		path = "/"
	}
	mux.Handle(path, s)
	server := &http.Server{Handler: mux}

	s.config.Logger.Info("WebSocket server started",
		slog.String("address", listener.Addr().String()),
		slog.String("path", path))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	s.config.Logger.Info("shutdown signal received, closing WebSocket server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.config.Logger.Error("error during shutdown", slog.String("error", err.Error()))
	}

	// Hijacked connections are not tracked by http.Server.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-shutdownCtx.Done():
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		s.cancel()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
		return ErrShutdownTimeout
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.config.Limiter.Allow(r.RemoteAddr) {
		s.config.Metrics.Rejected(s.config.Protocol, transport)
		s.config.Logger.Debug("connection rate limited", slog.String("remote", r.RemoteAddr))
		http.Error(w, ratelimit.ErrRateLimited.Error(), http.StatusTooManyRequests)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Error("failed to upgrade client connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	err = s.config.Metrics.ObserveConnection(s.config.Protocol, transport, func() error {
		return s.handleConn(conn, r.RemoteAddr)
	})
	if err != nil {
		s.config.Logger.Debug("connection handler error",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
	}
}

func (s *Server) handleConn(conn *websocket.Conn, remote string) error {
	hctx := &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: remote,
		Protocol:   s.config.Protocol,
	}
	p := s.factory(hctx)

	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	s.config.Logger.Debug("websocket connection upgraded",
		slog.String("session", hctx.SessionID),
		slog.String("client", remote),
		slog.String("subprotocol", conn.Subprotocol()))

	err := s.serve(conn, p)

	if cerr := p.Close(); cerr != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", cerr.Error()))
	}

	s.config.Logger.Debug("websocket connection closed", slog.String("session", hctx.SessionID))

	return err
}

func (s *Server) serve(conn *websocket.Conn, p parser.Parser) error {
	out := &messageWriter{ws: conn}
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.BinaryMessage {
			closeWith(conn, websocket.CloseUnsupportedData, ErrTextMessage.Error())
			return ErrTextMessage
		}

		ferr := p.Feed(s.ctx, data)
		if _, werr := p.WriteTo(out); werr != nil {
			return perrors.Wrap(werr, "failed to queue reply")
		}
		if werr := out.flush(); werr != nil {
			return perrors.Wrap(werr, "failed to send reply")
		}
		if ferr != nil {
			if errors.Is(ferr, io.EOF) {
				closeWith(conn, websocket.CloseNormalClosure, "")
				return nil
			}
			closeWith(conn, websocket.CloseProtocolError, ferr.Error())
			return ferr
		}
	}
}

// maxCloseReason is the room left for a reason in a close control frame.
const maxCloseReason = 123

func closeWith(conn *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
