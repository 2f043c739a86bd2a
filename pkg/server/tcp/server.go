// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/metrics"
	"github.com/absmach/sockparse/pkg/parser"
	"github.com/absmach/sockparse/pkg/ratelimit"
	"github.com/google/uuid"
)

const transport = "tcp"

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// Protocol labels connections in handler contexts and metrics (mqtt, http)
	Protocol string

	// ReadBufferSize is the size of the per-connection read buffer.
	// Zero means 4096.
	ReadBufferSize int

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Limiter refuses connections from hosts connecting too often. Optional.
	Limiter *ratelimit.Limiter
}

// Server accepts TCP connections and hands every byte it reads to a parser
// created for that connection.
type Server struct {
	config  Config
	factory parser.Factory
	wg      sync.WaitGroup
}

// New creates a new TCP server with the given configuration and parser factory.
func New(cfg Config, f parser.Factory) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}

	return &Server{
		config:  cfg,
		factory: f,
	}
}

// Listen starts the TCP server and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until the context is cancelled, then
// drains active connections. Serve takes ownership of listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.config.Logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.String("protocol", s.config.Protocol))

	// Active connections outlive ctx until the drain deadline.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}

			if !s.config.Limiter.Allow(conn.RemoteAddr().String()) {
				s.config.Metrics.Rejected(s.config.Protocol, transport)
				s.config.Logger.Debug("connection rate limited",
					slog.String("remote", conn.RemoteAddr().String()))
				conn.Close()
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				err := s.config.Metrics.ObserveConnection(s.config.Protocol, transport, func() error {
					return s.handleConn(connCtx, conn)
				})
				if err != nil {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
		return ErrShutdownTimeout
	}
}

// handleConn runs the read, feed, write loop of a single connection. A nil
// return means the peer or the parser closed the connection cleanly.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	hctx := &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: conn.RemoteAddr().String(),
		Protocol:   s.config.Protocol,
	}
	p := s.factory(hctx)

	// Unblock the pending Read on forced shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.config.Logger.Debug("connection established",
		slog.String("session", hctx.SessionID),
		slog.String("client", hctx.RemoteAddr))

	err := s.serve(ctx, conn, p)

	if cerr := p.Close(); cerr != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", cerr.Error()))
	}

	s.config.Logger.Debug("connection closed", slog.String("session", hctx.SessionID))

	return err
}

func (s *Server) serve(ctx context.Context, conn net.Conn, p parser.Parser) error {
	buf := make([]byte, s.config.ReadBufferSize)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			ferr := p.Feed(ctx, buf[:n])
			// Flush replies queued before a failure, e.g. a refusing CONNACK.
			if _, werr := p.WriteTo(conn); werr != nil {
				return perrors.Wrap(werr, "failed to write to "+conn.RemoteAddr().String())
			}
			if ferr != nil {
				if errors.Is(ferr, io.EOF) {
					return nil
				}
				return ferr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return rerr
		}
	}
}
