// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"context"
	"io"
	"log/slog"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/metrics"
	"github.com/absmach/sockparse/pkg/parser"
)

// Conn drives a Session and a Dispatcher for one client connection.
type Conn struct {
	s       *Session
	d       *Dispatcher
	metrics *metrics.Metrics
}

var _ parser.Parser = (*Conn)(nil)

// NewConn returns a Conn reporting to h. m and logger may be nil.
func NewConn(cfg Config, h handler.Handler, hctx *handler.Context, m *metrics.Metrics, logger *slog.Logger) *Conn {
	return &Conn{
		s:       NewSession(cfg),
		d:       NewDispatcher(h, hctx, m, logger),
		metrics: m,
	}
}

// NewFactory returns a parser.Factory creating one Conn per connection.
func NewFactory(cfg Config, h handler.Handler, m *metrics.Metrics, logger *slog.Logger) parser.Factory {
	return func(hctx *handler.Context) parser.Parser {
		return NewConn(cfg, h, hctx, m, logger)
	}
}

// Session returns the underlying session.
func (c *Conn) Session() *Session {
	return c.s
}

// Feed parses p and dispatches every frame it completes. It returns io.EOF after
// DISCONNECT.
func (c *Conn) Feed(ctx context.Context, p []byte) error {
	c.metrics.Parsed(protocol, len(p))
	for len(p) > 0 {
		n, err := c.s.Parse(p)
		if err != nil {
			c.metrics.ParseError(protocol, perrors.Classify(err).String())
			return err
		}
		p = p[n:]
		if !c.s.Message().Complete() {
			continue
		}
		if err := c.d.Dispatch(ctx, c.s); err != nil {
			if err != io.EOF {
				c.metrics.ParseError(protocol, perrors.Classify(err).String())
			}
			return err
		}
	}
	return nil
}

// WriteTo drains the frames queued by the dispatcher.
func (c *Conn) WriteTo(w io.Writer) (int64, error) {
	return c.s.WriteTo(w)
}

// Close notifies the handler if the client went away without DISCONNECT and
// releases the session.
func (c *Conn) Close() error {
	var err error
	if c.s.State() == SessionConnected {
		err = c.d.h.OnDisconnect(context.Background(), c.d.hctx)
	}
	c.s.Close()
	return err
}
