// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/url"
	"strings"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/header"
	"github.com/absmach/sockparse/pkg/metrics"
	"github.com/absmach/sockparse/pkg/parser"
)

var authorizationName = []byte("Authorization")

// Methods that get their own metric label. Everything else is "other".
var knownMethods = map[string]string{
	"GET":     "GET",
	"HEAD":    "HEAD",
	"POST":    "POST",
	"PUT":     "PUT",
	"PATCH":   "PATCH",
	"DELETE":  "DELETE",
	"OPTIONS": "OPTIONS",
	"CONNECT": "CONNECT",
	"TRACE":   "TRACE",
}

// bridge turns Exchange callbacks into handler.Handler calls.
type bridge struct {
	ctx     context.Context
	h       handler.Handler
	hctx    *handler.Context
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// HandlerCallbacks returns Callbacks that authorize the header block with
// AuthConnect and every body chunk with AuthPublish, using the request path as
// topic. Credentials come from HTTP Basic authorization, the "authorization"
// query parameter or the raw Authorization header, in that order.
func HandlerCallbacks(ctx context.Context, h handler.Handler, hctx *handler.Context) Callbacks {
	b := &bridge{ctx: ctx, h: h, hctx: hctx, logger: slog.Default()}
	return b.callbacks()
}

func (b *bridge) callbacks() Callbacks {
	return Callbacks{
		Header: b.onHeaders,
		Body:   b.onBody,
		Done:   b.onDone,
	}
}

func (b *bridge) onHeaders(x *Exchange) error {
	for name := range x.Headers().All() {
		b.metrics.HTTPHeader(name)
	}

	b.hctx.Protocol = protocol
	b.hctx.Username, b.hctx.Password = credentials(x)
	if err := b.h.AuthConnect(b.ctx, b.hctx); err != nil {
		b.metrics.AuthFailure(protocol, "connect")
		b.logger.Debug("request authorization failed",
			slog.String("session", b.hctx.SessionID),
			slog.String("path", string(x.Path())),
			slog.Any("error", err))
		return err
	}
	if err := b.h.OnConnect(b.ctx, b.hctx); err != nil {
		b.logger.Warn("OnConnect handler error",
			slog.String("session", b.hctx.SessionID),
			slog.Any("error", err))
	}
	return nil
}

func (b *bridge) onBody(x *Exchange, chunk []byte) error {
	topic := string(x.Path())
	payload := chunk
	if err := b.h.AuthPublish(b.ctx, b.hctx, &topic, &payload); err != nil {
		b.metrics.AuthFailure(protocol, "publish")
		b.logger.Debug("publish authorization failed",
			slog.String("session", b.hctx.SessionID),
			slog.String("topic", topic),
			slog.Any("error", err))
		return err
	}
	if err := b.h.OnPublish(b.ctx, b.hctx, topic, payload); err != nil {
		b.logger.Warn("OnPublish handler error",
			slog.String("session", b.hctx.SessionID),
			slog.Any("error", err))
	}
	return nil
}

func (b *bridge) onDone(x *Exchange) error {
	method, ok := knownMethods[string(x.Method())]
	if !ok {
		method = "other"
	}
	b.metrics.HTTPExchange(method)
	return nil
}

func credentials(x *Exchange) (string, []byte) {
	auth, hasAuth := x.Headers().GetHashed(header.IDAuthorization, authorizationName)
	if user, pass, ok := basicAuth(auth); ok {
		return user, []byte(pass)
	}
	if q := x.Query(); len(q) > 0 {
		if values, err := url.ParseQuery(string(q)); err == nil {
			if a := values.Get("authorization"); a != "" {
				return "", []byte(a)
			}
		}
	}
	if hasAuth && len(auth) > 0 {
		return "", bytes.Clone(auth)
	}
	return "", nil
}

func basicAuth(v []byte) (string, string, bool) {
	const prefix = "Basic "
	if len(v) < len(prefix) || !strings.EqualFold(string(v[:len(prefix)]), prefix) {
		return "", "", false
	}
	dec, err := base64.StdEncoding.DecodeString(string(v[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, pass, ok := strings.Cut(string(dec), ":")
	if !ok {
		return "", "", false
	}
	return user, pass, true
}

// Conn drives an Exchange over a connection. Each completed exchange is reset so
// pipelined requests are parsed from the same input. Feed returns io.EOF once
// the connection should be closed: after a request without keep-alive or after
// an Upgrade request, whose remaining bytes belong to another protocol.
//
// Conn produces no output; writing responses is up to the application.
type Conn struct {
	x *Exchange
	b *bridge
}

var _ parser.Parser = (*Conn)(nil)

// NewConn returns a Conn reporting to h. m and logger may be nil.
func NewConn(cfg Config, h handler.Handler, hctx *handler.Context, m *metrics.Metrics, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	b := &bridge{
		ctx:     context.Background(),
		h:       h,
		hctx:    hctx,
		metrics: m,
		logger:  logger,
	}
	return &Conn{
		x: NewExchange(cfg, b.callbacks()),
		b: b,
	}
}

// NewFactory returns a parser.Factory creating one Conn per connection.
func NewFactory(cfg Config, h handler.Handler, m *metrics.Metrics, logger *slog.Logger) parser.Factory {
	return func(hctx *handler.Context) parser.Parser {
		return NewConn(cfg, h, hctx, m, logger)
	}
}

// Exchange returns the exchange currently being parsed.
func (c *Conn) Exchange() *Exchange {
	return c.x
}

// Feed parses p, running the handler as header blocks and body chunks complete.
func (c *Conn) Feed(ctx context.Context, p []byte) error {
	c.b.ctx = ctx
	c.b.metrics.Parsed(protocol, len(p))

	for len(p) > 0 {
		n, err := c.x.Parse(p)
		if err != nil {
			c.b.metrics.ParseError(protocol, perrors.Classify(err).String())
			return err
		}
		p = p[n:]

		switch c.x.State() {
		case StateExpect:
			c.x.Continue()
		case StateComplete:
			flags := c.x.Flags()
			c.x.Reset()
			if flags.Has(FlagUpgrade) || !flags.Has(FlagKeepAlive) {
				return io.EOF
			}
		}
	}
	return nil
}

// WriteTo writes nothing.
func (c *Conn) WriteTo(w io.Writer) (int64, error) {
	return 0, nil
}

// Close notifies the handler that the connection is gone.
func (c *Conn) Close() error {
	c.x.Reset()
	return c.b.h.OnDisconnect(context.Background(), c.b.hctx)
}
