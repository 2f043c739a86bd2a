// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
)

// Context carries per-connection metadata and the credentials the parsers
// decoded from the wire.
type Context struct {
	// SessionID is a unique identifier for this connection
	SessionID string

	// RemoteAddr is the peer's network address
	RemoteAddr string

	// Protocol is the protocol spoken on the connection (mqtt, http)
	Protocol string

	// ClientID is the MQTT client identifier from CONNECT
	ClientID string

	// Username from the MQTT CONNECT payload or HTTP Basic credentials
	Username string

	// Password from the MQTT CONNECT payload or the HTTP Authorization header
	Password []byte
}

// Handler receives protocol events once a parser has decoded a complete unit:
// an MQTT control packet or the header block and body chunks of an HTTP exchange.
//
// Auth methods run before the server acknowledges the event and may reject it by
// returning an error, which aborts the exchange or closes the session. They may
// also rewrite the topic, payload or topic list through the pointers.
//
// On methods are notifications. The server logs their errors and carries on.
type Handler interface {
	// AuthConnect authorizes an MQTT CONNECT or the header block of an HTTP request.
	AuthConnect(ctx context.Context, hctx *Context) error

	// AuthPublish authorizes an MQTT PUBLISH or a chunk of an HTTP request body.
	// For HTTP the topic is the request path.
	AuthPublish(ctx context.Context, hctx *Context, topic *string, payload *[]byte) error

	// AuthSubscribe authorizes the topic filters of an MQTT SUBSCRIBE.
	// Removing entries from topics drops them; the SUBACK reports them as failures.
	AuthSubscribe(ctx context.Context, hctx *Context, topics *[]string) error

	// OnConnect is called after AuthConnect succeeded and the CONNACK is queued.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnPublish is called after a publish was accepted.
	OnPublish(ctx context.Context, hctx *Context, topic string, payload []byte) error

	// OnSubscribe is called after a subscription was accepted.
	OnSubscribe(ctx context.Context, hctx *Context, topics []string) error

	// OnUnsubscribe is called for every MQTT UNSUBSCRIBE.
	OnUnsubscribe(ctx context.Context, hctx *Context, topics []string) error

	// OnDisconnect is called on MQTT DISCONNECT and when a connection is torn down.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler accepts everything.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) AuthPublish(ctx context.Context, hctx *Context, topic *string, payload *[]byte) error {
	return nil
}

func (h *NoopHandler) AuthSubscribe(ctx context.Context, hctx *Context, topics *[]string) error {
	return nil
}

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnPublish(ctx context.Context, hctx *Context, topic string, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnSubscribe(ctx context.Context, hctx *Context, topics []string) error {
	return nil
}

func (h *NoopHandler) OnUnsubscribe(ctx context.Context, hctx *Context, topics []string) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}
