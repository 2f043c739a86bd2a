// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"context"
	"io"

	"github.com/absmach/sockparse/pkg/handler"
)

// Direction indicates the direction of packet flow.
type Direction int

const (
	// Inbound represents bytes read from the peer.
	Inbound Direction = iota

	// Outbound represents bytes queued for the peer.
	Outbound
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Parser is the per-connection end of a protocol decoder, as seen by a server.
//
// Feed is called with every chunk of bytes read from the socket, in arrival order.
// It must consume all of p: anything a protocol unit needs later is copied into the
// parser's own state before Feed returns. Completed units are dispatched from
// inside Feed. Any error is fatal to the connection; io.EOF asks for a clean close.
//
// WriteTo drains whatever the dispatcher queued for the peer. Close releases all
// parser state and is the only way to abandon a half-parsed unit.
type Parser interface {
	Feed(ctx context.Context, p []byte) error
	io.WriterTo
	io.Closer
}

// Factory creates the Parser for a newly accepted connection.
type Factory func(hctx *handler.Context) Parser
