// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http implements an incremental HTTP/1.x request parser.
//
// # Overview
//
// Exchange is a byte-driven state machine. Input may be split at any byte
// boundary: every Parse call consumes what it can, records where it stopped and
// returns the number of bytes consumed. The next call resumes from that state.
//
//	x := http.NewExchange(http.Config{}, http.Callbacks{
//		Header: func(x *http.Exchange) error { ... },
//		Body:   func(x *http.Exchange, chunk []byte) error { ... },
//	})
//	for !x.Complete() {
//		n, err := x.Parse(buf)
//		...
//	}
//
// # Memory
//
// The request line and header fields are copied into a workspace of fixed
// capacity. Method, Path, Query, Fragment, Version and the header table all
// reference that workspace and stay valid until Reset. Running out of workspace
// is a resource error: ErrRequestLineTooLarge (414) while parsing the request
// line and ErrHeadersTooLarge (431) afterwards. Body bytes are passed to the Body
// callback as slices of the caller's input and are never copied.
//
// # Framing
//
// The body is framed by Content-Length or by chunked Transfer-Encoding. Chunked
// bodies are decoded: the callback sees chunk data only, never sizes, extensions
// or trailers. A request carrying both, conflicting Content-Length values or
// chunked framing on HTTP/1.0 is rejected.
//
// Upgrade requests stop after the header block. "Expect: 100-continue" pauses the
// exchange in StateExpect until Continue is called or more input arrives.
//
// # Handler Bridge
//
// Conn drives an Exchange for a connection and reports to a handler.Handler:
//
//   - AuthConnect and OnConnect when the header block is complete, with
//     credentials taken from Basic authorization, the "authorization" query
//     parameter or the raw Authorization header.
//   - AuthPublish and OnPublish for every body chunk, with the path as topic.
//
// The parser sets hctx.Protocol = "http" for all HTTP connections.
package http
