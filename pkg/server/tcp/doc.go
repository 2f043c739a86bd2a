// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements a protocol-agnostic TCP server for the sockparse parsers.
//
// # Overview
//
// The server accepts connections and creates one parser.Parser per connection
// through a parser.Factory. It owns the socket; the parser never sees it.
//
//	┌─────────┐         ┌─────────┐  Feed   ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server │ ──────→ │ Parser  │ ──→ Handler
//	└─────────┘         └─────────┘ ←────── └─────────┘
//	                                WriteTo
//
// # Connection Flow
//
//  1. Server accepts the connection and assigns a uuid session ID
//  2. Factory creates the parser with a fresh handler.Context
//  3. Every read is passed to Feed, then queued replies are flushed with WriteTo
//  4. io.EOF from Feed or from the socket ends the connection cleanly
//  5. Any other error ends it with that error
//  6. Parser.Close runs exactly once, which notifies the handler
//
// Replies are flushed even when Feed fails, so a refusing CONNACK reaches the
// client before the socket closes.
//
// # Graceful Shutdown
//
// When the context passed to Listen or Serve is cancelled the listener closes
// and active connections are given ShutdownTimeout to finish. After that the
// remaining sockets are closed and Serve returns ErrShutdownTimeout.
//
// # Example
//
//	factory := mqtt.NewFactory(mqtt.Config{}, h, m, logger)
//	srv := tcp.New(tcp.Config{
//		Address:  ":1883",
//		Protocol: "mqtt",
//		Logger:   logger,
//		Metrics:  m,
//	}, factory)
//	if err := srv.Listen(ctx); err != nil {
//		logger.Error("server stopped", slog.String("error", err.Error()))
//	}
package tcp
