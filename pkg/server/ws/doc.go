// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ws serves a stream parser over WebSocket, typically MQTT over WebSocket.
//
// The server upgrades HTTP requests with gorilla/websocket and offers a single
// subprotocol, Config.Protocol ("mqtt" by default). Every binary message is passed
// to Parser.Feed; message boundaries carry no meaning, so a frame may span several
// messages and a message may hold several frames. After each Feed whatever the
// parser queued is sent back as one binary message.
//
// Text messages close the connection with 1003 (unsupported data). A Feed error
// closes it with 1002 (protocol error) after the queued replies were sent, and
// io.EOF from Feed closes it normally. Messages above Config.MaxMessageSize are
// refused with 1009 (message too big) while they are read, before being buffered.
//
// A Server is an http.Handler and can be mounted on an existing mux, or it can
// run its own listener with Listen or Serve. A Server serves once: after its
// listener shut down it cannot be started again.
package ws
