// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler links the protocol parsers to application logic.
//
// # Data Flow
//
//	socket → server (reads bytes) → parser (decodes a unit) → dispatcher → Handler
//
// The parsers themselves never call a Handler. For MQTT the mqtt.Dispatcher calls it
// once a control packet is complete; for HTTP the callbacks returned by
// http.HandlerCallbacks call it when the header block is complete and for every
// body chunk.
//
// # Handler Methods
//
// Authorization methods (Auth*) can reject an event:
//   - AuthConnect: MQTT CONNECT, HTTP request headers
//   - AuthPublish: MQTT PUBLISH, HTTP body chunks
//   - AuthSubscribe: MQTT SUBSCRIBE
//
// Notification methods (On*) cannot:
//   - OnConnect, OnPublish, OnSubscribe, OnUnsubscribe, OnDisconnect
//
// # Context
//
// A Context is created by the server for every accepted connection and filled in
// by the dispatcher as credentials are decoded. It lives as long as the connection.
package handler
