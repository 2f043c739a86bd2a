// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser defines the contract between the incremental protocol parsers and
// the servers that feed them.
//
// # Incremental Parsing
//
// Both protocol parsers are byte-driven state machines. The state lives in a
// per-connection object (http.Exchange, mqtt.Session) and every call to its Parse
// method consumes bytes left to right until the input runs out, a protocol unit
// completes, or an error occurs:
//
//	n, err := x.Parse(buf)
//	// err != nil: fatal, close the connection
//	// n < len(buf): a unit completed; dispatch it, reset, parse buf[n:]
//	// n == len(buf): need more bytes
//
// Splitting the input at arbitrary points yields the same final state as feeding
// it in one piece. No parser retries, logs or blocks.
//
// # Servers
//
// Servers only see the Parser interface. http.Conn and mqtt.Conn wrap the state
// machines with the dispatch loop above and implement it.
//
//	TCP Server:
//	  - One goroutine per connection reads into a buffer and calls Feed
//	  - After each Feed the server calls WriteTo to flush queued replies
//
//	WebSocket Server:
//	  - Each binary message is handed to Feed
//	  - WriteTo output is sent back as one binary message
package parser
