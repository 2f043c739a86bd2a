// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

// State is the position of an Exchange in the request grammar.
type State uint8

const (
	StateConnected State = iota
	StateMethod
	StateURIPath
	StateQuery
	StateFragment
	StateVersion
	// StateCRLF expects the LF of a CR LF pair, then moves to the stored next state.
	StateCRLF
	StateHeaderName
	StateHeaderValueLeadingSpace
	StateHeaderValue
	// StateExpect pauses before the body of an "Expect: 100-continue" request.
	StateExpect
	StateBodyChunkHeader
	StateBody
	StateBodyChunkTrailer
	StateComplete
	// StateFailed is terminal until Reset.
	StateFailed
)

var stateNames = [...]string{
	StateConnected:               "connected",
	StateMethod:                  "method",
	StateURIPath:                 "uri-path",
	StateQuery:                   "query",
	StateFragment:                "fragment",
	StateVersion:                 "version",
	StateCRLF:                    "crlf",
	StateHeaderName:              "header-name",
	StateHeaderValueLeadingSpace: "header-value-leading-space",
	StateHeaderValue:             "header-value",
	StateExpect:                  "expect",
	StateBodyChunkHeader:         "body-chunk-header",
	StateBody:                    "body",
	StateBodyChunkTrailer:        "body-chunk-trailer",
	StateComplete:                "complete",
	StateFailed:                  "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) requestLine() bool {
	return s <= StateVersion
}

func (s State) headers() bool {
	return s >= StateHeaderName && s <= StateHeaderValue
}

// Flags describe the request as far as it has been parsed.
type Flags uint8

const (
	// FlagKeepAlive is set when the connection should stay open after the exchange.
	FlagKeepAlive Flags = 1 << iota
	// FlagChunked is set by "Transfer-Encoding: chunked".
	FlagChunked
	// FlagUpgrade is set by an Upgrade header. The parser stops after the header
	// block and the bytes that follow belong to the upgraded protocol.
	FlagUpgrade
	// FlagExpectContinue is set by "Expect: 100-continue".
	FlagExpectContinue
	// FlagHTTP11 is set for HTTP/1.1 requests.
	FlagHTTP11
	// FlagChunkedCapable is set when the peer understands chunked framing.
	FlagChunkedCapable
)

// Has reports whether all bits of o are set in f.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}
