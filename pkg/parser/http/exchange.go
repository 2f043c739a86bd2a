// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"github.com/absmach/sockparse/pkg/header"
)

// DefaultWorkspaceSize is the workspace capacity used when Config leaves it unset.
const DefaultWorkspaceSize = 8192

// Config bounds the memory an Exchange may use.
type Config struct {
	// WorkspaceSize is the capacity of the buffer holding the request line and
	// header fields. Defaults to DefaultWorkspaceSize.
	WorkspaceSize int `env:"WORKSPACE_SIZE" envDefault:"8192"`

	// MaxBodySize caps the body length. Zero means unlimited.
	MaxBodySize int64 `env:"MAX_BODY_SIZE" envDefault:"0"`
}

// HeaderFunc is called once the header block is complete.
type HeaderFunc func(x *Exchange) error

// BodyFunc is called with every body chunk as it arrives. chunk is only valid
// during the call.
type BodyFunc func(x *Exchange, chunk []byte) error

// Callbacks are the hooks an Exchange reports to. All of them are optional.
// A non-nil error aborts the exchange.
type Callbacks struct {
	Header HeaderFunc
	Body   BodyFunc
	// Done is called when the exchange reaches StateComplete.
	Done func(x *Exchange) error
}

// Response is the response skeleton prepared when the header block is complete.
// Its Connection header already reflects the keep-alive decision.
type Response struct {
	Status  int
	Headers *header.Table
}

var (
	connectionName = []byte("Connection")
	keepAliveValue = []byte("Keep-alive")
	closeValue     = []byte("close")
)

// span is a [start, end) region of the workspace.
type span struct {
	start, end int
}

// scratch is the phase-specific working state of an Exchange: a *headerScratch
// while header fields are parsed and a *chunkScratch while chunk framing is. It
// is nil in every other phase.
type scratch interface {
	phase() string
}

type headerScratch struct {
	hash       header.Hasher
	nameStart  int
	nameEnd    int
	valueStart int
}

func (*headerScratch) phase() string { return "header" }

type chunkScratch struct {
	size    uint64
	digits  int
	ext     bool
	last    bool
	lineLen int
}

func (*chunkScratch) phase() string { return "chunk" }

// Exchange parses one HTTP/1.x request at a time from arbitrarily split input.
//
// The request line and header fields are copied into a fixed-capacity workspace
// and every accessor returns a slice of it, valid until Reset. Body bytes are never
// copied: they are handed to the Body callback as slices of the caller's input.
//
// An Exchange is not safe for concurrent use.
type Exchange struct {
	cfg Config
	cb  Callbacks

	ws    []byte
	state State
	next  State
	// afterExpect is the body state an Expect pause resumes into.
	afterExpect State

	method   span
	path     span
	query    span
	fragment span
	version  span

	contentLength int64
	remaining     uint64
	bodyRead      int64
	flags         Flags

	headers *header.Table
	resp    Response
	ready   bool

	sc scratch

	err error
}

// NewExchange returns an Exchange waiting for the first byte of a request.
func NewExchange(cfg Config, cb Callbacks) *Exchange {
	if cfg.WorkspaceSize <= 0 {
		cfg.WorkspaceSize = DefaultWorkspaceSize
	}
	x := &Exchange{
		cfg:     cfg,
		cb:      cb,
		ws:      make([]byte, 0, cfg.WorkspaceSize),
		headers: header.NewTable(),
		resp:    Response{Headers: header.NewTable()},
	}
	x.Reset()
	return x
}

// Reset prepares x for the next request on the same connection. Slices returned
// by accessors become invalid.
func (x *Exchange) Reset() {
	x.ws = x.ws[:0]
	x.state = StateConnected
	x.next = StateConnected
	x.afterExpect = StateConnected
	x.method, x.path, x.query, x.fragment, x.version = span{}, span{}, span{}, span{}, span{}
	x.contentLength = -1
	x.remaining = 0
	x.bodyRead = 0
	x.flags = 0
	x.headers.Clear()
	x.resp.Status = 0
	x.resp.Headers.Clear()
	x.ready = false
	x.sc = nil
	x.err = nil
}

// State returns the current parser state.
func (x *Exchange) State() State {
	return x.state
}

// Complete reports whether the request has been fully parsed.
func (x *Exchange) Complete() bool {
	return x.state == StateComplete
}

// Err returns the error that stopped the exchange, if any.
func (x *Exchange) Err() error {
	return x.err
}

// Continue releases an exchange paused in StateExpect. It is a no-op otherwise.
func (x *Exchange) Continue() {
	if x.state == StateExpect {
		x.state = x.afterExpect
	}
}

func (x *Exchange) slice(s span) []byte {
	return x.ws[s.start:s.end]
}

// Method returns the request method.
func (x *Exchange) Method() []byte { return x.slice(x.method) }

// Path returns the request path without query and fragment.
func (x *Exchange) Path() []byte { return x.slice(x.path) }

// Query returns the query without the leading '?'. It is empty, never nil, once
// the request line is parsed.
func (x *Exchange) Query() []byte { return x.slice(x.query) }

// Fragment returns the fragment without the leading '#'.
func (x *Exchange) Fragment() []byte { return x.slice(x.fragment) }

// Version returns the protocol version, e.g. "HTTP/1.1".
func (x *Exchange) Version() []byte { return x.slice(x.version) }

// Headers returns the request header table.
func (x *Exchange) Headers() *header.Table { return x.headers }

// Header returns the value of the named request header.
func (x *Exchange) Header(name string) (string, bool) {
	return x.headers.GetString(name)
}

// Flags returns the request flags.
func (x *Exchange) Flags() Flags { return x.flags }

// ContentLength returns the declared body length, or -1 if none was declared.
func (x *Exchange) ContentLength() int64 { return x.contentLength }

// BodyRead returns how many body bytes have been delivered so far.
func (x *Exchange) BodyRead() int64 { return x.bodyRead }

// Response returns the response skeleton, or nil until the header block is complete.
func (x *Exchange) Response() *Response {
	if !x.ready {
		return nil
	}
	return &x.resp
}

func (x *Exchange) prepareResponse() {
	x.resp.Status = 200
	x.resp.Headers.Clear()
	keepAlive := x.flags.Has(FlagKeepAlive)
	http11 := x.flags.Has(FlagHTTP11)
	switch {
	case keepAlive && !http11:
		x.resp.Headers.InsertHashed(header.IDConnection, connectionName, keepAliveValue)
	case !keepAlive && http11:
		x.resp.Headers.InsertHashed(header.IDConnection, connectionName, closeValue)
	}
	x.ready = true
}
