// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"fmt"
	"iter"
	"math"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/absmach/sockparse/pkg/header"
)

const (
	protocol = "http"

	// maxChunkDigits keeps a chunk size within 60 bits.
	maxChunkDigits = 15
	versionLen     = len("HTTP/1.1")
)

var (
	contentLengthName    = []byte("Content-Length")
	transferEncodingName = []byte("Transfer-Encoding")
	expectName           = []byte("Expect")
	upgradeName          = []byte("Upgrade")

	http10 = []byte("HTTP/1.0")
	http11 = []byte("HTTP/1.1")

	tokenChars = "!#$%&'*+-.^_`|~0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	isToken    [256]bool
)

func init() {
	for i := 0; i < len(tokenChars); i++ {
		isToken[tokenChars[i]] = true
	}
}

func isCTL(c byte) bool {
	return c < 0x20 || c == 0x7f
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func callbackError(err error) error {
	return fmt.Errorf("%w: %w", perrors.ErrCallback, err)
}

// Parse consumes as much of p as the current request needs and returns the
// number of bytes consumed.
//
// Parse stops early when the request is complete or paused in StateExpect; the
// remaining bytes belong to the caller (the next pipelined request, or the body
// once Continue was called). After an error the Exchange is dead until Reset and
// every further call returns the same error.
func (x *Exchange) Parse(p []byte) (int, error) {
	if x.err != nil {
		return 0, x.err
	}
	// A client that does not wait for 100 Continue just sends the body.
	x.Continue()

	i := 0
	for i < len(p) {
		var (
			n   int
			err error
		)
		switch {
		case x.state == StateComplete, x.state == StateExpect:
			return i, nil
		case x.state == StateCRLF:
			n, err = x.parseCRLF(p[i])
		case x.state.requestLine():
			n, err = x.parseRequestLine(p[i:])
		case x.state.headers():
			n, err = x.parseHeaders(p[i:])
		default:
			n, err = x.parseBody(p[i:])
		}
		i += n
		if err != nil {
			return i, x.fail(err)
		}
	}
	return i, nil
}

func (x *Exchange) fail(err error) error {
	var op string
	switch {
	case x.state.requestLine():
		op = "request-line"
	case x.state.headers():
		op = "header"
	case x.state == StateCRLF:
		op = "crlf"
	default:
		op = "body"
	}
	x.err = perrors.New(op, protocol, x.state.String(), err)
	x.state = StateFailed
	return x.err
}

func (x *Exchange) push(c byte) error {
	if len(x.ws) == cap(x.ws) {
		if x.state.requestLine() {
			return ErrRequestLineTooLarge
		}
		return ErrHeadersTooLarge
	}
	x.ws = append(x.ws, c)
	return nil
}

func (x *Exchange) parseCRLF(c byte) (int, error) {
	if c != '\n' {
		return 0, ErrBadCRLF
	}
	x.state = x.next
	if x.state == StateComplete {
		return 1, x.done()
	}
	return 1, nil
}

func (x *Exchange) done() error {
	x.state = StateComplete
	x.sc = nil
	if x.cb.Done != nil {
		if err := x.cb.Done(x); err != nil {
			return callbackError(err)
		}
	}
	return nil
}

func (x *Exchange) parseRequestLine(p []byte) (int, error) {
	for i, c := range p {
		switch x.state {
		case StateConnected:
			// Stray CRLFs between pipelined requests are allowed.
			if c == '\r' || c == '\n' {
				continue
			}
			if !isToken[c] {
				return i, ErrInvalidMethod
			}
			x.method.start = len(x.ws)
			x.state = StateMethod
			if err := x.push(c); err != nil {
				return i, err
			}

		case StateMethod:
			if c == ' ' {
				x.method.end = len(x.ws)
				x.path.start = len(x.ws)
				x.state = StateURIPath
				continue
			}
			if !isToken[c] {
				return i, ErrInvalidMethod
			}
			if err := x.push(c); err != nil {
				return i, err
			}

		case StateURIPath:
			switch {
			case c == '?' || c == '#' || c == ' ':
				if len(x.ws) == x.path.start {
					return i, ErrInvalidRequestLine
				}
				x.path.end = len(x.ws)
				x.query = span{len(x.ws), len(x.ws)}
				x.fragment = x.query
				switch c {
				case '?':
					x.state = StateQuery
				case '#':
					x.state = StateFragment
				default:
					x.beginVersion()
				}
			case isCTL(c):
				return i, ErrInvalidRequestLine
			default:
				if err := x.push(c); err != nil {
					return i, err
				}
			}

		case StateQuery:
			switch {
			case c == '#' || c == ' ':
				x.query.end = len(x.ws)
				x.fragment = span{len(x.ws), len(x.ws)}
				if c == '#' {
					x.state = StateFragment
				} else {
					x.beginVersion()
				}
			case isCTL(c):
				return i, ErrInvalidRequestLine
			default:
				if err := x.push(c); err != nil {
					return i, err
				}
			}

		case StateFragment:
			switch {
			case c == ' ':
				x.fragment.end = len(x.ws)
				x.beginVersion()
			case isCTL(c):
				return i, ErrInvalidRequestLine
			default:
				if err := x.push(c); err != nil {
					return i, err
				}
			}

		case StateVersion:
			if c == '\r' {
				x.version.end = len(x.ws)
				if err := x.setVersion(); err != nil {
					return i, err
				}
				x.state = StateCRLF
				x.next = StateHeaderName
				x.beginHeader()
				return i + 1, nil
			}
			if len(x.ws)-x.version.start == versionLen || c == ' ' || isCTL(c) {
				return i, ErrUnsupportedVersion
			}
			if err := x.push(c); err != nil {
				return i, err
			}
		}
	}
	return len(p), nil
}

func (x *Exchange) beginVersion() {
	x.version.start = len(x.ws)
	x.state = StateVersion
}

func (x *Exchange) setVersion() error {
	switch v := x.Version(); {
	case bytes.Equal(v, http11):
		x.flags |= FlagHTTP11 | FlagChunkedCapable | FlagKeepAlive
	case bytes.Equal(v, http10):
	default:
		return ErrUnsupportedVersion
	}
	return nil
}

// beginHeader starts a header field, reusing the scratch of the previous one.
func (x *Exchange) beginHeader() {
	hs, ok := x.sc.(*headerScratch)
	if !ok {
		hs = &headerScratch{}
		x.sc = hs
	}
	*hs = headerScratch{
		hash:      header.NewHasher(),
		nameStart: len(x.ws),
	}
}

func (x *Exchange) parseHeaders(p []byte) (int, error) {
	hs := x.sc.(*headerScratch)
	for i, c := range p {
		switch x.state {
		case StateHeaderName:
			switch {
			case c == '\r':
				if len(x.ws) != hs.nameStart {
					return i, ErrInvalidHeader
				}
				if err := x.endHeaders(); err != nil {
					return i, err
				}
				return i + 1, nil
			case c == ':':
				if len(x.ws) == hs.nameStart {
					return i, ErrInvalidHeader
				}
				hs.nameEnd = len(x.ws)
				x.state = StateHeaderValueLeadingSpace
			case isToken[c]:
				if err := x.push(c); err != nil {
					return i, err
				}
				hs.hash = hs.hash.Update(c)
			default:
				return i, ErrInvalidHeader
			}

		case StateHeaderValueLeadingSpace:
			if c == ' ' || c == '\t' {
				continue
			}
			hs.valueStart = len(x.ws)
			x.state = StateHeaderValue
			fallthrough

		case StateHeaderValue:
			switch {
			case c == '\r':
				if err := x.endField(hs); err != nil {
					return i, err
				}
				return i + 1, nil
			case c == '\t' || !isCTL(c):
				if err := x.push(c); err != nil {
					return i, err
				}
			default:
				return i, ErrInvalidHeader
			}
		}
	}
	return len(p), nil
}

func (x *Exchange) endField(hs *headerScratch) error {
	end := len(x.ws)
	for end > hs.valueStart && (x.ws[end-1] == ' ' || x.ws[end-1] == '\t') {
		end--
	}
	id := hs.hash.Sum()
	name := x.ws[hs.nameStart:hs.nameEnd:hs.nameEnd]
	value := x.ws[hs.valueStart:end:end]

	x.headers.AddHashed(id, name, value)
	if err := x.onField(id, name, value); err != nil {
		return err
	}
	x.state = StateCRLF
	x.next = StateHeaderName
	x.beginHeader()
	return nil
}

// onField updates the request flags from the fields that drive framing.
func (x *Exchange) onField(id header.ID, name, value []byte) error {
	switch {
	case id == header.IDConnection && header.EqualFold(name, connectionName):
		for tok := range tokens(value) {
			switch {
			case header.EqualFold(tok, closeValue):
				x.flags &^= FlagKeepAlive
			case header.EqualFold(tok, keepAliveValue):
				x.flags |= FlagKeepAlive
			}
		}

	case id == header.IDContentLength && header.EqualFold(name, contentLengthName):
		n, err := parseContentLength(value)
		if err != nil {
			return err
		}
		if x.contentLength >= 0 && x.contentLength != n {
			return ErrInvalidContentLength
		}
		if x.cfg.MaxBodySize > 0 && n > x.cfg.MaxBodySize {
			return ErrBodyTooLarge
		}
		x.contentLength = n

	case id == header.IDTransferEncoding && header.EqualFold(name, transferEncodingName):
		// Repeated fields are judged on the joined list, as one field would be.
		if joined, ok := x.headers.GetHashed(id, name); ok {
			value = joined
		}
		x.flags &^= FlagChunked
		var last []byte
		for tok := range tokens(value) {
			if last != nil && header.EqualFold(last, chunkedValue) {
				// chunked must be the final coding.
				return ErrChunkedEncoding
			}
			last = tok
		}
		if !header.EqualFold(last, chunkedValue) {
			return nil
		}
		if !x.flags.Has(FlagChunkedCapable) {
			return ErrChunkedEncoding
		}
		x.flags |= FlagChunked

	case id == header.IDExpect && header.EqualFold(name, expectName):
		if header.EqualFold(value, continueValue) {
			x.flags |= FlagExpectContinue
		}

	case id == header.IDUpgrade && header.EqualFold(name, upgradeName):
		x.flags |= FlagUpgrade
	}
	return nil
}

var (
	chunkedValue  = []byte("chunked")
	continueValue = []byte("100-continue")
)

// tokens yields the trimmed, non-empty elements of a comma-separated list.
func tokens(v []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for len(v) > 0 {
			tok := v
			if i := bytes.IndexByte(v, ','); i >= 0 {
				tok, v = v[:i], v[i+1:]
			} else {
				v = nil
			}
			tok = bytes.TrimSpace(tok)
			if len(tok) > 0 && !yield(tok) {
				return
			}
		}
	}
}

func parseContentLength(v []byte) (int64, error) {
	if len(v) == 0 {
		return 0, ErrInvalidContentLength
	}
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, ErrInvalidContentLength
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, ErrInvalidContentLength
		}
		n = n*10 + d
	}
	return n, nil
}

// endHeaders runs on the CR of the empty line that closes the header block.
func (x *Exchange) endHeaders() error {
	if x.flags.Has(FlagChunked) && x.contentLength >= 0 {
		return ErrAmbiguousLength
	}

	x.sc = nil
	next := StateComplete
	switch {
	case x.flags.Has(FlagUpgrade):
	case x.flags.Has(FlagChunked):
		next = StateBodyChunkHeader
		x.beginChunk(false)
	case x.contentLength > 0:
		next = StateBody
		x.remaining = uint64(x.contentLength)
	}
	if next != StateComplete && x.flags.Has(FlagExpectContinue) {
		x.afterExpect = next
		next = StateExpect
	}

	x.prepareResponse()
	if x.cb.Header != nil {
		if err := x.cb.Header(x); err != nil {
			return callbackError(err)
		}
	}
	x.state = StateCRLF
	x.next = next
	return nil
}

func (x *Exchange) beginChunk(last bool) {
	cs, ok := x.sc.(*chunkScratch)
	if !ok {
		cs = &chunkScratch{}
		x.sc = cs
	}
	*cs = chunkScratch{last: last}
}

func (x *Exchange) parseBody(p []byte) (int, error) {
	switch x.state {
	case StateBody:
		return x.parseBodyData(p)
	case StateBodyChunkHeader:
		return x.parseChunkHeader(p)
	default:
		return x.parseChunkTrailer(p)
	}
}

func (x *Exchange) parseBodyData(p []byte) (int, error) {
	n := len(p)
	if uint64(n) > x.remaining {
		n = int(x.remaining)
	}
	x.remaining -= uint64(n)
	x.bodyRead += int64(n)
	if x.cb.Body != nil {
		if err := x.cb.Body(x, p[:n:n]); err != nil {
			return n, callbackError(err)
		}
	}
	if x.remaining > 0 {
		return n, nil
	}
	if x.flags.Has(FlagChunked) {
		// Every chunk is followed by CRLF, which the trailer state skips.
		x.sc.(*chunkScratch).lineLen = 0
		x.state = StateBodyChunkTrailer
		return n, nil
	}
	return n, x.done()
}

func (x *Exchange) parseChunkHeader(p []byte) (int, error) {
	cs := x.sc.(*chunkScratch)
	for i, c := range p {
		switch {
		case c == '\r':
			if cs.digits == 0 {
				return i, ErrChunkedEncoding
			}
			x.state = StateCRLF
			if cs.size == 0 {
				cs.last = true
				x.next = StateBodyChunkTrailer
				return i + 1, nil
			}
			if limit := x.cfg.MaxBodySize; limit > 0 && cs.size > uint64(limit-x.bodyRead) {
				return i, ErrBodyTooLarge
			}
			x.remaining = cs.size
			x.next = StateBody
			return i + 1, nil
		case cs.ext:
			// Chunk extensions are skipped.
			if c == '\n' {
				return i, ErrChunkedEncoding
			}
		case c == ';' || c == ' ' || c == '\t':
			if cs.digits == 0 {
				return i, ErrChunkedEncoding
			}
			cs.ext = true
		default:
			v, ok := unhex(c)
			if !ok || cs.digits == maxChunkDigits {
				return i, ErrChunkedEncoding
			}
			cs.digits++
			cs.size = cs.size<<4 | uint64(v)
		}
	}
	return len(p), nil
}

// parseChunkTrailer skips to the end of the line after a chunk. After the last
// chunk it skips trailer fields up to the empty line that ends the body.
func (x *Exchange) parseChunkTrailer(p []byte) (int, error) {
	cs := x.sc.(*chunkScratch)
	for i, c := range p {
		if !cs.last {
			if c == '\n' {
				x.beginChunk(false)
				x.state = StateBodyChunkHeader
				return i + 1, nil
			}
			continue
		}
		switch c {
		case '\r':
		case '\n':
			if cs.lineLen == 0 {
				return i + 1, x.done()
			}
			cs.lineLen = 0
		default:
			cs.lineLen++
		}
	}
	return len(p), nil
}
