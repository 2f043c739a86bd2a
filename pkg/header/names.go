// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"slices"
	"sync"

	"github.com/absmach/sockparse/pkg/trie"
)

// standardNames lists the request and response fields registered by RFC 9110 and
// its companions, in their canonical spelling.
var standardNames = [...]string{
	"Accept",
	"Accept-Charset",
	"Accept-Encoding",
	"Accept-Language",
	"Accept-Ranges",
	"Age",
	"Allow",
	"Authorization",
	"Cache-Control",
	"Connection",
	"Content-Disposition",
	"Content-Encoding",
	"Content-Language",
	"Content-Length",
	"Content-Location",
	"Content-Range",
	"Content-Type",
	"Cookie",
	"Date",
	"ETag",
	"Expect",
	"Expires",
	"From",
	"Host",
	"If-Match",
	"If-Modified-Since",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
	"Last-Modified",
	"Location",
	"Max-Forwards",
	"Pragma",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Range",
	"Referer",
	"Retry-After",
	"Server",
	"Set-Cookie",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"User-Agent",
	"Vary",
	"Via",
	"Warning",
	"WWW-Authenticate",
}

// commonNames lists widely used non-standard fields.
var commonNames = [...]string{
	"Origin",
	"Keep-Alive",
	"DNT",
	"Sec-WebSocket-Key",
	"Sec-WebSocket-Accept",
	"Sec-WebSocket-Version",
	"Sec-WebSocket-Protocol",
	"Sec-WebSocket-Extensions",
	"Strict-Transport-Security",
	"Upgrade-Insecure-Requests",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-IP",
	"X-Request-ID",
	"X-Requested-With",
	"X-Content-Type-Options",
	"X-Frame-Options",
}

var (
	knownOnce  sync.Once
	known      *trie.Trie
	knownNames []string
)

// Known returns the compressed trie built from the standard field names
// followed by the common non-standard ones. Trie IDs index into KnownNames. It
// is built on first use and read-only afterwards.
func Known() *trie.Trie {
	knownOnce.Do(func() {
		names := make([]string, 0, len(standardNames)+len(commonNames))
		names = append(names, standardNames[:]...)
		names = append(names, commonNames[:]...)

		t, err := trie.Build(names)
		if err != nil {
			// The corpus is static and free of empty entries.
			panic(err)
		}
		known, knownNames = t, names
	})
	return known
}

// Canonical returns the corpus spelling of name. The match is exact: names that
// differ from the corpus in case are not found.
func Canonical(name []byte) (string, bool) {
	id, err := Known().Get(name)
	if err != nil {
		return "", false
	}
	return knownNames[id], true
}

// KnownNames returns a copy of the corpus Known is built from, indexed by trie ID.
func KnownNames() []string {
	Known()
	return slices.Clone(knownNames)
}
