// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package header

// ID identifies a header name. It is the hash of the case-folded name.
type ID uint32

const hashSeed = 5381

// Hasher is the incremental form of Hash, fed one byte at a time while a
// parser scans a header name.
type Hasher uint32

// NewHasher returns a seeded Hasher.
func NewHasher() Hasher {
	return hashSeed
}

// Update folds b into the hash.
func (h Hasher) Update(b byte) Hasher {
	return h*33 ^ Hasher(lower(b))
}

// Sum returns the ID for the bytes seen so far.
func (h Hasher) Sum() ID {
	return ID(h)
}

// Hash returns the ID of name. Names differing only in ASCII case hash equally.
func Hash(name []byte) ID {
	h := NewHasher()
	for _, b := range name {
		h = h.Update(b)
	}
	return h.Sum()
}

// HashString is Hash for strings.
func HashString(name string) ID {
	h := NewHasher()
	for i := 0; i < len(name); i++ {
		h = h.Update(name[i])
	}
	return h.Sum()
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b | 0x20
	}
	return b
}

// EqualFold reports whether a and b are equal under ASCII case folding.
func EqualFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

// Well-known header IDs the parsers dispatch on.
var (
	IDConnection       = HashString("Connection")
	IDContentLength    = HashString("Content-Length")
	IDExpect           = HashString("Expect")
	IDUpgrade          = HashString("Upgrade")
	IDTransferEncoding = HashString("Transfer-Encoding")
	IDSetCookie        = HashString("Set-Cookie")
	IDHost             = HashString("Host")
	IDAuthorization    = HashString("Authorization")
)
