// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"errors"
	"io"
	"testing"
)

func TestRemainingLength_RoundTrip(t *testing.T) {
	tests := []struct {
		n    int
		size int
	}{
		{n: 0, size: 1},
		{n: 127, size: 1},
		{n: 128, size: 2},
		{n: 16383, size: 2},
		{n: 16384, size: 3},
		{n: 2097151, size: 3},
		{n: 2097152, size: 4},
		{n: MaxRemainingLength, size: 4},
	}

	for _, tt := range tests {
		enc, err := AppendRemainingLength(nil, tt.n)
		if err != nil {
			t.Fatalf("AppendRemainingLength(%d) error = %v", tt.n, err)
		}
		if len(enc) != tt.size {
			t.Errorf("Expected %d to take %d bytes, got %d", tt.n, tt.size, len(enc))
		}

		// Trailing bytes are not part of the length.
		n, size, err := DecodeRemainingLength(append(enc, 0xff, 0xff))
		if err != nil {
			t.Fatalf("DecodeRemainingLength(%x) error = %v", enc, err)
		}
		if n != tt.n || size != tt.size {
			t.Errorf("Expected %d in %d bytes, got %d in %d bytes", tt.n, tt.size, n, size)
		}
	}
}

func TestRemainingLength_Errors(t *testing.T) {
	for _, n := range []int{-1, MaxRemainingLength + 1} {
		if _, err := AppendRemainingLength(nil, n); !errors.Is(err, ErrRemainingLength) {
			t.Errorf("Expected ErrRemainingLength for %d, got %v", n, err)
		}
	}

	if _, _, err := DecodeRemainingLength([]byte{0xff, 0xff, 0xff, 0xff, 0x01}); !errors.Is(err, ErrRemainingLength) {
		t.Errorf("Expected ErrRemainingLength for a fifth byte, got %v", err)
	}
	if _, _, err := DecodeRemainingLength([]byte{0x80, 0x80}); err != io.ErrUnexpectedEOF {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}

	var m Message
	if _, err := m.Parse([]byte{0x30, 0xff, 0xff, 0xff, 0xff, 0x01}); !errors.Is(err, ErrRemainingLength) {
		t.Errorf("Expected Message to reject a fifth length byte, got %v", err)
	}
}
