// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import "io"

const (
	// MaxRemainingLength is the largest remaining length four bytes can encode.
	MaxRemainingLength = 268435455

	// MaxPacketSize is the size of the largest encodable frame: the type byte,
	// four length bytes and MaxRemainingLength.
	MaxPacketSize = 1 + 4 + MaxRemainingLength

	maxMultiplier = 128 * 128 * 128
)

// AppendRemainingLength appends the variable length encoding of n to dst.
func AppendRemainingLength(dst []byte, n int) ([]byte, error) {
	if n < 0 || n > MaxRemainingLength {
		return dst, ErrRemainingLength
	}
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if n == 0 {
			return dst, nil
		}
	}
}

// DecodeRemainingLength decodes a remaining length from the start of p and
// returns it along with the number of bytes it occupied. It returns
// io.ErrUnexpectedEOF if p ends before the last length byte.
func DecodeRemainingLength(p []byte) (n, size int, err error) {
	multiplier := 1
	for i, b := range p {
		n += int(b&0x7f) * multiplier
		if b&0x80 == 0 {
			return n, i + 1, nil
		}
		if multiplier == maxMultiplier {
			return 0, 0, ErrRemainingLength
		}
		multiplier *= 128
	}
	return 0, 0, io.ErrUnexpectedEOF
}
