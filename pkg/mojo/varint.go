// Package mojo implements the MOJO v3 binary event wire format: the only
// output format this sampler produces, grounded directly on
// original_source/src/mojo.h's encoding.
package mojo

// maxRefBits is the bit width references (frame/string keys) are masked
// to before encoding, matching MOJO_INT32 in original_source/src/mojo.h.
const maxRefBits = 6 + 7*3 // 27 bits of payload across 4 encoded bytes

const refMask = (uint64(1) << maxRefBits) - 1

// EncodeVarint writes an unsigned (or magnitude-with-sign) varint using
// MOJO's continuation encoding: 6 data bits + a sign bit (bit 6) +
// continuation bit (bit 7) in the first byte, then 7 data bits +
// continuation bit in each subsequent byte.
func EncodeVarint(dst []byte, value uint64, negative bool) []byte {
	b := byte(value & 0x3f)
	if negative {
		b |= 0x40
	}
	value >>= 6
	if value != 0 {
		b |= 0x80
	}
	dst = append(dst, b)
	for value != 0 {
		b = byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// EncodeSignedVarint encodes a signed value as a magnitude + explicit sign
// bit, matching mojo_metric_memory's `value < 0 ? -value : value, value < 0`.
func EncodeSignedVarint(dst []byte, value int64) []byte {
	if value < 0 {
		return EncodeVarint(dst, uint64(-value), true)
	}
	return EncodeVarint(dst, uint64(value), false)
}

// EncodeRef encodes a reference (frame/string key) truncated to the
// MOJO_INT32 mask, since references are never written with more than 4
// encoded bytes: the mask caps the payload at 27 bits (6 + 7*3).
func EncodeRef(dst []byte, key uint64) []byte {
	return EncodeVarint(dst, key&refMask, false)
}

// DecodeVarint reads one varint from b, returning (magnitude, negative,
// bytes consumed). It is the exact inverse of EncodeVarint, used by tests
// and by any future reader-side tooling.
func DecodeVarint(b []byte) (value uint64, negative bool, n int) {
	if len(b) == 0 {
		return 0, false, 0
	}
	first := b[0]
	value = uint64(first & 0x3f)
	negative = first&0x40 != 0
	n = 1
	shift := uint(6)
	for first&0x80 != 0 {
		if n >= len(b) {
			break
		}
		first = b[n]
		value |= uint64(first&0x7f) << shift
		shift += 7
		n++
	}
	return value, negative, n
}
