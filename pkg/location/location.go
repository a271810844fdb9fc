// Package location decodes CPython's bytecode-offset-to-source-position
// tables: the compact 3.11+ format, and the two older co_lnotab layouts.
// Each decoder is a pure function of (table bytes, last-instruction
// index) so it can be exhaustively table tested without any process or
// memory dependency.
package location

// Location is one decoded source position.
type Location struct {
	Line, LineEnd     int32
	Column, ColumnEnd int32
	// NoLocation reports that this bytecode range has no source mapping
	// (format 15 in the compact table): callers should emit a frame
	// without column information.
	NoLocation bool
}

// Decoder maps a code object's raw location table and a last-instruction
// index to a Location. Each decoder applies its own dialect's lasti
// scaling; Line and LineEnd are offsets from the code object's first line.
type Decoder func(table []byte, lasti int32) Location

// DecodeCompact311 implements the 3.11+ variable-length location table.
func DecodeCompact311(table []byte, lasti int32) Location {
	var loc Location
	var bcOffset int32

	i := 0
	for i < len(table) {
		first := table[i]
		i++
		bcDelta := int32(first&0x07) + 1
		format := (first >> 3) & 0x0f

		switch {
		case format == 15:
			// No location for this bytecode run: leave loc as the
			// last real record computed, matching
			// original_source/src/frame.h's "case 15: break;".
			bcOffset += bcDelta
			if bcOffset > lasti {
				loc.NoLocation = true
				return loc
			}
			continue
		case format == 14:
			lineDelta, n := readSignedVarint(table[i:])
			i += n
			lineSpan, n := readVarint(table[i:])
			i += n
			col, n := readVarint(table[i:])
			i += n
			colEnd, n := readVarint(table[i:])
			i += n
			loc.Line += lineDelta
			loc.LineEnd = loc.Line + lineSpan
			loc.Column = col
			loc.ColumnEnd = colEnd
		case format == 13:
			lineDelta, n := readSignedVarint(table[i:])
			i += n
			loc.Line += lineDelta
			loc.LineEnd = loc.Line
			loc.Column = -1
			loc.ColumnEnd = -1
		case format >= 10 && format <= 12:
			loc.Line += int32(format - 10)
			loc.LineEnd = loc.Line
			loc.Column = int32(table[i]) + 1
			i++
			loc.ColumnEnd = int32(table[i]) + 1
			i++
		default:
			b := table[i]
			i++
			loc.LineEnd = loc.Line
			loc.Column = 1 + int32(format)<<3 + int32((b>>4)&0x07)
			loc.ColumnEnd = loc.Column + int32(b&0x0f)
		}

		bcOffset += bcDelta
		if bcOffset > lasti {
			return loc
		}
	}
	return loc
}

// readVarint reads an unsigned variable-length integer in the compact
// table's encoding: 6 bits of data per byte, low-to-high, continuation
// flagged by bit 6 of each byte (0x40).
func readVarint(b []byte) (int32, int) {
	if len(b) == 0 {
		return 0, 0
	}
	var value int32
	var shift uint
	i := 0
	first := b[i]
	value = int32(first & 0x3f)
	shift = 6
	i++
	for first&0x40 != 0 {
		if i >= len(b) {
			break
		}
		first = b[i]
		value |= int32(first&0x3f) << shift
		shift += 6
		i++
	}
	return value, i
}

// readSignedVarint reads a varint whose low bit (after the standard
// varint decode) carries the sign, zig-zag style, matching the "long
// form" signed line delta in format 14/13.
func readSignedVarint(b []byte) (int32, int) {
	v, n := readVarint(b)
	if v&1 != 0 {
		return -(v >> 1), n
	}
	return v >> 1, n
}

// DecodeLnotab310 implements the classic co_lnotab format used by CPython
// 3.10, where lasti counts 16-bit instruction words: it is scaled by 2
// here to the byte offsets the table stores.
func DecodeLnotab310(table []byte, lasti int32) Location {
	return decodeLnotab(table, lasti*2)
}

// DecodeLnotabPre310 implements the co_lnotab format used before 3.10,
// where lasti is a raw byte offset with no scaling.
func DecodeLnotabPre310(table []byte, lasti int32) Location {
	return decodeLnotab(table, lasti)
}

func decodeLnotab(table []byte, lastiBytes int32) Location {
	var line int32
	var addr int32
	i := 0
	for i+1 < len(table) {
		sdelta := table[i]
		ldelta := int8(table[i+1])
		i += 2

		if sdelta == 0xff {
			break
		}

		if addr+int32(sdelta) > lastiBytes {
			break
		}
		addr += int32(sdelta)
		line += int32(ldelta)
	}
	return Location{Line: line, LineEnd: line, Column: -1, ColumnEnd: -1}
}
