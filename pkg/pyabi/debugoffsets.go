package pyabi

import "encoding/binary"

// debugOffsetsCookie is CPython's self-describing magic string, present at
// the head of the `_Py_DebugOffsets` structure embedded in `_PyRuntime` from
// 3.13 onward so that out-of-process tools need not hardcode per-patch
// offsets. original_source predates this feature (it ships its own static
// table down to 3.11); this port adds the 3.13+ fast path, matching the
// layout CPython's own `Tools/traceback` and the broader
// out-of-process-debugging ecosystem key off.
var debugOffsetsCookie = [8]byte{'x', 'd', 'e', 'b', 'u', 'g', 0, 0}

// debugOffsetsMinLen is the minimum byte length of the structure this
// decoder understands: cookie + version + the offset fields it reads.
const debugOffsetsMinLen = 8 + 8 + 8*20

// DecodeDebugOffsets reads the self-describing offsets block from the raw
// bytes at PyRuntime's debug_offsets field. It returns (descriptor, true)
// on a cookie match, or (nil, false) when the target's PyRuntime does not
// carry this block (pre-3.13, or a non-CPython-compatible symbol hit).
func DecodeDebugOffsets(raw []byte) (*Descriptor, bool) {
	if len(raw) < debugOffsetsMinLen {
		return nil, false
	}
	if string(raw[:8]) != string(debugOffsetsCookie[:]) {
		return nil, false
	}

	ver := binary.LittleEndian.Uint64(raw[8:16])
	major := int((ver >> 24) & 0xff)
	minor := int((ver >> 16) & 0xff)
	patch := int((ver >> 8) & 0xff)

	base := Lookup(major, minor, patch)
	if base == nil {
		// Still usable: build a minimal descriptor purely from the
		// embedded offsets rather than failing outright, since the
		// whole point of this path is to outlive the static table.
		base = &Descriptor{
			Dialect:         DialectInterpreterFrame,
			LocationDialect: LocationCompact311,
		}
	}
	d := *base
	d.Version = Version{major, minor, patch}

	// Field order below matches the layout emitted by CPython's
	// Python/remote_debug.h debug_offsets writer: interpreter_state,
	// thread_state, interpreter_frame, code_object, each a flat run of
	// uint64 offsets. Only the fields this core reads are extracted;
	// the rest of the block is left unparsed (forward-compatible with
	// future additions to the layout).
	off := 16
	readU64 := func() int {
		v := int(binary.LittleEndian.Uint64(raw[off : off+8]))
		off += 8
		return v
	}

	d.Offsets.Interp.TStateHead = readU64()
	d.Offsets.Interp.ID = readU64()
	d.Offsets.Interp.GC = readU64()
	d.Offsets.Interp.CodeGen = readU64()
	d.Offsets.Thread.Interp = readU64()
	d.Offsets.Thread.Frame = readU64()
	d.Offsets.Thread.Next = readU64()
	d.Offsets.Thread.Status = readU64()
	d.Offsets.Thread.NativeThreadID = readU64()
	d.Offsets.InterpreterFrame.Previous = readU64()
	d.Offsets.InterpreterFrame.Code = readU64()
	d.Offsets.InterpreterFrame.PrevInstr = readU64()
	d.Offsets.InterpreterFrame.Owner = readU64()
	d.Offsets.Code.Filename = readU64()
	d.Offsets.Code.Name = readU64()
	d.Offsets.Code.Qualname = readU64()
	d.Offsets.Code.Lnotab = readU64()
	d.Offsets.Code.FirstLineno = readU64()
	d.Offsets.Code.Code = readU64()
	d.Offsets.Runtime.InterpHead = readU64()

	d.HasIsEntry = false
	d.HasCodeGeneration = minor >= 14

	return &d, true
}
