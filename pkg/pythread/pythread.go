// Package pythread reads one CPython ThreadState at a time out of a
// target's memory and advances through the thread list. It also
// implements the bounded-window native thread-id discovery procedure
// needed on pre-3.11 interpreters.
package pythread

import (
	"encoding/binary"

	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
)

// Handle is the transient, per-walk thread structure: it carries just
// enough state to let the frame unwinder and sampler do their work
// without re-deriving it.
type Handle struct {
	Addr      uintptr
	Next      uintptr
	NativeTID uint64
	TopFrame  uintptr
	Status    byte
	Chunks    *ChunkMirror
}

// Read copies one ThreadState at addr and decodes the fields the core
// needs.
func Read(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, addr uintptr) (*Handle, error) {
	raw, err := remote.Copy(rdr, h, addr, d.Sizes.ThreadState)
	if err != nil {
		return nil, err
	}
	off := d.Offsets.Thread
	th := &Handle{
		Addr:     addr,
		Next:     readPtr(raw, off.Next),
		TopFrame: readPtr(raw, off.Frame),
		Status:   raw[off.Status],
	}
	if off.NativeThreadID > 0 {
		th.NativeTID = binary.LittleEndian.Uint64(raw[off.NativeThreadID : off.NativeThreadID+8])
	}
	return th, nil
}

// InterpBackPointer reads the ThreadState.interp field, used by the
// interpreter locator's acceptance check: a thread whose interp field
// points back to the head confirms the candidate address.
func InterpBackPointer(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, threadAddr uintptr) (uintptr, error) {
	raw, err := remote.Copy(rdr, h, threadAddr, d.Sizes.ThreadState)
	if err != nil {
		return 0, err
	}
	return readPtr(raw, d.Offsets.Thread.Interp), nil
}

func readPtr(b []byte, off int) uintptr {
	if off < 0 || off+pyabi.PointerSize > len(b) {
		return 0
	}
	return uintptr(binary.LittleEndian.Uint64(b[off : off+pyabi.PointerSize]))
}
