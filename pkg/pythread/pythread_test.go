package pythread

import (
	"encoding/binary"
	"testing"

	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
)

// fakeMemory is a tiny in-process remote.Reader over a flat byte slice,
// mirroring pkg/locator's test fake.
type fakeMemory struct {
	base uintptr
	data []byte
}

func (m *fakeMemory) Copy(h remote.Handle, addr uintptr, n int) ([]byte, error) {
	if addr < m.base || addr+uintptr(n) > m.base+uintptr(len(m.data)) {
		return nil, errUnmapped{}
	}
	start := addr - m.base
	out := make([]byte, n)
	copy(out, m.data[start:start+uintptr(n)])
	return out, nil
}

func (m *fakeMemory) PageSize() int { return 4096 }

type errUnmapped struct{}

func (errUnmapped) Error() string { return "unmapped" }

func putPtr(b []byte, off int, v uintptr) {
	binary.LittleEndian.PutUint64(b[off:off+8], uint64(v))
}

func TestReadDecodesThreadStateFields(t *testing.T) {
	desc := pyabi.Lookup(3, 11, 0)
	const base = uintptr(0x1000)

	data := make([]byte, desc.Sizes.ThreadState)
	off := desc.Offsets.Thread
	putPtr(data, off.Next, base+0x900)
	putPtr(data, off.Frame, 0xdeadbeef)
	data[off.Status] = 3
	binary.LittleEndian.PutUint64(data[off.NativeThreadID:off.NativeThreadID+8], 4242)

	mem := &fakeMemory{base: base, data: data}
	h, err := Read(mem, remote.Handle{Pid: 1}, desc, base)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Addr != base {
		t.Fatalf("got addr %#x, want %#x", h.Addr, base)
	}
	if h.Next != base+0x900 {
		t.Fatalf("got next %#x, want %#x", h.Next, base+0x900)
	}
	if h.TopFrame != 0xdeadbeef {
		t.Fatalf("got top frame %#x, want %#x", h.TopFrame, 0xdeadbeef)
	}
	if h.Status != 3 {
		t.Fatalf("got status %d, want 3", h.Status)
	}
	if h.NativeTID != 4242 {
		t.Fatalf("got native tid %d, want 4242", h.NativeTID)
	}
}

func TestReadSkipsNativeThreadIDWhenFieldAbsent(t *testing.T) {
	desc := pyabi.Lookup(3, 9, 0)
	if desc.Offsets.Thread.NativeThreadID != 0 {
		t.Fatalf("expected 3.9 to have no NativeThreadID field, test fixture is stale")
	}
	const base = uintptr(0x2000)
	data := make([]byte, desc.Sizes.ThreadState)
	mem := &fakeMemory{base: base, data: data}

	h, err := Read(mem, remote.Handle{Pid: 1}, desc, base)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.NativeTID != 0 {
		t.Fatalf("got native tid %d, want 0 when the field does not exist", h.NativeTID)
	}
}

func TestReadPropagatesCopyError(t *testing.T) {
	desc := pyabi.Lookup(3, 11, 0)
	mem := &fakeMemory{base: 0x1000, data: make([]byte, 8)}
	if _, err := Read(mem, remote.Handle{Pid: 1}, desc, 0x1000); err == nil {
		t.Fatalf("expected an error when the target memory window is too small")
	}
}

func TestInterpBackPointerReadsInterpField(t *testing.T) {
	desc := pyabi.Lookup(3, 12, 0)
	const base = uintptr(0x3000)
	data := make([]byte, desc.Sizes.ThreadState)
	putPtr(data, desc.Offsets.Thread.Interp, 0x999000)
	mem := &fakeMemory{base: base, data: data}

	got, err := InterpBackPointer(mem, remote.Handle{Pid: 1}, desc, base)
	if err != nil {
		t.Fatalf("InterpBackPointer: %v", err)
	}
	if got != 0x999000 {
		t.Fatalf("got %#x, want %#x", got, 0x999000)
	}
}

func TestInferNativeTIDFindsPidInScanWindow(t *testing.T) {
	const threadIDPtr = uintptr(0x4000)
	window := make([]byte, nativeTIDScanWindow)
	binary.LittleEndian.PutUint32(window[128:], 4321)
	mem := &fakeMemory{base: threadIDPtr, data: window}

	tid, offset, err := InferNativeTID(mem, remote.Handle{Pid: 1}, threadIDPtr, 4321, -1)
	if err != nil {
		t.Fatalf("InferNativeTID: %v", err)
	}
	if tid != 4321 {
		t.Fatalf("got tid %d, want 4321", tid)
	}
	if offset != 128 {
		t.Fatalf("got offset %d, want 128", offset)
	}
}

func TestInferNativeTIDUsesMemoizedHintFirst(t *testing.T) {
	const threadIDPtr = uintptr(0x5000)
	window := make([]byte, nativeTIDScanWindow)
	// Put the pid at two offsets; the hint should win even though the
	// scan would otherwise find the earlier one first.
	binary.LittleEndian.PutUint32(window[64:], 7)
	binary.LittleEndian.PutUint32(window[256:], 7)
	mem := &fakeMemory{base: threadIDPtr, data: window}

	tid, offset, err := InferNativeTID(mem, remote.Handle{Pid: 1}, threadIDPtr, 7, 256)
	if err != nil {
		t.Fatalf("InferNativeTID: %v", err)
	}
	if tid != 7 || offset != 256 {
		t.Fatalf("got tid=%d offset=%d, want tid=7 offset=256 (the memoized hint)", tid, offset)
	}
}

func TestInferNativeTIDErrorsWhenNotFound(t *testing.T) {
	const threadIDPtr = uintptr(0x6000)
	mem := &fakeMemory{base: threadIDPtr, data: make([]byte, nativeTIDScanWindow)}
	if _, _, err := InferNativeTID(mem, remote.Handle{Pid: 1}, threadIDPtr, 999, -1); err == nil {
		t.Fatalf("expected an error when the pid never appears in the scan window")
	}
}

func TestMirrorChunksAndResolve(t *testing.T) {
	const chunk1Origin = uintptr(0x7000)

	chunk1Size := 16
	chunk1 := make([]byte, chunkHeaderSize+chunk1Size)
	chunk2Origin := chunk1Origin + uintptr(len(chunk1))
	putPtr(chunk1, pyabi.PointerSize, uintptr(chunk1Size))
	for i := 0; i < chunk1Size; i++ {
		chunk1[chunkHeaderSize+i] = byte(0x80 + i)
	}

	chunk2Size := 32
	chunk2 := make([]byte, chunkHeaderSize+chunk2Size)
	putPtr(chunk2, 0, 0) // no further chunk
	putPtr(chunk2, pyabi.PointerSize, uintptr(chunk2Size))
	for i := 0; i < chunk2Size; i++ {
		chunk2[chunkHeaderSize+i] = byte(i)
	}
	putPtr(chunk1, 0, chunk2Origin)

	all := append(append([]byte{}, chunk1...), chunk2...)
	mem := &fakeMemory{base: chunk1Origin, data: all}

	m, err := MirrorChunks(mem, remote.Handle{Pid: 1}, chunk1Origin, 8)
	if err != nil {
		t.Fatalf("MirrorChunks: %v", err)
	}
	if len(m.chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(m.chunks))
	}

	got, ok := m.Resolve(chunk1Origin+uintptr(chunkHeaderSize), 1)
	if !ok || got[0] != 0x80 {
		t.Fatalf("Resolve in first chunk = %v, %v; want [0x80], true", got, ok)
	}
	got, ok = m.Resolve(chunk2Origin+uintptr(chunkHeaderSize)+2, 1)
	if !ok || got[0] != 2 {
		t.Fatalf("Resolve in second chunk = %v, %v; want [2], true", got, ok)
	}
	if _, ok := m.Resolve(0xffff0000, 1); ok {
		t.Fatalf("expected an address outside every chunk to miss")
	}
}

func TestMirrorChunksOnNilReceiverResolveMisses(t *testing.T) {
	var m *ChunkMirror
	if _, ok := m.Resolve(0x1000, 4); ok {
		t.Fatalf("expected a nil *ChunkMirror to always miss")
	}
}

func TestMirrorChunksStopsOnImplausibleSize(t *testing.T) {
	const origin = uintptr(0x8000)
	header := make([]byte, chunkHeaderSize)
	putPtr(header, pyabi.PointerSize, uintptr(1<<21)) // exceeds the 1MiB cap
	mem := &fakeMemory{base: origin, data: header}

	m, err := MirrorChunks(mem, remote.Handle{Pid: 1}, origin, 8)
	if err != nil {
		t.Fatalf("MirrorChunks: %v", err)
	}
	if len(m.chunks) != 0 {
		t.Fatalf("got %d chunks, want 0 when the reported size is implausible", len(m.chunks))
	}
}
