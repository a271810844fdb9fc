package unwind

import (
	"encoding/binary"
	"testing"

	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
	"github.com/austin-dist/austin/pkg/stackbuf"
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

func putI32(b []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(b[off:off+4], uint32(v))
}

func TestForSelectsStrategyByDialect(t *testing.T) {
	classic := For(pyabi.Lookup(3, 9, 0))
	cframe := For(pyabi.Lookup(3, 11, 0))
	native := For(pyabi.Lookup(3, 13, 0))

	if got, err := classic.TopFrame(nil, remote.Handle{}, nil, 0x42); err != nil || got != 0x42 {
		t.Fatalf("classic TopFrame passthrough = %#x, %v", got, err)
	}
	if got, err := native.TopFrame(nil, remote.Handle{}, nil, 0x42); err != nil || got != 0x42 {
		t.Fatalf("native TopFrame passthrough = %#x, %v", got, err)
	}
	if got, err := cframe.TopFrame(nil, remote.Handle{}, nil, 0); err != nil || got != 0 {
		t.Fatalf("cframe TopFrame(0) = %#x, %v; want 0, nil", got, err)
	}
}

func TestWalkClassicFramesFollowsBackChain(t *testing.T) {
	desc := pyabi.Lookup(3, 9, 0)
	const parent = uintptr(0x1000)
	const child = uintptr(0x2000)

	data := make([]byte, 0x2000+desc.Sizes.Frame)
	off := desc.Offsets.Frame
	putPtr(data, int(parent)+off.Back, 0)
	putPtr(data, int(parent)+off.Code, 0xaaaa)
	putI32(data, int(parent)+off.Lasti, 10)
	putPtr(data, int(child)+off.Back, parent)
	putPtr(data, int(child)+off.Code, 0xbbbb)
	putI32(data, int(child)+off.Lasti, 20)

	mem := &fakeMemory{base: 0, data: data}
	stack := stackbuf.New[PyFrameTuple](8)

	saturated, err := walkClassicFrames(mem, remote.Handle{}, desc, child, stack)
	if err != nil {
		t.Fatalf("walkClassicFrames: %v", err)
	}
	if saturated {
		t.Fatalf("expected no saturation with ample capacity")
	}
	if stack.Len() != 2 {
		t.Fatalf("got %d frames, want 2", stack.Len())
	}
	items := stack.Items()
	if items[0].FrameAddr != child || items[0].CodeAddr != 0xbbbb || items[0].Lasti != 20 {
		t.Fatalf("got first frame %+v", items[0])
	}
	if items[1].FrameAddr != parent || items[1].CodeAddr != 0xaaaa || items[1].Lasti != 10 {
		t.Fatalf("got second frame %+v", items[1])
	}
}

func TestWalkClassicFramesDetectsCycle(t *testing.T) {
	desc := pyabi.Lookup(3, 9, 0)
	const self = uintptr(0x1000)
	data := make([]byte, 0x1000+desc.Sizes.Frame)
	putPtr(data, int(self)+desc.Offsets.Frame.Back, self)
	mem := &fakeMemory{base: 0, data: data}
	stack := stackbuf.New[PyFrameTuple](8)

	stack.Push(PyFrameTuple{FrameAddr: self})
	if _, err := walkClassicFrames(mem, remote.Handle{}, desc, self, stack); err == nil {
		t.Fatalf("expected a cycle error")
	}
}

func TestWalkClassicFramesReportsSaturation(t *testing.T) {
	desc := pyabi.Lookup(3, 9, 0)
	const a, b = uintptr(0x1000), uintptr(0x2000)
	data := make([]byte, 0x2000+desc.Sizes.Frame)
	putPtr(data, int(a)+desc.Offsets.Frame.Back, 0)
	putPtr(data, int(b)+desc.Offsets.Frame.Back, a)
	mem := &fakeMemory{base: 0, data: data}
	stack := stackbuf.New[PyFrameTuple](1)

	saturated, err := walkClassicFrames(mem, remote.Handle{}, desc, b, stack)
	if err != nil {
		t.Fatalf("walkClassicFrames: %v", err)
	}
	if !saturated {
		t.Fatalf("expected saturation when capacity is exceeded")
	}
	if stack.Len() != 1 {
		t.Fatalf("got %d frames, want 1 (only the capacity-sized push)", stack.Len())
	}
}

func TestWalkInterpreterFramesSkipsCStackShim(t *testing.T) {
	desc := pyabi.Lookup(3, 11, 0)
	const shim = uintptr(0x3000)
	const real = uintptr(0x4000)
	const codeAddr = uintptr(0x5000)

	off := desc.Offsets.InterpreterFrame
	data := make([]byte, 0x5000+desc.Sizes.InterpreterFrame)
	// shim frame: owner == FRAME_OWNED_BY_CSTACK, links to real frame.
	data[int(shim)+off.Owner] = frameOwnerCStack
	putPtr(data, int(shim)+off.Previous, real)
	// real frame: prevInstr positioned so lasti == 3, matching
	// walkInterpreterFrames' (prevInstr-codeAddr-Offsets.Code.Code)/2.
	prevInstr := codeAddr + uintptr(desc.Offsets.Code.Code) + uintptr(2*3)
	putPtr(data, int(real)+off.Code, codeAddr)
	putPtr(data, int(real)+off.PrevInstr, prevInstr)
	putPtr(data, int(real)+off.Previous, 0)

	mem := &fakeMemory{base: 0, data: data}
	stack := stackbuf.New[PyFrameTuple](8)

	if _, err := walkInterpreterFrames(mem, remote.Handle{}, desc, shim, stack); err != nil {
		t.Fatalf("walkInterpreterFrames: %v", err)
	}
	if stack.Len() != 2 {
		t.Fatalf("got %d entries, want 2 (shim boundary + real frame)", stack.Len())
	}
	items := stack.Items()
	if !items[0].CFrameBoundary {
		t.Fatalf("expected first entry to be a CFrameBoundary marker")
	}
	if items[1].CodeAddr != codeAddr || items[1].Lasti != 3 {
		t.Fatalf("got real frame %+v, want CodeAddr=%#x Lasti=3", items[1], codeAddr)
	}
}

func TestWalkInterpreterFramesRespectsHasIsEntryCapability(t *testing.T) {
	desc := pyabi.Lookup(3, 11, 0)
	const f = uintptr(0x1000)
	off := desc.Offsets.InterpreterFrame

	data := make([]byte, 0x1000+desc.Sizes.InterpreterFrame)
	data[int(f)+off.Owner] = 0 // not a C-stack shim by owner alone
	data[int(f)+off.IsEntry] = 1
	putPtr(data, int(f)+off.Previous, 0)

	mem := &fakeMemory{base: 0, data: data}
	stack := stackbuf.New[PyFrameTuple](8)
	if _, err := walkInterpreterFrames(mem, remote.Handle{}, desc, f, stack); err != nil {
		t.Fatalf("walkInterpreterFrames: %v", err)
	}
	if !stack.Items()[0].CFrameBoundary {
		t.Fatalf("expected IsEntry=1 on a 3.11 descriptor to mark a C-stack boundary")
	}

	desc312 := pyabi.Lookup(3, 12, 0)
	data312 := make([]byte, 0x1000+desc312.Sizes.InterpreterFrame)
	off312 := desc312.Offsets.InterpreterFrame
	data312[int(f)+off312.Owner] = 0
	putPtr(data312, int(f)+off312.Previous, 0)
	putPtr(data312, int(f)+off312.Code, 0x9000)
	mem312 := &fakeMemory{base: 0, data: data312}
	stack312 := stackbuf.New[PyFrameTuple](8)
	if _, err := walkInterpreterFrames(mem312, remote.Handle{}, desc312, f, stack312); err != nil {
		t.Fatalf("walkInterpreterFrames: %v", err)
	}
	if stack312.Items()[0].CFrameBoundary {
		t.Fatalf("3.12 has no IsEntry field; owner=0 alone must not be treated as a shim")
	}
}
