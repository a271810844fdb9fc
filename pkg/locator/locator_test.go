package locator

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/austin-dist/austin/pkg/binimage"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
)

// fakeMemory is a tiny in-process remote.Reader over a flat byte slice,
// letting the locator's strategies be exercised without a real target
// process.
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

func testDescriptor() *pyabi.Descriptor {
	d := pyabi.Lookup(3, 11, 0)
	return d
}

func TestLocateViaRuntimeSymbol(t *testing.T) {
	d := testDescriptor()
	const base = uintptr(0x10000)

	data := make([]byte, 0x2000)
	runtimeOff := 0x100
	interpOff := 0x800
	tstateOff := 0x900

	putPtr(data, runtimeOff+d.Offsets.Runtime.InterpHead, base+uintptr(interpOff))
	putPtr(data, interpOff+d.Offsets.Interp.TStateHead, base+uintptr(tstateOff))
	putPtr(data, tstateOff+d.Offsets.Thread.Interp, base+uintptr(interpOff))

	mem := &fakeMemory{base: base, data: data}
	img := &binimage.Image{Symbols: binimage.Symbols{"Runtime": base + uintptr(runtimeOff)}}

	res, err := LocateOnce(mem, remote.Handle{Pid: 1}, img, d)
	if err != nil {
		t.Fatalf("LocateOnce failed: %v", err)
	}
	if res.InterpHead != base+uintptr(interpOff) {
		t.Errorf("InterpHead = %#x, want %#x", res.InterpHead, base+uintptr(interpOff))
	}
	if !res.FromSymbols {
		t.Error("expected FromSymbols to be true when resolved via the Runtime symbol")
	}
}

func TestLocateFailsWithoutAcceptingCandidate(t *testing.T) {
	d := testDescriptor()
	const base = uintptr(0x10000)
	data := make([]byte, 0x2000)
	// interp_head points somewhere whose tstate_head does NOT point back.
	putPtr(data, 0x100+d.Offsets.Runtime.InterpHead, base+0x800)
	putPtr(data, 0x800+d.Offsets.Interp.TStateHead, base+0x900)
	putPtr(data, 0x900+d.Offsets.Thread.Interp, base+0xFFF) // wrong back-pointer

	mem := &fakeMemory{base: base, data: data}
	img := &binimage.Image{Symbols: binimage.Symbols{"Runtime": base + 0x100}}

	if _, err := LocateOnce(mem, remote.Handle{Pid: 1}, img, d); err == nil {
		t.Error("expected LocateOnce to reject a candidate whose back-pointer mismatches")
	}
}

func TestLocateTimesOutQuickly(t *testing.T) {
	d := testDescriptor()
	mem := &fakeMemory{base: 0x10000, data: make([]byte, 0x1000)}
	img := &binimage.Image{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := Locate(ctx, mem, remote.Handle{Pid: 1}, img, d, 15*time.Millisecond); err == nil {
		t.Error("expected Locate to time out against an image with no located sections")
	}
}
