package unwind

import (
	"testing"

	"github.com/austin-dist/austin/pkg/cache"
	"github.com/austin-dist/austin/pkg/location"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
)

func newCaches() Caches {
	return Caches{
		Frames:  cache.New[cache.FrameKey, *location.Frame](16, nil),
		Strings: cache.New[cache.StringKey, *StringRecord](16, nil),
		Codes:   cache.New[cache.CodeKey, *CodeRecord](16, nil),
	}
}

// buildCodeObject lays out a pre-3.11 PyCodeObject plus the filename,
// qualname (here identical to the name slot, as on <=3.10) and lnotab
// objects it points to, all inside one flat fakeMemory region.
func buildCodeObject(t *testing.T, desc *pyabi.Descriptor, firstLine int32, filename, lnotab []byte) (*fakeMemory, uintptr) {
	t.Helper()
	const codeAddr = uintptr(0x10000)
	const filenameAddr = uintptr(0x10100)
	const lnotabAddr = uintptr(0x10200)

	lnotabRegion := 3*pyabi.PointerSize + len(lnotab)
	if lnotabRegion < desc.Sizes.Bytes {
		lnotabRegion = desc.Sizes.Bytes
	}
	size := int(lnotabAddr-codeAddr) + lnotabRegion
	data := make([]byte, size)

	off := desc.Offsets.Code
	putPtr(data, off.Filename, filenameAddr)
	putPtr(data, off.Qualname, filenameAddr) // same slot as Name on <=3.10
	putPtr(data, off.Lnotab, lnotabAddr)
	putPtr(data, off.FirstLineno, uintptr(firstLine))

	fOff := int(filenameAddr - codeAddr)
	putPtr(data, fOff+2*pyabi.PointerSize, uintptr(len(filename)))
	copy(data[fOff+desc.Sizes.Unicode:], filename)

	lOff := int(lnotabAddr - codeAddr)
	putPtr(data, lOff+2*pyabi.PointerSize, uintptr(len(lnotab)))
	copy(data[lOff+3*pyabi.PointerSize:], lnotab)

	return &fakeMemory{base: codeAddr, data: data}, codeAddr
}

func TestResolverResolveCachesOnFirstLookup(t *testing.T) {
	desc := pyabi.Lookup(3, 9, 0)
	// sdelta=2 ldelta=3 -> line 3 at byte offset 2; terminator.
	lnotab := []byte{2, 3, 0xff, 0}
	mem, codeAddr := buildCodeObject(t, desc, 10, []byte("mod.py"), lnotab)

	r := NewResolver(mem, remote.Handle{Pid: 1}, desc, newCaches())
	tuple := PyFrameTuple{FrameAddr: 0x1, CodeAddr: codeAddr, Lasti: 2}

	f, hit, err := r.Resolve(tuple)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if hit {
		t.Fatalf("expected a miss on first resolution")
	}
	if f.Line != 13 || f.LineEnd != 13 {
		t.Fatalf("got line %d/%d, want 13/13 (firstLine 10 + delta 3)", f.Line, f.LineEnd)
	}

	f2, hit2, err := r.Resolve(tuple)
	if err != nil {
		t.Fatalf("Resolve (second): %v", err)
	}
	if !hit2 {
		t.Fatalf("expected a cache hit on the second resolution of the same tuple")
	}
	if f2 != f {
		t.Fatalf("expected the cached Frame pointer to be returned unchanged")
	}
}

func TestResolverReadCodeIsMemoizedAcrossFrames(t *testing.T) {
	desc := pyabi.Lookup(3, 9, 0)
	lnotab := []byte{0xff, 0}
	mem, codeAddr := buildCodeObject(t, desc, 1, []byte("a.py"), lnotab)

	caches := newCaches()
	r := NewResolver(mem, remote.Handle{Pid: 1}, desc, caches)

	if _, _, err := r.Resolve(PyFrameTuple{CodeAddr: codeAddr, Lasti: 0}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if caches.Codes.Len() != 1 {
		t.Fatalf("got %d cached code records, want 1", caches.Codes.Len())
	}

	// A second, distinct Lasti on the same code object must reuse the
	// cached CodeRecord (no re-read), producing a different frame key.
	if _, _, err := r.Resolve(PyFrameTuple{CodeAddr: codeAddr, Lasti: 1}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if caches.Codes.Len() != 1 {
		t.Fatalf("got %d cached code records after a second lasti, want 1 (memoized)", caches.Codes.Len())
	}
	if caches.Frames.Len() != 2 {
		t.Fatalf("got %d cached frames, want 2 (distinct lasti -> distinct FrameKey)", caches.Frames.Len())
	}
}

func TestResolverStringValueFallsBackToUnknownScope(t *testing.T) {
	caches := newCaches()
	if got := caches.StringValue(cache.StringKey(0x1234)); got != UnknownScope {
		t.Fatalf("got %q, want sentinel %q for an uncached key", got, UnknownScope)
	}
}

func TestResolverReadCodePropagatesRemoteReadError(t *testing.T) {
	desc := pyabi.Lookup(3, 9, 0)
	mem := &fakeMemory{base: 0x5000, data: make([]byte, 4)}
	r := NewResolver(mem, remote.Handle{Pid: 1}, desc, newCaches())
	if _, _, err := r.Resolve(PyFrameTuple{CodeAddr: 0x5000, Lasti: 0}); err == nil {
		t.Fatalf("expected an error when the code object cannot be read")
	}
}
