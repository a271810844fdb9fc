package sampler

import (
	"encoding/binary"

	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
	"github.com/austin-dist/austin/pkg/target"
)

// currentThreadScanWindow bounds the search for PyRuntime's
// gilstate.tstate_current on pre-3.12 interpreters, the same small-page
// bound used for native thread-id discovery.
const currentThreadScanWindow = 4096

// gilHolder resolves the remote address of the ThreadState currently
// holding the GIL, used to attribute a process-wide memory delta to
// exactly one thread per tick, matching original_source's
// `_py_proc__sample_interpreter`: "Use the current thread to determine
// which thread is manipulating memory".
func gilHolder(tgt *target.Target, interpAddr, tstateHead uintptr) (uintptr, error) {
	d := tgt.Desc
	if d.Version.Major == 3 && d.Version.Minor >= 12 && d.Offsets.Interp.GilState != 0 {
		gilAddr := interpAddr + uintptr(d.Offsets.Interp.GilState)
		raw, err := tgt.MirrorOrRead(gilAddr, d.Sizes.GilState)
		if err != nil {
			return 0, err
		}
		return readPtr(raw, d.Offsets.GilState.LastHolder), nil
	}
	return currentThreadState(tgt, tstateHead)
}

// currentThreadState locates PyRuntime.gilstate.tstate_current for
// pre-3.12 versions, which carry no per-interpreter gil_state_t. Its
// offset within the runtime section is not in the static table (it
// shifts across patch builds), so it is discovered once by scanning a
// bounded window for a pointer equal to the already-known tstate_head --
// true early in the main thread's life, since the main thread is its own
// current thread -- and memoized on Target.TStateCurrentOffset, mirroring
// pythread.InferNativeTID's bounded-window memoization.
func currentThreadState(tgt *target.Target, tstateHead uintptr) (uintptr, error) {
	runtimeBase := tgt.Image.Runtime.Base
	if runtimeBase == 0 {
		if addr, ok := tgt.Image.Symbols["Runtime"]; ok {
			runtimeBase = addr
		}
	}
	if runtimeBase == 0 {
		return 0, errs.New(errs.Binary, "no runtime section to search for tstate_current")
	}

	size := currentThreadScanWindow
	if tgt.Desc.Sizes.Runtime > 0 && tgt.Desc.Sizes.Runtime < size {
		size = tgt.Desc.Sizes.Runtime
	}

	window, err := remote.Copy(tgt.Reader, tgt.Handle, runtimeBase, size)
	if err != nil {
		return 0, err
	}

	if off := tgt.TStateCurrentOffset; off >= 0 && off+pyabi.PointerSize <= len(window) {
		if v := readPtr(window, off); v != 0 {
			return v, nil
		}
	}

	for off := 0; off+pyabi.PointerSize <= len(window); off += pyabi.PointerSize {
		if readPtr(window, off) == tstateHead {
			tgt.TStateCurrentOffset = off
			return tstateHead, nil
		}
	}
	return 0, errs.New(errs.Value, "tstate_current not found in scan window")
}

func readPtr(b []byte, off int) uintptr {
	if off < 0 || off+pyabi.PointerSize > len(b) {
		return 0
	}
	return uintptr(binary.LittleEndian.Uint64(b[off : off+pyabi.PointerSize]))
}
