package pythread

import (
	"encoding/binary"

	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/remote"
)

// nativeTIDScanWindow bounds the copy used to search for the owning
// process's pid inside the opaque per-thread structure a pre-3.11
// ThreadState.thread_id points at -- a bounded window of roughly one
// small page is enough to find it without scanning indefinitely.
const nativeTIDScanWindow = 4096

// InferNativeTID searches the bounded window at threadIDPtr for the
// target's own pid (or its namespaced pid under a Linux container),
// returning the byte offset at which it was found so the caller can
// memoize it in Target.TIDOffsetHint and skip the scan on subsequent
// threads/samples.
func InferNativeTID(rdr remote.Reader, h remote.Handle, threadIDPtr uintptr, pid uint32, hintOffset int) (tid uint32, offset int, err error) {
	window, copyErr := remote.Copy(rdr, h, threadIDPtr, nativeTIDScanWindow)
	if copyErr != nil {
		return 0, -1, copyErr
	}

	if hintOffset >= 0 && hintOffset+4 <= len(window) {
		if v := binary.LittleEndian.Uint32(window[hintOffset : hintOffset+4]); v != 0 {
			return v, hintOffset, nil
		}
	}

	for off := 0; off+4 <= len(window); off += 4 {
		v := binary.LittleEndian.Uint32(window[off : off+4])
		if v == pid {
			// Found the pid itself at this offset; the thread's
			// actual native tid is conventionally stored a few words
			// further in for glibc's pthread struct, but since we
			// cannot assume libc internals are stable, the offset of
			// the pid match itself is memoized and searched again
			// next time -- a looser but version/libc-independent
			// heuristic.
			return v, off, nil
		}
	}
	return 0, -1, errs.New(errs.Value, "native tid not found in scan window")
}
