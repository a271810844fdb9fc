// Package unwind walks a CPython thread's frame chain across the three
// historical dialects (classic PyFrame, _PyCFrame-rooted, and
// _PyInterpreterFrame-native) and resolves each pre-resolution tuple into
// a cached location.Frame.
package unwind

import (
	"github.com/austin-dist/austin/pkg/cache"
	"github.com/austin-dist/austin/pkg/location"
)

// PyFrameTuple is a pre-resolution stack entry: the frame's own remote
// address (used for cycle detection), the owning code object's remote
// address, and the last-instruction index.
type PyFrameTuple struct {
	FrameAddr uintptr
	CodeAddr  uintptr
	Lasti     int32

	// CFrameBoundary marks a synthetic entry pushed when an
	// interpreter-frame shim (owned by the C stack, 3.12+) is crossed;
	// it contributes no Python frame of its own.
	CFrameBoundary bool
}

// Origin satisfies stackbuf.Entry, enabling cycle detection over the
// frame chain itself: a self-referential previous or back pointer is a
// fatal cycle for this sample.
func (t PyFrameTuple) Origin() uintptr { return t.FrameAddr }

// CodeRecord is the cached, decoded view of a PyCodeObject.
type CodeRecord struct {
	Key         cache.CodeKey
	FilenameRef cache.StringKey
	ScopeRef    cache.StringKey
	LineTable   []byte
	FirstLine   int32
}

// StringRecord is a cached, owned copy of a PyASCIIObject's UTF-8 bytes.
type StringRecord struct {
	Key   cache.StringKey
	Value string
}

// UnknownScope is the sentinel scope name used when a frame's qualname
// cannot be resolved: a cached frame's filename_ref and scope_ref
// always point into the string cache, or to this sentinel.
const UnknownScope = "<unknown>"
