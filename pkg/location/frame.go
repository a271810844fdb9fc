package location

import "github.com/austin-dist/austin/pkg/cache"

// Frame is the cached, post-resolution frame record: a stable key plus
// the filename/scope string-cache references and the decoded source
// span.
type Frame struct {
	Key         cache.FrameKey
	FilenameRef cache.StringKey
	ScopeRef    cache.StringKey
	Line        int32
	LineEnd     int32
	Column      int32
	ColumnEnd   int32
}

// Origin satisfies stackbuf.Entry so resolved frames can sit in a
// stackbuf.Stack alongside cycle detection, keyed by the frame's own
// composite key reinterpreted as an address-shaped value.
func (f *Frame) Origin() uintptr { return uintptr(f.Key) }
