package mojo

import (
	"io"
)

// Emitter is the sampler-facing API: it tracks which frame and string
// keys have already been written in full. String emits a StringRef only
// for a key already written in full; FrameRef writes unconditionally, so
// callers check HasFrame(k) before choosing FrameRef(k) over Frame(k, ...).
type Emitter struct {
	w       *Writer
	pipe    bool
	seenFrm map[uint64]struct{}
	seenStr map[uint64]struct{}
}

// NewEmitter constructs an Emitter writing MOJO v3 to sink.
func NewEmitter(sink io.Writer, pipe bool) (*Emitter, error) {
	w, err := NewWriter(sink, pipe)
	if err != nil {
		return nil, err
	}
	return &Emitter{
		w:       w,
		pipe:    pipe,
		seenFrm: make(map[uint64]struct{}),
		seenStr: make(map[uint64]struct{}),
	}, nil
}

// InvalidateAll forgets every previously-emitted frame/string key. Called
// after a cache-wide invalidation, so no subsequent FrameRef refers to a
// pre-invalidation key until a fresh Frame is emitted — a recycled
// remote address is treated as brand new.
func (e *Emitter) InvalidateAll() {
	e.seenFrm = make(map[uint64]struct{})
	e.seenStr = make(map[uint64]struct{})
}

// Metadata emits a Metadata(key, value) event and flushes the sink
// immediately.
func (e *Emitter) Metadata(key, value string) error {
	if err := e.emitKV(KindMetadata, key, value); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Emitter) emitKV(k Kind, key, value string) error {
	if err := e.w.event(k); err != nil {
		return err
	}
	if err := e.w.cstring(key); err != nil {
		return err
	}
	return e.w.cstring(value)
}

// StackBegin emits StackBegin(pid, iid, tid) opening a new sample block.
func (e *Emitter) StackBegin(pid, iid int64, tidHex string) error {
	if err := e.w.event(KindStack); err != nil {
		return err
	}
	if err := e.w.integer(uint64(pid), false); err != nil {
		return err
	}
	if err := e.w.integer(uint64(iid), false); err != nil {
		return err
	}
	return e.w.cstring(tidHex)
}

// String emits a String(key, value) record if this key has not already
// been written, otherwise emits StringRef(key). Returns whether a full
// record was written (for cache-population bookkeeping upstream).
func (e *Emitter) String(key uint64, value string) (wroteFull bool, err error) {
	if _, ok := e.seenStr[key]; ok {
		if err := e.w.event(KindStringRef); err != nil {
			return false, err
		}
		return false, e.w.ref(key)
	}
	if err := e.w.event(KindString); err != nil {
		return false, err
	}
	if err := e.w.ref(key); err != nil {
		return false, err
	}
	if err := e.w.cstring(value); err != nil {
		return false, err
	}
	e.seenStr[key] = struct{}{}
	return true, nil
}

// Frame emits a full Frame record and remembers the key so later
// occurrences collapse to FrameRef.
func (e *Emitter) Frame(key uint64, filenameKey, scopeKey uint64, line, lineEnd, col, colEnd int32) error {
	if err := e.w.event(KindFrame); err != nil {
		return err
	}
	if err := e.w.ref(key); err != nil {
		return err
	}
	if err := e.w.ref(filenameKey); err != nil {
		return err
	}
	if err := e.w.ref(scopeKey); err != nil {
		return err
	}
	if err := e.w.signed(int64(line)); err != nil {
		return err
	}
	if err := e.w.signed(int64(lineEnd)); err != nil {
		return err
	}
	if err := e.w.signed(int64(col)); err != nil {
		return err
	}
	if err := e.w.signed(int64(colEnd)); err != nil {
		return err
	}
	e.seenFrm[key] = struct{}{}
	return nil
}

// FrameRef emits FrameRef(key). The caller (pkg/unwind) is responsible
// for only calling this after Frame has been emitted at least once for
// key; HasFrame lets it check.
func (e *Emitter) FrameRef(key uint64) error {
	if err := e.w.event(KindFrameRef); err != nil {
		return err
	}
	return e.w.ref(key)
}

// HasFrame reports whether Frame(key, ...) has already been emitted since
// the stream began (or since the last InvalidateAll).
func (e *Emitter) HasFrame(key uint64) bool {
	_, ok := e.seenFrm[key]
	return ok
}

// HasString reports whether String(key, ...) has already been emitted.
func (e *Emitter) HasString(key uint64) bool {
	_, ok := e.seenStr[key]
	return ok
}

// FrameInvalid emits a sentinel for a frame that failed to resolve,
// keeping the stack-begin/frame*/metric ordering intact even when one
// frame in the chain is unreadable.
func (e *Emitter) FrameInvalid() error {
	return e.w.event(KindFrameInvalid)
}

// FrameKernel emits a FrameKernel(scope) marker for a native-stack build's
// kernel-side frame (out of the default build, present for completeness
// of the Event union).
func (e *Emitter) FrameKernel(scope string) error {
	if err := e.w.event(KindFrameKernel); err != nil {
		return err
	}
	return e.w.cstring(scope)
}

// GC emits a GC marker.
func (e *Emitter) GC() error { return e.w.event(KindGC) }

// Idle emits an Idle marker.
func (e *Emitter) Idle() error { return e.w.event(KindIdle) }

// MetricTime emits a MetricTime(microseconds) event.
func (e *Emitter) MetricTime(us int64) error {
	if err := e.w.event(KindMetricTime); err != nil {
		return err
	}
	return e.w.integer(uint64(us), false)
}

// MetricMemory emits a MetricMemory(signed bytes) event.
func (e *Emitter) MetricMemory(deltaBytes int64) error {
	if err := e.w.event(KindMetricMemory); err != nil {
		return err
	}
	return e.w.signed(deltaBytes)
}

// EndStackBoundary flushes the sink when operating in pipe mode, after
// every stack boundary.
func (e *Emitter) EndStackBoundary() error {
	if !e.pipe {
		return nil
	}
	return e.w.Flush()
}

// Close flushes any remaining buffered bytes.
func (e *Emitter) Close() error { return e.w.Flush() }
