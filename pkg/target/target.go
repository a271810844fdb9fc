// Package target implements the per-process data model and lifecycle
// operations: one Target per observed CPython process, owned by exactly
// one Supervisor, carrying everything the sampler needs to walk it
// without re-deriving state every tick.
package target

import (
	"time"

	"github.com/austin-dist/austin/pkg/binimage"
	"github.com/austin-dist/austin/pkg/cache"
	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/location"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
	"github.com/austin-dist/austin/pkg/unwind"
)

// Target is one observed OS process.
type Target struct {
	Pid     int
	Handle  remote.Handle
	ExePath string
	LibPath string

	Image *binimage.Image
	Desc  *pyabi.Descriptor

	InterpHead          uintptr
	GCState             uintptr
	TStateCurrentOffset int
	TIDOffsetHint       int

	LastRSS      int64
	LastSampleAt time.Time

	Frames     *cache.LRU[cache.FrameKey, *location.Frame]
	Strings    *cache.LRU[cache.StringKey, *unwind.StringRecord]
	Codes      *cache.LRU[cache.CodeKey, *unwind.CodeRecord]
	InterpMeta *cache.LRU[cache.InterpKey, struct{}]

	Reader remote.Reader
	Mirror *interpMirror

	resolver *unwind.Resolver
}

// New builds a Target and its four caches: frame cache at 2*maxStack,
// string and code caches at maxStack, and the
// interpreter-metadata cache at a fixed 8 (interpreter count is always
// small -- sub-interpreters are rare and bounded by the target itself).
func New(rdr remote.Reader, h remote.Handle, img *binimage.Image, desc *pyabi.Descriptor, maxStack int) *Target {
	t := &Target{
		Pid:                 h.Pid,
		Handle:              h,
		Image:               img,
		Desc:                desc,
		TStateCurrentOffset: -1,
		TIDOffsetHint:       -1,
		Reader:              rdr,
		Frames:              cache.New[cache.FrameKey, *location.Frame](2*maxStack, nil),
		Strings:             cache.New[cache.StringKey, *unwind.StringRecord](maxStack, nil),
		Codes:               cache.New[cache.CodeKey, *unwind.CodeRecord](maxStack, nil),
		InterpMeta:          cache.New[cache.InterpKey, struct{}](8, nil),
	}
	t.resolver = unwind.NewResolver(rdr, h, desc, unwind.Caches{
		Frames:  t.Frames,
		Strings: t.Strings,
		Codes:   t.Codes,
	})
	return t
}

// InvalidateAll drops every cached frame, string, and code record, used
// on a CPython 3.14+ code-object-generation bump.
func (t *Target) InvalidateAll() {
	t.Frames.InvalidateAll()
	t.Strings.InvalidateAll()
	t.Codes.InvalidateAll()
}

// Resolver returns the frame/code/string resolver bound to this
// target's caches and memory reader.
func (t *Target) Resolver() *unwind.Resolver { return t.resolver }

// StringValue returns the cached text for a string key, falling back to
// the unknown-scope sentinel: filename_ref and scope_ref always point
// into the string cache or to the sentinel.
func (t *Target) StringValue(key cache.StringKey) string {
	c := unwind.Caches{Strings: t.Strings}
	return c.StringValue(key)
}

// Prefetch copies the interpreter-state struct at addr into a local
// mirror, sized to at least one page (capped by pageSizeCap), so the
// sampler's per-tick field reads (tstate_head, id, gc, code_object_gen)
// cost one remote copy instead of several.
func (t *Target) Prefetch(addr uintptr, pageSizeCap int) error {
	size := t.Desc.Sizes.InterpreterState
	page := t.Reader.PageSize()
	if pageSizeCap > 0 && page > pageSizeCap {
		page = pageSizeCap
	}
	if page > size {
		size = page
	}
	raw, err := remote.Copy(t.Reader, t.Handle, addr, size)
	if err != nil {
		return err
	}
	t.Mirror = &interpMirror{base: addr, data: raw}
	return nil
}

// TStateHead returns the prefetched interpreter's tstate_head field.
func (t *Target) TStateHead() uintptr { return t.Mirror.ptr(t.Desc.Offsets.Interp.TStateHead) }

// InterpID returns the prefetched interpreter's id field.
func (t *Target) InterpID() int64 { return t.Mirror.int64(t.Desc.Offsets.Interp.ID) }

// CodeGen returns the prefetched interpreter's code_object_generation
// field (3.14+ only; zero on earlier versions where the offset is 0).
func (t *Target) CodeGen() uint64 {
	if t.Desc.Offsets.Interp.CodeGen <= 0 {
		return 0
	}
	return t.Mirror.uint64(t.Desc.Offsets.Interp.CodeGen)
}

// NextInterp returns the prefetched interpreter's next field, for
// advancing the sampler to the next interpreter in the linked list.
func (t *Target) NextInterp() uintptr { return t.Mirror.ptr(t.Desc.Offsets.Interp.Next) }

// MirrorOrRead returns field bytes at addr from the current mirror when
// addr falls inside its window, else issues a direct remote read --
// used by code paths (e.g. the GC collecting flag) that may read just
// outside the prefetched struct bounds.
func (t *Target) MirrorOrRead(addr uintptr, n int) ([]byte, error) {
	if t.Mirror != nil {
		if b, ok := t.Mirror.slice(addr, n); ok {
			return b, nil
		}
	}
	return remote.Copy(t.Reader, t.Handle, addr, n)
}

// RecordRSS stores the most recent resident-set-size sample, returning
// the signed delta from the previous sample, used by the GIL-holder
// memory-delta rule.
func (t *Target) RecordRSS(rss int64) int64 {
	delta := rss - t.LastRSS
	t.LastRSS = rss
	t.LastSampleAt = time.Now()
	return delta
}

// ErrNotPython is returned by operations that require a located
// interpreter when the locator has not (yet) succeeded.
var ErrNotPython = errs.New(errs.Version, "no interpreter located for this target")
