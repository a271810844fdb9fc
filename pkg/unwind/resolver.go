package unwind

import (
	"encoding/binary"

	"github.com/austin-dist/austin/pkg/cache"
	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/location"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
)

// Caches bundles the four lookups the resolver needs; Target (pkg/target)
// owns the concrete cache instances and passes this view down so pkg/unwind
// stays independent of the target/supervisor package (no import cycle).
type Caches struct {
	Frames  *cache.LRU[cache.FrameKey, *location.Frame]
	Strings *cache.LRU[cache.StringKey, *StringRecord]
	Codes   *cache.LRU[cache.CodeKey, *CodeRecord]
}

// Resolver turns pre-resolution PyFrameTuples into cached location.Frame
// records, reading code objects and strings from the target's memory only
// on a cache miss.
type Resolver struct {
	rdr    remote.Reader
	handle remote.Handle
	desc   *pyabi.Descriptor
	decode location.Decoder
	caches Caches
}

// NewResolver constructs a Resolver bound to one target and CPython
// version descriptor.
func NewResolver(rdr remote.Reader, h remote.Handle, desc *pyabi.Descriptor, caches Caches) *Resolver {
	return &Resolver{
		rdr:    rdr,
		handle: h,
		desc:   desc,
		decode: decoderFor(desc.LocationDialect),
		caches: caches,
	}
}

func decoderFor(d pyabi.LocationDialect) location.Decoder {
	switch d {
	case pyabi.LocationCompact311:
		return location.DecodeCompact311
	case pyabi.LocationLnotab310:
		return location.DecodeLnotab310
	default:
		return location.DecodeLnotabPre310
	}
}

// Resolve looks up (or builds and caches) the Frame record for tuple t.
// On a cache hit, the caller should emit only FrameRef; on a miss, the
// caller must emit the full Frame record this returns.
func (r *Resolver) Resolve(t PyFrameTuple) (frame *location.Frame, hit bool, err error) {
	code, err := r.readCode(t.CodeAddr)
	if err != nil {
		return nil, false, err
	}
	key := cache.MakeFrameKey(t.CodeAddr, t.Lasti)
	if f, ok := r.caches.Frames.Get(key); ok {
		return f, true, nil
	}

	loc := r.decode(code.LineTable, t.Lasti)
	f := &location.Frame{
		Key:         key,
		FilenameRef: code.FilenameRef,
		ScopeRef:    code.ScopeRef,
		Line:        code.FirstLine + loc.Line,
		LineEnd:     code.FirstLine + loc.LineEnd,
		Column:      loc.Column,
		ColumnEnd:   loc.ColumnEnd,
	}
	r.caches.Frames.Add(key, f)
	return f, false, nil
}

func (r *Resolver) readCode(addr uintptr) (*CodeRecord, error) {
	key := cache.CodeKey(addr)
	if c, ok := r.caches.Codes.Get(key); ok {
		return c, nil
	}

	raw, err := remote.Copy(r.rdr, r.handle, addr, r.desc.Sizes.Code)
	if err != nil {
		return nil, errs.Wrap(errs.PyObject, err, "reading code object")
	}

	off := r.desc.Offsets.Code
	filenameAddr := readPtr(raw, off.Filename)
	qualnameAddr := readPtr(raw, off.Qualname)
	if qualnameAddr == 0 {
		qualnameAddr = readPtr(raw, off.Name)
	}
	firstLine := int32(readPtr(raw, off.FirstLineno))

	filenameRef, err := r.readStringRef(filenameAddr)
	if err != nil {
		return nil, err
	}
	scopeRef, err := r.readStringRef(qualnameAddr)
	if err != nil {
		return nil, err
	}

	lineTable, err := r.readLineTable(raw, off)
	if err != nil {
		return nil, err
	}

	rec := &CodeRecord{
		Key:         key,
		FilenameRef: filenameRef,
		ScopeRef:    scopeRef,
		LineTable:   lineTable,
		FirstLine:   firstLine,
	}
	r.caches.Codes.Add(key, rec)
	return rec, nil
}

// readLineTable reads the variable-length location table referenced by
// Code.Lnotab. Its true length is not known up front (it is itself a
// Python bytes object whose ob_size precedes its data); the resolver
// reads the bytes object header first to discover the payload length,
// then reads exactly that many bytes, matching original_source's
// two-phase "peek the size, then copy the payload" approach to variable
// length PyObjects.
func (r *Resolver) readLineTable(codeRaw []byte, off pyabi.CodeOffsets) ([]byte, error) {
	tableAddr := readPtr(codeRaw, off.Lnotab)
	if tableAddr == 0 {
		return nil, nil
	}
	header, err := remote.Copy(r.rdr, r.handle, tableAddr, r.desc.Sizes.Bytes)
	if err != nil {
		return nil, errs.Wrap(errs.PyObject, err, "reading line table header")
	}
	// PyBytesObject: ob_refcnt, ob_type (2 pointers), ob_size (1
	// pointer-sized field), then inline data.
	size := int(binary.LittleEndian.Uint64(header[2*pyabi.PointerSize : 3*pyabi.PointerSize]))
	if size <= 0 {
		return nil, nil
	}
	dataAddr := tableAddr + uintptr(3*pyabi.PointerSize)
	data, err := remote.Copy(r.rdr, r.handle, dataAddr, size)
	if err != nil {
		return nil, errs.Wrap(errs.PyObject, err, "reading line table payload")
	}
	return data, nil
}

func (r *Resolver) readStringRef(addr uintptr) (cache.StringKey, error) {
	if addr == 0 {
		return 0, nil
	}
	key := cache.StringKey(addr)
	if _, ok := r.caches.Strings.Get(key); ok {
		return key, nil
	}
	s, err := r.readUnicodeASCII(addr)
	if err != nil {
		// A failure to resolve one string is PyObject-kind; skipping
		// the whole sample over it would be too strong, so the caller
		// falls back to the unknown-scope sentinel for just this frame.
		r.caches.Strings.Add(key, &StringRecord{Key: key, Value: UnknownScope})
		return key, nil
	}
	r.caches.Strings.Add(key, &StringRecord{Key: key, Value: s})
	return key, nil
}

// readUnicodeASCII reads a compact ASCII PyUnicodeObject: a fixed header
// (whose size the version descriptor carries) immediately followed by
// `length` single-byte characters, the representation CPython uses for
// ASCII-only strings such as filenames and qualnames in the overwhelming
// common case.
func (r *Resolver) readUnicodeASCII(addr uintptr) (string, error) {
	header, err := remote.Copy(r.rdr, r.handle, addr, r.desc.Sizes.Unicode)
	if err != nil {
		return "", errs.Wrap(errs.PyObject, err, "reading unicode header")
	}
	// PyASCIIObject.length sits right after the PyObject_HEAD pointers
	// (ob_refcnt, ob_type): one pointer-sized field.
	length := int(binary.LittleEndian.Uint64(header[2*pyabi.PointerSize : 3*pyabi.PointerSize]))
	if length < 0 || length > 4096 {
		return "", errs.New(errs.Value, "implausible unicode length")
	}
	if length == 0 {
		return "", nil
	}
	data, err := remote.Copy(r.rdr, r.handle, addr+uintptr(r.desc.Sizes.Unicode), length)
	if err != nil {
		return "", errs.Wrap(errs.PyObject, err, "reading unicode data")
	}
	return string(data), nil
}

// StringValue returns the cached string for key, or UnknownScope if it is
// not (yet) cached -- used by callers that already hold a key from a
// resolved CodeRecord and need the text to emit a String event.
func (c *Caches) StringValue(key cache.StringKey) string {
	if rec, ok := c.Strings.Get(key); ok {
		return rec.Value
	}
	return UnknownScope
}

func readPtr(b []byte, off int) uintptr {
	if off < 0 || off+pyabi.PointerSize > len(b) {
		return 0
	}
	return uintptr(binary.LittleEndian.Uint64(b[off : off+pyabi.PointerSize]))
}
