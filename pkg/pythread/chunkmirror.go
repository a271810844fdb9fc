package pythread

import (
	"encoding/binary"

	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
)

// chunk is one locally mirrored _PyStackChunk: an exact byte image of the
// remote chunk, tagged with its remote origin so that any remote address
// inside [origin, origin+len(data)) resolves to a local offset without a
// further cross-process read -- the dominant latency win on modern
// CPython, where most frames live inline in these chunks.
type chunk struct {
	origin uintptr
	data   []byte
}

// ChunkMirror is a per-thread mirror of the linked list of _PyStackChunk
// nodes CPython 3.11+ allocates interpreter frames out of.
type ChunkMirror struct {
	chunks []chunk
}

// chunkHeaderSize covers _PyStackChunk's previous pointer, size field,
// and top-of-stack pointer (3 pointer-sized fields) before the inline
// frame data begins.
const chunkHeaderSize = 3 * pyabi.PointerSize

// MirrorChunks walks the remote chunk list starting at addr, copying each
// chunk once into a local buffer.
func MirrorChunks(rdr remote.Reader, h remote.Handle, addr uintptr, maxChunks int) (*ChunkMirror, error) {
	m := &ChunkMirror{}
	cur := addr
	for i := 0; cur != 0 && i < maxChunks; i++ {
		header, err := remote.Copy(rdr, h, cur, chunkHeaderSize)
		if err != nil {
			return m, err
		}
		size := int(binary.LittleEndian.Uint64(header[pyabi.PointerSize : 2*pyabi.PointerSize]))
		if size <= 0 || size > 1<<20 {
			break
		}
		full, err := remote.Copy(rdr, h, cur, chunkHeaderSize+size)
		if err != nil {
			return m, err
		}
		m.chunks = append(m.chunks, chunk{origin: cur, data: full})
		cur = uintptr(binary.LittleEndian.Uint64(header[:pyabi.PointerSize]))
	}
	return m, nil
}

// Resolve maps a remote address inside a mirrored chunk to its local
// byte slice, or reports ok=false when addr falls outside every mirrored
// chunk (the caller should fall back to a direct remote read).
func (m *ChunkMirror) Resolve(addr uintptr, n int) ([]byte, bool) {
	if m == nil {
		return nil, false
	}
	for _, c := range m.chunks {
		if addr >= c.origin && addr+uintptr(n) <= c.origin+uintptr(len(c.data)) {
			start := addr - c.origin
			return c.data[start : start+uintptr(n)], true
		}
	}
	return nil, false
}
