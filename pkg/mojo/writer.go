package mojo

import (
	"bufio"
	"io"

	"github.com/austin-dist/austin/pkg/errs"
)

// Flusher is satisfied by sinks that can be explicitly flushed, used by
// pipe mode to flush the sink after every metadata event and after
// every stack boundary.
type Flusher interface {
	Flush() error
}

// Writer serializes MOJO v3 primitives to an underlying sink. It owns no
// buffering decisions beyond what bufio.Writer gives it; pipe mode callers
// call Flush explicitly at each metadata event and stack boundary.
type Writer struct {
	w    *bufio.Writer
	pipe bool
	buf  []byte
}

// NewWriter wraps sink in a Writer and immediately emits the MOJO header.
func NewWriter(sink io.Writer, pipe bool) (*Writer, error) {
	w := &Writer{w: bufio.NewWriter(sink), pipe: pipe}
	if err := w.header(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) header() error {
	if _, err := w.w.WriteString(Header); err != nil {
		return errs.Wrap(errs.IO, err, "writing MOJO header")
	}
	w.buf = EncodeVarint(w.buf[:0], uint64(Version), false)
	if _, err := w.w.Write(w.buf); err != nil {
		return errs.Wrap(errs.IO, err, "writing MOJO version")
	}
	return w.w.Flush()
}

func (w *Writer) event(k Kind) error {
	if err := w.w.WriteByte(byte(k)); err != nil {
		return errs.Wrap(errs.IO, err, "writing event byte")
	}
	return nil
}

func (w *Writer) integer(v uint64, negative bool) error {
	w.buf = EncodeVarint(w.buf[:0], v, negative)
	_, err := w.w.Write(w.buf)
	if err != nil {
		return errs.Wrap(errs.IO, err, "writing varint")
	}
	return nil
}

func (w *Writer) signed(v int64) error {
	w.buf = EncodeSignedVarint(w.buf[:0], v)
	_, err := w.w.Write(w.buf)
	if err != nil {
		return errs.Wrap(errs.IO, err, "writing signed varint")
	}
	return nil
}

func (w *Writer) ref(key uint64) error {
	w.buf = EncodeRef(w.buf[:0], key)
	_, err := w.w.Write(w.buf)
	if err != nil {
		return errs.Wrap(errs.IO, err, "writing ref")
	}
	return nil
}

func (w *Writer) cstring(s string) error {
	if _, err := w.w.WriteString(s); err != nil {
		return errs.Wrap(errs.IO, err, "writing string")
	}
	return w.w.WriteByte(0)
}

// Flush forces buffered bytes to the sink, classifying a broken pipe as
// errs.IO.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return errs.Wrap(errs.IO, err, "flushing MOJO sink")
	}
	return nil
}
