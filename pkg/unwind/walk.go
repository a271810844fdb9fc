package unwind

import (
	"encoding/binary"

	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
	"github.com/austin-dist/austin/pkg/stackbuf"
)

// Strategy is a table-driven per-version behaviour record, chosen
// instead of nested conditionals: one value selected once per target by
// its resolved pyabi.Descriptor, reused for every sample thereafter.
type Strategy struct {
	// TopFrame returns the remote address of the thread's topmost frame
	// (already dereferenced through any _PyCFrame indirection).
	TopFrame func(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, threadFrameField uintptr) (uintptr, error)

	// Walk fills stack with pre-resolution tuples starting at top,
	// stopping at a null pointer, a cycle, or stack capacity.
	Walk func(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, top uintptr, stack *stackbuf.Stack[PyFrameTuple]) (saturated bool, err error)
}

// For selects the Strategy matching d.Dialect.
func For(d *pyabi.Descriptor) Strategy {
	switch d.Dialect {
	case pyabi.DialectCFrame:
		return Strategy{TopFrame: topFrameCFrame, Walk: walkInterpreterFrames}
	case pyabi.DialectInterpreterFrame:
		return Strategy{TopFrame: topFrameDirect, Walk: walkInterpreterFrames}
	default:
		return Strategy{TopFrame: topFrameDirect, Walk: walkClassicFrames}
	}
}

func topFrameDirect(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, threadFrameField uintptr) (uintptr, error) {
	return threadFrameField, nil
}

// topFrameCFrame dereferences ThreadState.frame (a _PyCFrame*) to reach
// its current_frame field, the actual top _PyInterpreterFrame, for the
// CFrame-rooted dialect (3.11-3.12).
func topFrameCFrame(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, cframeAddr uintptr) (uintptr, error) {
	if cframeAddr == 0 {
		return 0, nil
	}
	raw, err := remote.Copy(rdr, h, cframeAddr, d.Sizes.CFrame)
	if err != nil {
		return 0, errs.Wrap(errs.PyObject, err, "reading _PyCFrame")
	}
	return readPtr(raw, d.Offsets.CFrame.CurrentFrame), nil
}

// walkClassicFrames implements the <=3.10 dialect: ThreadState.frame ->
// Frame.back, the pre-3.11 PyFrameObject layout.
func walkClassicFrames(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, top uintptr, stack *stackbuf.Stack[PyFrameTuple]) (bool, error) {
	cur := top
	for cur != 0 {
		if stack.HasCycle(cur) {
			return false, errs.New(errs.Value, "cyclic classic frame chain")
		}
		raw, err := remote.Copy(rdr, h, cur, d.Sizes.Frame)
		if err != nil {
			return false, err
		}
		codeAddr := readPtr(raw, d.Offsets.Frame.Code)
		lasti := int32(int64(int32(binary.LittleEndian.Uint32(raw[d.Offsets.Frame.Lasti : d.Offsets.Frame.Lasti+4]))))

		tuple := PyFrameTuple{FrameAddr: cur, CodeAddr: codeAddr, Lasti: lasti}
		if !stack.Push(tuple) {
			return true, nil
		}
		cur = readPtr(raw, d.Offsets.Frame.Back)
	}
	return false, nil
}

// walkInterpreterFrames implements both the CFrame-rooted (3.11-3.12) and
// interpreter-frame-native (3.13+) dialects: from 3.11 the frame chain is
// always made of _PyInterpreterFrame nodes linked by `previous`, only the
// path to the first one differs (handled by the Strategy's TopFrame).
func walkInterpreterFrames(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, top uintptr, stack *stackbuf.Stack[PyFrameTuple]) (bool, error) {
	cur := top
	for cur != 0 {
		if stack.HasCycle(cur) {
			return false, errs.New(errs.Value, "cyclic interpreter frame chain")
		}
		raw, err := remote.Copy(rdr, h, cur, d.Sizes.InterpreterFrame)
		if err != nil {
			return false, err
		}

		off := d.Offsets.InterpreterFrame
		owner := raw[off.Owner]
		isShim := owner == frameOwnerCStack
		// 3.11 additionally exposes an explicit is_entry flag; 3.12
		// folded that bit into the owner enum and removed the field.
		// Consult the version descriptor's capability flag rather
		// than an open-coded minor-version check.
		if d.HasIsEntry && off.IsEntry >= 0 && raw[off.IsEntry] != 0 {
			isShim = true
		}

		if !isShim {
			codeAddr := readPtr(raw, off.Code)
			prevInstr := readPtr(raw, off.PrevInstr)
			lasti := int32((int64(prevInstr) - int64(codeAddr) - int64(d.Offsets.Code.Code)) / int64(instructionUnitSize))

			tuple := PyFrameTuple{FrameAddr: cur, CodeAddr: codeAddr, Lasti: lasti}
			if !stack.Push(tuple) {
				return true, nil
			}
		} else {
			// A shim frame marks a C-stack boundary; it contributes no
			// Python frame but is still pushed as a boundary marker for
			// native-stack builds.
			stack.Push(PyFrameTuple{FrameAddr: cur, CFrameBoundary: true})
		}

		cur = readPtr(raw, off.Previous)
	}
	return false, nil
}

// frameOwnerCStack is CPython's FRAME_OWNED_BY_CSTACK enum value (the
// shim marker introduced alongside _PyInterpreterFrame in 3.11).
const frameOwnerCStack = 2

// instructionUnitSize is sizeof(_Py_CODEUNIT): CPython bytecode
// instructions are always 16-bit wide from 3.6 onward.
const instructionUnitSize = 2
