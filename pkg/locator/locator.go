// Package locator finds the address of a target's PyInterpreterState
// head. It tries, in order, a dereference through the located PyRuntime
// symbol, then through the PyRuntime section, and finally a scan of the
// BSS section (a 3.13+ debug-offsets block is decoded earlier, by
// pkg/target, into the descriptor these strategies use) -- the same ordering original_source/src/py_proc.c's
// _py_proc__find_interpreter_state uses.
package locator

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/austin-dist/austin/pkg/binimage"
	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/pythread"
	"github.com/austin-dist/austin/pkg/remote"
)

// retryInterval is how often Locate retries attemptOnce while waiting
// for a running target's interpreter to finish initialising.
const retryInterval = 10 * time.Millisecond

// bssScanWindow bounds each backward step of the BSS fallback scan to
// 64KiB, matching the step size original_source uses to keep a scan of
// a large, mostly-empty BSS section fast.
const bssScanWindow = 0x10000

// maxBSSShifts bounds how many 64KiB windows below the BSS base are
// tried before giving up. original_source's loop only ever executes its
// body once (`for (shift = 0; shift < 1; shift++)`) -- a bug, not a
// design choice, since the comment above it explicitly describes
// "tak[ing] steps of 64KB backwards" across more than one step. This
// fixes that by actually performing the multi-window walk the comment
// promises.
const maxBSSShifts = 8

// Candidate is a located interpreter state, ready for the sampler to
// prefetch and walk.
type Candidate struct {
	InterpHead  uintptr
	GCState     uintptr
	FromSymbols bool
}

// Locate runs the three strategies in order -- runtime symbol
// dereference, runtime section dereference, BSS scan -- retrying at
// retryInterval until one succeeds, ctx is cancelled, or timeout
// elapses (mirroring original_source's py_proc__init
// TIMER_START/TIMER_END loop). A timeout of zero or less makes exactly
// one attempt.
func Locate(ctx context.Context, rdr remote.Reader, h remote.Handle, img *binimage.Image, d *pyabi.Descriptor, timeout time.Duration) (*Candidate, error) {
	if res, err := attemptOnce(rdr, h, img, d); err == nil {
		return res, nil
	}
	if timeout <= 0 {
		return nil, errs.New(errs.Binary, "unable to locate interpreter state")
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.OS, ctx.Err(), "timed out locating interpreter state")
		case <-deadline.C:
			return nil, errs.New(errs.Binary, "timed out locating interpreter state")
		case <-ticker.C:
			if res, err := attemptOnce(rdr, h, img, d); err == nil {
				return res, nil
			}
		}
	}
}

// LocateOnce makes exactly one attempt, for newly execed children
// discovered by the process-tree manager: a forked child is expected to
// either be ready immediately or not be a Python process at all, so
// retrying buys nothing.
func LocateOnce(rdr remote.Reader, h remote.Handle, img *binimage.Image, d *pyabi.Descriptor) (*Candidate, error) {
	return attemptOnce(rdr, h, img, d)
}

// attemptOnce runs the three location strategies once, in order. Each
// needs img: at least one of its Runtime symbol, runtime section, or BSS
// section must be populated to proceed, and a nil img yields an error.
func attemptOnce(rdr remote.Reader, h remote.Handle, img *binimage.Image, d *pyabi.Descriptor) (*Candidate, error) {
	if img != nil {
		if addr, ok := img.Symbols["Runtime"]; ok {
			if res, err := derefRuntime(rdr, h, d, addr, addr); err == nil {
				return res, nil
			}
		}
		if img.Runtime.Base != 0 {
			upper := img.Runtime.Base + uintptr(img.Runtime.Size)
			if res, err := derefRuntime(rdr, h, d, img.Runtime.Base, upper); err == nil {
				return res, nil
			}
		}
		if img.BSS.Base != 0 {
			if res, err := scanBSS(rdr, h, d, img.BSS); err == nil {
				return res, nil
			}
		}
	}
	return nil, errs.New(errs.Binary, "unable to locate interpreter state")
}

// derefRuntime walks candidate PyRuntime addresses in [lower, upper],
// reading the interp_head field at each and accepting the first
// candidate that passes the structural round-trip check.
func derefRuntime(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, lower, upper uintptr) (*Candidate, error) {
	for addr := lower; addr <= upper; addr += uintptr(pyabi.PointerSize) {
		raw, err := remote.Copy(rdr, h, addr, d.Sizes.Runtime)
		if err != nil {
			continue
		}
		interpHead := readPtr(raw, d.Offsets.Runtime.InterpHead)
		if interpHead == 0 {
			continue
		}
		if ok, _ := accept(rdr, h, d, interpHead); ok {
			return &Candidate{
				InterpHead:  interpHead,
				GCState:     interpHead + uintptr(d.Offsets.Interp.GC),
				FromSymbols: true,
			}, nil
		}
	}
	return nil, errs.New(errs.Binary, "cannot dereference interpreter state from runtime section")
}

// scanBSS walks the BSS section in backward 64KiB windows looking
// either for a pointer into a valid interpreter state (unshifted) or,
// failing that, for the interpreter state itself stored inline (the
// 3.11+ case original_source's comment describes).
func scanBSS(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, bss binimage.Region) (*Candidate, error) {
	step := uint64(bssScanWindow)
	if bss.Size < step {
		step = bss.Size
	}
	if step == 0 {
		return nil, errs.New(errs.Binary, "empty BSS section")
	}

	for shift := 0; shift < maxBSSShifts; shift++ {
		base := bss.Base - uintptr(uint64(shift)*step)
		size := bss.Size
		if shift > 0 {
			size = step
		}

		window, err := remote.Copy(rdr, h, base, int(size))
		if err != nil {
			if shift == 0 {
				continue
			}
			break
		}

		for off := 0; off+pyabi.PointerSize <= len(window); off += pyabi.PointerSize {
			var candidate uintptr
			if shift == 0 {
				candidate = readPtr(window, off)
				if candidate == 0 {
					continue
				}
			} else {
				candidate = base + uintptr(off)
			}
			if ok, _ := accept(rdr, h, d, candidate); ok {
				return &Candidate{
					InterpHead: candidate,
					GCState:    candidate + uintptr(d.Offsets.Interp.GC),
				}, nil
			}
		}
	}
	return nil, errs.New(errs.Binary, "BSS scan found no interpreter state")
}

// accept runs a structural round-trip check before trusting a candidate
// interpreter-state address: its thread list head must itself point
// back to the candidate.
func accept(rdr remote.Reader, h remote.Handle, d *pyabi.Descriptor, candidate uintptr) (bool, error) {
	raw, err := remote.Copy(rdr, h, candidate, d.Sizes.InterpreterState)
	if err != nil {
		return false, err
	}
	tstateHead := readPtr(raw, d.Offsets.Interp.TStateHead)
	if tstateHead == 0 {
		return false, nil
	}
	back, err := pythread.InterpBackPointer(rdr, h, d, tstateHead)
	if err != nil {
		return false, nil
	}
	return back == candidate, nil
}

func readPtr(b []byte, off int) uintptr {
	if off < 0 || off+pyabi.PointerSize > len(b) {
		return 0
	}
	return uintptr(binary.LittleEndian.Uint64(b[off : off+pyabi.PointerSize]))
}
