// Package remote implements the cross-process memory copy primitive: the
// only operation in this codebase that reaches into a foreign address
// space. Every caller elsewhere in the core depends only on the Reader
// interface; platform-specific behaviour is isolated to the *_linux.go /
// *_other.go files in this package, keeping OS-specific ptrace/wait logic
// behind small, named methods.
package remote

import "github.com/austin-dist/austin/pkg/errs"

// Handle identifies the target process a Reader operates against.
type Handle struct {
	Pid int
}

// Reader copies byte ranges out of a target's address space.
//
// Copy always returns exactly n bytes on success. A short read, a read
// that falls outside any mapped region, or a transient kernel refusal is
// reported as an *errs.Error with Kind errs.MemoryCopy and is not fatal:
// callers should skip the current sample and try again next tick. A
// target that no longer exists is errs.OS ("Gone"); a target that refuses
// access outright is errs.Permission ("Denied").
type Reader interface {
	Copy(h Handle, addr uintptr, n int) ([]byte, error)
	PageSize() int
}

// Classify turns a raw OS error from a memory-read syscall into the
// errs.Kind the rest of the core expects, per the remote-memory
// primitive's contract.
func Classify(err error) errs.Kind {
	switch {
	case err == nil:
		return errs.IterationEnd
	case isNoSuchProcess(err):
		return errs.OS
	case isPermissionDenied(err):
		return errs.Permission
	default:
		return errs.MemoryCopy
	}
}

// Copy is a convenience wrapper applying Classify to a Reader's result.
func Copy(r Reader, h Handle, addr uintptr, n int) ([]byte, error) {
	b, err := r.Copy(h, addr, n)
	if err != nil {
		kind := Classify(err)
		return nil, errs.Wrap(kind, err, "remote memory copy failed")
	}
	if len(b) != n {
		return nil, errs.New(errs.MemoryCopy, "short remote memory read")
	}
	return b, nil
}
