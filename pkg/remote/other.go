//go:build !linux

package remote

import "errors"

func isNoSuchProcess(err error) bool { return false }

func isPermissionDenied(err error) bool { return false }

// LinuxReader is only available on Linux; other platforms must supply
// their own Reader (e.g. a Windows ReadProcessMemory-backed one, or a
// Mach vm_read-backed one on Darwin) behind the same interface.
type LinuxReader struct{}

func NewLinuxReader() *LinuxReader { return &LinuxReader{} }

func (r *LinuxReader) PageSize() int { return 4096 }

func (r *LinuxReader) Copy(h Handle, addr uintptr, n int) ([]byte, error) {
	return nil, errors.New("remote: linux reader unavailable on this platform")
}
