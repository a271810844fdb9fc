//go:build linux

package remote

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

func isNoSuchProcess(err error) bool {
	return err == unix.ESRCH || os.IsNotExist(err)
}

func isPermissionDenied(err error) bool {
	return err == unix.EPERM || err == unix.EACCES || os.IsPermission(err)
}

// LinuxReader reads a target's memory using process_vm_readv, the same
// cross-process copy facility gVisor's ptrace platform falls back to when
// it needs bytes instead of registers; on targets where that syscall is
// refused (e.g. by seccomp) it falls back to pread on /proc/<pid>/mem.
type LinuxReader struct {
	pageSize int

	mu    sync.Mutex
	files map[int]*os.File
}

// NewLinuxReader constructs a Reader for use against Linux targets.
func NewLinuxReader() *LinuxReader {
	return &LinuxReader{
		pageSize: os.Getpagesize(),
		files:    make(map[int]*os.File),
	}
}

func (r *LinuxReader) PageSize() int { return r.pageSize }

func (r *LinuxReader) Copy(h Handle, addr uintptr, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)

	local := []unix.Iovec{{Base: &buf[0], Len: uint64(n)}}
	remoteIov := []unix.RemoteIovec{{Base: addr, Len: n}}
	got, err := unix.ProcessVMReadv(h.Pid, local, remoteIov, 0)
	if err == nil && got == n {
		return buf, nil
	}

	// process_vm_readv can be denied by seccomp or yama ptrace_scope even
	// when /proc/<pid>/mem is still readable (e.g. we are the parent).
	// Fall back exactly as original_source's py_proc_mem_read does.
	return r.copyViaProcMem(h, addr, buf)
}

func (r *LinuxReader) copyViaProcMem(h Handle, addr uintptr, buf []byte) ([]byte, error) {
	f, err := r.memFile(h)
	if err != nil {
		return nil, err
	}
	n, err := f.ReadAt(buf, int64(addr))
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("short read: got %d want %d", n, len(buf))
	}
	return buf, nil
}

func (r *LinuxReader) memFile(h Handle) (*os.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[h.Pid]; ok {
		return f, nil
	}
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", h.Pid), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	r.files[h.Pid] = f
	return f, nil
}

// Close releases any cached /proc/<pid>/mem file descriptors.
func (r *LinuxReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for pid, f := range r.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.files, pid)
	}
	return first
}

// Forget drops any cached handle for a pid that has exited, so a later
// reused pid does not read through a stale descriptor.
func (r *LinuxReader) Forget(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[h.Pid]; ok {
		f.Close()
		delete(r.files, h.Pid)
	}
}
