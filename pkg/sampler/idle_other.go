//go:build !linux

package sampler

import "github.com/austin-dist/austin/pkg/errs"

// isThreadIdle has no portable implementation outside of /proc; callers
// treat a query error as "idle state unknown" and leave the thread
// un-filtered rather than guessing.
func isThreadIdle(pid int, tid uint64) (bool, error) {
	return false, errs.New(errs.OS, "thread idle query unavailable on this platform")
}
