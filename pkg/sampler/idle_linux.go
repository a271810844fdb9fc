//go:build linux

package sampler

import (
	"fmt"
	"os"
	"strings"

	"github.com/austin-dist/austin/pkg/errs"
)

// isThreadIdle queries the OS per-thread scheduling state, matching
// original_source/src/linux/py_thread.h's py_thread__is_idle: a thread
// not in the Running state is idle.
func isThreadIdle(pid int, tid uint64) (bool, error) {
	if tid == 0 {
		return false, errs.New(errs.Value, "no native thread id to query")
	}
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid))
	if err != nil {
		return false, errs.Wrap(errs.OS, err, "reading thread stat file")
	}
	s := string(raw)
	paren := strings.IndexByte(s, ')')
	if paren < 0 || paren+2 >= len(s) {
		return false, errs.New(errs.Value, "malformed thread stat file")
	}
	return s[paren+2] != 'R', nil
}
