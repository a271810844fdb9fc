//go:build linux

package target

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/austin-dist/austin/pkg/errs"
)

// exePath resolves the target's main executable path via /proc, mirroring
// original_source/src/linux/py_proc.h's use of /proc/<pid>/exe.
func exePath(pid int) (string, error) {
	p, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", errs.Wrap(errs.OS, err, "resolving target executable")
	}
	return p, nil
}

// libPath scans /proc/<pid>/maps for the first mapped libpython shared
// object, matching original_source's "the actual executable is
// sometimes picked as a library" note: a statically-linked CPython has
// no separate libpython, so a miss here is not an error.
func libPath(pid int) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return "", errs.Wrap(errs.OS, err, "opening target memory map")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "libpython"); i >= 0 {
			fields := strings.Fields(line)
			return fields[len(fields)-1], nil
		}
	}
	return "", nil
}
