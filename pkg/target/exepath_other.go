//go:build !linux

package target

import "github.com/austin-dist/austin/pkg/errs"

func exePath(pid int) (string, error) {
	return "", errs.New(errs.OS, "executable path resolution unavailable on this platform")
}

func libPath(pid int) (string, error) {
	return "", nil
}
