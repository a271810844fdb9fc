// Package config resolves the command-line and environment surface
// into the Config value the rest of the core consumes. It owns no
// flag-parsing library itself (cmd/austin wires cobra/pflag);
// it only validates the values that land in its fields and folds in
// the two recognised environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/austin-dist/austin/pkg/errs"
)

// defaultPageSizeCap is the AUSTIN_PAGE_SIZE_CAP default.
const defaultPageSizeCap = 4096

// Config is the fully-resolved set of options a sampling run needs,
// after flag parsing and environment loading but before any process is
// spawned or attached.
type Config struct {
	// Command and Args identify a child process to spawn (mutually
	// exclusive with Pid).
	Command string
	Args    []string
	// Pid attaches to an already-running process (mutually exclusive
	// with Command).
	Pid int

	IntervalUs      int // -i
	AttachTimeoutMs int // -t
	ExposureSec     int // -x
	Output          string // -o, "" means stdout
	FollowChildren  bool   // -C
	Full            bool   // -f
	CPU             bool   // -s
	Memory          bool   // -m
	GCTime          bool   // -g
	Pipe            bool   // -P
	Where           bool   // -w

	NoLogging   bool // AUSTIN_NO_LOGGING
	PageSizeCap int  // AUSTIN_PAGE_SIZE_CAP
}

// LoadEnv folds AUSTIN_NO_LOGGING and AUSTIN_PAGE_SIZE_CAP into c,
// leaving fields already set by flags untouched when the corresponding
// variable is absent or malformed. AUSTIN_NO_LOGGING disables logging;
// AUSTIN_PAGE_SIZE_CAP caps the mirrored page size (default 4096).
func (c *Config) LoadEnv() {
	if _, ok := os.LookupEnv("AUSTIN_NO_LOGGING"); ok {
		c.NoLogging = true
	}
	if c.PageSizeCap <= 0 {
		c.PageSizeCap = defaultPageSizeCap
	}
	if v, ok := os.LookupEnv("AUSTIN_PAGE_SIZE_CAP"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PageSizeCap = n
		}
	}
}

// Validate enforces the mutually-exclusive positional/-p rule and the
// flag-value constraints implied by the CLI surface, returning an
// errs.CommandLine error on violation so cmd/austin can map it to exit
// code 64.
func (c *Config) Validate() error {
	hasCommand := c.Command != ""
	hasPid := c.Pid != 0

	if hasCommand == hasPid {
		if hasCommand {
			return errs.New(errs.CommandLine, "specify either a command to spawn or -p pid, not both")
		}
		return errs.New(errs.CommandLine, "specify either a command to spawn or -p pid")
	}
	if c.IntervalUs <= 0 {
		return errs.New(errs.CommandLine, "sampling interval must be positive")
	}
	if c.ExposureSec < 0 {
		return errs.New(errs.CommandLine, "exposure window must not be negative")
	}
	if c.AttachTimeoutMs < 0 {
		return errs.New(errs.CommandLine, "attach timeout must not be negative")
	}
	if c.Memory && c.CPU {
		return errs.New(errs.CommandLine, "-m and -s are mutually exclusive sampling modes")
	}
	return nil
}
