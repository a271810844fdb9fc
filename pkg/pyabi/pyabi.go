// Package pyabi holds the per-CPython-version struct-layout table: sizes
// and field offsets for every structure the core needs to read out of a
// target's address space, plus the 3.13+ "debug offsets" self-description
// that supersedes the static table when present.
package pyabi

import "fmt"

// Version identifies a CPython release by its major.minor.patch triple.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

// Dialect selects the frame-representation family a Descriptor's owning
// version uses.
type Dialect int

const (
	// DialectClassic walks ThreadState.frame -> Frame.back (<=3.10).
	DialectClassic Dialect = iota
	// DialectCFrame walks via a _PyCFrame rooted at ThreadState.frame,
	// then InterpreterFrame.previous (3.11-3.12).
	DialectCFrame
	// DialectInterpreterFrame treats ThreadState.frame as already being
	// an interpreter frame (3.13+).
	DialectInterpreterFrame
)

// LocationDialect selects the code-location table decoder.
type LocationDialect int

const (
	// LocationCompact311 is the 3.11+ variable-length record format.
	LocationCompact311 LocationDialect = iota
	// LocationLnotab310 is the co_lnotab format with lasti scaled by 2.
	LocationLnotab310
	// LocationLnotabPre310 is co_lnotab without lasti scaling.
	LocationLnotabPre310
)

// StructSizes carries struct byte sizes the sampler needs to size its
// remote reads (e.g. the interpreter-state prefetch window).
type StructSizes struct {
	Runtime          int
	InterpreterState int
	ThreadState      int
	Frame            int
	InterpreterFrame int
	CFrame           int
	Code             int
	Unicode          int
	Bytes            int
	GC               int
	GilState         int
}

// InterpreterStateOffsets names the InterpreterState fields the locator
// and sampler read.
type InterpreterStateOffsets struct {
	Next       int
	TStateHead int
	ID         int
	GC         int
	CodeGen    int // 0 before 3.14: the field does not exist.
	GilState   int // embedded gil_state_t struct, 3.12+ only; 0 before.
}

// ThreadStateOffsets names the ThreadState fields the thread walker reads.
type ThreadStateOffsets struct {
	Interp        int
	Frame         int
	Next          int
	Status        int
	ThreadID      int
	NativeThreadID int // 0 before 3.11: must be inferred (see pythread).
}

// FrameOffsets names the classic Frame struct's fields (<=3.10).
type FrameOffsets struct {
	Back  int
	Code  int
	Lasti int
}

// InterpreterFrameOffsets names _PyInterpreterFrame's fields (3.11+).
type InterpreterFrameOffsets struct {
	Previous  int
	Code      int
	PrevInstr int
	Owner     int
	IsEntry   int // -1 if the field does not exist on this version.
}

// CFrameOffsets names _PyCFrame's fields (3.11-3.12 only).
type CFrameOffsets struct {
	CurrentFrame int
}

// CodeOffsets names PyCodeObject's fields.
type CodeOffsets struct {
	Filename    int
	Name        int
	Qualname    int
	Lnotab      int
	FirstLineno int
	Code        int
}

// RuntimeOffsets names the PyRuntime struct's fields.
type RuntimeOffsets struct {
	InterpHead   int
	TStateCurrent int // learned lazily pre-3.11; -1 if unknown/unsupported.
}

// GCOffsets names the fields of the embedded GC runtime state struct,
// read to optionally report whether the collector is currently running,
// addressed relative to a locator.Candidate.GCState, itself interp_head +
// Offsets.Interp.GC.
type GCOffsets struct {
	Collecting int
}

// GilStateOffsets names the fields of the embedded gil_state_t struct
// introduced in 3.12 (original_source/src/py_proc.c's
// `_py_proc__sample_interpreter`: "if V_MIN(3,12) ... gil_state.last_holder").
type GilStateOffsets struct {
	LastHolder int
}

// Offsets bundles every field-offset table a Descriptor carries.
type Offsets struct {
	Interp           InterpreterStateOffsets
	Thread           ThreadStateOffsets
	Frame            FrameOffsets
	InterpreterFrame InterpreterFrameOffsets
	CFrame           CFrameOffsets
	Code             CodeOffsets
	Runtime          RuntimeOffsets
	GC               GCOffsets
	GilState         GilStateOffsets
}

// Descriptor fully describes one CPython version's memory layout.
type Descriptor struct {
	Version         Version
	Sizes           StructSizes
	Offsets         Offsets
	Dialect         Dialect
	LocationDialect LocationDialect

	// HasIsEntry reports whether InterpreterFrame.IsEntry is a real field
	// on this version, resolving the is_entry open question (§9 OQ3) by
	// making version capability explicit instead of an open-coded guard.
	HasIsEntry bool

	// HasCodeGeneration reports whether InterpreterState carries
	// co_extra/code-object generation counters (3.14+), used to decide
	// whether the sampler must watch for cache-invalidating generation
	// bumps.
	HasCodeGeneration bool
}

// PointerSize is assumed 8 on every platform Austin-Go targets; 32-bit
// CPython builds are out of scope for this port, recorded here rather
// than silently baked into every offset table.
const PointerSize = 8
