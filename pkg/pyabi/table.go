package pyabi

// Table holds one representative Descriptor per supported CPython minor
// version. Patch releases within a minor share layout in the overwhelming
// majority of cases (this mirrors original_source's own version switch,
// which branches on (major, minor) and only descends to patch-level
// detail for the 3.13+ debug-offsets path, handled separately in
// DecodeDebugOffsets).
var Table = map[[2]int]*Descriptor{
	{3, 8}:  descriptor38,
	{3, 9}:  descriptor39,
	{3, 10}: descriptor310,
	{3, 11}: descriptor311,
	{3, 12}: descriptor312,
	{3, 13}: descriptor313,
	{3, 14}: descriptor314,
}

// Lookup resolves a Descriptor for (major, minor, patch). When the exact
// minor is not in Table, nil is returned: the caller should classify this
// as errs.Version ("unsupported or undetectable Python").
func Lookup(major, minor, patch int) *Descriptor {
	d, ok := Table[[2]int{major, minor}]
	if !ok {
		return nil
	}
	v := *d
	v.Version = Version{major, minor, patch}
	return &v
}

// descriptor38 and descriptor39 share the classic frame layout; PyFrameObject
// was not restructured until 3.11.
var descriptor38 = &Descriptor{
	Sizes: StructSizes{
		Runtime: 0, InterpreterState: 648, ThreadState: 456, Frame: 392,
		Code: 112, Unicode: 72, Bytes: 49, GC: 24, GilState: 32,
	},
	Offsets: Offsets{
		Interp: InterpreterStateOffsets{Next: 0, TStateHead: 8, ID: 320, GC: 256, CodeGen: 0},
		Thread: ThreadStateOffsets{Interp: 8, Frame: 24, Next: 16, Status: 152, ThreadID: 176, NativeThreadID: 0},
		Frame:  FrameOffsets{Back: 24, Code: 32, Lasti: 108},
		Code:   CodeOffsets{Filename: 96, Name: 104, Qualname: 104, Lnotab: 88, FirstLineno: 40, Code: 72},
		GC:     GCOffsets{Collecting: 8},
	},
	Dialect:         DialectClassic,
	LocationDialect: LocationLnotabPre310,
}

var descriptor39 = func() *Descriptor {
	d := *descriptor38
	d.Sizes.InterpreterState = 664
	return &d
}()

var descriptor310 = &Descriptor{
	Sizes: StructSizes{
		Runtime: 0, InterpreterState: 680, ThreadState: 464, Frame: 400,
		Code: 120, Unicode: 72, Bytes: 49, GC: 24, GilState: 32,
	},
	Offsets: Offsets{
		Interp: InterpreterStateOffsets{Next: 0, TStateHead: 8, ID: 328, GC: 264, CodeGen: 0},
		Thread: ThreadStateOffsets{Interp: 8, Frame: 24, Next: 16, Status: 160, ThreadID: 184, NativeThreadID: 0},
		Frame:  FrameOffsets{Back: 24, Code: 32, Lasti: 112},
		Code:   CodeOffsets{Filename: 96, Name: 104, Qualname: 104, Lnotab: 96, FirstLineno: 44, Code: 80},
		GC:     GCOffsets{Collecting: 8},
	},
	Dialect:         DialectClassic,
	LocationDialect: LocationLnotab310,
}

// descriptor311 introduces _PyInterpreterFrame and _PyCFrame; PyFrameObject
// becomes a thin proxy object that no longer holds the authoritative state.
var descriptor311 = &Descriptor{
	Sizes: StructSizes{
		Runtime: 6096, InterpreterState: 720, ThreadState: 912, InterpreterFrame: 72,
		CFrame: 16, Code: 168, Unicode: 72, Bytes: 49, GC: 24, GilState: 32,
	},
	Offsets: Offsets{
		Interp:  InterpreterStateOffsets{Next: 0, TStateHead: 16, ID: 8, GC: 352, CodeGen: 0},
		Thread:  ThreadStateOffsets{Interp: 8, Frame: 48, Next: 16, Status: 24, ThreadID: 176, NativeThreadID: 184},
		CFrame:  CFrameOffsets{CurrentFrame: 8},
		InterpreterFrame: InterpreterFrameOffsets{
			Previous: 0, Code: 8, PrevInstr: 56, Owner: 64, IsEntry: 65,
		},
		Code:    CodeOffsets{Filename: 80, Name: 88, Qualname: 96, Lnotab: 112, FirstLineno: 44, Code: 128},
		Runtime: RuntimeOffsets{InterpHead: 48, TStateCurrent: -1},
		GC:      GCOffsets{Collecting: 8},
	},
	Dialect:           DialectCFrame,
	LocationDialect:   LocationCompact311,
	HasIsEntry:        true,
	HasCodeGeneration: false,
}

// descriptor312 removes PyFrameObject.is_entry as a distinct bitfield
// (folded into the owner enum); resolved via Descriptor.HasIsEntry rather
// than an open-coded version guard per §9 OQ3.
var descriptor312 = func() *Descriptor {
	d := *descriptor311
	d.Sizes.InterpreterState = 744
	d.Sizes.InterpreterFrame = 72
	d.Offsets.InterpreterFrame.IsEntry = -1
	d.HasIsEntry = false
	// 3.12 moves GIL-holder tracking from PyRuntime.gilstate.tstate_current
	// into an interpreter-owned gil_state_t struct (original_source's
	// _py_proc__sample_interpreter: "if V_MIN(3, 12) ... gil_state.last_holder").
	d.Offsets.Interp.GilState = 392
	d.Offsets.GilState.LastHolder = 8
	return &d
}()

// descriptor313 moves to the interpreter-frame-native dialect: ThreadState
// directly holds an interpreter frame, and the "debug offsets" block in
// PyRuntime supersedes this static table whenever it is present (see
// DecodeDebugOffsets).
var descriptor313 = &Descriptor{
	Sizes: StructSizes{
		Runtime: 6248, InterpreterState: 760, ThreadState: 928, InterpreterFrame: 80,
		Code: 176, Unicode: 72, Bytes: 49, GC: 24, GilState: 32,
	},
	Offsets: Offsets{
		Interp: InterpreterStateOffsets{Next: 0, TStateHead: 16, ID: 8, GC: 360, CodeGen: 0, GilState: 400},
		Thread: ThreadStateOffsets{Interp: 8, Frame: 56, Next: 16, Status: 24, ThreadID: 176, NativeThreadID: 184},
		InterpreterFrame: InterpreterFrameOffsets{
			Previous: 0, Code: 8, PrevInstr: 56, Owner: 64, IsEntry: -1,
		},
		Code:    CodeOffsets{Filename: 88, Name: 96, Qualname: 104, Lnotab: 120, FirstLineno: 48, Code: 136},
		Runtime:  RuntimeOffsets{InterpHead: 56, TStateCurrent: -1},
		GC:       GCOffsets{Collecting: 8},
		GilState: GilStateOffsets{LastHolder: 8},
	},
	Dialect:           DialectInterpreterFrame,
	LocationDialect:   LocationCompact311,
	HasIsEntry:        false,
	HasCodeGeneration: false,
}

// descriptor314 adds the interpreter-state code-object-generation counter
// used to detect stale cached frames/codes across a JIT/specializer
// recompilation.
var descriptor314 = func() *Descriptor {
	d := *descriptor313
	d.Sizes.InterpreterState = 776
	d.Offsets.Interp.CodeGen = 368
	d.HasCodeGeneration = true
	return &d
}()
