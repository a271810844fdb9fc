// Package sampler implements one interpreter sampler tick: for each
// tick, walk every interpreter linked from a target's interpreter head,
// and every thread linked from each interpreter, emitting one MOJO
// stack sample per thread that passes the active filters.
package sampler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/austin-dist/austin/pkg/cache"
	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/pythread"
	"github.com/austin-dist/austin/pkg/stackbuf"
	"github.com/austin-dist/austin/pkg/target"
	"github.com/austin-dist/austin/pkg/unwind"
)

// Options carries the -s/-m/-f/-g command-line flag semantics that
// shape what one Tick samples and emits.
type Options struct {
	// Full is -f: both memory deltas and time are emitted, and neither
	// the idle filter (-s) nor the memory filter (-m) ever drops a
	// thread.
	Full bool
	// CPU is -s: a thread found idle is skipped unless Full.
	CPU bool
	// Memory is -m: only the GIL-holding thread's memory delta is
	// emitted; every other thread is skipped unless Full.
	Memory bool
	// GC is -g: GC collection time is accounted against elapsed ticks
	// spent with the collector active.
	GC bool
	// MaxStack bounds the frame chain walked per thread (default 256).
	MaxStack int
	// PageSizeCap bounds the interpreter-state prefetch window
	// (AUSTIN_PAGE_SIZE_CAP, default 4096).
	PageSizeCap int
}

// Result aggregates one Tick's outcome across every interpreter and
// thread sampled, for pkg/stats to fold into its running counters.
type Result struct {
	Samples   int
	Errors    int
	Saturated int
	GCTime    time.Duration
}

// maxInterpreters bounds the interpreter linked-list walk so a corrupt
// or cyclic list cannot hang a tick; CPython's own sub-interpreter count
// is always small.
const maxInterpreters = 64

// Tick samples every interpreter reachable from tgt.InterpHead exactly
// once: for each interpreter, locate its thread-state list, resolve the
// GIL holder when memory accounting is active, and sample every thread
// reachable from it. rss is the target process's current resident-set
// size, queried by the caller (pkg/lifecycle) once per tick via
// gopsutil; elapsed is the wall-clock time since the previous tick.
func Tick(tgt *target.Target, emit Emitter, rss int64, elapsed time.Duration, opts Options) (Result, error) {
	var res Result
	if tgt.InterpHead == 0 {
		return res, errs.New(errs.PyObject, "target has no interpreter head")
	}

	var processMemDelta int64
	if opts.Memory || opts.Full {
		processMemDelta = tgt.RecordRSS(rss)
	}

	maxStack := opts.MaxStack
	if maxStack <= 0 {
		maxStack = 256
	}

	interpAddr := tgt.InterpHead
	seen := make(map[uintptr]bool, maxInterpreters)
	for i := 0; interpAddr != 0 && i < maxInterpreters; i++ {
		if seen[interpAddr] {
			break
		}
		seen[interpAddr] = true

		if err := tgt.Prefetch(interpAddr, opts.PageSizeCap); err != nil {
			res.Errors++
			log.Debug().Err(err).Msg("prefetching interpreter state")
			break
		}

		tstateHead := tgt.TStateHead()
		if tstateHead == 0 {
			// Interpreter is mid-teardown or mid-bootstrap: transient,
			// not an error.
			interpAddr = tgt.NextInterp()
			continue
		}

		if tgt.Desc.HasCodeGeneration {
			gen := tgt.CodeGen()
			key := cache.MakeInterpKey(tgt.InterpID(), gen)
			if _, ok := tgt.InterpMeta.Get(key); !ok {
				tgt.InvalidateAll()
				emit.InvalidateAll()
				tgt.InterpMeta.Add(key, struct{}{})
			}
		}

		interpID := tgt.InterpID()

		var holder uintptr
		if opts.Memory || opts.Full {
			h, err := gilHolder(tgt, interpAddr, tstateHead)
			if err != nil {
				log.Debug().Err(err).Msg("locating GIL holder")
			}
			holder = h
		}

		tr := sampleInterpreter(tgt, emit, tstateHead, interpID, holder, processMemDelta, elapsed, maxStack, opts)
		res.Samples += tr.Samples
		res.Errors += tr.Errors
		res.Saturated += tr.Saturated
		res.GCTime += tr.GCTime

		interpAddr = tgt.NextInterp()
	}
	return res, nil
}

// sampleInterpreter walks one interpreter's thread list, emitting at
// most one sample per thread.
func sampleInterpreter(tgt *target.Target, emit Emitter, tstateHead uintptr, interpID int64, holder uintptr, processMemDelta int64, elapsed time.Duration, maxStack int, opts Options) Result {
	var res Result
	resolver := tgt.Resolver()

	threadAddr := tstateHead
	seen := make(map[uintptr]bool)
	for threadAddr != 0 {
		if seen[threadAddr] {
			break
		}
		seen[threadAddr] = true

		th, err := pythread.Read(tgt.Reader, tgt.Handle, tgt.Desc, threadAddr)
		if err != nil {
			res.Errors++
			log.Debug().Err(err).Uint64("thread_addr", uint64(threadAddr)).Msg("reading thread state")
			break
		}
		next := th.Next

		if sampleThread(tgt, emit, resolver, th, interpID, holder, processMemDelta, elapsed, maxStack, opts, &res) {
			res.Samples++
		}

		threadAddr = next
	}
	return res
}

// sampleThread samples a single thread, applying the memory and idle
// filters before unwinding, and reports whether a stack sample was
// actually emitted.
func sampleThread(tgt *target.Target, emit Emitter, resolver *unwind.Resolver, th *pythread.Handle, interpID int64, holder uintptr, processMemDelta int64, elapsed time.Duration, maxStack int, opts Options, res *Result) bool {
	memDelta := int64(0)
	if opts.Memory || opts.Full {
		if th.Addr == holder {
			memDelta = processMemDelta
		}
		if !opts.Full && memDelta == 0 {
			return false
		}
	}

	timeUs := elapsed.Microseconds()
	if memDelta == 0 && timeUs == 0 {
		return false
	}

	isIdle := false
	if opts.Full || opts.CPU {
		idle, err := isThreadIdle(tgt.Pid, th.NativeTID)
		if err != nil {
			log.Debug().Err(err).Msg("querying thread idle state")
		} else {
			isIdle = idle
			if !opts.Full && isIdle && opts.CPU {
				return false
			}
		}
	}

	collecting := false
	if opts.GC && tgt.GCState != 0 {
		c, err := readGCCollecting(tgt)
		if err != nil {
			log.Debug().Err(err).Msg("reading GC state")
		} else {
			collecting = c
			if collecting {
				res.GCTime += elapsed
			}
		}
	}

	if err := emit.StackBegin(int64(tgt.Pid), interpID, tidHex(th.NativeTID)); err != nil {
		res.Errors++
		return false
	}

	saturated := unwindThread(tgt, emit, resolver, th, maxStack, res)
	if saturated {
		res.Saturated++
	}

	if collecting {
		_ = emit.GC()
	}

	if opts.Full {
		_ = emit.MetricTime(timeUs)
		_ = emit.MetricMemory(memDelta)
	} else if opts.Memory {
		_ = emit.MetricMemory(memDelta)
	} else {
		_ = emit.MetricTime(timeUs)
	}

	if isIdle {
		_ = emit.Idle()
	}

	_ = emit.EndStackBoundary()
	return true
}

// unwindThread walks th's frame chain via the dialect Strategy for
// tgt.Desc, emitting Frame/FrameRef/FrameInvalid for every tuple, in the
// root-to-leaf order the original event stream uses (the walk visits
// leaf-to-root; a fixed-capacity stack reverses it back on pop).
func unwindThread(tgt *target.Target, emit Emitter, resolver *unwind.Resolver, th *pythread.Handle, maxStack int, res *Result) (saturated bool) {
	strategy := unwind.For(tgt.Desc)
	top, err := strategy.TopFrame(tgt.Reader, tgt.Handle, tgt.Desc, th.TopFrame)
	if err != nil {
		res.Errors++
		_ = emit.FrameInvalid()
		return false
	}

	stack := stackbuf.New[unwind.PyFrameTuple](maxStack)
	saturated, err = strategy.Walk(tgt.Reader, tgt.Handle, tgt.Desc, top, stack)
	if err != nil {
		res.Errors++
		_ = emit.FrameInvalid()
		return saturated
	}

	for {
		tuple, ok := stack.Pop()
		if !ok {
			break
		}
		if tuple.CFrameBoundary {
			continue
		}
		emitFrame(tgt, emit, resolver, tuple, res)
	}
	return saturated
}

func emitFrame(tgt *target.Target, emit Emitter, resolver *unwind.Resolver, tuple unwind.PyFrameTuple, res *Result) {
	key := cache.MakeFrameKey(tuple.CodeAddr, tuple.Lasti)
	if emit.HasFrame(uint64(key)) {
		_ = emit.FrameRef(uint64(key))
		return
	}

	frame, _, err := resolver.Resolve(tuple)
	if err != nil {
		res.Errors++
		_ = emit.FrameInvalid()
		return
	}

	filenameText := tgt.StringValue(frame.FilenameRef)
	scopeText := tgt.StringValue(frame.ScopeRef)
	if _, err := emit.String(uint64(frame.FilenameRef), filenameText); err != nil {
		res.Errors++
	}
	if _, err := emit.String(uint64(frame.ScopeRef), scopeText); err != nil {
		res.Errors++
	}
	if err := emit.Frame(uint64(key), uint64(frame.FilenameRef), uint64(frame.ScopeRef), frame.Line, frame.LineEnd, frame.Column, frame.ColumnEnd); err != nil {
		res.Errors++
	}
}

func readGCCollecting(tgt *target.Target) (bool, error) {
	off := tgt.Desc.Offsets.GC.Collecting
	raw, err := tgt.MirrorOrRead(tgt.GCState, off+4)
	if err != nil {
		return false, err
	}
	if off+4 > len(raw) {
		return false, errs.New(errs.Value, "GC state read too short")
	}
	return raw[off] != 0 || raw[off+1] != 0 || raw[off+2] != 0 || raw[off+3] != 0, nil
}

func tidHex(tid uint64) string {
	return fmt.Sprintf("0x%x", tid)
}
