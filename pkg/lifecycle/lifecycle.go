// Package lifecycle implements the signal & lifecycle driver: the
// top-level loop that respects the process-wide interrupt flag, the
// exposure window, attach timeout, the "-w" one-shot mode, and the
// single/multi-process branch between a lone target.Supervisor and a
// tree.Manager.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/sampler"
	"github.com/austin-dist/austin/pkg/stats"
	"github.com/austin-dist/austin/pkg/target"
	"github.com/austin-dist/austin/pkg/tree"
)

// Options carries the command-line flags this driver interprets
// directly: the ones cmd/austin does not resolve before building a
// Driver (interval, exposure, where-mode, and the sampler's own
// filtering flags, passed through unchanged).
type Options struct {
	// Interval is the target sleep between ticks (-i μs).
	Interval time.Duration
	// Exposure bounds total wall-clock sampling time (-x sec); zero
	// means unbounded.
	Exposure time.Duration
	// Where forces a single rendering pass instead of a loop (-w),
	// overriding Interval and Exposure.
	Where bool
	// Sampler carries the -s/-m/-f/-g semantics through to sampler.Tick.
	Sampler sampler.Options
}

// Driver owns the top-level sampling loop for one invocation: either a
// single target.Supervisor, or a tree.Manager following children in
// multi-process mode. In multi-process mode Children already wraps the
// root, so the root is sampled through Children rather than directly.
type Driver struct {
	Root     *target.Supervisor // the spawned or attached process
	Children *tree.Manager      // multi-process (-C) mode; nil otherwise

	Emit  sampler.Emitter
	Stats *stats.Stats
	Opts  Options

	interrupted  int32
	signalNumber int32
	lastTick     time.Time
}

// New constructs a Driver. root is the spawned or attached process;
// children is non-nil only in -C mode, where root is also registered
// with the tree and sampled through it.
func New(root *target.Supervisor, children *tree.Manager, emit sampler.Emitter, st *stats.Stats, opts Options) *Driver {
	if opts.Where {
		// "-w" forces interval to 1μs and exposure to 1 second, then
		// performs exactly one rendering pass.
		opts.Interval = time.Microsecond
		opts.Exposure = time.Second
	}
	return &Driver{Root: root, Children: children, Emit: emit, Stats: st, Opts: opts}
}

// Outcome reports how Run ended, so the caller (cmd/austin) can map it
// to a process exit code without reaching back into Driver internals.
type Outcome struct {
	// Signal is the OS signal number that interrupted the run, or 0 if
	// the run ended because the target exited or (in -w mode) after
	// its one rendering pass.
	Signal int
	// Err is set when a fatal error (per errs.Fatal) stopped the run.
	Err error
}

// Run drives the sampling loop until the target exits, the interrupt
// flag is set (by signal or exposure expiry), or -- in -w mode -- after
// exactly one tick.
func (d *Driver) Run(ctx context.Context) Outcome {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		if n, ok := sig.(syscall.Signal); ok {
			atomic.StoreInt32(&d.signalNumber, int32(n))
		}
		atomic.StoreInt32(&d.interrupted, 1)
	}()

	var exposureDeadline time.Time
	if d.Opts.Exposure > 0 {
		exposureDeadline = time.Now().Add(d.Opts.Exposure)
		go d.watchExposure(exposureDeadline)
	}

	d.lastTick = time.Now()
	for {
		if atomic.LoadInt32(&d.interrupted) != 0 {
			return Outcome{Signal: int(atomic.LoadInt32(&d.signalNumber))}
		}
		if !d.targetRunning() {
			return Outcome{}
		}

		if err := d.tick(ctx); err != nil {
			if e, ok := errs.As(err); ok && e.Fatal() {
				return Outcome{Err: err}
			}
			log.Error().Err(err).Msg("sampling tick failed")
		}

		if d.Opts.Where {
			// Exactly one rendering pass; the target is left running.
			return Outcome{}
		}

		time.Sleep(d.Opts.Interval)
	}
}

// watchExposure sets the interrupt flag once deadline passes, treating
// exposure expiry identically to an external signal.
func (d *Driver) watchExposure(deadline time.Time) {
	wait := time.Until(deadline)
	if wait > 0 {
		time.Sleep(wait)
	}
	atomic.StoreInt32(&d.interrupted, 1)
}

func (d *Driver) targetRunning() bool {
	if d.Children != nil {
		// tree.Manager drops exited descendants itself; the run goes on
		// until the root and every tracked descendant have exited.
		return (d.Root != nil && d.Root.IsRunning()) || d.Children.Size() > 0
	}
	return d.Root.IsRunning()
}

// tick advances the tree (if any), queries resident memory once, and
// samples every tracked target exactly once, folding each target's
// Result into Stats.
func (d *Driver) tick(ctx context.Context) error {
	now := time.Now()
	elapsed := now.Sub(d.lastTick)
	d.lastTick = now

	var firstErr error
	run := func(tgt *target.Target) error {
		rss := residentSetSize(tgt.Pid)
		start := time.Now()
		result, err := sampler.Tick(tgt, d.Emit, rss, elapsed, d.Opts.Sampler)
		d.Stats.Record(time.Since(start), result.Samples, result.Errors, result.Saturated, result.GCTime)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return err
	}

	if d.Children != nil {
		if err := d.Children.Update(ctx); err != nil {
			log.Debug().Err(err).Msg("scanning process tree")
		}
		d.Children.Sample(ctx, run)
		return firstErr
	}

	if !d.Root.IsPython() {
		return nil
	}
	return d.Root.Sample(run)
}

// residentSetSize queries a process's current RSS via gopsutil,
// treating a query failure (e.g. the process just exited) as zero
// delta rather than a fatal error.
func residentSetSize(pid int) int64 {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	mi, err := p.MemoryInfo()
	if err != nil || mi == nil {
		return 0
	}
	return int64(mi.RSS)
}
