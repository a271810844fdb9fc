// Command austin is the CLI entrypoint for the sampler, realizing the
// flag surface with cobra/pflag and mapping a run's outcome to an exit
// code.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/austin-dist/austin/internal/config"
	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/lifecycle"
	"github.com/austin-dist/austin/pkg/mojo"
	"github.com/austin-dist/austin/pkg/remote"
	"github.com/austin-dist/austin/pkg/render"
	"github.com/austin-dist/austin/pkg/sampler"
	"github.com/austin-dist/austin/pkg/stats"
	"github.com/austin-dist/austin/pkg/target"
	"github.com/austin-dist/austin/pkg/tree"
)

// Exit codes for the austin command.
const (
	exitSuccess     = 0
	exitNonFatal    = 1
	exitCommandLine = 64
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var cfg config.Config
	var interval, attachTimeout, exposure int

	cmd := &cobra.Command{
		Use:           "austin [flags] command [args...]",
		Short:         "Frame stack sampler for CPython processes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, posArgs []string) error {
			if len(posArgs) > 0 {
				cfg.Command = posArgs[0]
				cfg.Args = posArgs[1:]
			}
			cfg.IntervalUs = interval
			cfg.AttachTimeoutMs = attachTimeout
			cfg.ExposureSec = exposure
			cfg.LoadEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			return execute(context.Background(), &cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&interval, "interval", "i", 1000, "sampling interval in microseconds")
	flags.IntVarP(&attachTimeout, "timeout", "t", 3000, "attach timeout in milliseconds")
	flags.IntVarP(&cfg.Pid, "pid", "p", 0, "attach to an already-running process")
	flags.IntVarP(&exposure, "exposure", "x", 0, "exposure window in seconds (0 = unbounded)")
	flags.StringVarP(&cfg.Output, "output", "o", "", "output file (default stdout)")
	flags.BoolVarP(&cfg.FollowChildren, "children", "C", false, "follow child processes")
	flags.BoolVarP(&cfg.Full, "full", "f", false, "full mode: time and both memory deltas")
	flags.BoolVarP(&cfg.CPU, "cpu", "s", false, "CPU mode: emit only non-idle samples")
	flags.BoolVarP(&cfg.Memory, "memory", "m", false, "memory mode: memory deltas only")
	flags.BoolVarP(&cfg.GCTime, "gc", "g", false, "account time spent in garbage collection")
	flags.BoolVarP(&cfg.Pipe, "pipe", "P", false, "pipe mode: flush eagerly")
	flags.BoolVarP(&cfg.Where, "where", "w", false, "one-shot human-readable rendering")

	if args == nil {
		// cobra reads os.Args[1:] when handed a nil slice.
		args = []string{}
	}
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		var sigErr *signalError
		if errors.As(err, &sigErr) {
			return -sigErr.signal
		}
		if e, ok := errs.As(err); ok && e.Kind == errs.CommandLine {
			fmt.Fprintln(os.Stderr, err)
			return exitCommandLine
		}
		fmt.Fprintln(os.Stderr, err)
		return exitNonFatal
	}
	return exitSuccess
}

// signalError reports that a run ended because the interrupt flag was
// set by an OS signal; run() maps it to the negative of the received
// signal number. It is carried as an error so it flows through cobra's
// RunE/Execute path like any other failure, letting execute's deferred
// cleanup (emitter flush, supervisor teardown) run before run() maps it
// to an exit code.
type signalError struct{ signal int }

func (e *signalError) Error() string {
	return fmt.Sprintf("interrupted by signal %d", e.signal)
}

// execute wires config into a running sampler: locates or spawns the
// target, builds the single/multi-process branch, drives the
// lifecycle loop, and maps its Outcome to an exit code. Any non-zero
// return from here propagates through cobra's error path in run().
func execute(ctx context.Context, cfg *config.Config) error {
	if cfg.NoLogging {
		log.Logger = zerolog.Nop()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	reader := remote.NewLinuxReader()
	defer reader.Close()

	sup, err := newSupervisor(reader, cfg)
	if err != nil {
		return err
	}
	defer sup.Destroy()

	initOpts := target.InitOptions{
		MaxStack:    256,
		Timeout:     time.Duration(cfg.AttachTimeoutMs) * time.Millisecond,
		PageSizeCap: cfg.PageSizeCap,
	}
	if err := sup.Init(ctx, initOpts); err != nil {
		return err
	}

	var children *tree.Manager
	if cfg.FollowChildren {
		children = tree.NewManager(reader, sup.Target.Pid, sup, initOpts)
	}

	st := stats.New()
	opts := lifecycle.Options{
		Interval: time.Duration(cfg.IntervalUs) * time.Microsecond,
		Exposure: time.Duration(cfg.ExposureSec) * time.Second,
		Where:    cfg.Where,
		Sampler: sampler.Options{
			Full:        cfg.Full,
			CPU:         cfg.CPU,
			Memory:      cfg.Memory,
			GC:          cfg.GCTime,
			MaxStack:    initOpts.MaxStack,
			PageSizeCap: cfg.PageSizeCap,
		},
	}

	if cfg.Where {
		return runWhere(ctx, sup, children, st, opts)
	}
	return runStream(ctx, sup, children, st, opts, cfg.Output, cfg.Pipe)
}

func newSupervisor(reader remote.Reader, cfg *config.Config) (*target.Supervisor, error) {
	if cfg.Pid != 0 {
		return target.Attach(reader, cfg.Pid)
	}
	return target.Spawn(reader, cfg.Command, cfg.Args)
}

func runStream(ctx context.Context, sup *target.Supervisor, children *tree.Manager, st *stats.Stats, opts lifecycle.Options, outputPath string, pipe bool) error {
	sink := os.Stdout
	if outputPath != "" && outputPath != "-" {
		f, err := os.Create(outputPath)
		if err != nil {
			return errs.Wrap(errs.IO, err, "opening output file")
		}
		defer f.Close()
		sink = f
	}

	emit, err := mojo.NewEmitter(sink, pipe)
	if err != nil {
		return errs.Wrap(errs.IO, err, "constructing MOJO emitter")
	}
	defer emit.Close()

	drv := lifecycle.New(sup, children, emit, st, opts)
	out := drv.Run(ctx)
	return outcomeToErr(out)
}

func runWhere(ctx context.Context, sup *target.Supervisor, children *tree.Manager, st *stats.Stats, opts lifecycle.Options) error {
	coll := render.NewCollector()
	drv := lifecycle.New(sup, children, coll, st, opts)
	out := drv.Run(ctx)
	if err := outcomeToErr(out); err != nil {
		return err
	}
	var pr render.PlainRenderer
	fmt.Print(pr.Render(coll.Pid, coll.Threads))
	return nil
}

// outcomeToErr turns a lifecycle.Outcome into an error cobra can
// inspect for exit-code mapping.
func outcomeToErr(out lifecycle.Outcome) error {
	if out.Err != nil {
		return out.Err
	}
	if out.Signal != 0 {
		return &signalError{signal: out.Signal}
	}
	return nil
}
