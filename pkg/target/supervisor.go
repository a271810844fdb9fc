package target

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/austin-dist/austin/pkg/binimage"
	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/locator"
	"github.com/austin-dist/austin/pkg/remote"
)

// InitOptions configures how a Supervisor locates and sizes a Target.
type InitOptions struct {
	MaxStack    int
	Timeout     time.Duration
	PageSizeCap int
}

// Supervisor owns exactly one Target: it is the only thing that mutates
// it, and is responsible for its full lifecycle from spawn/attach
// through reap.
type Supervisor struct {
	Target *Target

	pid     int
	cmd     *exec.Cmd
	reader  remote.Reader
	spawned bool

	mu       sync.Mutex
	exited   bool
	exitErr  error
	waitOnce sync.Once
	waitDone chan struct{}
}

// Spawn starts a new child process under this supervisor. The child is
// left running; Init must still be called to locate its interpreter.
func Spawn(rdr remote.Reader, name string, argv []string) (*Supervisor, error) {
	cmd := exec.Command(name, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.OS, err, "spawning target process")
	}
	s := &Supervisor{
		pid:      cmd.Process.Pid,
		cmd:      cmd,
		reader:   rdr,
		spawned:  true,
		waitDone: make(chan struct{}),
	}
	s.startReaper()
	return s, nil
}

// Attach wraps an already-running process.
func Attach(rdr remote.Reader, pid int) (*Supervisor, error) {
	if !processExists(pid) {
		return nil, errs.New(errs.OS, "target process does not exist")
	}
	s := &Supervisor{
		pid:      pid,
		reader:   rdr,
		waitDone: make(chan struct{}),
	}
	s.startReaper()
	return s, nil
}

// startReaper spawns the goroutine that blocks on the child exiting, in
// isolation from any sampler state so reaping never contends with a
// sampling tick.
func (s *Supervisor) startReaper() {
	if !s.spawned {
		// An attached (not spawned) target is not our child: there is
		// nothing to wait(2) on, only liveness polling via IsRunning.
		close(s.waitDone)
		return
	}
	go func() {
		err := s.cmd.Wait()
		s.mu.Lock()
		s.exited = true
		s.exitErr = err
		s.mu.Unlock()
		close(s.waitDone)
	}()
}

// Init locates the target's interpreter within opts.Timeout.
func (s *Supervisor) Init(ctx context.Context, opts InitOptions) error {
	return s.init(ctx, opts, false)
}

// InitOnce makes exactly one attempt to locate the target's interpreter,
// via locator.LocateOnce. The tree manager calls this (not Init) for
// newly discovered descendants, which are expected to be ready
// immediately or not Python at all.
func (s *Supervisor) InitOnce(ctx context.Context, opts InitOptions) error {
	return s.init(ctx, opts, true)
}

func (s *Supervisor) init(ctx context.Context, opts InitOptions, once bool) error {
	exe, err := exePath(s.pid)
	if err != nil {
		return err
	}
	lib, _ := libPath(s.pid)

	img, err := binimage.Analyze(exe)
	if err != nil && lib != "" {
		img, err = binimage.Analyze(lib)
	}
	if err != nil {
		return err
	}

	h := remote.Handle{Pid: s.pid}
	desc, err := inferVersion(s.reader, h, img, exe, lib)
	if err != nil {
		return err
	}

	var cand *locator.Candidate
	if once {
		cand, err = locator.LocateOnce(s.reader, h, img, desc)
	} else {
		cand, err = locator.Locate(ctx, s.reader, h, img, desc, opts.Timeout)
	}
	if err != nil {
		return err
	}

	maxStack := opts.MaxStack
	if maxStack <= 0 {
		maxStack = 256
	}
	tgt := New(s.reader, h, img, desc, maxStack)
	tgt.ExePath = exe
	tgt.LibPath = lib
	tgt.InterpHead = cand.InterpHead
	tgt.GCState = cand.GCState
	s.Target = tgt
	return nil
}

// IsRunning reports whether the target process still exists.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited {
		return false
	}
	return processExists(s.pid)
}

// IsPython reports whether Init has successfully located an
// interpreter.
func (s *Supervisor) IsPython() bool { return s.Target != nil }

// Sample runs tick against this supervisor's target. The caller
// (typically pkg/tree) decides how to react to a returned error: retry
// Init once, or evict.
func (s *Supervisor) Sample(tick func(*Target) error) error {
	if s.Target == nil {
		return ErrNotPython
	}
	return tick(s.Target)
}

// Signal delivers an OS signal to the target.
func (s *Supervisor) Signal(sig os.Signal) error {
	proc, err := os.FindProcess(s.pid)
	if err != nil {
		return errs.Wrap(errs.OS, err, "resolving target process")
	}
	if err := proc.Signal(sig); err != nil {
		return errs.Wrap(errs.OS, err, "signalling target")
	}
	return nil
}

// Terminate asks the target to exit.
func (s *Supervisor) Terminate() error {
	return s.Signal(os.Interrupt)
}

// Wait blocks until the target exits. For an attached (non-spawned) target, this polls liveness instead of
// using wait(2), since only the process's real parent may reap it.
func (s *Supervisor) Wait() error {
	if s.spawned {
		<-s.waitDone
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitErr
	}
	for processExists(s.pid) {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// Destroy releases this supervisor's resources. It does not terminate
// the target; callers that want that must call Terminate first.
func (s *Supervisor) Destroy() error {
	if lr, ok := s.reader.(interface{ Forget(remote.Handle) }); ok {
		lr.Forget(remote.Handle{Pid: s.pid})
	}
	return nil
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
