// Package tree implements the process-tree manager: it maintains the
// set of supervised targets rooted at one process by periodically
// scanning the OS process list for new descendants and dropping exited
// ones.
package tree

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/remote"
	"github.com/austin-dist/austin/pkg/target"
)

// scanInterval is the minimum time between OS process-list scans, at
// most once per 100ms, matching original_source/src/py_proc_list.c's
// UPDATE_INTERVAL.
const scanInterval = 100 * time.Millisecond

// entry is one tracked descendant, alongside the original parent pid it
// was discovered under.
type entry struct {
	sup        *target.Supervisor
	parentPid  int32
	lastInitOK bool
}

// Manager owns a root supervisor and every descendant process
// discovered under it.
type Manager struct {
	mu       sync.Mutex
	reader   remote.Reader
	rootPid  int32
	rootSup  *target.Supervisor
	tracked  map[int32]*entry
	opts     target.InitOptions
	lastScan time.Time
}

// NewManager constructs a tree rooted at rootSup.
func NewManager(rdr remote.Reader, rootPid int, rootSup *target.Supervisor, opts target.InitOptions) *Manager {
	return &Manager{
		reader:  rdr,
		rootPid: int32(rootPid),
		rootSup: rootSup,
		tracked: make(map[int32]*entry),
		opts:    opts,
	}
}

// Update scans the OS process list for new descendants of the root and
// drops exited ones. It is a no-op if called more often than
// scanInterval.
func (m *Manager) Update(ctx context.Context) error {
	m.mu.Lock()
	if time.Since(m.lastScan) < scanInterval {
		m.mu.Unlock()
		return nil
	}
	m.lastScan = time.Now()
	m.mu.Unlock()

	procs, err := process.Processes()
	if err != nil {
		return errs.Wrap(errs.OS, err, "scanning OS process list")
	}

	ppidOf := make(map[int32]int32, len(procs))
	alive := make(map[int32]bool, len(procs))
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		ppidOf[p.Pid] = ppid
		alive[p.Pid] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.addDescendants(ctx, m.rootPid, ppidOf)

	for pid, e := range m.tracked {
		if !alive[pid] {
			e.sup.Destroy()
			delete(m.tracked, pid)
		}
	}
	return nil
}

// addDescendants recursively discovers every pid whose ancestry chain
// (via ppidOf) reaches parentPid, attaching and locating each newly
// found one, matching original_source's
// py_proc_list__add_proc_children's recursive descent. A pid already
// tracked is left alone even if its reported parent has since changed
// (e.g. an intermediate shell exited): a tracked pid is only ever
// dropped when it disappears from the OS process list entirely, so a
// reparented child is never spuriously dropped here.
func (m *Manager) addDescendants(ctx context.Context, parentPid int32, ppidOf map[int32]int32) {
	for pid, ppid := range ppidOf {
		if ppid != parentPid {
			continue
		}
		if _, ok := m.tracked[pid]; ok {
			m.addDescendants(ctx, pid, ppidOf)
			continue
		}

		sup, err := target.Attach(m.reader, int(pid))
		if err != nil {
			continue
		}
		e := &entry{sup: sup, parentPid: parentPid}
		if err := sup.InitOnce(ctx, m.opts); err == nil {
			e.lastInitOK = true
		}
		m.tracked[pid] = e

		m.addDescendants(ctx, pid, ppidOf)
	}
}

// Sample iterates every tracked (including the root) Python target,
// running tick against each; on a tick failure it retries Init once
// before evicting.
func (m *Manager) Sample(ctx context.Context, tick func(*target.Target) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rootSup != nil && m.rootSup.IsPython() {
		if err := m.rootSup.Sample(tick); err != nil {
			_ = m.rootSup.Init(ctx, m.opts)
		}
	}

	for pid, e := range m.tracked {
		if !e.sup.IsPython() {
			continue
		}
		if err := e.sup.Sample(tick); err != nil {
			if initErr := e.sup.Init(ctx, m.opts); initErr != nil {
				e.sup.Destroy()
				delete(m.tracked, pid)
			}
		}
	}
}

// Size reports the number of tracked descendants, not counting the
// root.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Wait blocks until every tracked supervisor (including the root) has
// exited.
func (m *Manager) Wait() {
	if m.rootSup != nil {
		m.rootSup.Wait()
	}
	m.mu.Lock()
	sups := make([]*target.Supervisor, 0, len(m.tracked))
	for _, e := range m.tracked {
		sups = append(sups, e.sup)
	}
	m.mu.Unlock()
	for _, s := range sups {
		s.Wait()
	}
}

// Destroy releases every tracked supervisor.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, e := range m.tracked {
		e.sup.Destroy()
		delete(m.tracked, pid)
	}
	if m.rootSup != nil {
		m.rootSup.Destroy()
	}
}
