package render

import (
	"fmt"

	"github.com/austin-dist/austin/pkg/sampler"
)

var _ sampler.Emitter = (*Collector)(nil)

// Collector implements sampler.Emitter in memory instead of writing
// MOJO, so a single sampler.Tick call can feed a Renderer directly
// without ever touching the wire format -- for one-shot sampling that
// renders a single snapshot and never produces an output file.
type Collector struct {
	Pid     int64
	Threads []ThreadStacks

	strings map[uint64]string
	frames  map[uint64]string

	current    ThreadStacks
	hasCurrent bool
}

// NewCollector constructs an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		strings: make(map[uint64]string),
		frames:  make(map[uint64]string),
	}
}

func (c *Collector) InvalidateAll() {
	c.strings = make(map[uint64]string)
	c.frames = make(map[uint64]string)
}

func (c *Collector) StackBegin(pid, iid int64, tidHex string) error {
	c.flushCurrent()
	c.Pid = pid
	c.current = ThreadStacks{TID: tidHex}
	c.hasCurrent = true
	return nil
}

func (c *Collector) String(key uint64, value string) (bool, error) {
	c.strings[key] = value
	return true, nil
}

func (c *Collector) Frame(key, filenameKey, scopeKey uint64, line, lineEnd, col, colEnd int32) error {
	text := fmt.Sprintf("%s (%s:%d)", c.strings[scopeKey], c.strings[filenameKey], line)
	c.frames[key] = text
	c.current.Frames = append(c.current.Frames, text)
	return nil
}

func (c *Collector) FrameRef(key uint64) error {
	c.current.Frames = append(c.current.Frames, c.frames[key])
	return nil
}

func (c *Collector) HasFrame(key uint64) bool {
	_, ok := c.frames[key]
	return ok
}

func (c *Collector) FrameInvalid() error {
	c.current.Frames = append(c.current.Frames, "<invalid frame>")
	return nil
}

func (c *Collector) GC() error {
	c.current.GC = true
	return nil
}

func (c *Collector) Idle() error {
	c.current.Idle = true
	return nil
}

func (c *Collector) MetricTime(us int64) error      { return nil }
func (c *Collector) MetricMemory(delta int64) error { return nil }

func (c *Collector) EndStackBoundary() error {
	c.flushCurrent()
	return nil
}

func (c *Collector) flushCurrent() {
	if !c.hasCurrent {
		return
	}
	c.Threads = append(c.Threads, c.current)
	c.current = ThreadStacks{}
	c.hasCurrent = false
}
