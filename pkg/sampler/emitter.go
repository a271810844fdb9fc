package sampler

// Emitter is the subset of *mojo.Emitter's method set a Tick needs to
// produce a stack-sample stream. Accepting the interface instead of the
// concrete type lets pkg/lifecycle substitute a non-MOJO collector for
// one-shot snapshot rendering without pkg/sampler knowing anything about
// rendering.
type Emitter interface {
	InvalidateAll()
	StackBegin(pid, iid int64, tidHex string) error
	String(key uint64, value string) (bool, error)
	Frame(key, filenameKey, scopeKey uint64, line, lineEnd, col, colEnd int32) error
	FrameRef(key uint64) error
	HasFrame(key uint64) bool
	FrameInvalid() error
	GC() error
	Idle() error
	MetricTime(us int64) error
	MetricMemory(deltaBytes int64) error
	EndStackBoundary() error
}
