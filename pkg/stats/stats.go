// Package stats accumulates timing and outcome counters -- monotonic
// clock, min/avg/max sample duration, sample/error counters, GC-time
// accumulator -- across the lifetime of a sampling run. min ≤ avg ≤ max
// holds by construction; error and saturation counts are added as
// reported, and nothing here bounds them by the sample count.
package stats

import (
	"sync"
	"time"
)

// Stats is a mutex-guarded running accumulator. The sampling loop itself
// is single-threaded, but a reporter may read a Snapshot from a
// different goroutine while sampling continues.
type Stats struct {
	mu sync.Mutex

	ticks      uint64
	samples    uint64
	errors     uint64
	saturation uint64
	gcTime     time.Duration

	sumSampleTime time.Duration
	minSampleTime time.Duration
	maxSampleTime time.Duration
}

// New constructs an empty Stats accumulator.
func New() *Stats {
	return &Stats{}
}

// Record folds one tick's outcome into the running totals. tickDuration
// is the wall-clock time the tick itself took (time.Since is monotonic
// in Go by default); samples/errors/saturated/gcTime come from a
// sampler.Result.
func (s *Stats) Record(tickDuration time.Duration, samples, errors, saturated int, gcTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	s.samples += uint64(samples)
	s.errors += uint64(errors)
	s.saturation += uint64(saturated)
	s.gcTime += gcTime

	s.sumSampleTime += tickDuration
	if s.ticks == 1 || tickDuration < s.minSampleTime {
		s.minSampleTime = tickDuration
	}
	if tickDuration > s.maxSampleTime {
		s.maxSampleTime = tickDuration
	}
}

// Snapshot is an immutable point-in-time copy of the accumulated totals.
type Snapshot struct {
	Ticks         uint64
	Samples       uint64
	Errors        uint64
	Saturation    uint64
	GCTime        time.Duration
	MinSampleTime time.Duration
	AvgSampleTime time.Duration
	MaxSampleTime time.Duration
}

// Snapshot returns the current totals. With zero recorded ticks every
// duration field is zero, and the min ≤ avg ≤ max invariant holds
// trivially.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Ticks:         s.ticks,
		Samples:       s.samples,
		Errors:        s.errors,
		Saturation:    s.saturation,
		GCTime:        s.gcTime,
		MinSampleTime: s.minSampleTime,
		MaxSampleTime: s.maxSampleTime,
	}
	if s.ticks > 0 {
		snap.AvgSampleTime = s.sumSampleTime / time.Duration(s.ticks)
	}
	return snap
}
