package sched

import (
	"sync/atomic"

	"github.com/blackbird-cv/blackbird/internal/ring"
)

// MaxClockTasks is the fixed pool of coroutine resume slots. Matches the
// no-heap discipline: a script that asks for more concurrent sleeping
// coroutines than this gets a failed schedule, not an allocation.
const MaxClockTasks = 16

// ResumeKind distinguishes why a coroutine is waiting: a time deadline
// (sleep), a beat boundary (sync), or an external clock edge on a pulse
// input (sync with beats <= 0).
type ResumeKind int32

const (
	ResumeSleep ResumeKind = iota
	ResumeSync
	ResumeExternal
)

// clockSlot is one parked coroutine's resume condition. Core B writes
// kind/wakeSample before setting active; Core A only inspects the
// descriptor fields while active is set. active doubles as the publish
// barrier, the same discipline the detectors use for mode_switching.
type clockSlot struct {
	kind       ResumeKind
	wakeSample uint64
	active     atomic.Bool
}

// Clock schedules coroutine resumes against the audio sample clock.
// Core B registers a resume condition per coroutine id; Core A's Tick
// posts a ClockResumeEvent into the resume ring when the condition is
// met. The coroutine bodies themselves live on Core B (as Lua threads
// in internal/script) — this type only owns the "when", never the "what".
type Clock struct {
	sampleRate float64
	out        *ring.ClockResumeRing

	slots [MaxClockTasks]clockSlot

	// now is the sample counter as last seen by Tick, published so
	// Core B can compute sleep deadlines without reading Core A's
	// un-synchronised counter directly.
	now atomic.Uint64

	// samplesPerBeat carries the transport tempo across the core
	// boundary; stored as a raw sample count so Tick never touches
	// floating point.
	samplesPerBeat atomic.Uint64
}

// NewClock constructs the scheduler at the given sample rate with a
// default tempo of 120 BPM.
func NewClock(sampleRate float64, out *ring.ClockResumeRing) *Clock {
	c := &Clock{sampleRate: sampleRate, out: out}
	c.SetTempo(120)
	return c
}

// SetTempo sets the transport tempo used by sync scheduling.
func (c *Clock) SetTempo(bpm float64) {
	if bpm <= 0 {
		bpm = 120
	}
	c.samplesPerBeat.Store(uint64(c.sampleRate * 60.0 / bpm))
}

// Tempo returns the current tempo in BPM.
func (c *Clock) Tempo() float64 {
	return c.sampleRate * 60.0 / float64(c.samplesPerBeat.Load())
}

// Now returns the sample counter as last published by Tick.
func (c *Clock) Now() uint64 { return c.now.Load() }

// ScheduleSleep parks coroutine id until seconds have elapsed on the
// sample clock. Returns false if id is out of range.
func (c *Clock) ScheduleSleep(id int, seconds float64) bool {
	if id < 0 || id >= MaxClockTasks {
		return false
	}
	s := &c.slots[id]
	s.kind = ResumeSleep
	s.wakeSample = c.now.Load() + uint64(seconds*c.sampleRate)
	s.active.Store(true)
	return true
}

// ScheduleSync parks coroutine id until the next beat boundary aligned
// to beats (e.g. 1 = every beat, 4 = every bar, 0.5 = every eighth).
// beats <= 0 waits for the next external clock edge instead.
func (c *Clock) ScheduleSync(id int, beats float64) bool {
	if id < 0 || id >= MaxClockTasks {
		return false
	}
	s := &c.slots[id]
	if beats <= 0 {
		s.kind = ResumeExternal
		s.active.Store(true)
		return true
	}
	interval := beats * float64(c.samplesPerBeat.Load())
	now := float64(c.now.Load())
	// Next multiple of interval strictly after now.
	n := uint64(now/interval) + 1
	s.kind = ResumeSync
	s.wakeSample = uint64(float64(n) * interval)
	s.active.Store(true)
	return true
}

// Cancel drops coroutine id's pending resume, if any.
func (c *Clock) Cancel(id int) {
	if id < 0 || id >= MaxClockTasks {
		return
	}
	c.slots[id].active.Store(false)
}

// Reset drops every pending resume, used by crow.reset() which frees
// all coroutines and their pending resumes.
func (c *Clock) Reset() {
	for i := range c.slots {
		c.slots[i].active.Store(false)
	}
}

// Tick advances the published sample counter and posts a resume event
// for every slot whose deadline has been reached. Runs on Core A's
// per-sample path; integer comparisons only.
func (c *Clock) Tick(sample uint64) {
	c.now.Store(sample)
	for i := range c.slots {
		s := &c.slots[i]
		if !s.active.Load() {
			continue
		}
		if s.kind == ResumeExternal {
			continue
		}
		if sample >= s.wakeSample {
			s.active.Store(false)
			c.out.Push(ring.ClockResumeEvent{CoroutineID: i, Timestamp: sample})
		}
	}
}

// ExternalEdge resumes every coroutine synced to the external clock
// source. Called from Core A when a pulse input's rising edge arrives.
func (c *Clock) ExternalEdge(sample uint64) {
	for i := range c.slots {
		s := &c.slots[i]
		if !s.active.Load() || s.kind != ResumeExternal {
			continue
		}
		s.active.Store(false)
		c.out.Push(ring.ClockResumeEvent{CoroutineID: i, Timestamp: sample})
	}
}
