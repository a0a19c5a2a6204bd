// Package ring implements the fixed-capacity single-producer/single-
// consumer event rings that carry notifications from the audio core to
// the control core: metro ticks, input detector events, coroutine
// resumes, and ASL-done completions.
package ring

import "sync/atomic"

// Capacity is the fixed power-of-two slot count for every ring in this
// package.
const Capacity = 64

const capMask = Capacity - 1

// MetroEvent is posted when a Metro slot fires.
type MetroEvent struct {
	MetroID   int
	Stage     int
	Timestamp uint64
}

// InputEvent is posted by a detector on a sample classification change.
type InputEvent struct {
	Channel       int
	Value         float64
	DetectionType int
	Timestamp     uint64
	Extra         int32
}

// ClockResumeEvent is posted when a coroutine's resume condition fires.
type ClockResumeEvent struct {
	CoroutineID int
	Timestamp   uint64
}

// ASLDoneEvent is posted when a channel's ASL sequence step completes.
type ASLDoneEvent struct {
	Channel   int
	Timestamp uint64
}

// ring is the generic SPSC ring all the typed rings above are built
// from. head is written only by the producer, tail only by the
// consumer; both are published/observed through atomic operations so
// that, on a weakly-ordered system, the payload write is always visible
// before the index update that exposes it.
type ring[T any] struct {
	buf  [Capacity]T
	head atomic.Uint64 // next slot to write (producer-owned)
	tail atomic.Uint64 // next slot to read (consumer-owned)
	drop atomic.Uint64 // count of events dropped because the ring was full
}

// push attempts to enqueue v. It never blocks: if the ring is full it
// drops the event and increments the drop counter, so the producer can
// never stall behind a slow consumer.
func (r *ring[T]) push(v T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= Capacity {
		r.drop.Add(1)
		return false
	}
	r.buf[head&capMask] = v
	r.head.Store(head + 1)
	return true
}

// pop dequeues the oldest event, if any.
func (r *ring[T]) pop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	head := r.head.Load()
	if tail >= head {
		return zero, false
	}
	v := r.buf[tail&capMask]
	r.tail.Store(tail + 1)
	return v, true
}

// Len returns the number of events currently queued.
func (r *ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Drops returns the running count of events dropped due to a full ring.
func (r *ring[T]) Drops() uint64 {
	return r.drop.Load()
}

// MetroRing, InputRing, ClockResumeRing and ASLDoneRing are the four
// audio-to-control event rings, each a thin typed wrapper over the
// shared generic ring so producer/consumer code stays readable at call
// sites (MetroRing.Push, not a bare generic Push[MetroEvent]).

type MetroRing struct{ r ring[MetroEvent] }

func NewMetroRing() *MetroRing { return &MetroRing{} }
func (m *MetroRing) Push(e MetroEvent) bool { return m.r.push(e) }
func (m *MetroRing) Pop() (MetroEvent, bool) { return m.r.pop() }
func (m *MetroRing) Len() int { return m.r.Len() }
func (m *MetroRing) Drops() uint64 { return m.r.Drops() }

type InputRing struct{ r ring[InputEvent] }

func NewInputRing() *InputRing { return &InputRing{} }
func (m *InputRing) Push(e InputEvent) bool { return m.r.push(e) }
func (m *InputRing) Pop() (InputEvent, bool) { return m.r.pop() }
func (m *InputRing) Len() int { return m.r.Len() }
func (m *InputRing) Drops() uint64 { return m.r.Drops() }

type ClockResumeRing struct{ r ring[ClockResumeEvent] }

func NewClockResumeRing() *ClockResumeRing { return &ClockResumeRing{} }
func (m *ClockResumeRing) Push(e ClockResumeEvent) bool { return m.r.push(e) }
func (m *ClockResumeRing) Pop() (ClockResumeEvent, bool) { return m.r.pop() }
func (m *ClockResumeRing) Len() int { return m.r.Len() }
func (m *ClockResumeRing) Drops() uint64 { return m.r.Drops() }

type ASLDoneRing struct{ r ring[ASLDoneEvent] }

func NewASLDoneRing() *ASLDoneRing { return &ASLDoneRing{} }
func (m *ASLDoneRing) Push(e ASLDoneEvent) bool { return m.r.push(e) }
func (m *ASLDoneRing) Pop() (ASLDoneEvent, bool) { return m.r.pop() }
func (m *ASLDoneRing) Len() int { return m.r.Len() }
func (m *ASLDoneRing) Drops() uint64 { return m.r.Drops() }
