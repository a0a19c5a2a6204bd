// Package sched implements the software timers driven from the audio
// core's sample clock: the fixed pool of 8 metros and the clock
// scheduler that wakes script coroutines.
package sched

import "github.com/blackbird-cv/blackbird/internal/ring"

// MaxMetros is the fixed metro pool size.
const MaxMetros = 8

type metroStatus int

const (
	metroStopped metroStatus = iota
	metroRunning
)

// metro is one slot of the fixed pool. nextFireSample is kept as a
// float64 and advanced by the fractional period on each fire, never
// rounded to whole samples, so a period whose sample count is not a
// whole number accrues bounded, not unbounded, phase error.
type metro struct {
	status         metroStatus
	periodSeconds  float64
	periodSamples  float64 // fractional samples per period
	count          int     // -1 = infinite
	stage          int
	started        bool
	nextFireSample float64 // fractional, tracks accumulated error
}

// MetroPool owns the 8 fixed metro slots and ticks them from the audio
// sample clock, posting fires into the metro ring (Core A -> Core B).
type MetroPool struct {
	slots      [MaxMetros]metro
	sampleRate float64
	out        *ring.MetroRing
}

// NewMetroPool constructs an idle pool of MaxMetros slots.
func NewMetroPool(sampleRate float64, out *ring.MetroRing) *MetroPool {
	return &MetroPool{sampleRate: sampleRate, out: out}
}

// Start activates slot id (0-based) at periodSeconds, firing count times
// (-1 for infinite).
func (p *MetroPool) Start(id int, periodSeconds float64, count int) {
	if id < 0 || id >= MaxMetros {
		return
	}
	s := &p.slots[id]
	*s = metro{
		status:        metroRunning,
		periodSeconds: periodSeconds,
		periodSamples: periodSeconds * p.sampleRate,
		count:         count,
		stage:         0,
	}
}

// Stop deactivates slot id immediately; any tick already posted into the
// ring before Stop is still delivered.
func (p *MetroPool) Stop(id int) {
	if id < 0 || id >= MaxMetros {
		return
	}
	p.slots[id].status = metroStopped
}

// Reset stops and clears every slot, used by crow.reset().
func (p *MetroPool) Reset() {
	for i := range p.slots {
		p.slots[i] = metro{}
	}
}

// Tick fires any slot whose next fire sample has been reached. The
// fractional accumulator (nextFireSample kept as a float64 rather than
// rounded each period) is what bounds long-term drift: a period of
// 480.0 samples never drifts, and a period of 481.0-ish samples drifts
// by at most one sample at any instant.
func (p *MetroPool) Tick(sample uint64) {
	for i := range p.slots {
		s := &p.slots[i]
		if s.status != metroRunning {
			continue
		}
		if !s.started {
			s.started = true
			s.nextFireSample = float64(sample) + s.periodSamples
		}
		if float64(sample) < s.nextFireSample {
			continue
		}

		s.stage++
		p.out.Push(ring.MetroEvent{MetroID: i, Stage: s.stage, Timestamp: sample})
		s.nextFireSample += s.periodSamples

		// count=N means exactly N fires, stages 1..N. Deliberate: the
		// handler sees its stage reach count and no further tick.
		if s.count > 0 && s.stage >= s.count {
			s.status = metroStopped
		}
	}
}
