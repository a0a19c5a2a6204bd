package engine

import "sync/atomic"

// SlopeDoneSink receives a SlopeDone{channel} notification. It is
// implemented by internal/ring's producer side; the engine itself never
// depends on the ring's concrete type, only on this narrow interface,
// keeping Core A's hot path free of anything but a function call.
type SlopeDoneSink interface {
	PostSlopeDone(channel int, sample uint64)
}

// Engine owns the four channels and the per-sample tick driving them.
// Everything reachable from RenderBlock must stay allocation-free and
// lock-free, since it runs on the audio core's hot path.
type Engine struct {
	Channels [NumChannels]Channel

	sampleRate float64
	priority   Priority
	pendingPri atomic.Int32 // deferred priority change, applied at block boundary
	havePend   atomic.Bool

	sample uint64 // running sample counter, also used as event timestamp

	// rendered holds each channel's output from the latest tick, after
	// the quantizer or gate clock has been applied.
	rendered [NumChannels]Q16

	// out republishes each channel's rendered voltage at block
	// granularity so Core B's get(ch) sees a consistent value without
	// locking.
	out [NumChannels]atomic.Int64

	pulse [NumPulseOuts]atomic.Bool
	leds  [NumLEDs]atomic.Uint32

	sink SlopeDoneSink
}

// New constructs an Engine at the given sample rate with an initial
// priority (and therefore block size).
func New(sampleRate float64, priority Priority, sink SlopeDoneSink) *Engine {
	e := &Engine{sampleRate: sampleRate, priority: priority, sink: sink}
	for i := range e.Channels {
		e.Channels[i].Index = i
	}
	return e
}

// SampleRate returns the configured audio sample rate.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// Sample returns the current running sample counter.
func (e *Engine) Sample() uint64 { return e.sample }

// SetPriority requests a block-size change. The request is latched
// here and applied by RenderBlock only between blocks, so the render
// path stays lock-free.
func (e *Engine) SetPriority(p Priority) {
	e.pendingPri.Store(int32(p))
	e.havePend.Store(true)
}

// Priority returns the currently active priority (not a pending one).
func (e *Engine) Priority() Priority { return e.priority }

// BlockSize returns the sample count RenderBlock will process next.
func (e *Engine) BlockSize() int { return e.priority.BlockSize() }

// Toward issues a "toward" command on the given channel. It must only
// be called between RenderBlock invocations, never concurrently with
// one; cross-goroutine callers go through the command ring instead.
func (e *Engine) Toward(channel int, destV Q16, timeMs float64, shape ShapeKind) {
	ch := &e.Channels[channel]
	ch.Toward(destV, timeMs, shape, e.sampleRate, func(c int) {
		e.sink.PostSlopeDone(c, e.sample)
	})
}

// Hold issues a "hold" command on the given channel.
func (e *Engine) Hold(channel int, v Q16) {
	e.Channels[channel].Hold(v)
}

// tick advances every channel by exactly one sample, posting SlopeDone
// events for any channel whose segment completed on this sample.
func (e *Engine) tick() {
	for i := range e.Channels {
		v, completed := e.Channels[i].tick()
		e.rendered[i] = v
		if completed && e.sink != nil {
			e.sink.PostSlopeDone(i, e.sample)
		}
	}
	e.sample++
}

// RenderBlock advances the engine by one block's worth of samples,
// applying any pending priority change at the block boundary first. It
// writes each channel's rendered voltage into out, which must have
// capacity for at least BlockSize() samples per channel; out[i] holds
// channel i's samples.
//
// A block whose span contains a slope's countdown reaching zero is not
// specially split here: the renderer already recomputes the exact
// completion sample inside tick(), so the event timestamp (e.sample) is
// accurate to one sample regardless of block size, satisfying the
// "breakpoint block" requirement without a separate code path.
func (e *Engine) RenderBlock(out [NumChannels][]float64) int {
	if e.havePend.Load() {
		e.priority = Priority(e.pendingPri.Load())
		e.havePend.Store(false)
	}

	n := e.priority.BlockSize()
	for i := range out {
		if len(out[i]) < n {
			n = len(out[i])
		}
	}

	for s := 0; s < n; s++ {
		e.tick()
		for ch := 0; ch < NumChannels; ch++ {
			out[ch][s] = Q16ToVolts(e.rendered[ch])
		}
	}
	for ch := 0; ch < NumChannels; ch++ {
		e.out[ch].Store(int64(e.rendered[ch]))
	}
	return n
}

// OutVolts returns channel ch's rendered voltage as published at the
// last block boundary. Safe from any goroutine.
func (e *Engine) OutVolts(ch int) float64 {
	return Q16ToVolts(Q16(e.out[ch].Load()))
}

// Reset clears every channel, pulse output and user LED to its
// power-on default, backing crow.reset().
func (e *Engine) Reset() {
	for i := range e.Channels {
		e.Channels[i].Reset()
	}
	for i := range e.pulse {
		e.pulse[i].Store(false)
	}
	for i := FirstUserLED; i < NumLEDs; i++ {
		e.leds[i].Store(0)
	}
}
