// Package audio owns the Core A tick cadence: each block it first renders
// the output channels, then runs the input detectors, metro pool and
// clock scheduler, in that order, for every sample the block covered,
// and hands the rendered block to whichever backend is
// pacing the loop (the oto device callback, or a wall-clock ticker when
// running headless).
package audio

import (
	"sync/atomic"

	"github.com/blackbird-cv/blackbird/internal/detect"
	"github.com/blackbird-cv/blackbird/internal/engine"
	"github.com/blackbird-cv/blackbird/internal/ring"
	"github.com/blackbird-cv/blackbird/internal/sched"
)

// maxBlock is the largest renderer block size (priority "timing").
const maxBlock = 480

// NumPulseIns is the count of digital pulse inputs.
const NumPulseIns = 2

// InputSource supplies one sample of input state per tick: the CV
// inputs as raw ADC counts and the pulse input levels. A nil source
// reads as silent inputs.
type InputSource interface {
	Sample(sample uint64) (cv [detect.NumChannels]int16, pulse [NumPulseIns]bool)
}

// Core is the audio-core composite: everything that must advance in
// lockstep with the sample clock. All of its methods run on the single
// goroutine pacing the audio loop; Core B talks to the members (engine
// descriptors, detector modes, metro slots, clock slots) through their
// own published-descriptor disciplines, never through Core directly.
type Core struct {
	eng    *engine.Engine
	metros *sched.MetroPool
	clock  *sched.Clock
	dets   [detect.NumChannels]*detect.Detector
	in     InputSource
	cmds   *ring.CommandRing

	lastPulse [NumPulseIns]bool

	bufs [engine.NumChannels][]float64
	mix  []float64
	pos  int
	n    int

	// overruns counts blocks whose render exceeded their real-time
	// budget. Incremented by the pacing backend, read by diagnostics.
	overruns atomic.Uint64
}

// NewCore assembles the audio core. dets entries may be nil for inputs
// without a detector.
func NewCore(eng *engine.Engine, metros *sched.MetroPool, clock *sched.Clock,
	dets [detect.NumChannels]*detect.Detector, in InputSource, cmds *ring.CommandRing) *Core {
	c := &Core{eng: eng, metros: metros, clock: clock, dets: dets, in: in, cmds: cmds}
	for i := range c.bufs {
		c.bufs[i] = make([]float64, maxBlock)
	}
	c.mix = make([]float64, maxBlock)
	return c
}

// Engine exposes the renderer for output inspection (DAC values, LEDs).
func (c *Core) Engine() *engine.Engine { return c.eng }

// NoteOverrun records one missed real-time deadline.
func (c *Core) NoteOverrun() { c.overruns.Add(1) }

// Overruns returns the running overrun count.
func (c *Core) Overruns() uint64 { return c.overruns.Load() }

// RenderBlock advances one block: renders the four output channels and
// runs detectors/metros/clock for each sample the block covered.
// Returns the number of samples processed.
func (c *Core) RenderBlock() int {
	c.applyCommands()
	start := c.eng.Sample()

	bs := c.eng.BlockSize()
	var out [engine.NumChannels][]float64
	for i := range out {
		out[i] = c.bufs[i][:bs]
	}
	n := c.eng.RenderBlock(out)

	for i := 0; i < n; i++ {
		s := start + uint64(i)

		var cv [detect.NumChannels]int16
		var pulse [NumPulseIns]bool
		if c.in != nil {
			cv, pulse = c.in.Sample(s)
		}

		for ch := range c.dets {
			if c.dets[ch] != nil {
				c.dets[ch].Process(cv[ch], s)
			}
		}

		// Pulse input 1 is the external clock source; its rising edge
		// resumes any coroutine parked on sync(0).
		if pulse[0] && !c.lastPulse[0] {
			c.clock.ExternalEdge(s)
		}
		c.lastPulse = pulse

		c.metros.Tick(s)
		c.clock.Tick(s)
	}

	// Mono monitor mix for the audio backend: the four channels summed
	// and normalised into [-1, 1].
	for i := 0; i < n; i++ {
		v := (c.bufs[0][i] + c.bufs[1][i] + c.bufs[2][i] + c.bufs[3][i]) /
			(engine.NumChannels * engine.FullScaleVolts)
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		c.mix[i] = v
	}
	// Heartbeat on the first status LED: half-second on, half-second
	// off, driven from the sample clock so it stalls visibly if the
	// audio core does.
	half := uint64(c.eng.SampleRate() / 2)
	if half > 0 {
		if (start/half)%2 == 0 {
			c.eng.SetLED(0, 1024)
		} else {
			c.eng.SetLED(0, 0)
		}
	}

	c.pos = 0
	c.n = n
	return n
}

// applyCommands drains the descriptor-update ring at the block
// boundary, the only point Core A mutates engine or metro state on the
// script's behalf. Commands arrive whole, so no half-written descriptor
// is ever observable mid-block.
func (c *Core) applyCommands() {
	if c.cmds == nil {
		return
	}
	for {
		cmd, ok := c.cmds.Pop()
		if !ok {
			return
		}
		ch := int(cmd.Channel)
		switch cmd.Op {
		case ring.OpHold:
			c.eng.Hold(ch, engine.VoltsToQ16(cmd.A))
		case ring.OpToward:
			c.eng.Toward(ch, engine.VoltsToQ16(cmd.A), cmd.B, engine.ShapeKind(cmd.Shape))
		case ring.OpSetScale:
			c.eng.Channels[ch].SetScale(cmd.Degrees[:cmd.Count], int(cmd.B), cmd.C)
		case ring.OpUnsetScale:
			c.eng.Channels[ch].UnsetScale()
		case ring.OpSetGate:
			c.eng.Channels[ch].SetGate(cmd.A, cmd.B, c.eng.SampleRate())
		case ring.OpClearGate:
			c.eng.Channels[ch].ClearGate()
		case ring.OpMetroStart:
			c.metros.Start(ch, cmd.A, int(cmd.Count))
		case ring.OpMetroStop:
			c.metros.Stop(ch)
		case ring.OpReset:
			c.eng.Reset()
			c.metros.Reset()
		}
	}
}

// NextSample returns the next monitor-mix sample, rendering a fresh
// block when the previous one is exhausted. This is the pull-model hook
// the oto backend drives from the OS audio callback.
func (c *Core) NextSample() float32 {
	if c.pos >= c.n {
		c.RenderBlock()
	}
	v := c.mix[c.pos]
	c.pos++
	return float32(v)
}

// ChannelBlock returns channel ch's samples from the most recent block,
// used by tests to observe rendered voltages.
func (c *Core) ChannelBlock(ch int) []float64 {
	return c.bufs[ch][:c.n]
}
