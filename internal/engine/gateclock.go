package engine

// GateHighVolts is the voltage emitted while a gate clock's phase is
// within its pulse width.
const GateHighVolts = 5.0

// GateClock emits a square-wave gate on channels 3-4, overriding slope
// and quantizer output while active.
type GateClock struct {
	active        bool
	periodSamples int
	widthSamples  int
	phaseSamples  int

	savedQuantizer QuantizerConfig
	hadSaved       bool
}

// Set activates the gate clock with the given period and width in
// seconds, converted to samples at sampleRate. Activating on a channel
// that has an enabled quantizer saves it so Clear can restore it.
func (g *GateClock) Set(periodS, widthS, sampleRate float64, q *QuantizerConfig) {
	g.periodSamples = int(periodS * sampleRate)
	if g.periodSamples < 1 {
		g.periodSamples = 1
	}
	g.widthSamples = int(widthS * sampleRate)
	if g.widthSamples < 0 {
		g.widthSamples = 0
	}
	if g.widthSamples > g.periodSamples {
		g.widthSamples = g.periodSamples
	}

	if !g.active {
		g.savedQuantizer = *q
		g.hadSaved = true
		q.Unset()
	}
	g.phaseSamples = 0
	g.active = true
}

// Clear deactivates the gate and restores the quantizer state captured
// by Set. The held voltage is restored by the caller via Slope.hold;
// GateClock only owns the quantizer restore.
func (g *GateClock) Clear(q *QuantizerConfig) {
	if !g.active {
		return
	}
	g.active = false
	if g.hadSaved {
		*q = g.savedQuantizer
		g.hadSaved = false
	}
}

func (g *GateClock) Active() bool { return g.active }

// tick advances the gate's phase by one sample and returns the output
// voltage for that sample.
func (g *GateClock) tick() Q16 {
	out := Q16(0)
	if g.phaseSamples < g.widthSamples {
		out = VoltsToQ16(GateHighVolts)
	}
	g.phaseSamples++
	if g.phaseSamples >= g.periodSamples {
		g.phaseSamples = 0
	}
	return out
}
