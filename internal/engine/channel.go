package engine

// NumChannels is the fixed set of voltage outputs.
const NumChannels = 4

// Priority selects the slope renderer's block size, trading CPU for
// scheduler jitter.
type Priority int

const (
	PriorityAccuracy Priority = iota
	PriorityBalanced
	PriorityTiming
)

// BlockSize returns the sample count processed per tick for a priority.
func (p Priority) BlockSize() int {
	switch p {
	case PriorityAccuracy:
		return 4
	case PriorityTiming:
		return 480
	default:
		return 240
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityAccuracy:
		return "accuracy"
	case PriorityTiming:
		return "timing"
	default:
		return "balanced"
	}
}

// ParsePriority maps a script-facing priority name onto a Priority.
func ParsePriority(name string) (Priority, bool) {
	switch name {
	case "accuracy":
		return PriorityAccuracy, true
	case "balanced":
		return PriorityBalanced, true
	case "timing":
		return PriorityTiming, true
	default:
		return PriorityBalanced, false
	}
}

// Channel is one of the four fixed voltage outputs. The ISR reads a
// channel's state exactly once per sample; Core B's writes (toward,
// hold, SetScale, gate Set/Clear) become visible atomically at
// descriptor granularity because they only ever run between ticks on
// the same goroutine that owns the tick loop — see engine.go.
type Channel struct {
	Index     int
	slope     Slope
	quantizer QuantizerConfig
	gate      GateClock
}

// Toward starts a new envelope segment, see Slope.toward.
func (c *Channel) Toward(destV Q16, timeMs float64, shape ShapeKind, sampleRate float64, done DoneFunc) {
	c.slope.toward(c.Index, destV, timeMs, shape, sampleRate, done)
}

// Hold sets a constant output voltage, see Slope.hold.
func (c *Channel) Hold(v Q16) {
	c.slope.hold(v)
}

// SetScale enables the output quantizer.
func (c *Channel) SetScale(degrees []float64, mod int, scaling float64) {
	c.quantizer.SetScale(degrees, mod, scaling)
}

// UnsetScale disables the output quantizer.
func (c *Channel) UnsetScale() {
	c.quantizer.Unset()
}

// SetGate activates the gate clock on this channel, saving the current
// quantizer state so ClearGate can restore it.
func (c *Channel) SetGate(periodS, widthS, sampleRate float64) {
	c.gate.Set(periodS, widthS, sampleRate, &c.quantizer)
}

// ClearGate deactivates the gate clock and restores the prior quantizer.
func (c *Channel) ClearGate() {
	c.gate.Clear(&c.quantizer)
	c.slope.hold(c.slope.current())
}

// Get returns the slope's current voltage without advancing state. It
// is the value before the quantizer or gate clock; tick applies those.
func (c *Channel) Get() Q16 {
	return c.slope.current()
}

// Reset clears the channel to its power-on default: held at 0V, no
// quantizer, no gate.
func (c *Channel) Reset() {
	idx := c.Index
	*c = Channel{Index: idx}
}

// tick advances exactly one sample and returns the rendered output
// voltage. An active gate replaces slope output entirely and bypasses
// the quantizer.
func (c *Channel) tick() (out Q16, slopeCompleted bool) {
	if c.gate.Active() {
		return c.gate.tick(), false
	}

	v, completed := c.slope.tick()
	return c.quantizer.Apply(v), completed
}
