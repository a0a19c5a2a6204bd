package engine

// Panel I/O constants: two level-sensitive pulse outputs and six
// PWM-driven LEDs with 12-bit brightness. LEDs 0-3 are reserved for
// built-in status (heartbeat, error flash, USB state, upload activity);
// FirstUserLED onward is script-addressable.
const (
	NumPulseOuts  = 2
	NumLEDs       = 6
	FirstUserLED  = 4
	MaxBrightness = 4095
)

// SetPulse drives pulse output n high or low. Level-sensitive: the
// output holds until written again.
func (e *Engine) SetPulse(n int, high bool) {
	if n < 0 || n >= NumPulseOuts {
		return
	}
	e.pulse[n].Store(high)
}

// Pulse returns pulse output n's current level.
func (e *Engine) Pulse(n int) bool {
	if n < 0 || n >= NumPulseOuts {
		return false
	}
	return e.pulse[n].Load()
}

// SetLED sets LED n's brightness, clamped to 12 bits.
func (e *Engine) SetLED(n int, brightness int) {
	if n < 0 || n >= NumLEDs {
		return
	}
	if brightness < 0 {
		brightness = 0
	}
	if brightness > MaxBrightness {
		brightness = MaxBrightness
	}
	e.leds[n].Store(uint32(brightness))
}

// LED returns LED n's brightness.
func (e *Engine) LED(n int) int {
	if n < 0 || n >= NumLEDs {
		return 0
	}
	return int(e.leds[n].Load())
}
