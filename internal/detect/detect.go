// Package detect runs the per-input-channel detection algorithms over
// every audio sample: stream, change, window, scale, volume and peak,
// posting classification events into the input ring for Core B.
package detect

import (
	"sync/atomic"

	"github.com/blackbird-cv/blackbird/internal/engine"
	"github.com/blackbird-cv/blackbird/internal/ring"
)

// NumChannels is the number of pulse/CV inputs carrying a detector.
const NumChannels = 2

// Capacity limits matching the original hardware firmware's fixed pools.
const (
	MaxScaleNotes = 16
	MaxWindows    = 16
)

// BlockSamples is the unit Stream/Volume intervals are measured in:
// interval_blocks = interval * sample_rate / BlockSamples. The countdown
// decrements only on block boundaries inside the per-sample function.
const BlockSamples = 32

// EventType tags an InputEvent's DetectionType field.
const (
	EventStream = iota
	EventChange
	EventWindow
	EventScale
	EventVolume
	EventPeak
)

// Mode selects the active detection algorithm.
type Mode int

const (
	ModeNone Mode = iota
	ModeStream
	ModeChange
	ModeWindow
	ModeScale
	ModeVolume
	ModePeak
)

// Direction restricts Change detection to one edge polarity.
type Direction int8

const (
	DirFalling Direction = -1
	DirBoth    Direction = 0
	DirRising  Direction = 1
)

// ParseDirection maps the script-facing direction string; only the
// first letter is significant.
func ParseDirection(s string) Direction {
	if len(s) == 0 {
		return DirBoth
	}
	switch s[0] {
	case 'r':
		return DirRising
	case 'f':
		return DirFalling
	default:
		return DirBoth
	}
}

// Release coefficients for the envelope followers, in Q16 per sample.
// Volume and Peak use the same value.
const (
	volumeReleaseQ16 = 655 // ~0.01 of the gap closed per sample
	peakReleaseQ16   = 655
)

type streamState struct {
	blocks    int
	countdown int
}

type changeState struct {
	upperCounts int32 // threshold + hysteresis, in ADC counts
	lowerCounts int32 // threshold - hysteresis
	direction   Direction
}

type windowState struct {
	countsBounds [MaxWindows]int32
	count        int
	lastWin      int32
}

type scaleState struct {
	notes   [MaxScaleNotes]float64
	count   int
	divs    float64
	scaling float64

	offset float64 // half a division, in volts
	win    float64 // window size in volts
	hyst   float64

	// Bounds for the current note, mirrored into ADC counts so the
	// per-sample comparison needs no floating point.
	upperCounts int32
	lowerCounts int32

	lastIndex int
	lastOct   int
	lastNote  float64
	lastVolts float64
}

type envState struct {
	blocks    int
	countdown int
	envelope  int32 // ADC counts, Q0

	// Peak threshold band in counts.
	upperCounts int32
	lowerCounts int32
}

// Detector is one input channel's detection state. The per-sample hot
// path (Process) is integer-only and lock-free; Core B reconfigures it
// through the Set* methods, which publish under the mode_switching flag:
// set flag, write descriptor, clear state, clear flag. Process skips the
// detector entirely while the flag is set.
type Detector struct {
	channel    int
	sampleRate float64
	out        *ring.InputRing

	switching atomic.Bool

	mode Mode
	// last republishes the raw ADC sample so Core B's input[n].volts
	// reads a consistent value without locking.
	last  atomic.Int32
	state bool // hysteresis state

	sampleInBlock int

	// MinHysteresisVolts floors the Change/Scale hysteresis so the
	// expected input-noise floor never crosses it in steady state.
	// Defaults to one ADC LSB; boards with noisier front ends can
	// raise it.
	MinHysteresisVolts float64

	stream streamState
	change changeState
	window windowState
	scale  scaleState
	env    envState
}

// New constructs an idle detector for the given input channel.
func New(channel int, sampleRate float64, out *ring.InputRing) *Detector {
	return &Detector{
		channel:            channel,
		sampleRate:         sampleRate,
		out:                out,
		MinHysteresisVolts: engine.FullScaleVolts / engine.FullScaleCounts,
	}
}

// Mode returns the active detection mode.
func (d *Detector) Mode() Mode { return d.mode }

// begin/end bracket every reconfiguration with the mode_switching flag.
// All descriptor writes happen between them; the atomic Store in end is
// the publication barrier that makes them visible to the sample path.
func (d *Detector) begin() { d.switching.Store(true) }

func (d *Detector) end(m Mode) {
	d.mode = m
	d.last.Store(0)
	d.state = false
	d.sampleInBlock = 0
	d.switching.Store(false)
}

// SetNone disables detection on this channel.
func (d *Detector) SetNone() {
	d.begin()
	d.end(ModeNone)
}

// SetStream reports the input voltage every interval seconds.
func (d *Detector) SetStream(interval float64) {
	d.begin()
	d.stream.blocks = intervalBlocks(interval, d.sampleRate)
	d.stream.countdown = d.stream.blocks
	d.end(ModeStream)
}

// SetChange arms a Schmitt trigger at threshold volts with the given
// hysteresis and direction. Hysteresis is floored to MinHysteresisVolts.
func (d *Detector) SetChange(threshold, hysteresis float64, dir Direction) {
	if hysteresis < d.MinHysteresisVolts {
		hysteresis = d.MinHysteresisVolts
	}
	d.begin()
	d.change.upperCounts = int32(engine.VoltsToDAC(threshold + hysteresis))
	d.change.lowerCounts = int32(engine.VoltsToDAC(threshold - hysteresis))
	d.change.direction = dir
	d.end(ModeChange)
}

// SetWindow classifies the input into bins bounded by thresholds (volts,
// ascending). On a bin change the event carries the signed 1-based bin
// index, sign giving the crossing direction.
func (d *Detector) SetWindow(thresholds []float64, hysteresis float64) {
	n := len(thresholds)
	if n > MaxWindows {
		n = MaxWindows
	}
	d.begin()
	d.window.count = n
	for i := 0; i < n; i++ {
		d.window.countsBounds[i] = int32(engine.VoltsToDAC(thresholds[i]))
	}
	d.window.lastWin = 0
	d.end(ModeWindow)
}

// SetScale maps the input to the nearest note of a scale. An empty notes
// slice means chromatic over divs divisions. Bounds are computed in
// volts then mirrored into ADC counts, so the hot loop compares
// integers while the voltage stays inside the current note's
// hysteresis band.
func (d *Detector) SetScale(notes []float64, divs, scaling float64) {
	if divs <= 0 {
		divs = 12
	}
	if scaling <= 0 {
		scaling = 1.0
	}

	d.begin()
	s := &d.scale
	n := len(notes)
	if n > MaxScaleNotes {
		n = MaxScaleNotes
	}
	if n == 0 { // assume chromatic
		n = int(divs)
		if n > MaxScaleNotes {
			n = MaxScaleNotes
		}
		for i := 0; i < n; i++ {
			s.notes[i] = float64(i)
		}
	} else {
		copy(s.notes[:n], notes)
	}
	s.count = n
	s.divs = divs
	s.scaling = scaling
	s.offset = 0.5 * scaling / divs
	s.win = scaling / float64(n)
	s.hyst = s.win / 20.0
	if s.hyst < d.MinHysteresisVolts {
		s.hyst = d.MinHysteresisVolts
	}
	d.scaleBounds(0, -10) // invalid note so the first sample always fires
	d.end(ModeScale)
}

// SetVolume reports the envelope-followed input level every interval
// seconds.
func (d *Detector) SetVolume(interval float64) {
	d.begin()
	d.env.blocks = intervalBlocks(interval, d.sampleRate)
	d.env.countdown = d.env.blocks
	d.env.envelope = 0
	d.end(ModeVolume)
}

// SetPeak fires once when the envelope-followed level rises through
// threshold + hysteresis; it re-arms below threshold - hysteresis.
func (d *Detector) SetPeak(threshold, hysteresis float64) {
	if hysteresis < d.MinHysteresisVolts {
		hysteresis = d.MinHysteresisVolts
	}
	d.begin()
	d.env.upperCounts = int32(engine.VoltsToDAC(threshold + hysteresis))
	d.env.lowerCounts = int32(engine.VoltsToDAC(threshold - hysteresis))
	d.env.envelope = 0
	d.end(ModePeak)
}

func intervalBlocks(interval, sampleRate float64) int {
	b := int(interval * sampleRate / BlockSamples)
	if b < 1 {
		b = 1
	}
	return b
}

func (d *Detector) scaleBounds(ix, oct int) {
	s := &d.scale
	ideal := float64(oct)*s.scaling + float64(ix)*s.win - s.offset
	lower := ideal - s.hyst
	upper := ideal + s.hyst + s.win
	s.lowerCounts = int32(engine.VoltsToDAC(lower))
	s.upperCounts = int32(engine.VoltsToDAC(upper))
}

// blockTick advances the 32-sample block counter and reports whether
// this sample is a block boundary.
func (d *Detector) blockTick() bool {
	d.sampleInBlock++
	if d.sampleInBlock >= BlockSamples {
		d.sampleInBlock = 0
		return true
	}
	return false
}

// Process runs one sample of detection. raw is the ADC count for this
// channel; sample is the global sample counter used as the event
// timestamp. Integer-only until an event actually posts.
func (d *Detector) Process(raw int16, sample uint64) {
	if d.switching.Load() {
		return
	}

	v := int32(raw)
	boundary := d.blockTick()

	switch d.mode {
	case ModeStream:
		if boundary {
			d.stream.countdown--
			if d.stream.countdown <= 0 {
				d.stream.countdown = d.stream.blocks
				d.post(EventStream, engine.DACToVolts(raw), 0, sample)
			}
		}

	case ModeChange:
		if d.state {
			if v < d.change.lowerCounts {
				d.state = false
				if d.change.direction != DirRising {
					d.post(EventChange, 0, 0, sample)
				}
			}
		} else {
			if v > d.change.upperCounts {
				d.state = true
				if d.change.direction != DirFalling {
					d.post(EventChange, 1, 0, sample)
				}
			}
		}

	case ModeWindow:
		ix := int32(1) // 1-based so the sign can carry direction
		for i := 0; i < d.window.count; i++ {
			if v < d.window.countsBounds[i] {
				break
			}
			ix++
		}
		if ix != d.window.lastWin {
			signed := ix
			if ix < d.window.lastWin {
				signed = -ix
			}
			d.window.lastWin = ix
			d.post(EventWindow, float64(signed), signed, sample)
		}

	case ModeScale:
		if v > d.scale.upperCounts || v < d.scale.lowerCounts {
			d.classifyScale(engine.DACToVolts(raw), sample)
		}

	case ModeVolume:
		d.followEnvelope(v, volumeReleaseQ16)
		if boundary {
			d.env.countdown--
			if d.env.countdown <= 0 {
				d.env.countdown = d.env.blocks
				d.post(EventVolume, engine.DACToVolts(int16(d.env.envelope)), 0, sample)
			}
		}

	case ModePeak:
		d.followEnvelope(v, peakReleaseQ16)
		if d.state {
			if d.env.envelope < d.env.lowerCounts {
				d.state = false
			}
		} else {
			if d.env.envelope > d.env.upperCounts {
				d.state = true
				d.post(EventPeak, 0, 0, sample)
			}
		}
	}

	d.last.Store(v)
}

// LastVolts returns the most recent input voltage as published by the
// sample path. Safe from any goroutine.
func (d *Detector) LastVolts() float64 {
	return engine.DACToVolts(int16(d.last.Load()))
}

// followEnvelope is a one-pole follower: instant attack, release closing
// releaseQ16/65536 of the gap per sample. All integer.
func (d *Detector) followEnvelope(v, releaseQ16 int32) {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	env := d.env.envelope
	if abs > env {
		env = abs
	} else {
		env = abs + int32((int64(env-abs)*int64(65536-releaseQ16))>>16)
	}
	d.env.envelope = env
}

// classifyScale locks onto the nearest note and recomputes the bounds
// for its hysteresis band. Float math is acceptable here: it runs only
// when the voltage has left the current band, not every sample.
func (d *Detector) classifyScale(volts float64, sample uint64) {
	s := &d.scale
	level := volts + s.offset
	norm := level / s.scaling
	oct := floorInt(norm)
	phase := norm - float64(oct)
	ix := int(phase * float64(s.count))
	if ix < 0 {
		ix = 0
	}
	if ix >= s.count {
		ix = s.count - 1
	}

	note := s.notes[ix]
	s.lastIndex = ix
	s.lastOct = oct
	s.lastNote = note + float64(oct)*s.divs
	s.lastVolts = (note/s.divs + float64(oct)) * s.scaling

	d.scaleBounds(ix, oct)
	d.post(EventScale, s.lastVolts, packScale(ix, oct), sample)
}

// LastScale returns the most recent scale classification, used by the
// event dispatcher to hand (index, octave, note, volts) to the script
// handler without widening the ring's event payload.
func (d *Detector) LastScale() (index, octave int, note, volts float64) {
	s := &d.scale
	return s.lastIndex, s.lastOct, s.lastNote, s.lastVolts
}

func (d *Detector) post(eventType int, value float64, extra int32, sample uint64) {
	d.out.Push(ring.InputEvent{
		Channel:       d.channel,
		Value:         value,
		DetectionType: eventType,
		Timestamp:     sample,
		Extra:         extra,
	})
}

// packScale folds a scale index and octave into an event's Extra field.
func packScale(ix, oct int) int32 {
	return int32(ix)<<8 | int32(uint8(int8(oct)))
}

// UnpackScale is the inverse of the Extra packing used by scale events.
func UnpackScale(extra int32) (ix, oct int) {
	return int(extra >> 8), int(int8(extra & 0xFF))
}

func floorInt(x float64) int {
	i := int(x)
	if x < 0 && float64(i) != x {
		i--
	}
	return i
}
