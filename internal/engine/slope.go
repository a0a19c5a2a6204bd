package engine

// DoneFunc is the completion callback handed to toward. toward calls it
// directly, from the calling context, when an instant (timeMs <= 0)
// segment completes. Slope keeps the handle of a timed segment but tick
// never calls it; Engine.tick reports those completions through the
// SlopeDoneSink instead.
type DoneFunc func(channel int)

// Slope is a single monotone envelope segment, advanced one sample at a
// time by the audio tick. Every field here is read and written only by
// the tick path (Core A) except through the toward/hold constructors,
// which Core B calls between ticks under the channel's descriptor
// discipline — see channel.go.
type Slope struct {
	hereQ16   Q16 // position along the segment, 0 .. 1<<16
	deltaQ16  Q16 // per-sample increment of hereQ16
	lastV     Q16 // segment start voltage
	scaleV    Q16 // end - start
	countdown int // samples remaining; 0 means held/instant
	shape     ShapeKind
	shaped    Q16 // cached last-evaluated output, reused while countdown<=0

	done   DoneFunc
	doneCh int // channel index to pass to done, set at toward() time
}

// toward starts a new segment from the slope's currently held voltage
// towards destV over timeMs milliseconds. timeMs == 0 performs an
// instant jump: the held voltage snaps to destV and the completion
// fires synchronously from the calling context.
func (s *Slope) toward(channel int, destV Q16, timeMs float64, shape ShapeKind, sampleRate float64, done DoneFunc) {
	start := s.current()

	if timeMs <= 0 {
		s.lastV = destV
		s.scaleV = 0
		s.hereQ16 = Q16One
		s.countdown = 0
		s.shape = shape
		s.shaped = destV
		s.done = nil
		s.doneCh = channel
		if done != nil {
			done(channel)
		}
		return
	}

	samples := int(timeMs * sampleRate / 1000.0)
	if samples < 1 {
		samples = 1
	}

	s.lastV = start
	s.scaleV = destV - start
	s.hereQ16 = 0
	s.deltaQ16 = Q16One / Q16(samples)
	s.countdown = samples
	s.shape = shape
	s.shaped = start
	s.done = done
	s.doneCh = channel
}

// hold replaces the segment with a constant output.
func (s *Slope) hold(v Q16) {
	s.lastV = v
	s.scaleV = 0
	s.hereQ16 = Q16One
	s.deltaQ16 = 0
	s.countdown = 0
	s.shape = ShapeLinear
	s.shaped = v
	s.done = nil
}

// current returns the last rendered voltage without advancing state,
// satisfying the "get(ch)" contract: a reader sees a consistent value
// with no locking required because it only ever reads already-published
// fields.
func (s *Slope) current() Q16 {
	return s.shaped
}

// tick advances the slope by exactly one sample and returns the
// rendered voltage. It reports whether the segment completed on this
// sample so the caller can post a slope-done event.
func (s *Slope) tick() (out Q16, completed bool) {
	if s.countdown <= 0 {
		return s.lastV + s.scaleV.Mul(lookupShape(s.shape, Q16One)), false
	}

	s.hereQ16 += s.deltaQ16
	s.countdown--

	if s.countdown <= 0 {
		s.hereQ16 = Q16One
	}

	s.shaped = s.lastV + s.scaleV.Mul(lookupShape(s.shape, s.hereQ16))

	if s.countdown <= 0 {
		return s.shaped, true
	}
	return s.shaped, false
}

// lookupShape wraps lookupQ16 with the Q16 named type.
func lookupShape(shape ShapeKind, hereQ16 Q16) Q16 {
	return Q16(lookupQ16(shape, int64(hereQ16)))
}
