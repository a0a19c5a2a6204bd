package asl

import "github.com/blackbird-cv/blackbird/internal/engine"

// Step is the Go-typed AST a caller builds to describe a channel's
// sequence: internal/script walks the user's Lua table once and
// produces a []Step, which Describe then lowers into the fixed pools
// below. Keeping Lua table-walking out of this package keeps its
// dependency surface to just internal/engine.
type Step interface{ isStep() }

type ToStep struct{ Dest, Time, Shape Elem }
type RecurStep struct{}
type IfStep struct{ Pred Elem }
type EnterStep struct{ Children []Step }
type HeldStep struct{}
type WaitStep struct{}
type UnheldStep struct{}
type LockStep struct{}
type OpenStep struct{}

func (ToStep) isStep()     {}
func (RecurStep) isStep()  {}
func (IfStep) isStep()     {}
func (EnterStep) isStep()  {}
func (HeldStep) isStep()   {}
func (WaitStep) isStep()   {}
func (UnheldStep) isStep() {}
func (LockStep) isStep()   {}
func (OpenStep) isStep()   {}

// casl is one channel's compiled sequence state.
type casl struct {
	tos   [MaxTos]to
	toIx  int
	seqs  [MaxSeqs]sequence
	seqIx int
	// curSeq is an index into seqs rather than a pointer; the whole
	// sequence stack is arena-indexed, never pointer-linked.
	curSeq   int
	dynamics [MaxDynamics]Elem
	dynIx    int

	holding bool
	locked  bool

	resolvingMutable int // scratch index, MaxDynamics = "none pending"
}

// Engine owns one Casl per channel and drives it against the voltage
// engine's Toward/Hold.
type Engine struct {
	channels [NumChannels]casl
	audio    SlopeDriver
}

// NewEngine binds an ASL engine to the driver it issues Toward()
// commands against.
func NewEngine(audio SlopeDriver) *Engine {
	e := &Engine{audio: audio}
	for i := range e.channels {
		e.channels[i].reset()
	}
	return e
}

// reset clears everything, including the dynamics table. Used at
// construction and full engine reset; describeReset deliberately
// leaves dynamics alone so defined dynamics survive a re-describe.
func (c *casl) reset() {
	*c = casl{}
	c.resetSeqs()
	c.resolvingMutable = MaxDynamics
	c.curSeq = 0
}

// describeReset clears compiled to/sequence state and holding/locked
// flags but preserves the dynamics table, so crow.defdynamic() calls
// made before describe() still resolve afterward.
func (c *casl) describeReset() {
	c.tos = [MaxTos]to{}
	c.toIx = 0
	c.seqIx = 0
	c.resetSeqs()
	c.holding = false
	c.locked = false
	c.resolvingMutable = MaxDynamics
	c.curSeq = 0
}

func (c *casl) resetSeqs() {
	for i := range c.seqs {
		c.seqs[i] = sequence{parent: -1}
		for j := range c.seqs[i].stage {
			c.seqs[i].stage[j] = -1
		}
	}
}

// Reset clears every channel's compiled state and dynamics, used by
// crow.reset().
func (e *Engine) Reset() {
	for i := range e.channels {
		e.channels[i].reset()
	}
}

// Describe compiles steps into channel's fixed pools, replacing any
// prior sequence.
func (e *Engine) Describe(channel int, steps []Step) {
	c := &e.channels[channel]
	c.describeReset()
	c.curSeq = c.seqEnter(-1)
	c.lower(steps)
}

// defDynamic allocates the next free dynamic-variable slot.
func (c *casl) defDynamic(v Elem) int {
	if c.dynIx >= MaxDynamics {
		return -1
	}
	ix := c.dynIx
	c.dynamics[ix] = v
	c.dynIx++
	return ix
}

func (c *casl) seqEnter(parent int) int {
	if c.seqIx >= MaxSeqs {
		return -1
	}
	ix := c.seqIx
	c.seqs[ix] = sequence{parent: parent}
	for i := range c.seqs[ix].stage {
		c.seqs[ix].stage[i] = -1
	}
	c.seqIx++
	return ix
}

func (c *casl) allocTo(t to) int {
	if c.toIx >= MaxTos {
		return -1
	}
	ix := c.toIx
	c.tos[ix] = t
	c.toIx++
	return ix
}

func (c *casl) append(seqIx, toIx int) {
	s := &c.seqs[seqIx]
	if s.length >= MaxSeqLength {
		return
	}
	s.stage[s.length] = toIx
	s.length++
}

// lower compiles a Step list into the current sequence, one To node
// per step, descending into Enter children.
func (c *casl) lower(steps []Step) {
	seqIx := c.curSeq
	for _, st := range steps {
		switch v := st.(type) {
		case ToStep:
			ti := c.allocTo(to{a: v.Dest, b: v.Time, c: v.Shape, ctrl: CtrlLiteral})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case RecurStep:
			ti := c.allocTo(to{ctrl: CtrlRecur})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case IfStep:
			ti := c.allocTo(to{a: v.Pred, ctrl: CtrlIf})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case HeldStep:
			ti := c.allocTo(to{ctrl: CtrlHeld})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case WaitStep:
			ti := c.allocTo(to{ctrl: CtrlWait})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case UnheldStep:
			ti := c.allocTo(to{ctrl: CtrlUnheld})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case LockStep:
			ti := c.allocTo(to{ctrl: CtrlLock})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case OpenStep:
			ti := c.allocTo(to{ctrl: CtrlOpen})
			if ti >= 0 {
				c.append(seqIx, ti)
			}
		case EnterStep:
			childIx := c.seqEnter(seqIx)
			ti := c.allocTo(to{a: Elem{Seq: childIx}, ctrl: CtrlEnter})
			if ti < 0 || childIx < 0 {
				continue
			}
			c.append(seqIx, ti)
			saved := c.curSeq
			c.curSeq = childIx
			c.lower(v.Children)
			c.curSeq = saved
		}
	}
}

// advance returns the next To in s, or (-1, false) at sequence end.
func (s *sequence) advance() (int, bool) {
	if s.pc < s.length {
		ti := s.stage[s.pc]
		s.pc++
		return ti, true
	}
	return -1, false
}

// seqUp pops to the parent sequence. It resets the child's pc so a
// later re-entry restarts from the top.
func (c *casl) seqUp() bool {
	cur := &c.seqs[c.curSeq]
	if cur.parent < 0 {
		return false
	}
	cur.pc = 0
	c.curSeq = cur.parent
	return true
}

// resolve evaluates an Elem to a concrete value. A Mutable elem records
// its dynamic's index in the scratch "resolving_mutable" slot. A Mutate
// reached below it writes its result into that dynamic at once,
// mid-recursion, and clears the slot; if the slot is still set once the
// whole expression has resolved, the result is written back there.
func (c *casl) resolve(e *Elem) Elem {
	c.resolvingMutable = MaxDynamics
	result := c.resolveRecursive(e)
	if c.resolvingMutable < MaxDynamics {
		c.dynamics[c.resolvingMutable] = result
	}
	return result
}

func (c *casl) resolveRecursive(e *Elem) Elem {
	switch e.Kind {
	case ElemFloat, ElemShape:
		return *e
	case ElemDynamic:
		return c.resolveRecursive(&c.dynamics[e.Dyn])
	case ElemMutable:
		c.resolvingMutable = e.Var[0]
		return c.resolveRecursive(&c.dynamics[e.Var[0]])
	case ElemNegate:
		a := c.resolveRecursive(&c.dynamics[e.Var[0]])
		return FloatElem(-a.Float)
	case ElemAdd:
		a := c.resolveRecursive(&c.dynamics[e.Var[0]])
		b := c.resolveRecursive(&c.dynamics[e.Var[1]])
		return FloatElem(a.Float + b.Float)
	case ElemSub:
		a := c.resolveRecursive(&c.dynamics[e.Var[0]])
		b := c.resolveRecursive(&c.dynamics[e.Var[1]])
		return FloatElem(a.Float - b.Float)
	case ElemMul:
		a := c.resolveRecursive(&c.dynamics[e.Var[0]])
		b := c.resolveRecursive(&c.dynamics[e.Var[1]])
		return FloatElem(a.Float * b.Float)
	case ElemDiv:
		a := c.resolveRecursive(&c.dynamics[e.Var[0]])
		b := c.resolveRecursive(&c.dynamics[e.Var[1]])
		if b.Float == 0 {
			return FloatElem(0)
		}
		return FloatElem(a.Float / b.Float)
	case ElemMod:
		a := c.resolveRecursive(&c.dynamics[e.Var[0]])
		b := c.resolveRecursive(&c.dynamics[e.Var[1]])
		if b.Float == 0 {
			return FloatElem(a.Float)
		}
		return FloatElem(a.Float - b.Float*floorDiv(a.Float, b.Float))
	case ElemMutate:
		mutated := c.resolveRecursive(&c.dynamics[e.Var[0]])
		if c.resolvingMutable < MaxDynamics {
			c.dynamics[c.resolvingMutable] = mutated
			c.resolvingMutable = MaxDynamics
		}
		return mutated
	default:
		return FloatElem(0)
	}
}

func floorDiv(a, b float64) float64 {
	q := a / b
	i := float64(int64(q))
	if q < 0 && i != q {
		i--
	}
	return i
}

// DefDynamic exposes dynamic-variable allocation to the script host for
// `output[ch]:dynamic(ix)`-style bindings.
func (e *Engine) DefDynamic(channel int, v float64) int {
	return e.channels[channel].defDynamic(FloatElem(v))
}

// SetDynamic and GetDynamic are the script-facing dynamic accessors.
func (e *Engine) SetDynamic(channel, ix int, v float64) {
	c := &e.channels[channel]
	if ix < 0 || ix >= MaxDynamics {
		return
	}
	c.dynamics[ix] = FloatElem(v)
}

func (e *Engine) GetDynamic(channel, ix int) float64 {
	c := &e.channels[channel]
	if ix < 0 || ix >= MaxDynamics {
		return 0
	}
	return c.dynamics[ix].Float
}

// findControl searches forward for a To with the given control code,
// descending into Enter subsequences only when fullSearch is set. It
// is used by Action(0) to locate the Unheld marking a sequence's
// release point.
func (c *casl) findControl(ctrl Control, fullSearch bool) bool {
	ti, ok := c.seqs[c.curSeq].advance()
	if ok {
		t := &c.tos[ti]
		if t.ctrl == ctrl {
			return true
		}
		switch t.ctrl {
		case CtrlEnter:
			if fullSearch {
				c.curSeq = t.a.Seq
			}
			return c.findControl(ctrl, fullSearch)
		case CtrlIf:
			if !fullSearch {
				c.seqUp()
			}
			return c.findControl(ctrl, fullSearch)
		default:
			return c.findControl(ctrl, fullSearch)
		}
	}
	if c.seqUp() {
		return c.findControl(ctrl, fullSearch)
	}
	return false
}

// Action starts or redirects execution: 1 restarts, 0 releases (if
// holding), 2 unlocks.
func (e *Engine) Action(channel int, action int) {
	c := &e.channels[channel]

	if c.locked {
		if action == 2 {
			c.locked = false
		}
		return
	}

	switch {
	case action == 1:
		c.curSeq = 0
		for i := range c.seqs {
			c.seqs[i].pc = 0
		}
		c.holding = false
		c.locked = false
	case action == 0 && c.holding:
		if c.findControl(CtrlUnheld, false) {
			c.holding = false
		} else {
			e.Action(channel, 1)
			return
		}
	default:
		return
	}

	e.nextAction(channel)
}

// NotifySlopeDone must be called by the control-loop dispatch whenever
// a slope-done ring event arrives for a channel under ASL control. It
// resumes the sequence at the step after the one that issued the
// completed slope.
func (e *Engine) NotifySlopeDone(channel int) {
	e.nextAction(channel)
}

// nextAction walks the channel's current sequence, issuing Toward
// commands for Literal steps and interpreting control steps, halting
// when a step returns control to the event loop (an in-flight timed
// slope, or an explicit Wait).
func (e *Engine) nextAction(channel int) {
	c := &e.channels[channel]

	for {
		ti, ok := c.seqs[c.curSeq].advance()
		if ok {
			t := &c.tos[ti]
			switch t.ctrl {
			case CtrlLiteral:
				dest := c.resolve(&t.a).Float
				timeS := c.resolve(&t.b).Float
				shape := c.resolve(&t.c).Shape

				// An instant toward (timeS<=0) may complete before this
				// call returns, re-entering nextAction through
				// NotifySlopeDone. Returning unconditionally avoids
				// processing this sequence twice in that case.
				e.audio.Toward(channel, engine.VoltsToQ16(dest), timeS*1000.0, shape)
				return
			case CtrlIf:
				if c.resolve(&t.a).Float <= 0 {
					if !c.seqUp() {
						return
					}
				}
			case CtrlRecur:
				c.seqs[c.curSeq].pc = 0
			case CtrlEnter:
				c.curSeq = t.a.Seq
			case CtrlHeld:
				c.holding = true
			case CtrlWait:
				return
			case CtrlUnheld:
				c.holding = false
			case CtrlLock:
				c.locked = true
			case CtrlOpen:
				c.locked = false
			}
			continue
		}

		if !c.seqUp() {
			return
		}
	}
}
