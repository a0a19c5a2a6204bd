package asl

import (
	"testing"

	"github.com/blackbird-cv/blackbird/internal/engine"
)

// bridgeSink wires the voltage engine's slope-done notifications back
// into the ASL engine, the same role the control core's event-loop
// dispatch plays in production: on a slope-done ring event for a
// channel under ASL control, the dispatch loop calls NotifySlopeDone
// so the sequence can advance.
type bridgeSink struct {
	asl *Engine
}

func (b *bridgeSink) PostSlopeDone(channel int, sample uint64) {
	b.asl.NotifySlopeDone(channel)
}

func newTestEngine() (*engine.Engine, *Engine) {
	bridge := &bridgeSink{}
	audio := engine.New(48000, engine.PriorityAccuracy, bridge)
	a := NewEngine(audio)
	bridge.asl = a
	return audio, a
}

// TestASLLoopSequence: a two-stage loop to(5,1ms,linear),
// to(0,1ms,linear) averages to 2.5V over time.
func TestASLLoopSequence(t *testing.T) {
	audio, a := newTestEngine()

	steps := []Step{
		EnterStep{Children: []Step{
			ToStep{Dest: FloatElem(5), Time: FloatElem(0.001), Shape: ShapeElem(engine.ShapeLinear)},
			ToStep{Dest: FloatElem(0), Time: FloatElem(0.001), Shape: ShapeElem(engine.ShapeLinear)},
			RecurStep{},
		}},
	}
	a.Describe(2, steps)
	a.Action(2, 1)

	var sum float64
	const totalSamples = 48000

	out := [engine.NumChannels][]float64{}
	for i := range out {
		out[i] = make([]float64, 1)
	}

	for s := 0; s < totalSamples; s++ {
		audio.RenderBlock(out)
		sum += engine.Q16ToVolts(audio.Channels[2].Get())
	}

	avg := sum / float64(totalSamples)
	if diff := avg - 2.5; diff < -0.05 || diff > 0.05 {
		t.Errorf("average DAC voltage = %v, want ~2.5V", avg)
	}
}

// TestASLHeldAndUnheld exercises the holding/release flow: action(0)
// searches forward for ToUnheld and resumes there.
func TestASLHeldAndUnheld(t *testing.T) {
	audio, a := newTestEngine()

	steps := []Step{
		EnterStep{Children: []Step{
			ToStep{Dest: FloatElem(5), Time: FloatElem(0), Shape: ShapeElem(engine.ShapeNow)},
			HeldStep{},
			WaitStep{},
			UnheldStep{},
			ToStep{Dest: FloatElem(0), Time: FloatElem(0), Shape: ShapeElem(engine.ShapeNow)},
		}},
	}
	a.Describe(1, steps)
	a.Action(1, 1)

	if !a.channels[1].holding {
		t.Fatal("channel should be holding after running through Held/Wait")
	}

	a.Action(1, 0) // release

	v := engine.Q16ToVolts(audio.Channels[1].Get())
	if diff := v - 0.0; diff < -0.01 || diff > 0.01 {
		t.Fatalf("after release, channel should be at 0V, got %v", v)
	}
}

func TestASLLockPreventsAction(t *testing.T) {
	audio, a := newTestEngine()

	steps := []Step{
		EnterStep{Children: []Step{
			LockStep{},
			ToStep{Dest: FloatElem(3), Time: FloatElem(0), Shape: ShapeElem(engine.ShapeNow)},
		}},
	}
	a.Describe(0, steps)
	a.Action(0, 1)

	if !a.channels[0].locked {
		t.Fatal("channel should be locked after running through Lock")
	}

	// Action(1) (restart) should be ignored while locked.
	before := audio.Channels[0].Get()
	a.Action(0, 1)
	if audio.Channels[0].Get() != before {
		t.Fatal("restart action should be ignored while locked")
	}

	a.Action(0, 2) // unlock
	if a.channels[0].locked {
		t.Fatal("channel should be unlocked after action(2)")
	}
}

func TestDynamicArithmetic(t *testing.T) {
	audio, a := newTestEngine()

	aIx := a.DefDynamic(3, 2.0)
	bIx := a.DefDynamic(3, 3.0)

	steps := []Step{
		EnterStep{Children: []Step{
			ToStep{
				Dest:  Elem{Kind: ElemAdd, Var: [2]int{aIx, bIx}},
				Time:  FloatElem(0),
				Shape: ShapeElem(engine.ShapeNow),
			},
		}},
	}
	a.Describe(3, steps)
	a.Action(3, 1)

	got := engine.Q16ToVolts(audio.Channels[3].Get())
	if diff := got - 5.0; diff < -0.01 || diff > 0.01 {
		t.Fatalf("dest = a+b = %v, want 5.0", got)
	}
}
