package audio

import (
	"testing"

	"github.com/blackbird-cv/blackbird/internal/detect"
	"github.com/blackbird-cv/blackbird/internal/engine"
	"github.com/blackbird-cv/blackbird/internal/ring"
	"github.com/blackbird-cv/blackbird/internal/sched"
)

type sinkRing struct{ r *ring.ASLDoneRing }

func (s sinkRing) PostSlopeDone(ch int, sample uint64) {
	s.r.Push(ring.ASLDoneEvent{Channel: ch, Timestamp: sample})
}

type stepSource struct {
	cv      [detect.NumChannels]int16
	pulse   [NumPulseIns]bool
	pulseAt map[uint64]bool
}

func (s *stepSource) Sample(sample uint64) ([detect.NumChannels]int16, [NumPulseIns]bool) {
	p := s.pulse
	if s.pulseAt != nil {
		p[0] = s.pulseAt[sample]
	}
	return s.cv, p
}

func newTestCore(src InputSource) (*Core, *engine.Engine, *ring.MetroRing, *ring.ClockResumeRing, *sched.MetroPool, *sched.Clock) {
	done := ring.NewASLDoneRing()
	eng := engine.New(48000, engine.PriorityAccuracy, sinkRing{done})
	metroRing := ring.NewMetroRing()
	metros := sched.NewMetroPool(48000, metroRing)
	resume := ring.NewClockResumeRing()
	clock := sched.NewClock(48000, resume)
	inputRing := ring.NewInputRing()
	dets := [detect.NumChannels]*detect.Detector{
		detect.New(0, 48000, inputRing),
		detect.New(1, 48000, inputRing),
	}
	core := NewCore(eng, metros, clock, dets, src, ring.NewCommandRing())
	return core, eng, metroRing, resume, metros, clock
}

func TestRenderBlockAdvancesEverySubsystem(t *testing.T) {
	core, eng, metroRing, _, metros, _ := newTestCore(&stepSource{})

	metros.Start(0, 0.001, -1) // 48 samples per fire
	eng.Hold(0, engine.VoltsToQ16(3.0))

	total := 0
	for total < 480 {
		total += core.RenderBlock()
	}

	if eng.Sample() != uint64(total) {
		t.Fatalf("engine sample counter = %d, want %d", eng.Sample(), total)
	}
	// First fire lands one full period in, at sample 48; the last
	// within samples 0..479 is at 432.
	if got := metroRing.Len(); got != 9 {
		t.Fatalf("metro fired %d times over 480 samples at 48/fire, want 9", got)
	}
	for _, v := range core.ChannelBlock(0) {
		if v < 2.99 || v > 3.01 {
			t.Fatalf("held channel rendered %v, want 3.0", v)
		}
	}
}

func TestPulseEdgeResumesExternalSync(t *testing.T) {
	src := &stepSource{pulseAt: map[uint64]bool{100: true, 101: true}}
	core, _, _, resume, _, clock := newTestCore(src)

	clock.ScheduleSync(2, 0)

	for core.Engine().Sample() < 200 {
		core.RenderBlock()
	}

	ev, ok := resume.Pop()
	if !ok {
		t.Fatal("no resume from pulse edge")
	}
	if ev.CoroutineID != 2 || ev.Timestamp != 100 {
		t.Fatalf("got %+v, want id 2 at sample 100", ev)
	}
	// Level stays high for one more sample; no second edge.
	if _, ok := resume.Pop(); ok {
		t.Fatal("level-high retriggered the edge")
	}
}

func TestNextSampleRefillsAcrossBlocks(t *testing.T) {
	core, eng, _, _, _, _ := newTestCore(&stepSource{})
	eng.Hold(0, engine.VoltsToQ16(6.0))

	// 6V on one of four channels, normalised by 4*6V = 0.25.
	for i := 0; i < 1000; i++ {
		v := core.NextSample()
		if v < 0.24 || v > 0.26 {
			t.Fatalf("sample %d = %v, want 0.25", i, v)
		}
	}
	if eng.Sample() < 1000 {
		t.Fatalf("pull model advanced only %d samples", eng.Sample())
	}
}
