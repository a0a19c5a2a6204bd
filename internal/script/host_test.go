package script

import (
	"strings"
	"testing"

	"github.com/blackbird-cv/blackbird/internal/audio"
	"github.com/blackbird-cv/blackbird/internal/detect"
	"github.com/blackbird-cv/blackbird/internal/engine"
	"github.com/blackbird-cv/blackbird/internal/flashstore"
	"github.com/blackbird-cv/blackbird/internal/mailbox"
	"github.com/blackbird-cv/blackbird/internal/repl"
	"github.com/blackbird-cv/blackbird/internal/ring"
	"github.com/blackbird-cv/blackbird/internal/sched"
	"github.com/blackbird-cv/blackbird/internal/usbio"
)

const testRate = 48000

type stubInput struct {
	volts [detect.NumChannels]float64
	pulse [audio.NumPulseIns]bool
}

func (s *stubInput) Sample(sample uint64) ([detect.NumChannels]int16, [audio.NumPulseIns]bool) {
	var cv [detect.NumChannels]int16
	for i, v := range s.volts {
		cv[i] = engine.VoltsToDAC(v)
	}
	return cv, s.pulse
}

type harness struct {
	host *Host
	core *audio.Core
	eng  *engine.Engine
	in   *stubInput

	cmdMb  *mailbox.Mailbox
	respMb *mailbox.Mailbox
	tx     *usbio.TxRing
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	done := ring.NewASLDoneRing()
	eng := engine.New(testRate, engine.PriorityAccuracy, Sink{Done: done})
	cmds := ring.NewCommandRing()
	metroRing := ring.NewMetroRing()
	metros := sched.NewMetroPool(testRate, metroRing)
	resume := ring.NewClockResumeRing()
	clock := sched.NewClock(testRate, resume)
	inputRing := ring.NewInputRing()
	dets := [detect.NumChannels]*detect.Detector{
		detect.New(0, testRate, inputRing),
		detect.New(1, testRate, inputRing),
	}
	in := &stubInput{}
	core := audio.NewCore(eng, metros, clock, dets, in, cmds)

	flash, err := flashstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		eng:    eng,
		core:   core,
		in:     in,
		cmdMb:  mailbox.New(),
		respMb: mailbox.New(),
		tx:     &usbio.TxRing{},
	}
	h.host, err = New(Config{
		Engine:   eng,
		Clock:    clock,
		Dets:     dets,
		Commands: cmds,
		Metro:    metroRing,
		Input:    inputRing,
		Resume:   resume,
		Done:     done,
		Cmd:      h.cmdMb,
		Resp:     h.respMb,
		Tx:       h.tx,
		Flash:    flash,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.host.Close)
	return h
}

// run advances the system by samples, alternating audio blocks and
// event-loop passes the way the two cores interleave in production.
func (h *harness) run(samples int) {
	target := h.eng.Sample() + uint64(samples)
	for h.eng.Sample() < target {
		h.core.RenderBlock()
		h.host.Step()
	}
}

func (h *harness) frames() []string {
	var out []string
	for {
		s, ok := h.tx.Pop()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

// An instant volts write lands on the very next rendered sample, with
// no events emitted.
func TestInstantJump(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("output[1].volts = 3.0")
	h.run(4)

	got := h.eng.OutVolts(0)
	if got < 2.99 || got > 3.01 {
		t.Fatalf("channel 1 = %vV, want 3.0", got)
	}
	dac := engine.VoltsToDAC(got)
	if dac < 1023 || dac > 1025 {
		t.Fatalf("DAC value = %d, want 1024 +-1", dac)
	}
	if fr := h.frames(); len(fr) != 0 {
		t.Fatalf("unexpected frames: %v", fr)
	}
}

// A 10ms linear ramp to 5V is half way at sample 240 and done at 480.
func TestLinearRamp(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("output[1](to(5.0, 0.010, 'linear'))")

	h.run(240)
	mid := h.eng.OutVolts(0)
	if mid < 2.4 || mid > 2.6 {
		t.Fatalf("at sample 240, volts = %v, want ~2.5", mid)
	}

	h.run(244)
	end := h.eng.OutVolts(0)
	if end < 4.99 || end > 5.01 {
		t.Fatalf("at end of ramp, volts = %v, want 5.0", end)
	}
}

// Metro ticks dispatch to the script handler and emit ^^metro frames.
func TestMetroTicksDispatch(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("metro_handler = function(id, stage) tell('metro', id, stage) end")
	h.host.Eval("metro[1]:start(0.1, 3)")

	h.run(testRate) // one second; three fires then auto-stop

	fr := h.frames()
	want := []string{"^^metro(1,1)", "^^metro(1,2)", "^^metro(1,3)"}
	if len(fr) != len(want) {
		t.Fatalf("frames = %v, want %v", fr, want)
	}
	for i := range want {
		if fr[i] != want[i] {
			t.Fatalf("frame %d = %q, want %q", i, fr[i], want[i])
		}
	}
}

// The change detector with hysteresis fires exactly rising, falling,
// rising for the 0 -> 1.15 -> 0.85 -> 1.15 ramp.
func TestChangeDetectorDispatch(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("input[1].change = function(s) tell('change', s) end")
	h.host.Eval("input[1].mode('change', 1.0, 0.1)")
	h.run(8) // let the mode settle

	for _, v := range []float64{0, 1.15, 0.85, 1.15} {
		h.in.volts[0] = v
		h.run(32)
	}

	fr := h.frames()
	want := []string{"^^change(1)", "^^change(0)", "^^change(1)"}
	if len(fr) != len(want) {
		t.Fatalf("frames = %v, want %v", fr, want)
	}
	for i := range want {
		if fr[i] != want[i] {
			t.Fatalf("frame %d = %q, want %q", i, fr[i], want[i])
		}
	}
}

// A quantized channel snaps 0.17V onto 2/12V.
func TestQuantizedOutput(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("output[3]:scale({0,2,4,5,7,9,11}, 12, 1.0)")
	h.host.Eval("output[3].volts = 0.17")
	h.run(4)

	got := h.eng.OutVolts(2)
	want := 2.0 / 12.0
	if got < want-0.002 || got > want+0.002 {
		t.Fatalf("quantized output = %v, want %v", got, want)
	}
}

func TestGateClockOverridesSlope(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("output[4]:clock(0.001, 0.0005)")

	// Scan two gate periods block by block: both levels must appear.
	high, low := false, false
	for h.eng.Sample() < 96 {
		h.core.RenderBlock()
		h.host.Step()
		for _, v := range h.core.ChannelBlock(3) {
			if v > 4.9 {
				high = true
			}
			if v < 0.1 {
				low = true
			}
		}
	}
	if !high || !low {
		t.Fatalf("gate levels seen: high=%v low=%v, want both", high, low)
	}

	h.host.Eval("output[4]:clock('none')")
	h.run(96)
	for _, v := range h.core.ChannelBlock(3) {
		if v > 0.1 {
			t.Fatalf("after clearing gate, channel still emits %v", v)
		}
	}
}

func TestClockSleepCoroutine(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("clock.run(function() clock.sleep(0.01) tell('woke') end)")

	h.run(240)
	if fr := h.frames(); len(fr) != 0 {
		t.Fatalf("coroutine woke early: %v", fr)
	}

	h.run(480)
	fr := h.frames()
	if len(fr) != 1 || fr[0] != "^^woke()" {
		t.Fatalf("frames = %v, want [^^woke()]", fr)
	}
}

func TestVersionAndIdentityFrames(t *testing.T) {
	h := newHarness(t)

	h.cmdMb.Put(repl.Encode(repl.Message{Kind: repl.KindVersion}))
	h.host.Step()
	got, ok := h.respMb.TryGet()
	if !ok || got != Version {
		t.Fatalf("^^v response = %q, %v", got, ok)
	}
	if !strings.HasPrefix(got, "blackbird ") {
		t.Fatalf("version frame %q is not '<name> <version>'", got)
	}

	h.cmdMb.Put(repl.Encode(repl.Message{Kind: repl.KindIdentity}))
	h.host.Step()
	got, ok = h.respMb.TryGet()
	if !ok || got != Identity {
		t.Fatalf("^^i response = %q, %v", got, ok)
	}
}

func TestCompileErrorKeepsPriorState(t *testing.T) {
	h := newHarness(t)
	h.host.RunScript("good", "marker = 42", false)
	h.respMb.TryGet()

	h.host.RunScript("bad", "this is not lua (", false)
	resp, ok := h.respMb.TryGet()
	if !ok || !strings.HasPrefix(resp, "!compile error:") {
		t.Fatalf("response = %q, want !compile error", resp)
	}

	h.host.Eval("return marker")
	resp, ok = h.respMb.TryGet()
	if !ok || resp != "42" {
		t.Fatalf("marker = %q after failed upload, want 42", resp)
	}

	if errs := h.host.Errors(); len(errs) == 0 || errs[len(errs)-1].Kind != ErrCompile {
		t.Fatalf("error ring = %+v, want trailing compile error", errs)
	}
}

func TestRuntimeErrorDoesNotHaltLoop(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("metro_handler = function() error('boom') end")
	h.host.Eval("metro[1]:start(0.01, 1)")

	h.run(1000)

	// The handler error surfaced but the loop kept going.
	h.host.Eval("output[1].volts = 1.0")
	h.run(4)
	if v := h.eng.OutVolts(0); v < 0.99 || v > 1.01 {
		t.Fatalf("loop halted after runtime error; volts = %v", v)
	}

	errs := h.host.Errors()
	found := false
	for _, e := range errs {
		if e.Kind == ErrRuntime && strings.Contains(e.Msg, "boom") {
			found = true
		}
	}
	if !found {
		t.Fatalf("runtime error not recorded: %+v", errs)
	}
}

func TestScriptUploadAndPersist(t *testing.T) {
	h := newHarness(t)

	h.cmdMb.Put(repl.Encode(repl.Message{Kind: repl.KindWriteScript, Text: "persisted = 7"}))
	h.host.Step()
	resp, ok := h.respMb.TryGet()
	if !ok || resp != "script saved" {
		t.Fatalf("response = %q, want script saved", resp)
	}

	if h.cfgFlashMode() != flashstore.ModeUser {
		t.Fatal("flash does not hold a user script after ^^w")
	}

	// A fresh VM boots the persisted script.
	if err := h.host.Kill(); err != nil {
		t.Fatal(err)
	}
	h.host.Boot()
	h.host.Eval("return persisted")
	resp, ok = h.respMb.TryGet()
	if !ok || resp != "7" {
		t.Fatalf("persisted = %q after boot, want 7", resp)
	}
}

func (h *harness) cfgFlashMode() flashstore.Mode {
	return h.host.cfg.Flash.Mode()
}

func TestResetIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.host.Eval("output[1].volts = 4.0")
	h.host.Eval("metro[1]:start(0.1)")
	h.run(8)

	h.host.Eval("crow.reset()")
	h.run(8)
	h.host.Eval("crow.reset()")
	h.run(8)

	if v := h.eng.OutVolts(0); v != 0 {
		t.Fatalf("after reset, channel 1 = %v, want 0", v)
	}
	if fr := h.frames(); len(fr) != 0 {
		t.Fatalf("events survived reset: %v", fr)
	}
}

func TestPulseAndLEDHostFunctions(t *testing.T) {
	h := newHarness(t)

	h.host.Eval("pulse(1, true)")
	if !h.eng.Pulse(0) {
		t.Fatal("pulse output 1 not set")
	}

	h.host.Eval("led(4, 2048)")
	if h.eng.LED(4) != 2048 {
		t.Fatalf("led 4 = %d, want 2048", h.eng.LED(4))
	}

	// Reserved status LEDs reject script writes.
	h.host.Eval("led(0, 100)")
	if h.eng.LED(0) != 0 {
		t.Fatal("reserved LED accepted a script write")
	}
}
