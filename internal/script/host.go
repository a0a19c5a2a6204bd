// Package script embeds the Lua VM that runs the user program, exposes
// the host-function surface (output/input/metro/clock/crow/tell), and
// drives the Core B event loop: draining the command mailbox and the
// four event rings into protected VM calls.
package script

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/blackbird-cv/blackbird/internal/asl"
	"github.com/blackbird-cv/blackbird/internal/detect"
	"github.com/blackbird-cv/blackbird/internal/engine"
	"github.com/blackbird-cv/blackbird/internal/flashstore"
	"github.com/blackbird-cv/blackbird/internal/mailbox"
	"github.com/blackbird-cv/blackbird/internal/repl"
	"github.com/blackbird-cv/blackbird/internal/ring"
	"github.com/blackbird-cv/blackbird/internal/sched"
	"github.com/blackbird-cv/blackbird/internal/usbio"
)

// Version and Identity are the ^^v / ^^i response strings.
const (
	Version  = "blackbird v1.0.0"
	Identity = "blackbird eurorack cv engine"
)

// FirstScript is the built-in default program run when no user script
// is stored: a heartbeat on the first user LED.
const FirstScript = `
metro[1]:start(0.5)
metro_handler = function(id, stage)
  led(4, (stage % 2) * 2048)
end
`

// eventBudget caps how many events each ring contributes per loop pass
// so a chatty detector cannot starve the REPL.
const eventBudget = 16

// Sink routes the engine's slope completions into the ASL-done ring.
// It is the only coupling between the renderer and the event plane.
type Sink struct {
	Done *ring.ASLDoneRing
}

func (s Sink) PostSlopeDone(ch int, sample uint64) {
	s.Done.Push(ring.ASLDoneEvent{Channel: ch, Timestamp: sample})
}

// Config wires a Host to the rest of the system.
type Config struct {
	Engine *engine.Engine
	Clock  *sched.Clock
	Dets   [detect.NumChannels]*detect.Detector

	Commands *ring.CommandRing
	Metro    *ring.MetroRing
	Input    *ring.InputRing
	Resume   *ring.ClockResumeRing
	Done     *ring.ASLDoneRing

	Cmd  *mailbox.Mailbox
	Resp *mailbox.Mailbox
	Tx   *usbio.TxRing

	Flash *flashstore.Store
}

// Host is the Core B side: one Lua state, the CASL interpreter, and
// the event dispatch loop. Single-threaded by construction; nothing
// here is called from Core A.
type Host struct {
	L    *lua.LState
	cfg  Config
	casl *asl.Engine

	errs      errorRing
	aslActive [engine.NumChannels]bool
	clockUsed [sched.MaxClockTasks]bool

	lastName   string
	lastScript string
}

// New builds a host and boots the VM with the bootstrap library.
func New(cfg Config) (*Host, error) {
	h := &Host{cfg: cfg}
	h.casl = asl.NewEngine(cmdDriver{h})
	if err := h.bringUp(); err != nil {
		return nil, err
	}
	return h, nil
}

// cmdDriver adapts the CASL interpreter's toward calls onto the
// command ring so descriptor updates land at block boundaries.
type cmdDriver struct{ h *Host }

func (d cmdDriver) Toward(ch int, destV engine.Q16, timeMs float64, shape engine.ShapeKind) {
	d.h.pushCommand(ring.Command{
		Op:      ring.OpToward,
		Channel: int32(ch),
		A:       engine.Q16ToVolts(destV),
		B:       timeMs,
		Shape:   int32(shape),
	})
}

func (h *Host) pushCommand(c ring.Command) {
	if !h.cfg.Commands.Push(c) {
		h.errs.record(ErrQueueOverflow, "command ring full")
	}
}

// bringUp creates a fresh Lua state and installs the host surface.
func (h *Host) bringUp() error {
	h.L = lua.NewState()
	h.registerGlobals()
	if err := h.L.DoString(bootstrapLua); err != nil {
		return fmt.Errorf("script: bootstrap failed: %w", err)
	}
	return nil
}

// Close releases the VM.
func (h *Host) Close() {
	h.L.Close()
}

// Errors returns the recent-error ring, oldest first.
func (h *Host) Errors() []ErrorRecord {
	return h.errs.Recent()
}

// respond delivers an exact REPL response, falling back to the lossy
// TX ring if the response slot is still occupied.
func (h *Host) respond(s string) {
	if !h.cfg.Resp.TryPut(s) {
		h.cfg.Tx.Push(s)
	}
}

// fail records an error, surfaces it as a ! line, and lights the
// error status LED; the LED clears on the next clean evaluation.
func (h *Host) fail(kind ErrorKind, msg string) {
	h.errs.record(kind, msg)
	h.cfg.Engine.SetLED(errorLED, engine.MaxBrightness)
	h.respond("!" + kind.String() + " error: " + msg)
}

// errorLED is the status LED flashed on script errors.
const errorLED = 1

// registerGlobals installs the typed host functions the bootstrap
// library builds its sugar over. Every function parses its Lua
// arguments into static Go values here, at the boundary, and nothing
// past this point touches the VM stack.
func (h *Host) registerGlobals() {
	L := h.L
	reg := func(name string, fn lua.LGFunction) {
		L.SetGlobal(name, L.NewFunction(fn))
	}

	reg("__output_hold", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		h.aslActive[ch] = false
		h.pushCommand(ring.Command{Op: ring.OpHold, Channel: int32(ch), A: float64(L.CheckNumber(2))})
		return 0
	})
	reg("__output_toward", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		shape, _ := engine.ParseShape(L.OptString(4, "linear"))
		h.aslActive[ch] = false
		h.pushCommand(ring.Command{
			Op:      ring.OpToward,
			Channel: int32(ch),
			A:       float64(L.CheckNumber(2)),
			B:       float64(L.CheckNumber(3)),
			Shape:   int32(shape),
		})
		return 0
	})
	reg("__output_get", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(h.cfg.Engine.OutVolts(ch)))
		return 1
	})
	reg("__output_describe", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		steps := parseTree(L.CheckTable(2))
		h.casl.Describe(ch, steps)
		h.aslActive[ch] = true
		return 0
	})
	reg("__output_action", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		h.casl.Action(ch, int(L.OptNumber(2, 1)))
		return 0
	})
	reg("__output_gate", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		h.pushCommand(ring.Command{
			Op:      ring.OpSetGate,
			Channel: int32(ch),
			A:       float64(L.CheckNumber(2)),
			B:       float64(L.CheckNumber(3)),
		})
		return 0
	})
	reg("__output_ungate", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		h.pushCommand(ring.Command{Op: ring.OpClearGate, Channel: int32(ch)})
		return 0
	})
	reg("__output_scale", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		degrees := luaFloats(L.CheckTable(2))
		if len(degrees) > ring.MaxDegrees {
			degrees = degrees[:ring.MaxDegrees]
			h.errs.record(ErrParam, "scale degrees clamped")
		}
		c := ring.Command{
			Op:      ring.OpSetScale,
			Channel: int32(ch),
			B:       float64(L.OptNumber(3, 12)),
			C:       float64(L.OptNumber(4, 1.0)),
			Count:   int32(len(degrees)),
		}
		copy(c.Degrees[:], degrees)
		h.pushCommand(c)
		return 0
	})
	reg("__output_unscale", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			return 0
		}
		h.pushCommand(ring.Command{Op: ring.OpUnsetScale, Channel: int32(ch)})
		return 0
	})

	reg("__input_get", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, detect.NumChannels)
		if ch < 0 {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(h.cfg.Dets[ch].LastVolts()))
		return 1
	})
	reg("__input_none", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, detect.NumChannels); ch >= 0 {
			h.cfg.Dets[ch].SetNone()
		}
		return 0
	})
	reg("__input_stream", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, detect.NumChannels); ch >= 0 {
			h.cfg.Dets[ch].SetStream(float64(L.CheckNumber(2)))
		}
		return 0
	})
	reg("__input_change", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, detect.NumChannels); ch >= 0 {
			h.cfg.Dets[ch].SetChange(
				float64(L.CheckNumber(2)),
				float64(L.CheckNumber(3)),
				detect.ParseDirection(L.OptString(4, "both")))
		}
		return 0
	})
	reg("__input_window", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, detect.NumChannels); ch >= 0 {
			h.cfg.Dets[ch].SetWindow(luaFloats(L.CheckTable(2)), float64(L.CheckNumber(3)))
		}
		return 0
	})
	reg("__input_scale", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, detect.NumChannels); ch >= 0 {
			h.cfg.Dets[ch].SetScale(
				luaFloats(L.CheckTable(2)),
				float64(L.OptNumber(3, 12)),
				float64(L.OptNumber(4, 1.0)))
		}
		return 0
	})
	reg("__input_volume", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, detect.NumChannels); ch >= 0 {
			h.cfg.Dets[ch].SetVolume(float64(L.CheckNumber(2)))
		}
		return 0
	})
	reg("__input_peak", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, detect.NumChannels); ch >= 0 {
			h.cfg.Dets[ch].SetPeak(float64(L.CheckNumber(2)), float64(L.CheckNumber(3)))
		}
		return 0
	})

	reg("__metro_start", func(L *lua.LState) int {
		id := h.checkChannel(L, 1, sched.MaxMetros)
		if id < 0 {
			return 0
		}
		h.pushCommand(ring.Command{
			Op:      ring.OpMetroStart,
			Channel: int32(id),
			A:       float64(L.CheckNumber(2)),
			Count:   int32(L.OptNumber(3, -1)),
		})
		return 0
	})
	reg("__metro_stop", func(L *lua.LState) int {
		if id := h.checkChannel(L, 1, sched.MaxMetros); id >= 0 {
			h.pushCommand(ring.Command{Op: ring.OpMetroStop, Channel: int32(id)})
		}
		return 0
	})

	reg("__clock_alloc", func(L *lua.LState) int {
		for i, used := range h.clockUsed {
			if !used {
				h.clockUsed[i] = true
				L.Push(lua.LNumber(i))
				return 1
			}
		}
		h.errs.record(ErrMemory, "coroutine pool exhausted")
		L.Push(lua.LNumber(-1))
		return 1
	})
	reg("__clock_free", func(L *lua.LState) int {
		id := int(L.CheckNumber(1))
		if id >= 0 && id < sched.MaxClockTasks {
			h.clockUsed[id] = false
			h.cfg.Clock.Cancel(id)
		}
		return 0
	})
	reg("__clock_sleep", func(L *lua.LState) int {
		h.cfg.Clock.ScheduleSleep(int(L.CheckNumber(1)), float64(L.CheckNumber(2)))
		return 0
	})
	reg("__clock_sync", func(L *lua.LState) int {
		h.cfg.Clock.ScheduleSync(int(L.CheckNumber(1)), float64(L.CheckNumber(2)))
		return 0
	})
	reg("__clock_tempo", func(L *lua.LState) int {
		if L.GetTop() >= 1 && L.Get(1) != lua.LNil {
			h.cfg.Clock.SetTempo(float64(L.CheckNumber(1)))
		}
		L.Push(lua.LNumber(h.cfg.Clock.Tempo()))
		return 1
	})

	reg("__crow_reset", func(L *lua.LState) int {
		h.reset()
		return 0
	})
	reg("__script_error", func(L *lua.LState) int {
		h.fail(ErrRuntime, L.OptString(1, "error"))
		return 0
	})

	reg("__casl_defdynamic", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			L.Push(lua.LNumber(-1))
			return 1
		}
		L.Push(lua.LNumber(h.casl.DefDynamic(ch, float64(L.CheckNumber(2)))))
		return 1
	})
	reg("__casl_setdynamic", func(L *lua.LState) int {
		if ch := h.checkChannel(L, 1, engine.NumChannels); ch >= 0 {
			h.casl.SetDynamic(ch, int(L.CheckNumber(2)), float64(L.CheckNumber(3)))
		}
		return 0
	})
	reg("__casl_getdynamic", func(L *lua.LState) int {
		ch := h.checkChannel(L, 1, engine.NumChannels)
		if ch < 0 {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(h.casl.GetDynamic(ch, int(L.CheckNumber(2)))))
		return 1
	})

	reg("tell", func(L *lua.LState) int {
		name := L.CheckString(1)
		args := make([]string, 0, L.GetTop()-1)
		for i := 2; i <= L.GetTop(); i++ {
			args = append(args, formatTellArg(L.Get(i)))
		}
		h.cfg.Tx.Push("^^" + name + "(" + strings.Join(args, ",") + ")")
		return 0
	})
	reg("print", func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, lua.LVAsString(L.ToStringMeta(L.Get(i))))
		}
		h.cfg.Tx.Push(strings.Join(parts, "\t"))
		return 0
	})
	reg("priority", func(L *lua.LState) int {
		p, ok := engine.ParsePriority(L.CheckString(1))
		if !ok {
			h.errs.record(ErrParam, "unknown priority")
		}
		h.cfg.Engine.SetPriority(p)
		return 0
	})
	reg("led", func(L *lua.LState) int {
		n := int(L.CheckNumber(1))
		if n < engine.FirstUserLED || n >= engine.NumLEDs {
			h.errs.record(ErrParam, "led index reserved")
			return 0
		}
		h.cfg.Engine.SetLED(n, int(L.CheckNumber(2)))
		return 0
	})
	reg("pulse", func(L *lua.LState) int {
		h.cfg.Engine.SetPulse(int(L.CheckNumber(1))-1, lua.LVAsBool(L.Get(2)))
		return 0
	})
}

// checkChannel converts a 1-based Lua index into a 0-based channel,
// recording a param error for out-of-range values instead of raising.
func (h *Host) checkChannel(L *lua.LState, arg, n int) int {
	ch := int(L.CheckNumber(arg)) - 1
	if ch < 0 || ch >= n {
		h.errs.record(ErrParam, "channel out of range")
		return -1
	}
	return ch
}

func luaFloats(t *lua.LTable) []float64 {
	out := make([]float64, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		if n, ok := t.RawGetInt(i).(lua.LNumber); ok {
			out = append(out, float64(n))
		}
	}
	return out
}

func formatTellArg(v lua.LValue) string {
	switch lv := v.(type) {
	case lua.LNumber:
		return strconv.FormatFloat(float64(lv), 'g', -1, 64)
	case lua.LString:
		return string(lv)
	case lua.LBool:
		if lv {
			return "1"
		}
		return "0"
	case *lua.LTable:
		return "[table]"
	default:
		return lua.LVAsString(v)
	}
}

// reset implements crow.reset(): engine and metros back to power-on
// defaults (via the command ring so the change lands at a block
// boundary), detectors disarmed, pending coroutine resumes dropped,
// CASL pools cleared.
func (h *Host) reset() {
	h.pushCommand(ring.Command{Op: ring.OpReset})
	h.cfg.Clock.Reset()
	for i := range h.clockUsed {
		h.clockUsed[i] = false
	}
	for _, d := range h.cfg.Dets {
		if d != nil {
			d.SetNone()
		}
	}
	h.casl.Reset()
	for i := range h.aslActive {
		h.aslActive[i] = false
	}
}

// Kill resets the VM to a fresh state without touching engine state:
// the ^^k command.
func (h *Host) Kill() error {
	h.L.Close()
	return h.bringUp()
}

// pcall invokes a Lua value as a protected call. A script error comes
// back as err; a VM panic (escaping the protected call entirely) is
// recovered and reported as fault so the caller can rebuild the VM.
// Either way the event loop never halts.
func (h *Host) pcall(fn lua.LValue, args ...lua.LValue) (err error, fault bool) {
	defer func() {
		if r := recover(); r != nil {
			h.errs.record(ErrFault, fmt.Sprint(r))
			err = fmt.Errorf("%v", r)
			fault = true
		}
	}()
	return h.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...), false
}

// recoverVM rebuilds the VM after a panic and re-evaluates the last
// loaded script.
func (h *Host) recoverVM() {
	if err := h.Kill(); err != nil {
		return
	}
	if h.lastScript != "" {
		h.RunScript(h.lastName, h.lastScript, false)
	}
}

// dispatch calls a bootstrap-defined global with args, surfacing any
// script error as a ! line.
func (h *Host) dispatch(fnName string, args ...lua.LValue) {
	fn := h.L.GetGlobal(fnName)
	if fn == lua.LNil {
		return
	}
	err, fault := h.pcall(fn, args...)
	if fault {
		h.respond("!fault: " + shortErr(err))
		h.recoverVM()
		return
	}
	if err != nil {
		h.fail(ErrRuntime, shortErr(err))
	}
}

func shortErr(err error) string {
	s := err.Error()
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Eval evaluates one REPL line. Expressions are tried as `return <line>`
// first so bare expressions echo their value, the usual REPL nicety.
func (h *Host) Eval(line string) {
	L := h.L
	fn, err := L.LoadString("return " + line)
	if err != nil {
		fn, err = L.LoadString(line)
	}
	if err != nil {
		h.fail(ErrCompile, shortErr(err))
		return
	}

	base := L.GetTop()
	L.Push(fn)
	if err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				h.errs.record(ErrFault, fmt.Sprint(r))
				err = fmt.Errorf("vm fault: %v", r)
			}
		}()
		return L.PCall(0, lua.MultRet, nil)
	}(); err != nil {
		L.SetTop(base)
		h.fail(ErrRuntime, shortErr(err))
		return
	}

	h.cfg.Engine.SetLED(errorLED, 0)

	nret := L.GetTop() - base
	if nret > 0 {
		parts := make([]string, 0, nret)
		for i := base + 1; i <= L.GetTop(); i++ {
			if L.Get(i) != lua.LNil {
				parts = append(parts, lua.LVAsString(L.ToStringMeta(L.Get(i))))
			}
		}
		L.SetTop(base)
		if len(parts) > 0 {
			h.respond(strings.Join(parts, "\t"))
		}
	}
}

// RunScript compiles and runs a user program. A compile error leaves
// the previous script running untouched; a successful compile resets
// engine state first, then executes. persist additionally writes the
// script to flash.
func (h *Host) RunScript(name, src string, persist bool) {
	fn, err := h.L.LoadString(src)
	if err != nil {
		h.fail(ErrCompile, shortErr(err))
		return
	}

	h.reset()
	if err, fault := h.pcall(fn); fault {
		h.respond("!fault: " + shortErr(err))
	} else if err != nil {
		h.fail(ErrRuntime, shortErr(err))
	}
	h.lastName, h.lastScript = name, src

	if persist {
		if err := h.cfg.Flash.Write(name, []byte(src)); err != nil {
			h.errs.record(ErrFlash, err.Error())
			h.respond("!flash write failed")
			return
		}
		h.respond("script saved")
	}
}

// Boot selects and runs the power-on script per the flash sector's
// magic: a valid user script runs; cleared or default runs First.
func (h *Host) Boot() {
	if h.cfg.Flash != nil && h.cfg.Flash.Mode() == flashstore.ModeUser {
		if name, src, ok := h.cfg.Flash.Read(); ok {
			h.RunScript(name, string(src), false)
			return
		}
	}
	h.RunScript("First", FirstScript, false)
}

// handle processes one decoded protocol message.
func (h *Host) handle(m repl.Message) {
	switch m.Kind {
	case repl.KindLine:
		h.Eval(m.Text)
	case repl.KindVersion:
		h.respond(Version)
	case repl.KindIdentity:
		h.respond(Identity)
	case repl.KindRunScript:
		h.RunScript("live", m.Text, false)
	case repl.KindWriteScript:
		h.RunScript("user", m.Text, true)
	case repl.KindPrint:
		if _, src, ok := h.cfg.Flash.Read(); ok {
			for _, line := range strings.Split(string(src), "\n") {
				h.cfg.Tx.Push(line)
			}
		} else {
			h.respond("!no user script")
		}
	case repl.KindClear:
		if err := h.cfg.Flash.Clear(); err != nil {
			h.errs.record(ErrFlash, err.Error())
			h.respond("!flash write failed")
		} else {
			h.respond("script cleared")
		}
	case repl.KindLoadFirst:
		h.RunScript("First", FirstScript, false)
	case repl.KindRestart:
		h.respond("restarting...")
		if err := h.Kill(); err == nil {
			h.Boot()
		}
	case repl.KindKill:
		if err := h.Kill(); err == nil {
			h.respond("lua killed")
		}
	case repl.KindError:
		h.respond("!" + m.Text)
	}
}

// Step runs one event-loop pass: command mailbox, then each ring up to
// its budget.
func (h *Host) Step() {
	if msg, ok := h.cfg.Cmd.TryGet(); ok {
		h.handle(repl.Decode(msg))
	}

	for i := 0; i < eventBudget; i++ {
		ev, ok := h.cfg.Metro.Pop()
		if !ok {
			break
		}
		h.dispatch("__dispatch_metro", lua.LNumber(ev.MetroID+1), lua.LNumber(ev.Stage))
	}

	for i := 0; i < eventBudget; i++ {
		ev, ok := h.cfg.Input.Pop()
		if !ok {
			break
		}
		h.dispatchInput(ev)
	}

	for i := 0; i < eventBudget; i++ {
		ev, ok := h.cfg.Resume.Pop()
		if !ok {
			break
		}
		h.dispatch("__clock_resume", lua.LNumber(ev.CoroutineID))
	}

	for i := 0; i < eventBudget; i++ {
		ev, ok := h.cfg.Done.Pop()
		if !ok {
			break
		}
		if ev.Channel >= 0 && ev.Channel < engine.NumChannels && h.aslActive[ev.Channel] {
			h.casl.NotifySlopeDone(ev.Channel)
		} else {
			h.dispatch("__dispatch_done", lua.LNumber(ev.Channel+1))
		}
	}
}

func (h *Host) dispatchInput(ev ring.InputEvent) {
	ch := lua.LNumber(ev.Channel + 1)
	switch ev.DetectionType {
	case detect.EventStream:
		h.dispatch("__dispatch_input", ch, lua.LString("stream"), lua.LNumber(ev.Value))
	case detect.EventChange:
		h.dispatch("__dispatch_input", ch, lua.LString("change"), lua.LNumber(ev.Value))
	case detect.EventWindow:
		h.dispatch("__dispatch_input", ch, lua.LString("window"), lua.LNumber(ev.Extra))
	case detect.EventScale:
		var ix, oct int
		var note, volts float64
		if d := h.cfg.Dets[ev.Channel]; d != nil {
			ix, oct, note, volts = d.LastScale()
		}
		h.dispatch("__dispatch_input", ch, lua.LString("scale"),
			lua.LNumber(ix+1), lua.LNumber(oct), lua.LNumber(note), lua.LNumber(volts))
	case detect.EventVolume:
		h.dispatch("__dispatch_input", ch, lua.LString("volume"), lua.LNumber(ev.Value))
	case detect.EventPeak:
		h.dispatch("__dispatch_input", ch, lua.LString("peak"))
	}
}

// Loop runs Step until ctx is cancelled. Memory reclamation is the Go
// runtime's; there is no per-pass VM GC step to drive.
func (h *Host) Loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		h.Step()
		time.Sleep(time.Millisecond)
	}
}
