package ring

// CommandOp tags a Core B -> Core A descriptor update. Script calls are
// parsed into these typed commands and applied by the audio core at the
// next block boundary, so Core A never observes a half-written slope or
// scale table.
type CommandOp int32

const (
	OpHold CommandOp = iota
	OpToward
	OpSetScale
	OpUnsetScale
	OpSetGate
	OpClearGate
	OpMetroStart
	OpMetroStop
	OpReset
)

// MaxDegrees mirrors the quantizer's scale capacity so a SetScale
// command carries its whole degree table by value.
const MaxDegrees = 24

// Command is one descriptor update. Fields are overloaded per op:
//
//	OpHold:       Channel, A=volts
//	OpToward:     Channel, A=dest volts, B=time ms, Shape
//	OpSetScale:   Channel, Degrees[:Count], B=mod, C=scaling volts
//	OpUnsetScale: Channel
//	OpSetGate:    Channel, A=period s, B=width s
//	OpClearGate:  Channel
//	OpMetroStart: Channel=slot, A=period s, Count
//	OpMetroStop:  Channel=slot
//	OpReset:      -
type Command struct {
	Op      CommandOp
	Channel int32
	A, B, C float64
	Shape   int32
	Count   int32
	Degrees [MaxDegrees]float64
}

// CommandRing carries descriptor updates from the script core to the
// audio core. Same SPSC discipline as the event rings, opposite
// direction.
type CommandRing struct{ r ring[Command] }

func NewCommandRing() *CommandRing { return &CommandRing{} }

func (m *CommandRing) Push(c Command) bool { return m.r.push(c) }
func (m *CommandRing) Pop() (Command, bool) { return m.r.pop() }
func (m *CommandRing) Len() int { return m.r.Len() }
func (m *CommandRing) Drops() uint64 { return m.r.Drops() }
