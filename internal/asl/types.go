// Package asl implements "A Slope Language" and its compiled form CASL:
// per-channel, arena-indexed sequences of shaped envelope segments with
// control flow (loop, conditional, nested sequence, held/wait gates),
// driven by slope-completion events.
package asl

import "github.com/blackbird-cv/blackbird/internal/engine"

// Pool sizes. Fixed at compile time: no CASL state allocates after
// Describe.
const (
	MaxTos       = 16
	MaxSeqs      = 8
	MaxSeqLength = 8
	MaxDynamics  = 40
	NumChannels  = engine.NumChannels
)

// Control selects what a To node does when the interpreter reaches it.
type Control int

const (
	CtrlLiteral Control = iota
	CtrlRecur
	CtrlIf
	CtrlEnter
	CtrlHeld
	CtrlWait
	CtrlUnheld
	CtrlLock
	CtrlOpen
)

// ElemKind tags the union held by an Elem.
type ElemKind int

const (
	ElemFloat ElemKind = iota
	ElemShape
	ElemDynamic
	ElemMutable
	ElemNegate
	ElemAdd
	ElemSub
	ElemMul
	ElemDiv
	ElemMod
	ElemMutate
)

// Elem is a resolvable expression: a literal, a shape, a reference into
// the dynamics table, or an arithmetic combination of two dynamics.
// Var holds up to two dynamic-table indices for the binary/unary
// arithmetic kinds.
type Elem struct {
	Kind  ElemKind
	Float float64
	Shape engine.ShapeKind
	Dyn   int // index into dynamics, for ElemDynamic
	Var   [2]int
	Seq   int // sequence index, for an Enter node's `a` slot
}

// FloatElem builds a literal numeric Elem.
func FloatElem(v float64) Elem { return Elem{Kind: ElemFloat, Float: v} }

// ShapeElem builds a literal shape Elem.
func ShapeElem(s engine.ShapeKind) Elem { return Elem{Kind: ElemShape, Shape: s} }

// to is one compiled stage: a literal envelope segment or a control
// node.
type to struct {
	a, b, c Elem
	ctrl    Control
}

// sequence is a fixed-length array of To indices plus a program counter
// and a parent index forming a stack. No pointer cycles: the stack is
// encoded as an integer parent index into the Casl's own seqs array.
type sequence struct {
	stage  [MaxSeqLength]int // indices into Casl.tos, -1 = unused
	length int
	pc     int
	parent int // -1 = root
}

// SlopeDriver is the asl engine's only outward dependency: something
// that accepts toward commands for a channel. The voltage engine
// satisfies it directly in tests; production wiring interposes the
// command ring so descriptor updates reach Core A at block boundaries.
type SlopeDriver interface {
	Toward(channel int, destV engine.Q16, timeMs float64, shape engine.ShapeKind)
}
