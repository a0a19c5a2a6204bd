package script

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/blackbird-cv/blackbird/internal/asl"
	"github.com/blackbird-cv/blackbird/internal/engine"
)

// parseTree lowers a script-built ASL table (from to/loop/held/lockseq)
// into the typed Step list asl.Describe compiles. The table is walked
// exactly once here and everything downstream is static Go values.
func parseTree(tree *lua.LTable) []asl.Step {
	// A single step is a table whose first element is its kind string;
	// a sequence is an array of such tables.
	if _, ok := tree.RawGetInt(1).(lua.LString); ok {
		return parseStep(tree)
	}
	return parseList(tree)
}

func parseList(list *lua.LTable) []asl.Step {
	var steps []asl.Step
	n := list.Len()
	for i := 1; i <= n; i++ {
		if t, ok := list.RawGetInt(i).(*lua.LTable); ok {
			steps = append(steps, parseStep(t)...)
		}
	}
	return steps
}

func parseStep(t *lua.LTable) []asl.Step {
	kind, ok := t.RawGetInt(1).(lua.LString)
	if !ok {
		return nil
	}
	switch string(kind) {
	case "to":
		return []asl.Step{asl.ToStep{
			Dest:  parseElem(t.RawGetInt(2)),
			Time:  parseElem(t.RawGetInt(3)),
			Shape: parseShape(t.RawGetInt(4)),
		}}
	case "loop":
		children := childSteps(t)
		children = append(children, asl.RecurStep{})
		return []asl.Step{asl.EnterStep{Children: children}}
	case "held":
		steps := []asl.Step{asl.HeldStep{}}
		steps = append(steps, childSteps(t)...)
		return append(steps, asl.WaitStep{}, asl.UnheldStep{})
	case "lock":
		steps := []asl.Step{asl.LockStep{}}
		steps = append(steps, childSteps(t)...)
		return append(steps, asl.OpenStep{})
	default:
		return nil
	}
}

func childSteps(t *lua.LTable) []asl.Step {
	if body, ok := t.RawGetInt(2).(*lua.LTable); ok {
		return parseList(body)
	}
	return nil
}

func parseElem(v lua.LValue) asl.Elem {
	switch lv := v.(type) {
	case lua.LNumber:
		return asl.FloatElem(float64(lv))
	case lua.LString:
		if s, ok := engine.ParseShape(string(lv)); ok {
			return asl.ShapeElem(s)
		}
	case *lua.LTable:
		if kind, ok := lv.RawGetInt(1).(lua.LString); ok && string(kind) == "dyn" {
			if ix, ok := lv.RawGetInt(2).(lua.LNumber); ok {
				return asl.Elem{Kind: asl.ElemDynamic, Dyn: int(ix)}
			}
		}
	}
	return asl.FloatElem(0)
}

func parseShape(v lua.LValue) asl.Elem {
	switch lv := v.(type) {
	case lua.LString:
		if s, ok := engine.ParseShape(string(lv)); ok {
			return asl.ShapeElem(s)
		}
	case *lua.LTable:
		return parseElem(lv)
	}
	return asl.ShapeElem(engine.ShapeLinear)
}
