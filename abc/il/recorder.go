package il

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Instr is one recorded back-end instruction.
type Instr struct {
	Op     Op
	Int    int64
	Float  float64
	Str    string
	Type   Type
	Local  Local
	Label  Label
	Labels []Label

	// IsMark is set for label-mark pseudo entries.
	IsMark bool
	// Scope is set for try/filter/catch/end pseudo entries.
	Scope string
}

// Recorder is a Builder that records the emitted stream. It is the builder
// used by tests and by the driver's compile dump.
type Recorder struct {
	Instrs []Instr

	labels    int32
	locals    []Type
	tempStack []Local
	tempFree  map[Type][]Local
}

var _ Builder = (*Recorder)(nil)

// NewLabel implements Builder.
func (r *Recorder) NewLabel() Label {
	r.labels++
	return Label(r.labels - 1)
}

// MarkLabel implements Builder.
func (r *Recorder) MarkLabel(l Label) {
	r.Instrs = append(r.Instrs, Instr{IsMark: true, Label: l})
}

// DeclareLocal implements Builder.
func (r *Recorder) DeclareLocal(t Type) Local {
	r.locals = append(r.locals, t)
	return Local(len(r.locals) - 1)
}

// AcquireTemp implements Builder. Released temps of the same type are
// reused before new locals are declared.
func (r *Recorder) AcquireTemp(t Type) Local {
	if r.tempFree == nil {
		r.tempFree = make(map[Type][]Local)
	}
	var l Local
	if free := r.tempFree[t]; len(free) > 0 {
		l = free[len(free)-1]
		r.tempFree[t] = free[:len(free)-1]
	} else {
		l = r.DeclareLocal(t)
	}
	r.tempStack = append(r.tempStack, l)
	return l
}

// ReleaseTemp implements Builder. Releases must be LIFO with respect to
// AcquireTemp.
func (r *Recorder) ReleaseTemp(l Local) {
	n := len(r.tempStack)
	if n == 0 || r.tempStack[n-1] != l {
		panic(fmt.Sprintf("il: non-LIFO temp release of local %d", l))
	}
	r.tempStack = r.tempStack[:n-1]
	t := r.locals[l]
	r.tempFree[t] = append(r.tempFree[t], l)
}

// LocalType returns the declared type of l.
func (r *Recorder) LocalType(l Local) Type { return r.locals[l] }

func (r *Recorder) Emit(op Op)                 { r.Instrs = append(r.Instrs, Instr{Op: op}) }
func (r *Recorder) EmitInt(op Op, v int64)     { r.Instrs = append(r.Instrs, Instr{Op: op, Int: v}) }
func (r *Recorder) EmitFloat(op Op, v float64) { r.Instrs = append(r.Instrs, Instr{Op: op, Float: v}) }
func (r *Recorder) EmitStr(op Op, s string)    { r.Instrs = append(r.Instrs, Instr{Op: op, Str: s}) }
func (r *Recorder) EmitType(op Op, t Type)     { r.Instrs = append(r.Instrs, Instr{Op: op, Type: t}) }
func (r *Recorder) EmitLocal(op Op, l Local)   { r.Instrs = append(r.Instrs, Instr{Op: op, Local: l}) }

func (r *Recorder) EmitBranch(op Op, target Label) {
	r.Instrs = append(r.Instrs, Instr{Op: op, Label: target})
}

func (r *Recorder) EmitSwitch(targets []Label) {
	r.Instrs = append(r.Instrs, Instr{Op: Switch, Labels: slices.Clone(targets)})
}

func (r *Recorder) BeginTry()    { r.Instrs = append(r.Instrs, Instr{Scope: "try"}) }
func (r *Recorder) BeginFilter() { r.Instrs = append(r.Instrs, Instr{Scope: "filter"}) }
func (r *Recorder) BeginCatch()  { r.Instrs = append(r.Instrs, Instr{Scope: "catch"}) }
func (r *Recorder) EndTry()      { r.Instrs = append(r.Instrs, Instr{Scope: "end"}) }

// Ops returns the recorded opcode sequence, skipping marks and scope
// pseudo entries.
func (r *Recorder) Ops() []Op {
	ops := make([]Op, 0, len(r.Instrs))
	for _, in := range r.Instrs {
		if in.IsMark || in.Scope != "" {
			continue
		}
		ops = append(ops, in.Op)
	}
	return ops
}

// String renders the stream one instruction per line.
func (r *Recorder) String() string {
	var sb strings.Builder
	for _, in := range r.Instrs {
		switch {
		case in.IsMark:
			fmt.Fprintf(&sb, "L%d:\n", in.Label)
		case in.Scope != "":
			fmt.Fprintf(&sb, ".%s\n", in.Scope)
		case in.Op == Switch:
			fmt.Fprintf(&sb, "\tswitch %v\n", in.Labels)
		case in.Op == Br || in.Op == BrTrue || in.Op == BrFalse:
			fmt.Fprintf(&sb, "\t%s L%d\n", in.Op, in.Label)
		case in.Op == LdLocal || in.Op == StLocal:
			fmt.Fprintf(&sb, "\t%s %d\n", in.Op, in.Local)
		case in.Op == LdcR8:
			fmt.Fprintf(&sb, "\t%s %v\n", in.Op, in.Float)
		case in.Str != "":
			fmt.Fprintf(&sb, "\t%s %q\n", in.Op, in.Str)
		case in.Type != "":
			fmt.Fprintf(&sb, "\t%s %s\n", in.Op, in.Type)
		default:
			fmt.Fprintf(&sb, "\t%s %d\n", in.Op, in.Int)
		}
	}
	return sb.String()
}
