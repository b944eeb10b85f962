package compiler

import (
	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/opcode"
)

// branchOps maps a conditional ABC branch to the comparison emitted before
// it (il.Nop for none) and the back-end branch opcode.
func branchOps(op opcode.Opcode) (cmp il.Op, br il.Op) {
	switch op {
	case opcode.IFTRUE:
		return il.Nop, il.BrTrue
	case opcode.IFFALSE:
		return il.Nop, il.BrFalse
	case opcode.IFEQ:
		return il.Ceq, il.BrTrue
	case opcode.IFNE:
		return il.Ceq, il.BrFalse
	case opcode.IFLT:
		return il.Clt, il.BrTrue
	case opcode.IFNLT:
		return il.Clt, il.BrFalse
	case opcode.IFLE:
		return il.Cle, il.BrTrue
	case opcode.IFNLE:
		return il.Cle, il.BrFalse
	case opcode.IFGT:
		return il.Cgt, il.BrTrue
	case opcode.IFNGT:
		return il.Cgt, il.BrFalse
	case opcode.IFGE:
		return il.Cge, il.BrTrue
	case opcode.IFNGE:
		return il.Cge, il.BrFalse
	case opcode.IFSTRICTEQ:
		return il.CeqStrict, il.BrTrue
	default: // IFSTRICTNE
		return il.CeqStrict, il.BrFalse
	}
}

// backward reports whether a transfer from bid to target jumps against the
// emission order.
func (g *generator) backward(bid, target int32) bool {
	return g.rpoPos[target] <= g.rpoPos[bid]
}

// emitExit emits the block transition: exit phi-source coercions, stack
// stashing for backward jumps into non-empty-stack blocks, and the actual
// jump, branch or switch.
func (g *generator) emitExit(bid, next int32) error {
	c := g.c
	b := &c.blocks[bid]
	switch b.Exit {
	case ExitReturn, ExitThrow, ExitNone:
		return nil

	case ExitFall, ExitJump:
		g.emitPhiCoercions(bid, nil)
		target := c.staticInts.Get(b.ExitBlocks)[0]
		g.emitJumpTo(bid, target, next)
		return nil

	case ExitBranch:
		last := b.LastInstr()
		cmp, br := branchOps(c.instrs[last].Op)
		if cmp != il.Nop {
			g.emit(cmp)
		} else if in := g.in(last); len(in) > 0 && g.node(in[0]).Type != TypeBool {
			g.emit(il.ConvBool)
		}
		g.emitPhiCoercions(bid, []il.Type{il.TypeBool})

		targets := c.staticInts.Get(b.ExitBlocks)
		tgt, fall := targets[0], targets[1]
		if g.backward(bid, tgt) && len(g.stash[tgt]) > 0 {
			// the taken path needs the remaining stack in the target's
			// stash; spill around the condition, restore for fallthrough
			tmp := g.b.AcquireTemp(il.TypeBool)
			g.emitLocal(il.StLocal, tmp)
			st := g.stash[tgt]
			for si := len(st) - 1; si >= 0; si-- {
				g.emitLocal(il.StLocal, st[si])
			}
			for si := 0; si < len(st); si++ {
				g.emitLocal(il.LdLocal, st[si])
			}
			g.emitLocal(il.LdLocal, tmp)
			g.b.ReleaseTemp(tmp)
			g.emitBranch(br, g.bwd[tgt])
		} else {
			g.emitBranch(br, g.labelFor(bid, tgt))
		}
		g.emitJumpTo(bid, fall, next)
		return nil

	case ExitSwitch:
		g.emitPhiCoercions(bid, []il.Type{il.TypeI4})
		targets := c.staticInts.Get(b.ExitBlocks)
		caseLabels := make([]il.Label, len(targets)-1)
		for k, t := range targets[1:] {
			caseLabels[k] = g.labelFor(bid, t)
		}
		g.lastIsConst = false
		g.b.EmitSwitch(caseLabels)
		g.emitJumpTo(bid, targets[0], next)
		return nil
	}
	return nil
}

// labelFor picks the forward or backward label for a transfer.
func (g *generator) labelFor(bid, target int32) il.Label {
	if g.backward(bid, target) && g.bwd[target] != noLabel {
		return g.bwd[target]
	}
	return g.fwd[target]
}

// emitJumpTo transfers to target, stashing the machine stack into the
// target's reserved temporaries when jumping backward into a block entered
// with a non-empty stack.
func (g *generator) emitJumpTo(bid, target, next int32) {
	if g.backward(bid, target) {
		st := g.stash[target]
		for si := len(st) - 1; si >= 0; si-- {
			g.emitLocal(il.StLocal, st[si])
		}
		g.emitBranch(il.Br, g.bwd[target])
		return
	}
	if target != next {
		g.emitBranch(il.Br, g.fwd[target])
	}
}

// emitPhiCoercions coerces each stack phi-source at the block exit to the
// phi's settled type. above lists the types of values sitting on the
// machine stack beyond the recorded exit state (a branch condition, a
// switch index); deeper coercions spill them through LIFO temporaries.
func (g *generator) emitPhiCoercions(bid int32, above []il.Type) {
	c := g.c
	pairs := c.staticInts.Get(c.blocks[bid].ExitPhiSources)
	exit := c.exitStack[bid]
	for k := 0; k+1 < len(pairs); k += 2 {
		phi := g.node(pairs[k])
		src := g.node(pairs[k+1])
		if phi.Slot.Kind != SlotStack {
			continue
		}
		if phi.Type == src.Type && phi.Class == src.Class {
			continue
		}
		if phi.Type == TypeUnknown || phi.Type == src.Type {
			continue
		}
		slot := int(phi.Slot.Index)
		depth := len(exit) - 1 - slot // values of the exit state above src

		var temps []il.Local
		spill := func(t il.Type) {
			l := g.b.AcquireTemp(t)
			g.emitLocal(il.StLocal, l)
			temps = append(temps, l)
		}
		for ai := len(above) - 1; ai >= 0; ai-- {
			spill(above[ai])
		}
		for d := 0; d < depth; d++ {
			n := g.node(exit[len(exit)-1-d])
			spill(g.ilTypeOf(n.Type, n.Class))
		}
		g.emitCoerce(src.Type, src.Class, phi.Type, phi.Class)
		for ti := len(temps) - 1; ti >= 0; ti-- {
			g.emitLocal(il.LdLocal, temps[ti])
			g.b.ReleaseTemp(temps[ti])
		}
	}
}

// emitExceptionTail emits the filter and catch clauses at the method tail.
// The filter loops the in-flight exception through a switch on the
// current-handler-id register, testing the declared catch type and
// ascending the parent chain on a miss; the catch clause, dispatched by
// the same register, stashes the thrown value into the target block's
// stack stash and transfers to its backward label.
func (g *generator) emitExceptionTail() {
	c := g.c
	b := g.b

	b.BeginFilter()
	loop := b.NewLabel()
	accept := b.NewLabel()
	reject := b.NewLabel()
	done := b.NewLabel()
	handlerLabels := make([]il.Label, len(c.handlers))
	for hi := range c.handlers {
		handlerLabels[hi] = b.NewLabel()
	}

	b.MarkLabel(loop)
	g.emitLocal(il.LdLocal, g.handlerReg)
	g.lastIsConst = false
	b.EmitSwitch(handlerLabels)
	g.emitBranch(il.Br, reject) // register is -1: nothing handles it

	for hi := range c.handlers {
		h := &c.handlers[hi]
		b.MarkLabel(handlerLabels[hi])
		if h.CatchType == nil {
			g.emitBranch(il.Br, accept)
			continue
		}
		g.emit(il.LdExc)
		g.emitType(il.IsInst, g.classToken(h.CatchType))
		g.emitBranch(il.BrTrue, accept)
		// miss: ascend to the parent handler and retest
		g.emitInt(il.LdcI4, int64(h.Parent))
		g.emitLocal(il.StLocal, g.handlerReg)
		g.emitBranch(il.Br, loop)
	}

	b.MarkLabel(reject)
	g.emitInt(il.LdcBool, 0)
	g.emitBranch(il.Br, done)
	b.MarkLabel(accept)
	g.emitInt(il.LdcBool, 1)
	b.MarkLabel(done)

	b.BeginCatch()
	catchLabels := make([]il.Label, len(c.handlers))
	for hi := range c.handlers {
		catchLabels[hi] = b.NewLabel()
	}
	g.emitLocal(il.LdLocal, g.handlerReg)
	g.lastIsConst = false
	b.EmitSwitch(catchLabels)
	g.emit(il.Rethrow)

	for hi := range c.handlers {
		h := &c.handlers[hi]
		b.MarkLabel(catchLabels[hi])
		tb := c.instrs[h.Target].Block
		g.emit(il.LdExc)
		if h.CatchType != nil {
			g.emitType(il.CastClass, g.classToken(h.CatchType))
		}
		if len(g.stash[tb]) > 0 {
			g.emitLocal(il.StLocal, g.stash[tb][0])
		} else {
			g.emit(il.Pop)
		}
		g.emitBranch(il.Br, g.bwd[tb])
	}
	b.EndTry()
}
