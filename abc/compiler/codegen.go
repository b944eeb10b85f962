package compiler

import (
	"math"

	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/opcode"
	"github.com/jfd16/mariana-go/abc/registry"
)

// Runtime error ids raised through the ThrowError back-end helper.
const (
	rteOutOfBounds int64 = iota + 1
	rteArgCountMismatch
	rteNotInstantiable
)

const noLabel il.Label = -1

type generator struct {
	c *MethodCompilation
	b il.Builder

	rpo    []int32
	rpoPos []int32 // block id -> position in emission order

	fwd   []il.Label
	bwd   []il.Label
	stash [][]il.Local // per block: one local per entry stack slot

	slotLocal []il.Local
	sync      map[[2]int32]il.Local // (handler, local slot) -> IL local
	syncPhi   map[[2]int32]int32    // (handler, local slot) -> phi node

	handlerReg  il.Local
	hasHandlers bool
	curHandler  int32

	oob     il.Label
	oobUsed bool

	concatInternal map[int32]bool
	concatLeaves   map[int32]int

	// dup-fold tracking: the last emitted instruction was a constant push
	lastConst   il.Instr
	lastIsConst bool
}

// Generate emits the typed back-end stream for the analyzed compilation.
func (c *MethodCompilation) Generate(b il.Builder) error {
	g := &generator{
		c:          c,
		b:          b,
		curHandler: -1,
		sync:       make(map[[2]int32]il.Local),
		syncPhi:    make(map[[2]int32]int32),
	}
	g.rpo = c.rpoBlocks()
	g.rpoPos = make([]int32, len(c.blocks))
	for i := range g.rpoPos {
		g.rpoPos[i] = -1
	}
	for pos, bid := range g.rpo {
		g.rpoPos[bid] = int32(pos)
	}
	g.hasHandlers = len(c.handlers) > 0

	g.markConcatTrees()
	g.declareLocals()
	g.declareLabels()
	g.declareSync()
	g.oob = b.NewLabel()

	if g.hasHandlers {
		g.handlerReg = b.DeclareLocal(il.TypeI4)
		b.EmitInt(il.LdcI4, -1)
		b.EmitLocal(il.StLocal, g.handlerReg)
		b.BeginTry()
	}

	for pos, bid := range g.rpo {
		next := int32(-1)
		if pos+1 < len(g.rpo) {
			next = g.rpo[pos+1]
		}
		if err := g.emitBlock(bid, next); err != nil {
			return err
		}
	}

	if g.oobUsed {
		b.MarkLabel(g.oob)
		b.EmitInt(il.ThrowError, rteOutOfBounds)
	}
	if g.hasHandlers {
		g.emitExceptionTail()
	}
	return nil
}

// ilTypeOf maps an inferred node type to a back-end type token, mangling
// class names for object types.
func (g *generator) ilTypeOf(t DataType, cls *registry.Class) il.Type {
	switch t {
	case TypeInt:
		return il.TypeI4
	case TypeUint:
		return il.TypeU4
	case TypeNumber:
		return il.TypeR8
	case TypeBool:
		return il.TypeBool
	case TypeString:
		return il.TypeStr
	case TypeObject, TypeThis:
		if cls != nil {
			return il.Type(g.c.mangler.TypeName(cls.NS, cls.Name))
		}
		return il.TypeObj
	case TypeNull, TypeFunction, TypeNamespace, TypeQName, TypeClass,
		TypeRest, TypeGlobal:
		return il.TypeObj
	default:
		return il.TypeAny
	}
}

func (g *generator) classToken(cls *registry.Class) il.Type {
	return il.Type(g.c.mangler.TypeName(cls.NS, cls.Name))
}

// markConcatTrees identifies string-concatenation chains: an add whose
// string result feeds exactly one other string add in the same block is an
// interior node; the roots record their total leaf count so a single n-ary
// concat can be emitted.
func (g *generator) markConcatTrees() {
	c := g.c
	g.concatInternal = make(map[int32]bool)
	g.concatLeaves = make(map[int32]int)

	isStringAdd := func(i int32) bool {
		ins := &c.instrs[i]
		if ins.Op != opcode.ADD || ins.Push < 0 || c.nodes[ins.Push].Type != TypeString {
			return false
		}
		in := c.staticInts.Get(ins.StackIn)
		return len(in) == 2 &&
			c.nodes[in[0]].Type == TypeString && c.nodes[in[1]].Type == TypeString
	}

	for i := range c.instrs {
		ii := int32(i)
		if !isStringAdd(ii) {
			continue
		}
		uses := c.dyn.Get(c.nodes[c.instrs[ii].Push].Uses)
		if len(uses) != 1 {
			continue
		}
		u := DataNodeOrInstrRef(uses[0])
		if u.IsNode() {
			continue
		}
		j := u.Index()
		if isStringAdd(j) && c.instrs[j].Block == c.instrs[ii].Block {
			g.concatInternal[ii] = true
		}
	}
	// leaf counts at the roots
	var countLeaves func(i int32) int
	countLeaves = func(i int32) int {
		n := 0
		for _, in := range c.staticInts.Get(c.instrs[i].StackIn) {
			defs := c.dyn.Get(c.nodes[in].Defs)
			src := int32(-1)
			if len(defs) == 1 {
				if r := DataNodeOrInstrRef(defs[0]); !r.IsNode() {
					src = r.Index()
				}
			}
			if src >= 0 && g.concatInternal[src] {
				n += countLeaves(src)
			} else {
				n++
			}
		}
		return n
	}
	for i := range c.instrs {
		ii := int32(i)
		if isStringAdd(ii) && !g.concatInternal[ii] {
			hasInternalChild := false
			for _, in := range c.staticInts.Get(c.instrs[ii].StackIn) {
				defs := c.dyn.Get(c.nodes[in].Defs)
				if len(defs) == 1 {
					if r := DataNodeOrInstrRef(defs[0]); !r.IsNode() && g.concatInternal[r.Index()] {
						hasInternalChild = true
					}
				}
			}
			if hasInternalChild {
				g.concatLeaves[ii] = countLeaves(ii)
			}
		}
	}
}

// declareLocals assigns one back-end local per ABC local slot, typed by
// the merge of every node written to the slot.
func (g *generator) declareLocals() {
	c := g.c
	count := 0
	for ni := range c.nodes {
		n := &c.nodes[ni]
		if n.Slot.Kind == SlotLocal && int(n.Slot.Index)+1 > count {
			count = int(n.Slot.Index) + 1
		}
	}
	types := make([]DataType, count)
	classes := make([]*registry.Class, count)
	for ni := range c.nodes {
		n := &c.nodes[ni]
		if n.Slot.Kind != SlotLocal {
			continue
		}
		types[n.Slot.Index], classes[n.Slot.Index] =
			mergeTypes(types[n.Slot.Index], classes[n.Slot.Index], n.Type, n.Class)
	}
	g.slotLocal = make([]il.Local, count)
	for i := 0; i < count; i++ {
		g.slotLocal[i] = g.b.DeclareLocal(g.ilTypeOf(types[i], classes[i]))
	}
}

// declareLabels creates every block's forward label, plus a backward label
// and stack stash for blocks with backward entries and for catch targets
// entered with a non-empty stack.
func (g *generator) declareLabels() {
	c := g.c
	g.fwd = make([]il.Label, len(c.blocks))
	g.bwd = make([]il.Label, len(c.blocks))
	g.stash = make([][]il.Local, len(c.blocks))
	for bi := range c.blocks {
		g.fwd[bi] = noLabel
		g.bwd[bi] = noLabel
	}
	for _, bid := range g.rpo {
		g.fwd[bid] = g.b.NewLabel()
	}
	for _, bid := range g.rpo {
		b := &c.blocks[bid]
		entryStack := c.staticInts.Get(b.EntryStack)
		backward, catch := false, false
		for _, e := range c.refs.Get(b.Entries) {
			switch {
			case e.IsCatch():
				catch = true
			case e.IsBlock() && g.rpoPos[e.Block()] >= g.rpoPos[bid]:
				backward = true
			}
		}
		if backward || (catch && len(entryStack) > 0) {
			g.bwd[bid] = g.b.NewLabel()
			if len(entryStack) > 0 {
				locs := make([]il.Local, len(entryStack))
				for si, node := range entryStack {
					n := &c.nodes[node]
					locs[si] = g.b.DeclareLocal(g.ilTypeOf(n.Type, n.Class))
				}
				g.stash[bid] = locs
			}
		}
	}
}

// declareSync assigns the IL locals backing catch-entry local phis. A
// (handler, slot) pair with an unused phi gets no sync local.
func (g *generator) declareSync() {
	c := g.c
	for hi := range c.handlers {
		h := &c.handlers[hi]
		tb := c.instrs[h.Target].Block
		if tb < 0 || c.blocks[tb].Postorder < 0 {
			continue
		}
		entryLocals := c.staticInts.Get(c.blocks[tb].EntryLocals)
		for si, node := range entryLocals {
			n := &c.nodes[node]
			if !n.IsPhi() || len(c.dyn.Get(n.Uses)) == 0 {
				continue
			}
			key := [2]int32{int32(hi), int32(si)}
			g.sync[key] = g.b.DeclareLocal(g.ilTypeOf(n.Type, n.Class))
			g.syncPhi[key] = node
		}
	}
}

// emit wrappers funnel all instruction emission so dup-fold tracking stays
// accurate: any non-constant emission invalidates the last-constant state.

func (g *generator) emit(op il.Op) {
	g.lastIsConst = false
	g.b.Emit(op)
}

func (g *generator) emitInt(op il.Op, v int64) {
	g.lastIsConst = false
	g.b.EmitInt(op, v)
}

func (g *generator) emitFloat(op il.Op, v float64) {
	g.lastIsConst = false
	g.b.EmitFloat(op, v)
}

func (g *generator) emitStr(op il.Op, s string) {
	g.lastIsConst = false
	g.b.EmitStr(op, s)
}

func (g *generator) emitType(op il.Op, t il.Type) {
	g.lastIsConst = false
	g.b.EmitType(op, t)
}

func (g *generator) emitLocal(op il.Op, l il.Local) {
	g.lastIsConst = false
	g.b.EmitLocal(op, l)
}

func (g *generator) emitBranch(op il.Op, target il.Label) {
	g.lastIsConst = false
	g.b.EmitBranch(op, target)
}

func sameConst(a, b il.Instr) bool {
	return a.Op == b.Op && a.Int == b.Int && a.Float == b.Float &&
		a.Str == b.Str && a.Type == b.Type
}

// emitConst pushes a constant, folding an identical push immediately
// following the previous one into a dup.
func (g *generator) emitConst(in il.Instr) {
	if g.lastIsConst && sameConst(in, g.lastConst) {
		g.lastIsConst = false
		g.b.Emit(il.Dup)
		g.lastConst = in
		g.lastIsConst = true
		return
	}
	switch {
	case in.Str != "" || in.Op == il.LdcStr || in.Op == il.LdNS:
		g.b.EmitStr(in.Op, in.Str)
	case in.Op == il.LdcR8:
		g.b.EmitFloat(in.Op, in.Float)
	case in.Op == il.LdType:
		g.b.EmitType(in.Op, in.Type)
	case in.Op == il.LdNull || in.Op == il.LdUndef || in.Op == il.LdNaN:
		g.b.Emit(in.Op)
	default:
		g.b.EmitInt(in.Op, in.Int)
	}
	g.lastConst = in
	g.lastIsConst = true
}

// emitConstNode materializes a constant-valued data node.
func (g *generator) emitConstNode(n *DataNode) {
	switch n.Type {
	case TypeInt:
		g.emitConst(il.Instr{Op: il.LdcI4, Int: int64(n.Const.I)})
	case TypeUint:
		g.emitConst(il.Instr{Op: il.LdcU4, Int: int64(n.Const.U)})
	case TypeNumber:
		if math.IsNaN(n.Const.D) {
			g.emitConst(il.Instr{Op: il.LdNaN})
		} else {
			g.emitConst(il.Instr{Op: il.LdcR8, Float: n.Const.D})
		}
	case TypeBool:
		v := int64(0)
		if n.Const.B {
			v = 1
		}
		g.emitConst(il.Instr{Op: il.LdcBool, Int: v})
	case TypeString:
		g.emitConst(il.Instr{Op: il.LdcStr, Str: n.Const.S})
	case TypeNull:
		g.emitConst(il.Instr{Op: il.LdNull})
	case TypeUndefined:
		g.emitConst(il.Instr{Op: il.LdUndef})
	case TypeNamespace:
		uri := ""
		if n.Const.NS != nil {
			uri = n.Const.NS.URI
		}
		g.emitConst(il.Instr{Op: il.LdNS, Str: uri})
	case TypeClass:
		if n.Const.Class != nil {
			g.emitConst(il.Instr{Op: il.LdType, Type: g.classToken(n.Const.Class)})
		} else {
			g.emitConst(il.Instr{Op: il.LdNull})
		}
	default:
		g.emitConst(il.Instr{Op: il.LdUndef})
	}
}

// emitCoerce emits the conversion from one inferred type to another,
// following the total coercion table: numeric and boolean conversions,
// the coerce_s/convert_s split for strings, class and interface casts,
// boxing to any, and null passing unchanged into reference types.
func (g *generator) emitCoerce(from DataType, fromCls *registry.Class, to DataType, toCls *registry.Class) {
	if from == to && fromCls == toCls {
		return
	}
	switch to {
	case TypeInt:
		g.emit(il.ConvI4)
	case TypeUint:
		g.emit(il.ConvU4)
	case TypeNumber:
		g.emit(il.ConvR8)
	case TypeBool:
		g.emit(il.ConvBool)
	case TypeString:
		if from != TypeString {
			g.emit(il.CoerceStr)
		}
	case TypeObject:
		if from == TypeNull {
			return // null is directly representable for reference types
		}
		if toCls != nil && (fromCls == nil || !fromCls.IsSubclassOf(toCls)) {
			if toCls.IsInterface {
				g.emitType(il.CastIface, g.classToken(toCls))
			} else {
				g.emitType(il.CastClass, g.classToken(toCls))
			}
		}
	case TypeAny:
		switch from {
		case TypeInt, TypeUint, TypeNumber, TypeBool, TypeString:
			g.emitType(il.Box, g.ilTypeOf(from, nil))
		}
	}
}

// emitBlock emits one basic block: labels and stack stashing, the
// handler-id register update, try-entry catch synchronization, the
// instruction bodies, and the exit transition.
func (g *generator) emitBlock(bid, next int32) error {
	c := g.c
	b := &c.blocks[bid]
	g.lastIsConst = false

	g.b.MarkLabel(g.fwd[bid])
	entryStack := c.staticInts.Get(b.EntryStack)
	if g.bwd[bid] != noLabel {
		// forward entries arrive with values on the machine stack: stash
		// them, then restore after the backward label so backward jumpers
		// (which store into the stash directly) join a consistent state
		for si := len(entryStack) - 1; si >= 0; si-- {
			g.emitLocal(il.StLocal, g.stash[bid][si])
		}
		g.b.MarkLabel(g.bwd[bid])
		for si := 0; si < len(entryStack); si++ {
			g.emitLocal(il.LdLocal, g.stash[bid][si])
		}
	}

	if g.hasHandlers && b.Handler != g.curHandler {
		g.emitInt(il.LdcI4, int64(b.Handler))
		g.emitLocal(il.StLocal, g.handlerReg)
		g.curHandler = b.Handler
	}

	// catch entry: the synchronized local states flow back into the slot
	// locals
	for _, e := range c.refs.Get(b.Entries) {
		if !e.IsCatch() {
			continue
		}
		h := e.Handler()
		entryLocals := c.staticInts.Get(b.EntryLocals)
		for si := range entryLocals {
			if loc, ok := g.sync[[2]int32{h, int32(si)}]; ok {
				g.emitLocal(il.LdLocal, loc)
				g.emitLocal(il.StLocal, g.slotLocal[si])
			}
		}
	}

	// try entry: seed the catch-state locals with the current values
	for hi := range c.handlers {
		if c.handlers[hi].TryStart == b.FirstInstr {
			g.syncAllSlots(int32(hi))
		}
	}

	for i := b.FirstInstr; i < b.FirstInstr+b.InstrCount; i++ {
		if err := g.emitInstr(i); err != nil {
			return err
		}
	}
	return g.emitExit(bid, next)
}

// syncAllSlots stores every slot local into handler h's catch-state
// locals.
func (g *generator) syncAllSlots(h int32) {
	for si := range g.slotLocal {
		key := [2]int32{h, int32(si)}
		loc, ok := g.sync[key]
		if !ok {
			continue
		}
		phi := &g.c.nodes[g.syncPhi[key]]
		g.emitLocal(il.LdLocal, g.slotLocal[si])
		g.emitCoerce(TypeAny, nil, phi.Type, phi.Class)
		g.emitLocal(il.StLocal, loc)
	}
}

// syncLocalWrite propagates a local write to the catch-state locals of
// every enclosing handler. Writes of constants, writes to unused catch
// phis, and handlers sharing a state local with an ancestor are skipped.
func (g *generator) syncLocalWrite(bid, slot, written int32) {
	c := g.c
	if written < 0 || c.nodes[written].IsConstant() {
		return
	}
	seen := make(map[il.Local]bool, 2)
	for h := c.blocks[bid].Handler; h != -1; h = c.handlers[h].Parent {
		key := [2]int32{h, slot}
		loc, ok := g.sync[key]
		if !ok || seen[loc] {
			continue
		}
		seen[loc] = true
		phi := &c.nodes[g.syncPhi[key]]
		g.emitLocal(il.LdLocal, g.slotLocal[slot])
		g.emitCoerce(c.nodes[written].Type, c.nodes[written].Class, phi.Type, phi.Class)
		g.emitLocal(il.StLocal, loc)
	}
}
