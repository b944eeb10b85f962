package compiler

import (
	"math"

	"golang.org/x/exp/slices"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/opcode"
	"github.com/jfd16/mariana-go/abc/registry"
)

// rpoBlocks returns the reachable blocks in reverse postorder.
func (c *MethodCompilation) rpoBlocks() []int32 {
	order := make([]int32, 0, len(c.blocks))
	for bi := range c.blocks {
		if c.blocks[bi].Postorder >= 0 {
			order = append(order, int32(bi))
		}
	}
	slices.SortFunc(order, func(a, b int32) int {
		return int(c.blocks[b].Postorder - c.blocks[a].Postorder)
	})
	return order
}

// blockSim carries the abstract machine state while simulating one block.
type blockSim struct {
	c      *MethodCompilation
	bid    int32
	stack  []int32
	scope  []int32
	locals []int32
}

// BuildDataFlow lifts the operand-stack/scope-stack/local machine into
// data nodes: it simulates each block's abstract execution, creates phi
// nodes at control-flow merges, links def-use edges, and performs constant
// propagation.
func (c *MethodCompilation) BuildDataFlow() error {
	nb := len(c.blocks)
	c.exitStack = make([][]int32, nb)
	c.exitScope = make([][]int32, nb)
	c.exitLocals = make([][]int32, nb)
	entryArrs := make([][3][]int32, nb)
	processed := make([]bool, nb)

	initStack, initScope, initLocals, err := c.initialState()
	if err != nil {
		return err
	}

	rpo := c.rpoBlocks()
	for _, bid := range rpo {
		stack, scope, locals, err := c.entryState(bid, processed, initStack, initScope, initLocals)
		if err != nil {
			return err
		}
		entryArrs[bid] = [3][]int32{
			append([]int32(nil), stack...),
			append([]int32(nil), scope...),
			append([]int32(nil), locals...),
		}
		b := &c.blocks[bid]
		b.EntryStack = c.staticInts.Alloc(stack...)
		b.EntryScope = c.staticInts.Alloc(scope...)
		b.EntryLocals = c.staticInts.Alloc(locals...)

		sim := &blockSim{c: c, bid: bid, stack: stack, scope: scope, locals: locals}
		first, count := b.FirstInstr, b.InstrCount
		for i := first; i < first+count; i++ {
			if err := sim.step(i); err != nil {
				return err
			}
		}
		c.exitStack[bid] = sim.stack
		c.exitScope[bid] = sim.scope
		c.exitLocals[bid] = sim.locals
		processed[bid] = true
	}

	return c.linkPhis(rpo, entryArrs, initStack, initScope, initLocals)
}

// initialState builds the method-entry locals: this, the declared
// parameters, then the rest parameter or arguments array if requested.
func (c *MethodCompilation) initialState() (stack, scope, locals []int32, err error) {
	nparams := len(c.method.ParamTypes)
	count := 1 + nparams
	if c.method.Flags&(abcfile.MethodNeedRest|abcfile.MethodNeedArguments) != 0 {
		count++
	}
	if int(c.method.LocalCount) > count {
		count = int(c.method.LocalCount)
	}
	locals = make([]int32, count)

	this := c.newNode(Slot{Kind: SlotLocal, Index: 0}, TypeThis)
	c.nodes[this].Flags |= NodeArgument | NodeNotNull
	locals[0] = this

	for pi, pt := range c.method.ParamTypes {
		cls, cerr := c.world.ClassByMultiname(pt, true)
		if cerr != nil {
			return nil, nil, nil, errAt(ErrClassNotFound, -1, "parameter %d type %v: %v", pi, pt, cerr)
		}
		typ, tcls := c.classToType(cls)
		n := c.newNode(Slot{Kind: SlotLocal, Index: int32(pi + 1)}, typ)
		c.nodes[n].Class = tcls
		c.nodes[n].Flags |= NodeArgument
		locals[pi+1] = n
	}

	next := int32(1 + nparams)
	if c.method.Flags&abcfile.MethodNeedRest != 0 {
		n := c.newNode(Slot{Kind: SlotLocal, Index: next}, TypeRest)
		c.nodes[n].Flags |= NodeArgument | NodeNotNull
		locals[next] = n
		next++
	} else if c.method.Flags&abcfile.MethodNeedArguments != 0 {
		n := c.newNode(Slot{Kind: SlotLocal, Index: next}, TypeObject)
		c.nodes[n].Class = c.world.Builtin("Array")
		c.nodes[n].Flags |= NodeArgument | NodeNotNull
		locals[next] = n
		next++
	}
	for ; int(next) < len(locals); next++ {
		locals[next] = c.newNode(Slot{Kind: SlotLocal, Index: next}, TypeUndefined)
	}
	return nil, nil, locals, nil
}

// entryState computes a block's entry arrays: direct inheritance from a
// single predecessor, fresh phi nodes at merges, or the exception-entry
// shape for catch targets.
func (c *MethodCompilation) entryState(bid int32, processed []bool, initStack, initScope, initLocals []int32) (stack, scope, locals []int32, err error) {
	b := &c.blocks[bid]
	entries := c.refs.Get(b.Entries)

	catchHandlers := make([]int32, 0, 1)
	var blockPreds []CFGNodeRef
	hasStart := false
	for _, e := range entries {
		switch {
		case e.IsCatch():
			catchHandlers = append(catchHandlers, e.Handler())
		case e.IsStart():
			hasStart = true
			blockPreds = append(blockPreds, e)
		default:
			blockPreds = append(blockPreds, e)
		}
	}

	// single-predecessor blocks inherit the predecessor state directly
	if len(catchHandlers) == 0 && len(blockPreds) == 1 {
		if hasStart {
			return append([]int32(nil), initStack...),
				append([]int32(nil), initScope...),
				append([]int32(nil), initLocals...), nil
		}
		p := blockPreds[0].Block()
		if processed[p] {
			return append([]int32(nil), c.exitStack[p]...),
				append([]int32(nil), c.exitScope[p]...),
				append([]int32(nil), c.exitLocals[p]...), nil
		}
	}

	// merge: determine entry depths from the first available predecessor
	sd, scd := -1, -1
	if len(catchHandlers) > 0 {
		sd, scd = 1, 0
	} else {
		for _, e := range blockPreds {
			if e.IsStart() {
				sd, scd = len(initStack), len(initScope)
				break
			}
			if processed[e.Block()] {
				sd, scd = len(c.exitStack[e.Block()]), len(c.exitScope[e.Block()])
				break
			}
		}
	}
	if sd < 0 {
		return nil, nil, nil, errAt(ErrStackDepthMismatch, c.blocks[bid].FirstInstr,
			"no processed predecessor for block %d", bid)
	}

	b.Flags |= BlockDefinesPhi
	stack = make([]int32, sd)
	for i := range stack {
		n := c.newNode(Slot{Kind: SlotStack, Index: int32(i)}, TypeUnknown)
		c.nodes[n].Flags |= NodePhi
		stack[i] = n
	}
	if len(catchHandlers) > 0 && sd == 1 {
		// slot 0 carries the caught exception
		n := stack[0]
		h := &c.handlers[catchHandlers[0]]
		typ, cls := c.classToType(h.CatchType)
		if h.CatchType == nil {
			typ, cls = TypeAny, nil
		}
		c.nodes[n].Type = typ
		c.nodes[n].Class = cls
		c.nodes[n].Flags |= NodeException | NodeNotNull
	}
	scope = make([]int32, scd)
	for i := range scope {
		n := c.newNode(Slot{Kind: SlotScope, Index: int32(i)}, TypeUnknown)
		c.nodes[n].Flags |= NodePhi
		scope[i] = n
	}
	locals = make([]int32, len(initLocals))
	for i := range locals {
		n := c.newNode(Slot{Kind: SlotLocal, Index: int32(i)}, TypeUnknown)
		c.nodes[n].Flags |= NodePhi
		locals[i] = n
	}
	return stack, scope, locals, nil
}

// linkPhis connects each phi's def list to the predecessors' exit nodes at
// the same slot, records the reverse use edges, validates entry depth
// agreement, and collects each block's exit phi sources for the code
// generator.
func (c *MethodCompilation) linkPhis(rpo []int32, entryArrs [][3][]int32, initStack, initScope, initLocals []int32) error {
	exitPairs := make([][]int32, len(c.blocks))

	link := func(phi, src int32, predBlock int32) {
		if c.nodes[phi].Flags&NodePhi == 0 || phi == src {
			return
		}
		c.addDef(phi, NodeRef(src))
		c.addUse(src, NodeRef(phi))
		if predBlock >= 0 {
			exitPairs[predBlock] = append(exitPairs[predBlock], phi, src)
		}
	}

	for _, bid := range rpo {
		b := &c.blocks[bid]
		if b.Flags&BlockDefinesPhi == 0 {
			continue
		}
		entry := entryArrs[bid]
		for _, e := range c.refs.Get(b.Entries) {
			var pStack, pScope, pLocals []int32
			pb := int32(-1)
			switch {
			case e.IsCatch():
				continue // catch contributions are collected below
			case e.IsStart():
				pStack, pScope, pLocals = initStack, initScope, initLocals
			default:
				pb = e.Block()
				if c.blocks[pb].Postorder < 0 {
					continue
				}
				pStack, pScope, pLocals = c.exitStack[pb], c.exitScope[pb], c.exitLocals[pb]
			}
			if len(pStack) != len(entry[0]) {
				return errAt(ErrStackDepthMismatch, b.FirstInstr,
					"predecessor %v exits with stack depth %d, block %d enters with %d",
					e, len(pStack), bid, len(entry[0]))
			}
			if len(pScope) != len(entry[1]) {
				return errAt(ErrScopeDepthMismatch, b.FirstInstr,
					"predecessor %v exits with scope depth %d, block %d enters with %d",
					e, len(pScope), bid, len(entry[1]))
			}
			for i, phi := range entry[0] {
				link(phi, pStack[i], pb)
			}
			for i, phi := range entry[1] {
				link(phi, pScope[i], pb)
			}
			for i, phi := range entry[2] {
				link(phi, pLocals[i], pb)
			}
		}

		// catch-entry local phis merge every local state the guarded
		// region can be in when the exception surfaces
		for _, e := range c.refs.Get(b.Entries) {
			if !e.IsCatch() {
				continue
			}
			h := &c.handlers[e.Handler()]
			for _, rb := range rpo {
				blk := &c.blocks[rb]
				if blk.FirstInstr < h.TryStart || blk.FirstInstr >= h.TryEnd {
					continue
				}
				for i, phi := range entry[2] {
					if i < len(entryArrs[rb][2]) {
						link(phi, entryArrs[rb][2][i], -1)
					}
					if i < len(c.exitLocals[rb]) {
						link(phi, c.exitLocals[rb][i], -1)
					}
				}
			}
		}
	}

	for bid, pairs := range exitPairs {
		c.blocks[bid].ExitPhiSources = c.staticInts.Alloc(dedupPairs(pairs)...)
	}
	return nil
}

// dedupPairs removes duplicate (phi, src) pairs, preserving order.
func dedupPairs(pairs []int32) []int32 {
	type pk struct{ a, b int32 }
	seen := make(map[pk]bool, len(pairs)/2)
	out := pairs[:0]
	for i := 0; i+1 < len(pairs); i += 2 {
		k := pk{pairs[i], pairs[i+1]}
		if !seen[k] {
			seen[k] = true
			out = append(out, k.a, k.b)
		}
	}
	return out
}

// classToType maps a registry class to its data-type tag.
func (c *MethodCompilation) classToType(cls *registry.Class) (DataType, *registry.Class) {
	if cls == nil {
		return TypeAny, nil
	}
	switch cls {
	case c.world.Builtin("int"):
		return TypeInt, nil
	case c.world.Builtin("uint"):
		return TypeUint, nil
	case c.world.Builtin("Number"):
		return TypeNumber, nil
	case c.world.Builtin("Boolean"):
		return TypeBool, nil
	case c.world.Builtin("String"):
		return TypeString, nil
	case c.world.Builtin("Namespace"):
		return TypeNamespace, nil
	case c.world.Builtin("QName"):
		return TypeQName, nil
	case c.world.Builtin("Function"):
		return TypeFunction, nil
	case c.world.Builtin("void"):
		return TypeUndefined, nil
	}
	return TypeObject, cls
}

func (s *blockSim) pop(i int32) (int32, error) {
	if len(s.stack) == 0 {
		return 0, errAt(ErrStackUnderflow, i, "operand stack underflow")
	}
	n := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return n, nil
}

func (s *blockSim) popN(i int32, n int) ([]int32, error) {
	popped := make([]int32, 0, n)
	for k := 0; k < n; k++ {
		v, err := s.pop(i)
		if err != nil {
			return nil, err
		}
		popped = append(popped, v)
	}
	return popped, nil
}

// push allocates the output node of instruction i at the current stack
// top.
func (s *blockSim) push(i int32, typ DataType) int32 {
	n := s.c.newNode(Slot{Kind: SlotStack, Index: int32(len(s.stack))}, typ)
	s.stack = append(s.stack, n)
	s.c.addDef(n, InstrRef(i))
	s.c.instrs[i].Push = n
	return n
}

func (s *blockSim) useAll(i int32, popped []int32) {
	for _, n := range popped {
		s.c.addUse(n, InstrRef(i))
	}
	s.c.instrs[i].StackIn = s.c.staticInts.Alloc(popped...)
}

func (s *blockSim) localIndex(i int32, idx int32) (int32, error) {
	if idx < 0 || int(idx) >= len(s.locals) {
		return 0, errAt(ErrLocalIndexOutOfRange, i, "local %d out of range (%d declared)", idx, len(s.locals))
	}
	return idx, nil
}

// writeLocal installs a fresh node for the local slot, defined by src (or
// by the instruction when src is -1).
func (s *blockSim) writeLocal(i, idx int32, typ DataType, src int32) int32 {
	c := s.c
	n := c.newNode(Slot{Kind: SlotLocal, Index: idx}, typ)
	if src >= 0 {
		c.nodes[n].Class = c.nodes[src].Class
		if c.nodes[src].IsConstant() {
			c.nodes[n].Const = c.nodes[src].Const
			c.nodes[n].Flags |= NodeConstant
		}
		c.addDef(n, NodeRef(src))
		c.addUse(src, NodeRef(n))
	} else {
		c.addDef(n, InstrRef(i))
	}
	if c.blocks[s.bid].Handler != -1 {
		c.nodes[n].Flags |= NodeLocalWriteThrough
	}
	c.instrs[i].WriteNode = n
	s.locals[idx] = n
	return n
}

// constNode flags the node constant with the given payload.
func (s *blockSim) constNode(n int32, v ConstValue) {
	s.c.nodes[n].Const = v
	s.c.nodes[n].Flags |= NodeConstant
}

// multinamePops pops the runtime name and namespace operands of mn, in
// that order, appending to popped.
func (s *blockSim) multinamePops(i int32, mnIndex int32, popped []int32) ([]int32, DataType, DataType, error) {
	mn, err := s.c.file.ConstMultiname(uint32(mnIndex))
	if err != nil {
		return nil, TypeUnknown, TypeUnknown, errAt(ErrConstantPoolIndex, i, "multiname %d: %v", mnIndex, err)
	}
	nameType, nsType := TypeUnknown, TypeUnknown
	if mn != nil && mn.HasRuntimeName() {
		n, perr := s.pop(i)
		if perr != nil {
			return nil, 0, 0, perr
		}
		popped = append(popped, n)
		nameType = s.c.nodes[n].Type
	}
	if mn != nil && mn.HasRuntimeNS() {
		n, perr := s.pop(i)
		if perr != nil {
			return nil, 0, 0, perr
		}
		popped = append(popped, n)
		nsType = s.c.nodes[n].Type
	}
	return popped, nameType, nsType, nil
}

// step simulates one instruction, recording popped inputs, the pushed
// output, and local/scope updates.
func (s *blockSim) step(i int32) error {
	c := s.c
	ins := &c.instrs[i]
	op := ins.Op

	switch op {
	case opcode.NOP, opcode.LABEL, opcode.BKPT, opcode.BKPTLINE,
		opcode.DEBUG, opcode.DEBUGLINE, opcode.DEBUGFILE, opcode.JUMP:
		return nil

	case opcode.PUSHBYTE, opcode.PUSHSHORT:
		n := s.push(i, TypeInt)
		s.constNode(n, ConstValue{I: ins.ImmA})
	case opcode.PUSHINT:
		v, err := c.file.ConstInt(uint32(ins.ImmA))
		if err != nil {
			return errAt(ErrConstantPoolIndex, i, "int %d: %v", ins.ImmA, err)
		}
		s.constNode(s.push(i, TypeInt), ConstValue{I: v})
	case opcode.PUSHUINT:
		v, err := c.file.ConstUint(uint32(ins.ImmA))
		if err != nil {
			return errAt(ErrConstantPoolIndex, i, "uint %d: %v", ins.ImmA, err)
		}
		s.constNode(s.push(i, TypeUint), ConstValue{U: v})
	case opcode.PUSHDOUBLE:
		d := math.NaN()
		if ins.ImmA != nanDoubleIndex {
			v, err := c.file.ConstDouble(uint32(ins.ImmA))
			if err != nil {
				return errAt(ErrConstantPoolIndex, i, "double %d: %v", ins.ImmA, err)
			}
			d = v
		}
		s.constNode(s.push(i, TypeNumber), ConstValue{D: d})
	case opcode.PUSHSTRING:
		v, err := c.file.ConstString(uint32(ins.ImmA))
		if err != nil {
			return errAt(ErrConstantPoolIndex, i, "string %d: %v", ins.ImmA, err)
		}
		s.constNode(s.push(i, TypeString), ConstValue{S: v})
	case opcode.PUSHNAMESPACE:
		v, err := c.file.ConstNamespace(uint32(ins.ImmA))
		if err != nil {
			return errAt(ErrConstantPoolIndex, i, "namespace %d: %v", ins.ImmA, err)
		}
		s.constNode(s.push(i, TypeNamespace), ConstValue{NS: v})
	case opcode.PUSHTRUE:
		s.constNode(s.push(i, TypeBool), ConstValue{B: true})
	case opcode.PUSHFALSE:
		s.constNode(s.push(i, TypeBool), ConstValue{B: false})
	case opcode.PUSHNULL:
		s.constNode(s.push(i, TypeNull), ConstValue{})
	case opcode.PUSHUNDEFINED:
		s.constNode(s.push(i, TypeUndefined), ConstValue{})

	case opcode.GETLOCAL:
		idx, err := s.localIndex(i, ins.ImmA)
		if err != nil {
			return err
		}
		src := s.locals[idx]
		out := s.push(i, c.nodes[src].Type)
		c.nodes[out].Class = c.nodes[src].Class
		if c.nodes[src].IsConstant() {
			c.nodes[out].Const = c.nodes[src].Const
			c.nodes[out].Flags |= NodeConstant
		}
		c.addDef(out, NodeRef(src))
		c.addUse(src, NodeRef(out))
	case opcode.SETLOCAL:
		idx, err := s.localIndex(i, ins.ImmA)
		if err != nil {
			return err
		}
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.writeLocal(i, idx, c.nodes[v].Type, v)
	case opcode.KILL:
		idx, err := s.localIndex(i, ins.ImmA)
		if err != nil {
			return err
		}
		s.writeLocal(i, idx, TypeUndefined, -1)
	case opcode.INCLOCAL, opcode.DECLOCAL:
		idx, err := s.localIndex(i, ins.ImmA)
		if err != nil {
			return err
		}
		old := s.locals[idx]
		c.addUse(old, InstrRef(i))
		s.writeLocal(i, idx, TypeNumber, -1)
	case opcode.INCLOCAL_I, opcode.DECLOCAL_I:
		idx, err := s.localIndex(i, ins.ImmA)
		if err != nil {
			return err
		}
		old := s.locals[idx]
		c.addUse(old, InstrRef(i))
		s.writeLocal(i, idx, TypeInt, -1)
	case opcode.HASNEXT2:
		oidx, err := s.localIndex(i, ins.ImmA)
		if err != nil {
			return err
		}
		iidx, err := s.localIndex(i, ins.ImmB)
		if err != nil {
			return err
		}
		c.addUse(s.locals[oidx], InstrRef(i))
		c.addUse(s.locals[iidx], InstrRef(i))
		s.writeLocal(i, oidx, TypeAny, -1)
		s.writeLocal(i, iidx, TypeInt, -1)
		s.push(i, TypeBool)

	case opcode.PUSHSCOPE, opcode.PUSHWITH:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		n := c.newNode(Slot{Kind: SlotScope, Index: int32(len(s.scope))}, c.nodes[v].Type)
		c.nodes[n].Class = c.nodes[v].Class
		if op == opcode.PUSHWITH {
			c.nodes[n].Flags |= NodeWithScope
		}
		c.addDef(n, NodeRef(v))
		c.addUse(v, NodeRef(n))
		s.scope = append(s.scope, n)
	case opcode.POPSCOPE:
		if len(s.scope) == 0 {
			return errAt(ErrScopeUnderflow, i, "scope stack underflow")
		}
		s.scope = s.scope[:len(s.scope)-1]
	case opcode.GETSCOPEOBJECT:
		idx := ins.ImmA
		if idx < 0 || int(idx) >= len(s.scope) {
			return errAt(ErrScopeUnderflow, i, "scope index %d out of range (%d deep)", idx, len(s.scope))
		}
		src := s.scope[idx]
		out := s.push(i, c.nodes[src].Type)
		c.nodes[out].Class = c.nodes[src].Class
		c.addDef(out, NodeRef(src))
		c.addUse(src, NodeRef(out))
	case opcode.GETGLOBALSCOPE:
		s.push(i, TypeGlobal)

	case opcode.POP:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
	case opcode.DUP:
		if len(s.stack) == 0 {
			return errAt(ErrStackUnderflow, i, "dup on empty stack")
		}
		src := s.stack[len(s.stack)-1]
		out := s.push(i, c.nodes[src].Type)
		c.nodes[out].Class = c.nodes[src].Class
		if c.nodes[src].IsConstant() {
			c.nodes[out].Const = c.nodes[src].Const
			c.nodes[out].Flags |= NodeConstant
		}
		c.addDef(out, NodeRef(src))
		c.addUse(src, NodeRef(out))
	case opcode.SWAP:
		if len(s.stack) < 2 {
			return errAt(ErrStackUnderflow, i, "swap needs two operands")
		}
		n := len(s.stack)
		s.stack[n-1], s.stack[n-2] = s.stack[n-2], s.stack[n-1]

	case opcode.ADD, opcode.SUBTRACT, opcode.MULTIPLY, opcode.DIVIDE, opcode.MODULO,
		opcode.ADD_I, opcode.SUBTRACT_I, opcode.MULTIPLY_I,
		opcode.LSHIFT, opcode.RSHIFT, opcode.URSHIFT,
		opcode.BITAND, opcode.BITOR, opcode.BITXOR:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		y, x := popped[0], popped[1]
		typ := binaryType(op, c.nodes[x].Type, c.nodes[y].Type)
		out := s.push(i, typ)
		s.foldBinary(i, op, out, x, y)

	case opcode.NEGATE, opcode.INCREMENT, opcode.DECREMENT:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.push(i, TypeNumber)
	case opcode.NEGATE_I, opcode.INCREMENT_I, opcode.DECREMENT_I, opcode.BITNOT:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		out := s.push(i, TypeInt)
		if op == opcode.NEGATE_I && c.nodes[v].IsConstant() && c.nodes[v].Type == TypeInt {
			s.constNode(out, ConstValue{I: -c.nodes[v].Const.I})
		}

	case opcode.EQUALS, opcode.STRICTEQUALS, opcode.LESSTHAN, opcode.LESSEQUALS,
		opcode.GREATERTHAN, opcode.GREATEREQUALS, opcode.INSTANCEOF,
		opcode.ISTYPELATE, opcode.IN:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		y, x := popped[0], popped[1]
		out := s.push(i, TypeBool)
		s.foldCompare(i, op, out, x, y)
	case opcode.NOT:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		out := s.push(i, TypeBool)
		if c.nodes[v].IsConstant() && c.nodes[v].Type == TypeBool {
			s.constNode(out, ConstValue{B: !c.nodes[v].Const.B})
		}
	case opcode.TYPEOF:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.push(i, TypeString)
	case opcode.ISTYPE:
		popped, _, _, err := s.multinamePops(i, ins.ImmA, nil)
		if err != nil {
			return err
		}
		obj, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, append(popped, obj))
		s.push(i, TypeBool)

	case opcode.CONVERT_I:
		return s.convert(i, TypeInt)
	case opcode.CONVERT_U:
		return s.convert(i, TypeUint)
	case opcode.CONVERT_D:
		return s.convert(i, TypeNumber)
	case opcode.CONVERT_B:
		return s.convert(i, TypeBool)
	case opcode.CONVERT_S:
		if err := s.convert(i, TypeString); err != nil {
			return err
		}
		c.nodes[ins.Push].Flags |= NodePushConvertString
		return nil
	case opcode.COERCE_S:
		return s.convert(i, TypeString)
	case opcode.CONVERT_O, opcode.COERCE_O, opcode.CHECKFILTER:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		out := s.push(i, c.nodes[v].Type)
		c.nodes[out].Class = c.nodes[v].Class
	case opcode.COERCE_A:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.push(i, TypeAny)
	case opcode.ESC_XELEM, opcode.ESC_XATTR:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.push(i, TypeString)
	case opcode.COERCE, opcode.ASTYPE:
		popped, _, _, err := s.multinamePops(i, ins.ImmA, nil)
		if err != nil {
			return err
		}
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, append(popped, v))
		s.push(i, TypeAny) // the analyzer narrows to the coerced class
	case opcode.ASTYPELATE:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeAny)

	case opcode.IFTRUE, opcode.IFFALSE:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
	case opcode.IFEQ, opcode.IFNE, opcode.IFLT, opcode.IFLE, opcode.IFGT, opcode.IFGE,
		opcode.IFNLT, opcode.IFNLE, opcode.IFNGT, opcode.IFNGE,
		opcode.IFSTRICTEQ, opcode.IFSTRICTNE:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
	case opcode.LOOKUPSWITCH:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})

	case opcode.RETURNVALUE, opcode.THROW, opcode.DXNSLATE:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
	case opcode.RETURNVOID, opcode.DXNS:
		return nil

	case opcode.GETPROPERTY, opcode.GETDESCENDANTS:
		popped, _, _, err := s.multinamePops(i, ins.ImmA, nil)
		if err != nil {
			return err
		}
		obj, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, append(popped, obj))
		s.push(i, TypeAny)
	case opcode.GETSUPER:
		popped, _, _, err := s.multinamePops(i, ins.ImmA, nil)
		if err != nil {
			return err
		}
		obj, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, append(popped, obj))
		s.push(i, TypeAny)
	case opcode.SETPROPERTY, opcode.INITPROPERTY, opcode.SETSUPER:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		popped, _, _, err := s.multinamePops(i, ins.ImmA, []int32{v})
		if err != nil {
			return err
		}
		obj, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, append(popped, obj))
	case opcode.DELETEPROPERTY:
		popped, _, _, err := s.multinamePops(i, ins.ImmA, nil)
		if err != nil {
			return err
		}
		obj, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, append(popped, obj))
		s.push(i, TypeBool)
	case opcode.FINDPROPERTY, opcode.FINDPROPSTRICT:
		popped, _, _, err := s.multinamePops(i, ins.ImmA, nil)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeAny)
	case opcode.FINDDEF, opcode.GETLEX:
		s.push(i, TypeAny)
	case opcode.GETSLOT:
		obj, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{obj})
		s.push(i, TypeAny)
	case opcode.SETSLOT:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
	case opcode.GETGLOBALSLOT:
		s.push(i, TypeAny)
	case opcode.SETGLOBALSLOT:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})

	case opcode.CALL:
		popped, err := s.popN(i, int(ins.ImmA)+2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeAny)
	case opcode.CONSTRUCT:
		popped, err := s.popN(i, int(ins.ImmA)+1)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeAny)
	case opcode.CONSTRUCTSUPER:
		popped, err := s.popN(i, int(ins.ImmA)+1)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
	case opcode.CALLMETHOD, opcode.CALLSTATIC:
		popped, err := s.popN(i, int(ins.ImmB)+1)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeAny)
	case opcode.CALLPROPERTY, opcode.CALLPROPLEX, opcode.CALLSUPER,
		opcode.CALLPROPVOID, opcode.CALLSUPERVOID, opcode.CONSTRUCTPROP:
		popped, err := s.popN(i, int(ins.ImmB))
		if err != nil {
			return err
		}
		popped, _, _, err = s.multinamePops(i, ins.ImmA, popped)
		if err != nil {
			return err
		}
		obj, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, append(popped, obj))
		if op != opcode.CALLPROPVOID && op != opcode.CALLSUPERVOID {
			s.push(i, TypeAny)
		}
	case opcode.APPLYTYPE:
		popped, err := s.popN(i, int(ins.ImmA)+1)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeClass)

	case opcode.NEWARRAY:
		popped, err := s.popN(i, int(ins.ImmA))
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		out := s.push(i, TypeObject)
		c.nodes[out].Class = c.world.Builtin("Array")
		c.nodes[out].Flags |= NodeNotNull
	case opcode.NEWOBJECT:
		popped, err := s.popN(i, int(ins.ImmA)*2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		out := s.push(i, TypeObject)
		c.nodes[out].Class = c.world.Builtin("Object")
		c.nodes[out].Flags |= NodeNotNull
	case opcode.NEWACTIVATION, opcode.NEWCATCH:
		out := s.push(i, TypeObject)
		c.nodes[out].Class = c.world.Builtin("Object")
		c.nodes[out].Flags |= NodeNotNull
	case opcode.NEWFUNCTION:
		out := s.push(i, TypeFunction)
		c.nodes[out].Flags |= NodeNotNull
	case opcode.NEWCLASS:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.push(i, TypeClass)

	case opcode.NEXTNAME, opcode.NEXTVALUE:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeAny)
	case opcode.HASNEXT:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)
		s.push(i, TypeInt)

	case opcode.LI8, opcode.LI16, opcode.LI32, opcode.SXI1, opcode.SXI8, opcode.SXI16:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.push(i, TypeInt)
	case opcode.LF32, opcode.LF64:
		v, err := s.pop(i)
		if err != nil {
			return err
		}
		s.useAll(i, []int32{v})
		s.push(i, TypeNumber)
	case opcode.SI8, opcode.SI16, opcode.SI32, opcode.SF32, opcode.SF64:
		popped, err := s.popN(i, 2)
		if err != nil {
			return err
		}
		s.useAll(i, popped)

	default:
		// defensive: decoded opcodes are all covered above
		return errAt(ErrInvalidOpcodeReachable, i, "unhandled opcode %v", op)
	}
	return nil
}

// convert pops one value and pushes its conversion to typ, folding
// constants.
func (s *blockSim) convert(i int32, typ DataType) error {
	c := s.c
	v, err := s.pop(i)
	if err != nil {
		return err
	}
	s.useAll(i, []int32{v})
	out := s.push(i, typ)
	vn := &c.nodes[v]
	if !vn.IsConstant() {
		return nil
	}
	if cv, ok := convertConst(vn.Type, vn.Const, typ); ok {
		s.constNode(out, cv)
	}
	return nil
}

// numValue widens a constant numeric payload to float64.
func numValue(t DataType, v ConstValue) (float64, bool) {
	switch t {
	case TypeInt:
		return float64(v.I), true
	case TypeUint:
		return float64(v.U), true
	case TypeNumber:
		return v.D, true
	case TypeBool:
		if v.B {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func convertConst(from DataType, v ConstValue, to DataType) (ConstValue, bool) {
	switch to {
	case TypeInt:
		if d, ok := numValue(from, v); ok {
			return ConstValue{I: int32(toInt32(d))}, true
		}
	case TypeUint:
		if d, ok := numValue(from, v); ok {
			return ConstValue{U: uint32(toInt32(d))}, true
		}
	case TypeNumber:
		if d, ok := numValue(from, v); ok {
			return ConstValue{D: d}, true
		}
	case TypeBool:
		if d, ok := numValue(from, v); ok {
			return ConstValue{B: d != 0 && !math.IsNaN(d)}, true
		}
	}
	return ConstValue{}, false
}

// toInt32 applies the ECMAScript ToInt32 truncation.
func toInt32(d float64) int32 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return int32(int64(d))
}

// binaryType infers the output tag of a two-operand arithmetic opcode.
func binaryType(op opcode.Opcode, x, y DataType) DataType {
	switch op {
	case opcode.ADD:
		switch {
		case x == TypeString && y == TypeString:
			return TypeString
		case x == TypeString || y == TypeString:
			return TypeString
		case x == TypeInt && y == TypeInt:
			return TypeInt
		case x == TypeUint && y == TypeUint:
			return TypeUint
		case x.IsNumeric() && y.IsNumeric():
			return TypeNumber
		default:
			return TypeAny
		}
	case opcode.ADD_I, opcode.SUBTRACT_I, opcode.MULTIPLY_I,
		opcode.LSHIFT, opcode.RSHIFT, opcode.BITAND, opcode.BITOR, opcode.BITXOR:
		return TypeInt
	case opcode.URSHIFT:
		return TypeUint
	default:
		return TypeNumber
	}
}

// foldBinary performs constant propagation for arithmetic opcodes. When
// both inputs are constants the output becomes a constant; single-use
// constant inputs are additionally marked no-push so the generator can
// omit their stack traffic.
func (s *blockSim) foldBinary(i int32, op opcode.Opcode, out, x, y int32) {
	c := s.c
	xn, yn := &c.nodes[x], &c.nodes[y]
	if !xn.IsConstant() || !yn.IsConstant() {
		return
	}
	xv, xok := numValue(xn.Type, xn.Const)
	yv, yok := numValue(yn.Type, yn.Const)

	outType := c.nodes[out].Type
	if op == opcode.ADD && outType == TypeString {
		if xn.Type == TypeString && yn.Type == TypeString {
			s.constNode(out, ConstValue{S: xn.Const.S + yn.Const.S})
			s.markFoldedInputs(i, x, y)
		}
		return
	}
	if !xok || !yok {
		return
	}

	var cv ConstValue
	switch op {
	case opcode.ADD, opcode.SUBTRACT, opcode.MULTIPLY, opcode.DIVIDE, opcode.MODULO:
		var d float64
		switch op {
		case opcode.ADD:
			d = xv + yv
		case opcode.SUBTRACT:
			d = xv - yv
		case opcode.MULTIPLY:
			d = xv * yv
		case opcode.DIVIDE:
			d = xv / yv
		case opcode.MODULO:
			d = math.Mod(xv, yv)
		}
		switch outType {
		case TypeInt:
			cv = ConstValue{I: toInt32(d)}
		case TypeUint:
			cv = ConstValue{U: uint32(toInt32(d))}
		default:
			cv = ConstValue{D: d}
		}
	case opcode.ADD_I:
		cv = ConstValue{I: toInt32(xv) + toInt32(yv)}
	case opcode.SUBTRACT_I:
		cv = ConstValue{I: toInt32(xv) - toInt32(yv)}
	case opcode.MULTIPLY_I:
		cv = ConstValue{I: toInt32(xv) * toInt32(yv)}
	case opcode.LSHIFT:
		cv = ConstValue{I: toInt32(xv) << (uint32(toInt32(yv)) & 31)}
	case opcode.RSHIFT:
		cv = ConstValue{I: toInt32(xv) >> (uint32(toInt32(yv)) & 31)}
	case opcode.URSHIFT:
		cv = ConstValue{U: uint32(toInt32(xv)) >> (uint32(toInt32(yv)) & 31)}
	case opcode.BITAND:
		cv = ConstValue{I: toInt32(xv) & toInt32(yv)}
	case opcode.BITOR:
		cv = ConstValue{I: toInt32(xv) | toInt32(yv)}
	case opcode.BITXOR:
		cv = ConstValue{I: toInt32(xv) ^ toInt32(yv)}
	default:
		return
	}
	s.constNode(out, cv)
	s.markFoldedInputs(i, x, y)
}

// foldCompare performs constant propagation for comparison opcodes.
func (s *blockSim) foldCompare(i int32, op opcode.Opcode, out, x, y int32) {
	c := s.c
	xn, yn := &c.nodes[x], &c.nodes[y]
	if !xn.IsConstant() || !yn.IsConstant() {
		return
	}
	xv, xok := numValue(xn.Type, xn.Const)
	yv, yok := numValue(yn.Type, yn.Const)
	if !xok || !yok {
		return
	}
	var b bool
	switch op {
	case opcode.EQUALS, opcode.STRICTEQUALS:
		b = xv == yv
	case opcode.LESSTHAN:
		b = xv < yv
	case opcode.LESSEQUALS:
		b = xv <= yv
	case opcode.GREATERTHAN:
		b = xv > yv
	case opcode.GREATEREQUALS:
		b = xv >= yv
	default:
		return
	}
	s.constNode(out, ConstValue{B: b})
	s.markFoldedInputs(i, x, y)
}

// markFoldedInputs marks constant inputs consumed only by the folded
// instruction as no-push.
func (s *blockSim) markFoldedInputs(i int32, inputs ...int32) {
	c := s.c
	for _, in := range inputs {
		uses := c.dyn.Get(c.nodes[in].Uses)
		if len(uses) == 1 && DataNodeOrInstrRef(uses[0]) == InstrRef(i) {
			c.nodes[in].Flags |= NodeNoPush
		}
	}
}
