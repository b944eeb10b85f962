package compiler

import (
	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/opcode"
	"github.com/jfd16/mariana-go/abc/registry"
)

func (g *generator) in(i int32) []int32 { return g.c.staticInts.Get(g.c.instrs[i].StackIn) }

func (g *generator) node(id int32) *DataNode { return &g.c.nodes[id] }

// emitPushCoerce appends the conversion a consuming context mandated on
// the pushed value.
func (g *generator) emitPushCoerce(n *DataNode) {
	if n.PushCoerce != TypeUnknown {
		g.emitCoerce(n.Type, n.Class, n.PushCoerce, n.PushCoerceClass)
		g.lastIsConst = false
	}
}

func foldableOp(op opcode.Opcode) bool {
	switch op {
	case opcode.ADD, opcode.SUBTRACT, opcode.MULTIPLY, opcode.DIVIDE, opcode.MODULO,
		opcode.ADD_I, opcode.SUBTRACT_I, opcode.MULTIPLY_I, opcode.NEGATE_I,
		opcode.LSHIFT, opcode.RSHIFT, opcode.URSHIFT,
		opcode.BITAND, opcode.BITOR, opcode.BITXOR,
		opcode.EQUALS, opcode.STRICTEQUALS, opcode.LESSTHAN, opcode.LESSEQUALS,
		opcode.GREATERTHAN, opcode.GREATEREQUALS, opcode.NOT,
		opcode.CONVERT_I, opcode.CONVERT_U, opcode.CONVERT_D, opcode.CONVERT_B:
		return true
	}
	return false
}

func (g *generator) emitInstr(i int32) error {
	c := g.c
	ins := &c.instrs[i]
	op := ins.Op

	if ins.Push >= 0 {
		pn := g.node(ins.Push)
		if pn.Flags&NodeNoPush != 0 {
			// the folded consumer materializes this constant itself
			return nil
		}
		if pn.IsConstant() && foldableOp(op) {
			// discard any inputs that did reach the stack, then emit the
			// folded result directly
			for _, in := range g.in(i) {
				if g.node(in).Flags&NodeNoPush == 0 {
					g.emit(il.Pop)
				}
			}
			g.emitConstNode(pn)
			g.emitPushCoerce(pn)
			return nil
		}
	}

	switch op {
	case opcode.NOP, opcode.LABEL, opcode.BKPT, opcode.BKPTLINE,
		opcode.DEBUG, opcode.DEBUGLINE, opcode.DEBUGFILE,
		opcode.JUMP, opcode.LOOKUPSWITCH,
		opcode.IFTRUE, opcode.IFFALSE, opcode.IFEQ, opcode.IFNE,
		opcode.IFLT, opcode.IFLE, opcode.IFGT, opcode.IFGE,
		opcode.IFNLT, opcode.IFNLE, opcode.IFNGT, opcode.IFNGE,
		opcode.IFSTRICTEQ, opcode.IFSTRICTNE:
		// control transfers are emitted by the block-exit transition

	case opcode.PUSHBYTE, opcode.PUSHSHORT, opcode.PUSHINT, opcode.PUSHUINT,
		opcode.PUSHDOUBLE, opcode.PUSHSTRING, opcode.PUSHNAMESPACE,
		opcode.PUSHTRUE, opcode.PUSHFALSE, opcode.PUSHNULL, opcode.PUSHUNDEFINED:
		g.emitConstNode(g.node(ins.Push))

	case opcode.GETLOCAL:
		pn := g.node(ins.Push)
		if pn.IsConstant() {
			g.emitConstNode(pn)
		} else {
			g.emitLocal(il.LdLocal, g.slotLocal[ins.ImmA])
		}
	case opcode.SETLOCAL:
		g.emitLocal(il.StLocal, g.slotLocal[ins.ImmA])
		g.syncLocalWrite(ins.Block, ins.ImmA, ins.WriteNode)
	case opcode.KILL:
		g.emit(il.LdUndef)
		g.emitLocal(il.StLocal, g.slotLocal[ins.ImmA])
	case opcode.INCLOCAL, opcode.DECLOCAL:
		g.emitLocal(il.LdLocal, g.slotLocal[ins.ImmA])
		g.emit(il.ConvR8)
		if op == opcode.INCLOCAL {
			g.emit(il.Inc)
		} else {
			g.emit(il.Dec)
		}
		g.emitLocal(il.StLocal, g.slotLocal[ins.ImmA])
		g.syncLocalWrite(ins.Block, ins.ImmA, ins.WriteNode)
	case opcode.INCLOCAL_I, opcode.DECLOCAL_I:
		g.emitLocal(il.LdLocal, g.slotLocal[ins.ImmA])
		g.emit(il.ConvI4)
		if op == opcode.INCLOCAL_I {
			g.emit(il.IncI)
		} else {
			g.emit(il.DecI)
		}
		g.emitLocal(il.StLocal, g.slotLocal[ins.ImmA])
		g.syncLocalWrite(ins.Block, ins.ImmA, ins.WriteNode)
	case opcode.HASNEXT2:
		// both register indices packed into the single operand word
		g.emitInt(il.HasNextEx, int64(g.slotLocal[ins.ImmA])<<32|int64(g.slotLocal[ins.ImmB]))

	case opcode.PUSHSCOPE:
		g.emit(il.PushScope)
	case opcode.PUSHWITH:
		g.emit(il.PushWith)
	case opcode.POPSCOPE:
		g.emit(il.PopScope)
	case opcode.GETSCOPEOBJECT:
		g.emitInt(il.LdScope, int64(ins.ImmA))
	case opcode.GETGLOBALSCOPE:
		g.emit(il.LdGlobal)

	case opcode.POP:
		g.emit(il.Pop)
	case opcode.DUP:
		g.emit(il.Dup)
	case opcode.SWAP:
		g.emit(il.Swap)

	case opcode.ADD:
		g.emitAdd(i)
	case opcode.ADD_I:
		g.emit(il.AddI)
	case opcode.SUBTRACT:
		g.emit(il.Sub)
	case opcode.SUBTRACT_I:
		g.emit(il.SubI)
	case opcode.MULTIPLY:
		g.emit(il.Mul)
	case opcode.MULTIPLY_I:
		g.emit(il.MulI)
	case opcode.DIVIDE:
		g.emit(il.Div)
	case opcode.MODULO:
		g.emit(il.Rem)
	case opcode.NEGATE:
		g.emit(il.Neg)
	case opcode.NEGATE_I:
		g.emit(il.NegI)
	case opcode.INCREMENT:
		g.emit(il.Inc)
	case opcode.DECREMENT:
		g.emit(il.Dec)
	case opcode.INCREMENT_I:
		g.emit(il.IncI)
	case opcode.DECREMENT_I:
		g.emit(il.DecI)
	case opcode.LSHIFT:
		g.emit(il.Shl)
	case opcode.RSHIFT:
		g.emit(il.Shr)
	case opcode.URSHIFT:
		g.emit(il.ShrUn)
	case opcode.BITAND:
		g.emit(il.And)
	case opcode.BITOR:
		g.emit(il.Or)
	case opcode.BITXOR:
		g.emit(il.Xor)
	case opcode.BITNOT:
		g.emit(il.BitNot)

	case opcode.EQUALS:
		g.emit(il.Ceq)
	case opcode.STRICTEQUALS:
		g.emit(il.CeqStrict)
	case opcode.LESSTHAN:
		g.emit(il.Clt)
	case opcode.LESSEQUALS:
		g.emit(il.Cle)
	case opcode.GREATERTHAN:
		g.emit(il.Cgt)
	case opcode.GREATEREQUALS:
		g.emit(il.Cge)
	case opcode.NOT:
		g.emit(il.Not)
	case opcode.TYPEOF:
		g.emit(il.TypeOf)
	case opcode.INSTANCEOF, opcode.ISTYPELATE:
		g.emit(il.IsInstLate)
	case opcode.IN:
		g.emit(il.In)
	case opcode.ISTYPE:
		cls, err := g.namedClass(i, ins.ImmA)
		if err != nil {
			return err
		}
		if cls != nil {
			g.emitType(il.IsInst, g.classToken(cls))
		} else {
			g.emit(il.Pop)
			g.emitConst(il.Instr{Op: il.LdcBool, Int: 1})
		}

	case opcode.CONVERT_I:
		g.emit(il.ConvI4)
	case opcode.CONVERT_U:
		g.emit(il.ConvU4)
	case opcode.CONVERT_D:
		g.emit(il.ConvR8)
	case opcode.CONVERT_B:
		g.emit(il.ConvBool)
	case opcode.CONVERT_S:
		g.emit(il.ConvStr)
	case opcode.COERCE_S:
		g.emit(il.CoerceStr)
	case opcode.CONVERT_O:
		g.emit(il.ConvObj)
	case opcode.COERCE_A, opcode.COERCE_O:
		// representation-preserving
	case opcode.CHECKFILTER:
		g.emit(il.CheckFilter)
	case opcode.ESC_XELEM:
		g.emit(il.EscXElem)
	case opcode.ESC_XATTR:
		g.emit(il.EscXAttr)
	case opcode.COERCE:
		cls, err := g.namedClass(i, ins.ImmA)
		if err != nil {
			return err
		}
		in := g.in(i)
		var ft DataType
		var fc *registry.Class
		if len(in) > 0 {
			ft, fc = g.node(in[len(in)-1]).Type, g.node(in[len(in)-1]).Class
		}
		tt, tc := g.c.classToType(cls)
		g.emitCoerce(ft, fc, tt, tc)
	case opcode.ASTYPE:
		cls, err := g.namedClass(i, ins.ImmA)
		if err != nil {
			return err
		}
		if cls != nil {
			g.emitType(il.AsType, g.classToken(cls))
		}
	case opcode.ASTYPELATE:
		g.emit(il.AsTypeLate)

	case opcode.RETURNVALUE:
		g.emit(il.Ret)
	case opcode.RETURNVOID:
		g.emit(il.RetVoid)
	case opcode.THROW:
		g.emit(il.Throw)

	case opcode.DXNS:
		s, err := c.file.ConstString(uint32(ins.ImmA))
		if err != nil {
			return errAt(ErrConstantPoolIndex, i, "string %d: %v", ins.ImmA, err)
		}
		g.emitStr(il.SetDXNS, s)
	case opcode.DXNSLATE:
		g.emit(il.SetDXNS)

	case opcode.GETPROPERTY, opcode.SETPROPERTY, opcode.INITPROPERTY,
		opcode.DELETEPROPERTY, opcode.CALLPROPERTY, opcode.CALLPROPLEX,
		opcode.CALLPROPVOID, opcode.CALLSUPER, opcode.CALLSUPERVOID,
		opcode.CONSTRUCTPROP, opcode.GETSUPER, opcode.SETSUPER,
		opcode.GETDESCENDANTS:
		return g.emitAccess(i)

	case opcode.GETSLOT:
		g.emitSlotAccess(i, false)
	case opcode.SETSLOT:
		g.emitSlotAccess(i, true)
	case opcode.GETGLOBALSLOT:
		g.emit(il.LdGlobal)
		g.emitInt(il.LdSlot, int64(ins.ImmA))
	case opcode.SETGLOBALSLOT:
		g.emit(il.LdGlobal)
		g.emit(il.Swap)
		g.emitInt(il.StSlot, int64(ins.ImmA))

	case opcode.GETLEX:
		g.emitLex(i)
	case opcode.FINDPROPERTY, opcode.FINDPROPSTRICT, opcode.FINDDEF:
		mn, err := c.file.ConstMultiname(uint32(ins.ImmA))
		if err != nil {
			return errAt(ErrConstantPoolIndex, i, "multiname %d: %v", ins.ImmA, err)
		}
		g.emitStr(il.DynFind, mn.String())

	case opcode.CALL:
		g.emitInt(il.DynCall, int64(ins.ImmA))
	case opcode.CONSTRUCT:
		g.emitInt(il.DynConstruct, int64(ins.ImmA))
	case opcode.CONSTRUCTSUPER:
		g.emitInt(il.CallSuperCtor, int64(ins.ImmA))
	case opcode.CALLMETHOD:
		g.emitInt(il.CallVirt, int64(ins.ImmA)<<32|int64(ins.ImmB))
	case opcode.CALLSTATIC:
		g.emitInt(il.CallStatic, int64(ins.ImmA)<<32|int64(ins.ImmB))
	case opcode.APPLYTYPE:
		g.emitInt(il.ApplyType, int64(ins.ImmA))

	case opcode.NEWARRAY:
		g.emitInt(il.NewArrayLit, int64(ins.ImmA))
	case opcode.NEWOBJECT:
		g.emitInt(il.NewObjectLit, int64(ins.ImmA))
	case opcode.NEWACTIVATION:
		g.emit(il.NewActivationObj)
	case opcode.NEWCATCH:
		g.emitInt(il.NewCatchObj, int64(ins.ImmA))
	case opcode.NEWFUNCTION:
		g.emitInt(il.NewFunc, int64(ins.ImmA))
	case opcode.NEWCLASS:
		g.emitInt(il.NewClassObj, int64(ins.ImmA))

	case opcode.NEXTNAME:
		g.emit(il.NextName)
	case opcode.NEXTVALUE:
		g.emit(il.NextValue)
	case opcode.HASNEXT:
		g.emit(il.HasNextIdx)

	case opcode.LI8, opcode.LI16, opcode.LI32, opcode.LF32, opcode.LF64:
		g.emitMemAccess(op)
	case opcode.SI8, opcode.SI16, opcode.SI32, opcode.SF32, opcode.SF64:
		g.emitMemAccess(op)
	case opcode.SXI1:
		g.emit(il.SignExt1)
	case opcode.SXI8:
		g.emit(il.SignExt8)
	case opcode.SXI16:
		g.emit(il.SignExt16)
	}

	if ins.Push >= 0 {
		g.emitPushCoerce(g.node(ins.Push))
	}
	return nil
}

// emitAdd handles the three shapes of add: numeric addition, plain string
// concatenation, and the n-ary concat collected over a marked chain tree.
func (g *generator) emitAdd(i int32) {
	c := g.c
	ins := &c.instrs[i]
	if g.concatInternal[i] {
		return // the root emits the whole tree
	}
	if n, ok := g.concatLeaves[i]; ok {
		switch {
		case n == 2:
			g.emit(il.ConcatStr2)
		case n == 3:
			g.emit(il.ConcatStr3)
		case n == 4:
			g.emit(il.ConcatStr4)
		default:
			g.emitInt(il.ConcatStrArr, int64(n))
		}
		return
	}
	out := g.node(ins.Push)
	switch out.Type {
	case TypeString:
		g.emit(il.ConcatStr2)
	case TypeInt, TypeUint:
		g.emit(il.AddI)
	default:
		g.emit(il.Add)
	}
}

// emitMemAccess emits the shared bounds check and the load or store. The
// check branches to the single out-of-bounds trap at the method tail.
func (g *generator) emitMemAccess(op opcode.Opcode) {
	var width int64
	var ilOp il.Op
	switch op {
	case opcode.LI8:
		width, ilOp = 1, il.LdMemI8
	case opcode.LI16:
		width, ilOp = 2, il.LdMemI16
	case opcode.LI32:
		width, ilOp = 4, il.LdMemI32
	case opcode.LF32:
		width, ilOp = 4, il.LdMemF32
	case opcode.LF64:
		width, ilOp = 8, il.LdMemF64
	case opcode.SI8:
		width, ilOp = 1, il.StMemI8
	case opcode.SI16:
		width, ilOp = 2, il.StMemI16
	case opcode.SI32:
		width, ilOp = 4, il.StMemI32
	case opcode.SF32:
		width, ilOp = 4, il.StMemF32
	case opcode.SF64:
		width, ilOp = 8, il.StMemF64
	}
	g.emitInt(il.ChkBounds, width)
	g.emitBranch(il.BrFalse, g.oob)
	g.oobUsed = true
	g.emit(ilOp)
}

// namedClass resolves a type multiname immediate, allowing the any type.
func (g *generator) namedClass(i, mnIndex int32) (*registry.Class, error) {
	mn, err := g.c.file.ConstMultiname(uint32(mnIndex))
	if err != nil {
		return nil, errAt(ErrConstantPoolIndex, i, "multiname %d: %v", mnIndex, err)
	}
	if mn == nil || mn.HasRuntimeName() || mn.HasRuntimeNS() {
		return nil, nil
	}
	cls, cerr := g.c.world.ClassByMultiname(mn, true)
	if cerr != nil {
		return nil, errAt(ErrClassNotFound, i, "type %v: %v", mn, cerr)
	}
	return cls, nil
}

func (g *generator) resolvedOf(i int32) *ResolvedProperty {
	if r := g.c.instrs[i].Resolved; r >= 0 {
		return &g.c.props[r]
	}
	return nil
}

func (g *generator) memberSym(t *registry.Trait) string {
	return g.c.mangler.Name(t.NS, t.Name)
}

// emitAccess lowers a property access site according to its resolution.
func (g *generator) emitAccess(i int32) error {
	c := g.c
	ins := &c.instrs[i]
	op := ins.Op
	rp := g.resolvedOf(i)
	mn, err := c.file.ConstMultiname(uint32(ins.ImmA))
	if err != nil {
		return errAt(ErrConstantPoolIndex, i, "multiname %d: %v", ins.ImmA, err)
	}
	mnStr := mn.String()
	argc := int64(ins.ImmB)

	kind := PropRuntime
	if rp != nil {
		kind = rp.Kind
	}

	switch op {
	case opcode.GETPROPERTY, opcode.GETSUPER, opcode.GETDESCENDANTS:
		switch {
		case op == opcode.GETDESCENDANTS:
			g.emitStr(il.DynDescendants, mnStr)
		case kind == PropTrait && rp.Trait != nil:
			g.emitTraitLoad(rp.Trait, op == opcode.GETSUPER)
		case kind == PropIndex:
			g.emit(il.LdElem)
		case kind == PropIntrinsic:
			g.emitInt(il.Intrinsic, int64(rp.Intrinsic))
		default:
			g.emitStr(il.DynGet, mnStr)
		}

	case opcode.SETPROPERTY, opcode.INITPROPERTY, opcode.SETSUPER:
		switch {
		case kind == PropTrait && rp.Trait != nil:
			g.emitTraitStore(rp.Trait, op == opcode.SETSUPER)
		case kind == PropIndex:
			g.emit(il.StElem)
		default:
			g.emitStr(il.DynSet, mnStr)
		}

	case opcode.DELETEPROPERTY:
		g.emitStr(il.DynDelete, mnStr)

	case opcode.CALLPROPERTY, opcode.CALLPROPLEX, opcode.CALLPROPVOID,
		opcode.CALLSUPER, opcode.CALLSUPERVOID:
		void := op == opcode.CALLPROPVOID || op == opcode.CALLSUPERVOID
		switch {
		case kind == PropIntrinsic:
			g.emitInt(il.Intrinsic, int64(rp.Intrinsic))
			if void {
				g.emit(il.Pop)
			}
		case kind == PropTrait && rp.Trait != nil && rp.Trait.Kind == registry.TraitMethod:
			t := rp.Trait
			if t.Sig != nil && !t.Sig.AcceptsArgCount(int(argc)) {
				// compiles to the equivalent runtime failure instead of
				// failing the whole compilation
				g.emitInt(il.ThrowError, rteArgCountMismatch)
				return nil
			}
			callOp := il.CallVirt
			if t.Static {
				callOp = il.CallStatic
			} else if op == opcode.CALLSUPER || op == opcode.CALLSUPERVOID {
				callOp = il.Call
			}
			g.emitStr(callOp, g.memberSym(t))
			if void && t.Sig != nil && t.Sig.ReturnType != c.world.Builtin("void") {
				g.emit(il.Pop)
			}
		case kind == PropTraitRTInvoke && rp.Trait != nil:
			g.emitTraitLoad(rp.Trait, false)
			g.emitInt(il.DynCall, argc)
			if void {
				g.emit(il.Pop)
			}
		default:
			g.emitStr(il.DynCall, mnStr)
			if void {
				g.emit(il.Pop)
			}
		}

	case opcode.CONSTRUCTPROP:
		switch {
		case kind == PropIntrinsic:
			g.emitInt(il.Intrinsic, int64(rp.Intrinsic))
		case kind == PropUnknown:
			g.emitInt(il.ThrowError, rteNotInstantiable)
		case kind == PropTrait && rp.Trait != nil && rp.Trait.Class != nil:
			target := rp.Trait.Class
			if ctor := target.Constructor; ctor != nil && !ctor.AcceptsArgCount(int(argc)) {
				g.emitInt(il.ThrowError, rteArgCountMismatch)
				return nil
			}
			g.emitStr(il.NewObj, g.c.mangler.TypeName(target.NS, target.Name))
		default:
			g.emitStr(il.DynConstruct, mnStr)
		}
	}
	return nil
}

func (g *generator) emitTraitLoad(t *registry.Trait, super bool) {
	switch t.Kind {
	case registry.TraitField, registry.TraitConst:
		if t.Static {
			g.emitStr(il.LdSFld, g.memberSym(t))
		} else {
			g.emitStr(il.LdFld, g.memberSym(t))
		}
	case registry.TraitGetter:
		op := il.CallVirt
		if t.Static {
			op = il.CallStatic
		} else if super {
			op = il.Call
		}
		g.emitStr(op, g.memberSym(t))
	case registry.TraitMethod:
		// a method loaded as a value is a bound closure
		g.emitStr(il.LdFld, g.memberSym(t))
	case registry.TraitClass:
		g.emitType(il.LdType, g.classToken(t.Class))
	}
}

func (g *generator) emitTraitStore(t *registry.Trait, super bool) {
	switch t.Kind {
	case registry.TraitSetter:
		op := il.CallVirt
		if t.Static {
			op = il.CallStatic
		} else if super {
			op = il.Call
		}
		g.emitStr(op, g.memberSym(t))
	default:
		if t.Static {
			g.emitStr(il.StSFld, g.memberSym(t))
		} else {
			g.emitStr(il.StFld, g.memberSym(t))
		}
	}
}

// emitSlotAccess lowers getslot/setslot through the trait binding when one
// was found.
func (g *generator) emitSlotAccess(i int32, store bool) {
	ins := &g.c.instrs[i]
	rp := g.resolvedOf(i)
	if rp != nil && rp.Kind == PropTrait && rp.Trait != nil {
		if store {
			g.emitTraitStore(rp.Trait, false)
		} else {
			g.emitTraitLoad(rp.Trait, false)
		}
		return
	}
	if store {
		g.emitInt(il.StSlot, int64(ins.ImmA))
	} else {
		g.emitInt(il.LdSlot, int64(ins.ImmA))
	}
}

// emitLex lowers getlex: known classes load their type object directly,
// anything else is a scope lookup plus a dynamic get.
func (g *generator) emitLex(i int32) {
	ins := &g.c.instrs[i]
	rp := g.resolvedOf(i)
	if rp != nil && rp.Kind == PropTrait && rp.Trait != nil && rp.Trait.Class != nil {
		g.emitType(il.LdType, g.classToken(rp.Trait.Class))
		return
	}
	mn, err := g.c.file.ConstMultiname(uint32(ins.ImmA))
	name := "*"
	if err == nil && mn != nil {
		name = mn.String()
	}
	g.emitStr(il.DynFind, name)
	g.emitStr(il.DynGet, name)
}
