package compiler

import (
	"strconv"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/opcode"
	"github.com/jfd16/mariana-go/abc/registry"
)

// contexter is implemented by registries that hand out scoped read
// handles; the analyzer holds one only across a single resolution.
type contexter interface {
	Context() *registry.Ctx
}

// Analyze resolves every property-naming instruction to a
// ResolvedProperty, drives type inference from the resolutions, assigns
// mandated on-push coercions, and settles phi types to a fixed point.
func (c *MethodCompilation) Analyze() error {
	c.classTraits = make(map[*registry.Class]*registry.Trait)
	for _, bid := range c.rpoBlocks() {
		b := &c.blocks[bid]
		for i := b.FirstInstr; i < b.FirstInstr+b.InstrCount; i++ {
			if err := c.analyzeInstr(i); err != nil {
				return err
			}
		}
	}
	c.settlePhiTypes()
	return nil
}

func (c *MethodCompilation) analyzeInstr(i int32) error {
	ins := &c.instrs[i]
	switch ins.Op {
	case opcode.GETPROPERTY:
		return c.resolveAccess(i, false, false)
	case opcode.SETPROPERTY, opcode.INITPROPERTY:
		return c.resolveAccess(i, false, false)
	case opcode.DELETEPROPERTY, opcode.GETDESCENDANTS, opcode.ISTYPE,
		opcode.GETSUPER, opcode.SETSUPER:
		return c.resolveAccess(i, false, false)
	case opcode.CALLPROPERTY, opcode.CALLPROPLEX, opcode.CALLPROPVOID,
		opcode.CALLSUPER, opcode.CALLSUPERVOID:
		return c.resolveAccess(i, true, false)
	case opcode.CONSTRUCTPROP:
		return c.resolveAccess(i, true, true)
	case opcode.GETSLOT, opcode.SETSLOT, opcode.GETGLOBALSLOT, opcode.SETGLOBALSLOT:
		return c.resolveSlot(i)
	case opcode.GETLEX:
		return c.resolveLex(i)
	case opcode.FINDPROPERTY, opcode.FINDPROPSTRICT, opcode.FINDDEF:
		return c.resolveFind(i)
	case opcode.COERCE, opcode.ASTYPE:
		return c.resolveCoerce(i)
	case opcode.RETURNVALUE:
		return c.coerceReturn(i)
	}
	return nil
}

// effectiveClass maps a node to the class its members resolve against.
// Class-typed nodes resolve against the class's static traits.
func (c *MethodCompilation) effectiveClass(n *DataNode) (*registry.Class, bool) {
	switch n.Type {
	case TypeObject, TypeThis:
		return n.Class, false
	case TypeClass:
		if n.IsConstant() {
			return n.Const.Class, true
		}
		return nil, true
	case TypeInt:
		return c.world.Builtin("int"), false
	case TypeUint:
		return c.world.Builtin("uint"), false
	case TypeNumber:
		return c.world.Builtin("Number"), false
	case TypeBool:
		return c.world.Builtin("Boolean"), false
	case TypeString:
		return c.world.Builtin("String"), false
	case TypeNamespace:
		return c.world.Builtin("Namespace"), false
	case TypeQName:
		return c.world.Builtin("QName"), false
	case TypeFunction:
		return c.world.Builtin("Function"), false
	case TypeRest:
		return c.world.Builtin("Array"), false
	}
	return nil, false
}

// mnNamespaces returns the candidate namespace set of a multiname.
func mnNamespaces(mn *abcfile.Multiname) []*abcfile.Namespace {
	if mn.NS != nil {
		return []*abcfile.Namespace{mn.NS}
	}
	return mn.NSSet
}

// resolveAccess binds a property get/set/call/construct site and refines
// the output node type.
func (c *MethodCompilation) resolveAccess(i int32, invoke, construct bool) error {
	ins := &c.instrs[i]
	mn, err := c.file.ConstMultiname(uint32(ins.ImmA))
	if err != nil {
		return errAt(ErrConstantPoolIndex, i, "multiname %d: %v", ins.ImmA, err)
	}
	if mn == nil {
		return nil
	}
	in := c.staticInts.Get(ins.StackIn)
	if len(in) == 0 {
		return nil
	}
	objNode := &c.nodes[in[len(in)-1]]

	var rtNS, rtName DataType
	p := 0
	argc := int32(0)
	switch {
	case invoke || construct:
		argc = ins.ImmB
		p = int(argc)
	case ins.Op == opcode.SETPROPERTY || ins.Op == opcode.INITPROPERTY ||
		ins.Op == opcode.SETSUPER:
		p = 1 // the assigned value precedes any runtime name parts
	}
	if mn.HasRuntimeName() && p < len(in) {
		rtName = c.nodes[in[p]].Type
		p++
	}
	if mn.HasRuntimeNS() && p < len(in) {
		rtNS = c.nodes[in[p]].Type
	}

	rp := c.bindProperty(mn, objNode, rtNS, rtName, invoke, construct)
	ins.Resolved = c.internProp(rp)
	c.inferAccessType(i, mn, &rp, argc)
	return nil
}

// bindProperty implements the resolution rules: TRAIT for visible named
// traits, INDEX for numeric access on indexable types, INTRINSIC for
// recognized built-in call patterns, RUNTIME otherwise.
func (c *MethodCompilation) bindProperty(mn *abcfile.Multiname, objNode *DataNode, rtNS, rtName DataType, invoke, construct bool) ResolvedProperty {
	cls, isStatic := c.effectiveClass(objNode)
	rp := ResolvedProperty{
		ObjType:    objNode.Type,
		RTNSType:   rtNS,
		RTNameType: rtName,
		Class:      cls,
		Kind:       PropRuntime,
	}

	if construct && objNode.Type == TypeClass && objNode.IsConstant() && objNode.Const.Class != nil {
		target := objNode.Const.Class
		if id := boxIntrinsic(c, target); id != 0 {
			rp.Kind = PropIntrinsic
			rp.Intrinsic = id
			return rp
		}
		if target.IsInterface {
			rp.Kind = PropUnknown // not instantiable; generator raises the runtime error
			return rp
		}
		rp.Kind = PropTrait
		rp.Trait = c.classTrait(target)
		return rp
	}

	// held only across the trait and index lookups, which do not acquire
	// the registry themselves
	if cw, ok := c.world.(contexter); ok {
		ctx := cw.Context()
		defer ctx.Release()
	}

	if mn.HasRuntimeName() {
		if cls != nil && cls.Indexable && rtName.IsNumeric() {
			rp.Kind = PropIndex
			rp.ElemType = cls.ElemType
		}
		return rp
	}
	if cls == nil {
		return rp
	}

	if t := cls.TraitByName(mn.Name, mnNamespaces(mn)); t != nil && t.Static == isStatic {
		switch {
		case invoke && t.Intrinsic != 0:
			rp.Kind = PropIntrinsic
			rp.Intrinsic = t.Intrinsic
			rp.Trait = t
		case invoke && (t.Kind == registry.TraitField || t.Kind == registry.TraitConst ||
			t.Kind == registry.TraitGetter):
			// the value is statically bound but the invocation target is a
			// runtime value (a function-typed member)
			rp.Kind = PropTraitRTInvoke
			rp.Trait = t
		default:
			rp.Kind = PropTrait
			rp.Trait = t
		}
		return rp
	}
	if cls.Indexable {
		if _, perr := strconv.ParseUint(mn.Name, 10, 32); perr == nil {
			rp.Kind = PropIndex
			rp.ElemType = cls.ElemType
			return rp
		}
	}
	return rp
}

// boxIntrinsic recognizes primitive boxing construction.
func boxIntrinsic(c *MethodCompilation, target *registry.Class) int32 {
	switch target {
	case c.world.Builtin("int"):
		return registry.IntrinsicIntBox
	case c.world.Builtin("uint"):
		return registry.IntrinsicUintBox
	case c.world.Builtin("Number"):
		return registry.IntrinsicNumberBox
	case c.world.Builtin("Boolean"):
		return registry.IntrinsicBooleanBox
	case c.world.Builtin("String"):
		return registry.IntrinsicStringBox
	case c.world.Builtin("Array"):
		return registry.IntrinsicArrayCtor
	}
	return 0
}

// classTrait returns the cached synthetic class trait used when a name
// resolves to a class itself.
func (c *MethodCompilation) classTrait(cls *registry.Class) *registry.Trait {
	if t, ok := c.classTraits[cls]; ok {
		return t
	}
	t := &registry.Trait{Name: cls.Name, NS: cls.NS, Kind: registry.TraitClass, Static: true, Class: cls}
	c.classTraits[cls] = t
	return t
}

// inferAccessType refines the pushed node's type from the binding, and
// assigns mandated on-push coercions to value and argument operands.
func (c *MethodCompilation) inferAccessType(i int32, mn *abcfile.Multiname, rp *ResolvedProperty, argc int32) {
	ins := &c.instrs[i]
	in := c.staticInts.Get(ins.StackIn)

	// value operand coercion for assignments to typed fields
	if (ins.Op == opcode.SETPROPERTY || ins.Op == opcode.INITPROPERTY) &&
		rp.Kind == PropTrait && rp.Trait != nil && rp.Trait.Type != nil && len(in) > 0 {
		typ, tcls := c.classToType(rp.Trait.Type)
		c.nodes[in[0]].PushCoerce = typ
		c.nodes[in[0]].PushCoerceClass = tcls
	}
	// argument coercions for statically bound calls
	if rp.Kind == PropTrait && rp.Trait != nil && rp.Trait.Sig != nil && argc > 0 {
		sig := rp.Trait.Sig
		for k := 0; k < int(argc) && k < len(sig.ParamTypes); k++ {
			if sig.ParamTypes[k] == nil {
				continue
			}
			arg := in[int(argc)-1-k]
			typ, tcls := c.classToType(sig.ParamTypes[k])
			c.nodes[arg].PushCoerce = typ
			c.nodes[arg].PushCoerceClass = tcls
		}
	}

	if ins.Push < 0 {
		return
	}
	out := &c.nodes[ins.Push]
	switch ins.Op {
	case opcode.GETPROPERTY, opcode.GETSUPER:
		switch {
		case rp.Kind == PropTrait && rp.Trait != nil:
			c.setNodeFromTrait(out, rp.Trait, false)
		case rp.Kind == PropIndex:
			out.Type, out.Class = c.classToType(rp.ElemType)
		case rp.Kind == PropTraitRTInvoke:
			out.Type = TypeAny
		}
	case opcode.CALLPROPERTY, opcode.CALLPROPLEX, opcode.CALLSUPER:
		switch {
		case rp.Kind == PropTrait && rp.Trait != nil:
			c.setNodeFromTrait(out, rp.Trait, true)
		case rp.Kind == PropIntrinsic && rp.Trait != nil && rp.Trait.Sig != nil:
			out.Type, out.Class = c.classToType(rp.Trait.Sig.ReturnType)
		}
	case opcode.CONSTRUCTPROP:
		if rp.Kind == PropTrait && rp.Trait != nil && rp.Trait.Class != nil {
			out.Type = TypeObject
			out.Class = rp.Trait.Class
			out.Flags |= NodeNotNull
		}
	}
	_ = mn
}

// setNodeFromTrait types a node from the trait it was bound to: the field
// or constant type, a getter or method result, or the class object.
func (c *MethodCompilation) setNodeFromTrait(n *DataNode, t *registry.Trait, call bool) {
	switch t.Kind {
	case registry.TraitField, registry.TraitConst:
		n.Type, n.Class = c.classToType(t.Type)
	case registry.TraitGetter, registry.TraitSetter:
		if t.Sig != nil {
			n.Type, n.Class = c.classToType(t.Sig.ReturnType)
		}
	case registry.TraitMethod:
		if call {
			if t.Sig != nil {
				n.Type, n.Class = c.classToType(t.Sig.ReturnType)
			}
		} else {
			n.Type = TypeFunction
		}
	case registry.TraitClass:
		n.Type = TypeClass
		n.Const.Class = t.Class
		n.Flags |= NodeConstant | NodeNotNull
	}
}

// resolveSlot binds slot accesses. Slot ids are bound positionally against
// the object class's slot-carrying traits when the class is known.
func (c *MethodCompilation) resolveSlot(i int32) error {
	ins := &c.instrs[i]
	rp := ResolvedProperty{Kind: PropRuntime}
	in := c.staticInts.Get(ins.StackIn)
	if len(in) > 0 {
		objNode := &c.nodes[in[len(in)-1]]
		rp.ObjType = objNode.Type
		cls, _ := c.effectiveClass(objNode)
		rp.Class = cls
		if cls != nil {
			for ti := range cls.Traits {
				t := &cls.Traits[ti]
				if t.Slot == ins.ImmA && (t.Kind == registry.TraitField || t.Kind == registry.TraitConst) {
					rp.Kind = PropTrait
					rp.Trait = t
					break
				}
			}
		}
	}
	ins.Resolved = c.internProp(rp)
	if ins.Push >= 0 && rp.Kind == PropTrait {
		c.setNodeFromTrait(&c.nodes[ins.Push], rp.Trait, false)
	}
	return nil
}

// resolveLex binds getlex: a multiname that names a known class produces a
// constant class-object node.
func (c *MethodCompilation) resolveLex(i int32) error {
	ins := &c.instrs[i]
	mn, err := c.file.ConstMultiname(uint32(ins.ImmA))
	if err != nil {
		return errAt(ErrConstantPoolIndex, i, "multiname %d: %v", ins.ImmA, err)
	}
	rp := ResolvedProperty{ObjType: TypeGlobal, Kind: PropRuntime}
	if mn != nil && !mn.HasRuntimeName() && !mn.HasRuntimeNS() {
		if cls, cerr := c.world.ClassByMultiname(mn, false); cerr == nil && cls != nil {
			rp.Kind = PropTrait
			rp.Class = cls
			rp.Trait = c.classTrait(cls)
		}
	}
	ins.Resolved = c.internProp(rp)
	if ins.Push >= 0 && rp.Kind == PropTrait {
		c.setNodeFromTrait(&c.nodes[ins.Push], rp.Trait, false)
	}
	return nil
}

// resolveFind types findproperty/findpropstrict results: the providing
// scope object, the global when the name is a known definition.
func (c *MethodCompilation) resolveFind(i int32) error {
	ins := &c.instrs[i]
	mn, err := c.file.ConstMultiname(uint32(ins.ImmA))
	if err != nil {
		return errAt(ErrConstantPoolIndex, i, "multiname %d: %v", ins.ImmA, err)
	}
	rp := ResolvedProperty{ObjType: TypeGlobal, Kind: PropRuntime}
	if mn != nil && !mn.HasRuntimeName() && !mn.HasRuntimeNS() {
		if cls, cerr := c.world.ClassByMultiname(mn, false); cerr == nil && cls != nil {
			rp.Class = cls
			if ins.Push >= 0 {
				c.nodes[ins.Push].Type = TypeGlobal
				c.nodes[ins.Push].Flags |= NodeNotNull
			}
		}
	}
	ins.Resolved = c.internProp(rp)
	return nil
}

// resolveCoerce narrows coerce/astype results to the named class.
func (c *MethodCompilation) resolveCoerce(i int32) error {
	ins := &c.instrs[i]
	mn, err := c.file.ConstMultiname(uint32(ins.ImmA))
	if err != nil {
		return errAt(ErrConstantPoolIndex, i, "multiname %d: %v", ins.ImmA, err)
	}
	if mn == nil || mn.HasRuntimeName() || mn.HasRuntimeNS() || ins.Push < 0 {
		return nil
	}
	cls, cerr := c.world.ClassByMultiname(mn, true)
	if cerr != nil {
		return errAt(ErrClassNotFound, i, "coerce type %v: %v", mn, cerr)
	}
	typ, tcls := c.classToType(cls)
	out := &c.nodes[ins.Push]
	out.Type, out.Class = typ, tcls
	return nil
}

// coerceReturn mandates the return-type conversion on the returned value.
func (c *MethodCompilation) coerceReturn(i int32) error {
	rt := c.method.ReturnType
	if rt == nil || rt.Name == "*" {
		return nil
	}
	cls, err := c.world.ClassByMultiname(rt, true)
	if err != nil {
		return errAt(ErrClassNotFound, i, "return type %v: %v", rt, err)
	}
	if cls == nil || cls == c.world.Builtin("void") {
		return nil
	}
	in := c.staticInts.Get(c.instrs[i].StackIn)
	if len(in) == 0 {
		return nil
	}
	typ, tcls := c.classToType(cls)
	c.nodes[in[0]].PushCoerce = typ
	c.nodes[in[0]].PushCoerceClass = tcls
	return nil
}

// settlePhiTypes merges phi types from their def lists to a fixed point.
func (c *MethodCompilation) settlePhiTypes() {
	for changed := true; changed; {
		changed = false
		for ni := range c.nodes {
			n := &c.nodes[ni]
			if !n.IsPhi() {
				continue
			}
			typ, cls := n.Type, n.Class
			for _, ref := range c.dyn.Get(n.Defs) {
				r := DataNodeOrInstrRef(ref)
				if !r.IsNode() {
					continue
				}
				d := &c.nodes[r.Index()]
				typ, cls = mergeTypes(typ, cls, d.Type, d.Class)
			}
			if typ != n.Type || cls != n.Class {
				n.Type, n.Class = typ, cls
				changed = true
			}
		}
	}
}

// mergeTypes joins two inferred types at a control-flow merge.
func mergeTypes(at DataType, ac *registry.Class, bt DataType, bc *registry.Class) (DataType, *registry.Class) {
	switch {
	case at == TypeUnknown:
		return bt, bc
	case bt == TypeUnknown:
		return at, ac
	case at == bt:
		if ac == bc {
			return at, ac
		}
		return at, commonBase(ac, bc)
	case at.IsNumeric() && bt.IsNumeric():
		return TypeNumber, nil
	case at == TypeNull && bt.IsReference():
		return bt, bc
	case bt == TypeNull && at.IsReference():
		return at, ac
	case (at == TypeObject || at == TypeThis) && (bt == TypeObject || bt == TypeThis):
		return TypeObject, commonBase(ac, bc)
	default:
		return TypeAny, nil
	}
}

// commonBase finds the nearest common ancestor class.
func commonBase(a, b *registry.Class) *registry.Class {
	if a == nil || b == nil {
		return nil
	}
	for x := a; x != nil; x = x.Parent {
		if b.IsSubclassOf(x) {
			return x
		}
	}
	return nil
}
