// Package il defines the typed back-end instruction surface the code
// generator emits into. The Builder interface is implemented by the real
// back-end; the Recorder implementation in this package captures the stream
// for tests and textual dumps.
package il

import "fmt"

// Op is a back-end instruction opcode.
type Op uint8

const (
	Nop Op = iota

	// constants
	LdcI4   // push int32 (Int operand)
	LdcU4   // push uint32 (Int operand)
	LdcR8   // push float64 (Float operand)
	LdcStr  // push string (Str operand)
	LdcBool // push bool (Int operand 0/1)
	LdNull
	LdUndef
	LdNaN
	LdType // push class object (Type operand)
	LdNS   // push namespace (Str operand)

	// stack & locals
	Dup
	Pop
	Swap
	LdLocal // Local operand
	StLocal // Local operand

	// arithmetic
	Add
	AddI
	Sub
	SubI
	Mul
	MulI
	Div
	Rem
	Neg
	NegI
	Inc
	IncI
	Dec
	DecI
	Shl
	Shr
	ShrUn
	And
	Or
	Xor
	BitNot

	// comparisons; push bool
	Ceq
	CeqStrict
	Clt
	Cle
	Cgt
	Cge
	Not
	IsInst  // Type operand
	In      // dynamic "in" test
	TypeOf  // push string

	// conversions
	ConvI4
	ConvU4
	ConvR8
	ConvBool
	ConvStr   // null -> "null", undefined -> "undefined"
	CoerceStr // null/undefined pass through
	ConvObj
	CastClass // Type operand
	CastIface // Type operand; interface casts dispatch differently
	AsType    // Type operand; value or null
	AsTypeLate
	IsInstLate
	Box   // Type operand
	Unbox // Type operand

	// control flow
	Br       // Label operand
	BrTrue   // Label operand
	BrFalse  // Label operand
	Switch   // Labels operand
	Ret
	RetVoid
	Throw
	Rethrow

	// member access; Str operand is the mangled symbol
	Call
	CallVirt
	CallStatic
	CallSuperCtor // Int operand is the argument count
	NewObj
	LdFld
	StFld
	LdSFld
	StSFld
	LdElem
	StElem
	LdSlot // Int operand is the slot id
	StSlot

	// literal and closure construction; Int operand is the element count
	NewArrayLit
	NewObjectLit
	NewActivationObj
	NewCatchObj
	NewFunc
	NewClassObj

	// for-in iteration
	NextName
	NextValue
	HasNextIdx
	CheckFilter
	EscXElem
	EscXAttr

	// dynamic dispatch fallbacks; Str operand is the serialized name
	DynGet
	DynSet
	DynDelete
	DynCall
	DynConstruct
	DynFind
	DynDescendants

	// intrinsics (Int operand is the intrinsic id)
	Intrinsic

	// string concatenation
	ConcatStr2
	ConcatStr3
	ConcatStr4
	ConcatStrArr // Int operand is the operand count
	NewStrArray  // Int operand is the element count

	// global memory access
	ChkBounds // Int operand is the access width in bytes
	LdMemI8
	LdMemI16
	LdMemI32
	LdMemF32
	LdMemF64
	StMemI8
	StMemI16
	StMemI32
	StMemF32
	StMemF64
	SignExt1
	SignExt8
	SignExt16

	// scope machinery
	PushScope
	PushWith
	PopScope
	LdScope   // Int operand is the scope index
	LdGlobal
	SetDXNS
	HasNextEx

	// runtime error helpers
	ThrowError // Int operand is the runtime error id

	// exception plumbing: push the in-flight exception inside filter and
	// catch regions
	LdExc

	// parametrized type application; Int operand is the type-arg count
	ApplyType

	opMax
)

var opNames = [opMax]string{
	Nop: "nop", LdcI4: "ldc.i4", LdcU4: "ldc.u4", LdcR8: "ldc.r8",
	LdcStr: "ldc.str", LdcBool: "ldc.bool", LdNull: "ldnull",
	LdUndef: "ldundef", LdNaN: "ldnan", LdType: "ldtype", LdNS: "ldns",
	Dup: "dup", Pop: "pop", Swap: "swap", LdLocal: "ldloc", StLocal: "stloc",
	Add: "add", AddI: "add.i", Sub: "sub", SubI: "sub.i", Mul: "mul",
	MulI: "mul.i", Div: "div", Rem: "rem", Neg: "neg", NegI: "neg.i",
	Inc: "inc", IncI: "inc.i", Dec: "dec", DecI: "dec.i",
	Shl: "shl", Shr: "shr", ShrUn: "shr.un", And: "and", Or: "or",
	Xor: "xor", BitNot: "bitnot",
	Ceq: "ceq", CeqStrict: "ceq.strict", Clt: "clt", Cle: "cle",
	Cgt: "cgt", Cge: "cge", Not: "not", IsInst: "isinst", In: "in",
	TypeOf: "typeof",
	ConvI4: "conv.i4", ConvU4: "conv.u4", ConvR8: "conv.r8",
	ConvBool: "conv.bool", ConvStr: "conv.str", CoerceStr: "coerce.str",
	ConvObj: "conv.obj", CastClass: "castclass", CastIface: "castiface",
	AsType: "astype", AsTypeLate: "astype.late", IsInstLate: "isinst.late",
	Box: "box", Unbox: "unbox",
	Br: "br", BrTrue: "brtrue", BrFalse: "brfalse", Switch: "switch",
	Ret: "ret", RetVoid: "ret.void", Throw: "throw", Rethrow: "rethrow",
	Call: "call", CallVirt: "callvirt", CallStatic: "call.static",
	CallSuperCtor: "call.superctor",
	NewObj: "newobj", LdFld: "ldfld", StFld: "stfld", LdSFld: "ldsfld",
	StSFld: "stsfld", LdElem: "ldelem", StElem: "stelem",
	LdSlot: "ldslot", StSlot: "stslot",
	NewArrayLit: "newarray", NewObjectLit: "newobject",
	NewActivationObj: "newactivation", NewCatchObj: "newcatch",
	NewFunc: "newfunc", NewClassObj: "newclass",
	NextName: "nextname", NextValue: "nextvalue", HasNextIdx: "hasnext",
	CheckFilter: "checkfilter", EscXElem: "esc.xelem", EscXAttr: "esc.xattr",
	DynGet: "dyn.get", DynSet: "dyn.set", DynDelete: "dyn.delete",
	DynCall: "dyn.call", DynConstruct: "dyn.construct", DynFind: "dyn.find",
	DynDescendants: "dyn.descendants",
	Intrinsic: "intrinsic",
	ConcatStr2: "concat.str2", ConcatStr3: "concat.str3",
	ConcatStr4: "concat.str4", ConcatStrArr: "concat.strarr",
	NewStrArray: "newstrarray",
	ChkBounds: "chk.bounds",
	LdMemI8: "ldmem.i8", LdMemI16: "ldmem.i16", LdMemI32: "ldmem.i32",
	LdMemF32: "ldmem.f32", LdMemF64: "ldmem.f64",
	StMemI8: "stmem.i8", StMemI16: "stmem.i16", StMemI32: "stmem.i32",
	StMemF32: "stmem.f32", StMemF64: "stmem.f64",
	SignExt1: "sx.1", SignExt8: "sx.8", SignExt16: "sx.16",
	PushScope: "pushscope", PushWith: "pushwith", PopScope: "popscope",
	LdScope: "ldscope", LdGlobal: "ldglobal", SetDXNS: "set.dxns",
	HasNextEx: "hasnext2",
	ThrowError: "throw.error", LdExc: "ldexc", ApplyType: "applytype",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("ilop(%d)", uint8(op))
}

// Label identifies a branch target in the emitted stream.
type Label int32

// Local identifies a declared back-end local variable.
type Local int32

// Type is a back-end type token, the mangled type symbol or a primitive
// name.
type Type string

// Primitive back-end type tokens.
const (
	TypeI4   Type = "int32"
	TypeU4   Type = "uint32"
	TypeR8   Type = "float64"
	TypeBool Type = "bool"
	TypeStr  Type = "string"
	TypeObj  Type = "object"
	TypeAny  Type = "any"
)

// Builder is the emission surface of the back-end. Temp locals follow LIFO
// discipline: releases must occur in reverse acquisition order on every
// exit path.
type Builder interface {
	NewLabel() Label
	MarkLabel(l Label)

	DeclareLocal(t Type) Local
	AcquireTemp(t Type) Local
	ReleaseTemp(l Local)

	Emit(op Op)
	EmitInt(op Op, v int64)
	EmitFloat(op Op, v float64)
	EmitStr(op Op, s string)
	EmitType(op Op, t Type)
	EmitLocal(op Op, l Local)
	EmitBranch(op Op, target Label)
	EmitSwitch(targets []Label)

	BeginTry()
	BeginFilter()
	BeginCatch()
	EndTry()
}
