package compiler

import (
	"fmt"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/registry"
)

// SlotKind discriminates the three value-holding areas of the ABC machine.
type SlotKind uint8

const (
	SlotStack SlotKind = iota
	SlotScope
	SlotLocal
)

var slotKindNames = [...]string{SlotStack: "stack", SlotScope: "scope", SlotLocal: "local"}

func (k SlotKind) String() string { return slotKindNames[k] }

// Slot locates a data node within the abstract machine state.
type Slot struct {
	Kind  SlotKind
	Index int32
}

func (s Slot) String() string { return fmt.Sprintf("%s[%d]", s.Kind, s.Index) }

// DataType is the inferred type tag of a data node.
type DataType uint8

const (
	TypeUnknown DataType = iota
	TypeAny
	TypeUndefined
	TypeNull
	TypeBool
	TypeInt
	TypeUint
	TypeNumber
	TypeString
	TypeNamespace
	TypeQName
	TypeClass
	TypeFunction
	TypeObject
	TypeThis
	TypeRest
	TypeGlobal
)

var dataTypeNames = [...]string{
	TypeUnknown: "unknown", TypeAny: "any", TypeUndefined: "undefined",
	TypeNull: "null", TypeBool: "bool", TypeInt: "int", TypeUint: "uint",
	TypeNumber: "number", TypeString: "string", TypeNamespace: "namespace",
	TypeQName: "qname", TypeClass: "class", TypeFunction: "function",
	TypeObject: "object", TypeThis: "this", TypeRest: "rest",
	TypeGlobal: "global",
}

func (t DataType) String() string { return dataTypeNames[t] }

// IsNumeric reports whether t is one of the numeric tags.
func (t DataType) IsNumeric() bool { return t == TypeInt || t == TypeUint || t == TypeNumber }

// IsReference reports whether values of t are reference-typed, so that
// null is representable.
func (t DataType) IsReference() bool {
	switch t {
	case TypeNull, TypeString, TypeNamespace, TypeQName, TypeClass,
		TypeFunction, TypeObject, TypeThis, TypeRest, TypeGlobal, TypeAny:
		return true
	}
	return false
}

// NodeFlags are per-node state bits.
type NodeFlags uint32

const (
	NodeArgument NodeFlags = 1 << iota
	NodeConstant
	NodePhi
	NodeNoPush
	NodeNotNull
	NodeWithScope
	NodeException
	NodeLocalWriteThrough
	NodePushOptionalParam
	NodePushConvertString
	NodeLateNameBinding
)

// ConstValue is the constant payload of a node flagged NodeConstant. The
// node's Type selects the meaningful field.
type ConstValue struct {
	I     int32
	U     uint32
	D     float64
	B     bool
	S     string
	NS    *abcfile.Namespace
	Class *registry.Class
}

// DataNode is one SSA value in the lifted stack/scope/local machine.
type DataNode struct {
	ID    int32
	Slot  Slot
	Type  DataType
	Class *registry.Class // for TypeObject/TypeClass/TypeThis
	Const ConstValue
	Flags NodeFlags

	// PushCoerce, when not TypeUnknown, is the conversion the consuming
	// context mandates when this value is pushed. PushCoerceClass refines
	// TypeObject targets.
	PushCoerce      DataType
	PushCoerceClass *registry.Class

	Defs DynToken // DataNodeOrInstrRef list
	Uses DynToken
}

// IsConstant reports whether the node carries a compile-time constant.
func (n *DataNode) IsConstant() bool { return n.Flags&NodeConstant != 0 }

// IsPhi reports whether the node merges predecessor values.
func (n *DataNode) IsPhi() bool { return n.Flags&NodePhi != 0 }

// DataNodeOrInstrRef is a tagged reference to either an instruction or a
// data node; the high bit of the 32-bit word discriminates.
type DataNodeOrInstrRef uint32

const nodeRefBit = 1 << 31

// InstrRef references instruction id.
func InstrRef(id int32) DataNodeOrInstrRef { return DataNodeOrInstrRef(id) }

// NodeRef references data node id.
func NodeRef(id int32) DataNodeOrInstrRef { return DataNodeOrInstrRef(uint32(id) | nodeRefBit) }

// IsNode reports whether r references a data node.
func (r DataNodeOrInstrRef) IsNode() bool { return r&nodeRefBit != 0 }

// Index returns the referenced instruction or node id.
func (r DataNodeOrInstrRef) Index() int32 { return int32(r &^ nodeRefBit) }

func (r DataNodeOrInstrRef) String() string {
	if r.IsNode() {
		return fmt.Sprintf("n%d", r.Index())
	}
	return fmt.Sprintf("i%d", r.Index())
}
