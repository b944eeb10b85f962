// Package abcfile defines the surface through which the compiler consumes a
// parsed ABC file: namespaces, multinames, method bodies, exception records
// and constant-pool access. The ABC parser itself lives outside the compiler
// core; this package only models what the middle-end needs from it.
package abcfile

import "fmt"

// NamespaceKind discriminates the namespace categories of the ABC format.
type NamespaceKind uint8

const (
	NSAny NamespaceKind = iota
	NSPublic
	NSPrivate
	NSProtected
	NSStaticProtected
	NSExplicit
	NSPackageInternal
)

var nsKindNames = [...]string{
	NSAny:             "any",
	NSPublic:          "public",
	NSPrivate:         "private",
	NSProtected:       "protected",
	NSStaticProtected: "static protected",
	NSExplicit:        "explicit",
	NSPackageInternal: "internal",
}

func (k NamespaceKind) String() string { return nsKindNames[k] }

// Namespace is a resolved namespace constant. PrivateID distinguishes
// private namespaces, which never compare equal across declaration sites.
type Namespace struct {
	Kind      NamespaceKind
	URI       string
	PrivateID int32
}

func (ns *Namespace) String() string {
	if ns == nil {
		return "*"
	}
	if ns.Kind == NSPrivate {
		return fmt.Sprintf("private(%d)", ns.PrivateID)
	}
	if ns.URI == "" {
		return ns.Kind.String()
	}
	return ns.URI
}

// Equal reports whether two namespaces denote the same name scope.
func (ns *Namespace) Equal(other *Namespace) bool {
	if ns == nil || other == nil {
		return ns == other
	}
	if ns.Kind != other.Kind {
		return false
	}
	if ns.Kind == NSPrivate {
		return ns.PrivateID == other.PrivateID
	}
	return ns.URI == other.URI
}

// MultinameKind discriminates the multiname categories. The RT* kinds have a
// runtime-supplied namespace, name, or both.
type MultinameKind uint8

const (
	MnQName MultinameKind = iota
	MnQNameA
	MnRTQName
	MnRTQNameA
	MnRTQNameL
	MnRTQNameLA
	MnMultiname
	MnMultinameA
	MnMultinameL
	MnMultinameLA
	MnTypeName
)

// Multiname is a resolved name constant. Depending on Kind, the namespace
// may be a single NS, a candidate set NSSet, or runtime-supplied; the local
// name may be static or runtime-supplied.
type Multiname struct {
	Kind  MultinameKind
	NS    *Namespace
	NSSet []*Namespace
	Name  string

	// TypeName parametrization (Vector.<T> and friends).
	Base     *Multiname
	TypeArgs []*Multiname
}

// HasRuntimeNS reports whether the namespace is supplied on the operand
// stack at the use site.
func (mn *Multiname) HasRuntimeNS() bool {
	switch mn.Kind {
	case MnRTQName, MnRTQNameA, MnRTQNameL, MnRTQNameLA:
		return true
	}
	return false
}

// HasRuntimeName reports whether the local name is supplied on the operand
// stack at the use site.
func (mn *Multiname) HasRuntimeName() bool {
	switch mn.Kind {
	case MnRTQNameL, MnRTQNameLA, MnMultinameL, MnMultinameLA:
		return true
	}
	return false
}

// IsAttr reports whether the multiname is an attribute name (the *A kinds).
func (mn *Multiname) IsAttr() bool {
	switch mn.Kind {
	case MnQNameA, MnRTQNameA, MnRTQNameLA, MnMultinameA, MnMultinameLA:
		return true
	}
	return false
}

func (mn *Multiname) String() string {
	if mn == nil {
		return "*"
	}
	name := mn.Name
	if mn.HasRuntimeName() {
		name = "[rt-name]"
	}
	switch {
	case mn.HasRuntimeNS():
		return "[rt-ns]::" + name
	case mn.NS != nil:
		return mn.NS.String() + "::" + name
	default:
		return name
	}
}

// ExceptionInfo is one raw entry of a method body's exception table. All
// offsets are byte offsets into the code; [From, To) is the guarded range.
type ExceptionInfo struct {
	From, To uint32
	Target   uint32
	Type     *Multiname // nil catches everything
	VarName  *Multiname
}

// MethodFlags carries the method-info flags the compiler cares about.
type MethodFlags uint8

const (
	MethodNeedArguments MethodFlags = 1 << iota
	MethodNeedRest
	MethodSetsDXNS
)

// MethodInfo describes a method's signature and body as supplied by the
// parser.
type MethodInfo struct {
	Name       string
	ParamTypes []*Multiname
	ReturnType *Multiname
	Flags      MethodFlags

	MaxStack   uint32
	LocalCount uint32
	MaxScope   uint32

	Code       []byte
	Exceptions []ExceptionInfo
}

// File is the constant-pool access surface the compiler consumes. Index 0
// follows ABC conventions (the "no value" entry) where applicable.
type File interface {
	ConstInt(i uint32) (int32, error)
	ConstUint(i uint32) (uint32, error)
	ConstDouble(i uint32) (float64, error)
	ConstString(i uint32) (string, error)
	ConstNamespace(i uint32) (*Namespace, error)
	ConstMultiname(i uint32) (*Multiname, error)
}
