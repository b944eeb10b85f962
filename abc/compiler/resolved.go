package compiler

import "github.com/jfd16/mariana-go/abc/registry"

// PropKind classifies how a property-access site was bound.
type PropKind uint8

const (
	PropUnknown PropKind = iota
	PropTrait
	PropIndex
	PropIntrinsic
	PropRuntime
	PropTraitRTInvoke
)

var propKindNames = [...]string{
	PropUnknown: "unknown", PropTrait: "trait", PropIndex: "index",
	PropIntrinsic: "intrinsic", PropRuntime: "runtime",
	PropTraitRTInvoke: "trait-rt-invoke",
}

func (k PropKind) String() string { return propKindNames[k] }

// ResolvedProperty is the interned result of binding a property-access
// site: the object type it was resolved against, the runtime namespace and
// name types if any, and the binding payload.
type ResolvedProperty struct {
	ObjType    DataType
	RTNSType   DataType
	RTNameType DataType
	Class      *registry.Class

	Kind      PropKind
	Trait     *registry.Trait
	Intrinsic int32
	ElemType  *registry.Class // PropIndex: the element type, nil = any
}

type propKey struct {
	objType    DataType
	rtNSType   DataType
	rtNameType DataType
	class      *registry.Class
	kind       PropKind
	trait      *registry.Trait
	intrinsic  int32
	elem       *registry.Class
}

// internProp returns the id of rp in the per-compilation table, adding it
// if not yet present.
func (c *MethodCompilation) internProp(rp ResolvedProperty) int32 {
	key := propKey{
		objType: rp.ObjType, rtNSType: rp.RTNSType, rtNameType: rp.RTNameType,
		class: rp.Class, kind: rp.Kind, trait: rp.Trait,
		intrinsic: rp.Intrinsic, elem: rp.ElemType,
	}
	if id, ok := c.propIntern.Get(key); ok {
		return id
	}
	id := int32(len(c.props))
	c.props = append(c.props, rp)
	c.propIntern.Put(key, id)
	return id
}
