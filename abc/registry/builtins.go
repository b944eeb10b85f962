package registry

import "github.com/jfd16/mariana-go/abc/abcfile"

// Intrinsic ids for calls the compiler lowers to dedicated back-end
// sequences instead of a general dispatch.
const (
	IntrinsicNone int32 = iota
	IntrinsicMathMin
	IntrinsicMathMax
	IntrinsicMathAbs
	IntrinsicStringCharAt
	IntrinsicStringCharCodeAt
	IntrinsicStringLength
	IntrinsicArrayLength
	IntrinsicArrayCtor
	IntrinsicIntBox
	IntrinsicUintBox
	IntrinsicNumberBox
	IntrinsicBooleanBox
	IntrinsicStringBox
)

var nsAS3 = &abcfile.Namespace{Kind: abcfile.NSExplicit, URI: "http://adobe.com/AS3/2006/builtin"}

func (w *World) installBuiltins() {
	object := &Class{Name: "Object"}
	classInt := &Class{Name: "int", Parent: object, IsFinal: true}
	classUint := &Class{Name: "uint", Parent: object, IsFinal: true}
	number := &Class{Name: "Number", Parent: object, IsFinal: true}
	boolean := &Class{Name: "Boolean", Parent: object, IsFinal: true}
	str := &Class{Name: "String", Parent: object, IsFinal: true}
	array := &Class{Name: "Array", Parent: object, Indexable: true}
	namespace := &Class{Name: "Namespace", Parent: object, IsFinal: true}
	qname := &Class{Name: "QName", Parent: object, IsFinal: true}
	xml := &Class{Name: "XML", Parent: object, IsFinal: true}
	xmlList := &Class{Name: "XMLList", Parent: object, IsFinal: true}
	function := &Class{Name: "Function", Parent: object}
	mathCls := &Class{Name: "Math", Parent: object, IsFinal: true}
	vector := &Class{Name: "Vector", Parent: object, IsFinal: true, Indexable: true}
	void := &Class{Name: "void", IsFinal: true}
	errCls := &Class{Name: "Error", Parent: object}

	sig := func(ret *Class, params ...*Class) *MethodSig {
		return &MethodSig{ParamTypes: params, Optional: -1, ReturnType: ret}
	}

	object.Constructor = &MethodSig{Optional: 0, ParamTypes: []*Class{nil}, ReturnType: object}
	object.Traits = []Trait{
		{Name: "toString", Kind: TraitMethod, Sig: sig(str)},
		{Name: "hasOwnProperty", Kind: TraitMethod, Sig: sig(boolean, nil)},
		{Name: "valueOf", Kind: TraitMethod, Sig: sig(nil)},
	}

	numCtor := func(c *Class, intrinsic int32) {
		c.Constructor = &MethodSig{ParamTypes: []*Class{nil}, Optional: 0, ReturnType: c}
		c.Traits = []Trait{
			{Name: "toString", Kind: TraitMethod, Sig: sig(str, classInt)},
			{Name: "valueOf", Kind: TraitMethod, Sig: sig(c)},
		}
		_ = intrinsic
	}
	numCtor(classInt, IntrinsicIntBox)
	numCtor(classUint, IntrinsicUintBox)
	numCtor(number, IntrinsicNumberBox)
	boolean.Constructor = &MethodSig{ParamTypes: []*Class{nil}, Optional: 0, ReturnType: boolean}

	str.Constructor = &MethodSig{ParamTypes: []*Class{nil}, Optional: 0, ReturnType: str}
	str.Traits = []Trait{
		{Name: "length", Kind: TraitGetter, Sig: sig(classInt), Intrinsic: IntrinsicStringLength},
		{Name: "charAt", NS: nsAS3, Kind: TraitMethod, Sig: sig(str, number), Intrinsic: IntrinsicStringCharAt},
		{Name: "charAt", Kind: TraitMethod, Sig: sig(str, number), Intrinsic: IntrinsicStringCharAt},
		{Name: "charCodeAt", NS: nsAS3, Kind: TraitMethod, Sig: sig(number, number), Intrinsic: IntrinsicStringCharCodeAt},
		{Name: "charCodeAt", Kind: TraitMethod, Sig: sig(number, number), Intrinsic: IntrinsicStringCharCodeAt},
		{Name: "indexOf", NS: nsAS3, Kind: TraitMethod, Sig: sig(classInt, str, number)},
		{Name: "substring", NS: nsAS3, Kind: TraitMethod, Sig: sig(str, number, number)},
		{Name: "toString", Kind: TraitMethod, Sig: sig(str)},
	}

	array.Constructor = &MethodSig{ParamTypes: nil, Optional: 0, HasRest: true, ReturnType: array}
	array.Traits = []Trait{
		{Name: "length", Kind: TraitGetter, Sig: sig(classUint), Intrinsic: IntrinsicArrayLength},
		{Name: "push", NS: nsAS3, Kind: TraitMethod, Sig: &MethodSig{HasRest: true, Optional: -1, ReturnType: classUint}},
		{Name: "pop", NS: nsAS3, Kind: TraitMethod, Sig: sig(nil)},
		{Name: "join", NS: nsAS3, Kind: TraitMethod, Sig: sig(str, str)},
		{Name: "indexOf", NS: nsAS3, Kind: TraitMethod, Sig: sig(classInt, nil, classInt)},
	}
	vector.Traits = []Trait{
		{Name: "length", Kind: TraitGetter, Sig: sig(classUint)},
		{Name: "push", NS: nsAS3, Kind: TraitMethod, Sig: &MethodSig{HasRest: true, Optional: -1, ReturnType: classUint}},
	}

	mathCls.Traits = []Trait{
		{Name: "PI", Kind: TraitConst, Static: true, Type: number},
		{Name: "E", Kind: TraitConst, Static: true, Type: number},
		{Name: "min", Kind: TraitMethod, Static: true, Sig: &MethodSig{ParamTypes: []*Class{number, number}, Optional: 2, HasRest: true, ReturnType: number}, Intrinsic: IntrinsicMathMin},
		{Name: "max", Kind: TraitMethod, Static: true, Sig: &MethodSig{ParamTypes: []*Class{number, number}, Optional: 2, HasRest: true, ReturnType: number}, Intrinsic: IntrinsicMathMax},
		{Name: "abs", Kind: TraitMethod, Static: true, Sig: sig(number, number), Intrinsic: IntrinsicMathAbs},
		{Name: "floor", Kind: TraitMethod, Static: true, Sig: sig(number, number)},
		{Name: "ceil", Kind: TraitMethod, Static: true, Sig: sig(number, number)},
		{Name: "sqrt", Kind: TraitMethod, Static: true, Sig: sig(number, number)},
		{Name: "pow", Kind: TraitMethod, Static: true, Sig: sig(number, number, number)},
		{Name: "random", Kind: TraitMethod, Static: true, Sig: sig(number)},
	}

	namespace.Constructor = &MethodSig{ParamTypes: []*Class{nil, nil}, Optional: 0, ReturnType: namespace}
	namespace.Traits = []Trait{
		{Name: "prefix", Kind: TraitGetter, Sig: sig(nil)},
		{Name: "uri", Kind: TraitGetter, Sig: sig(str)},
	}
	qname.Constructor = &MethodSig{ParamTypes: []*Class{nil, nil}, Optional: 0, ReturnType: qname}
	qname.Traits = []Trait{
		{Name: "localName", Kind: TraitGetter, Sig: sig(str)},
		{Name: "uri", Kind: TraitGetter, Sig: sig(nil)},
	}
	errCls.Constructor = &MethodSig{ParamTypes: []*Class{str, classInt}, Optional: 0, ReturnType: errCls}
	errCls.Traits = []Trait{
		{Name: "message", Kind: TraitField, Type: str},
		{Name: "name", Kind: TraitField, Type: str},
	}
	xml.Constructor = &MethodSig{ParamTypes: []*Class{nil}, Optional: 0, ReturnType: xml}
	xmlList.Constructor = &MethodSig{ParamTypes: []*Class{nil}, Optional: 0, ReturnType: xmlList}
	function.Traits = []Trait{
		{Name: "call", NS: nsAS3, Kind: TraitMethod, Sig: &MethodSig{HasRest: true, Optional: -1}},
		{Name: "apply", NS: nsAS3, Kind: TraitMethod, Sig: &MethodSig{ParamTypes: []*Class{nil, array}, Optional: 0}},
		{Name: "length", Kind: TraitGetter, Sig: sig(classInt)},
	}

	all := []*Class{
		object, classInt, classUint, number, boolean, str, array,
		namespace, qname, xml, xmlList, function, mathCls, vector, void, errCls,
	}
	for _, c := range all {
		c.seal()
		w.builtin[c.Name] = c
		w.byName[c.Name] = append(w.byName[c.Name], c)
	}
}
