package registry_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/registry"
)

func qname(name string) *abcfile.Multiname {
	return &abcfile.Multiname{Kind: abcfile.MnQName, Name: name}
}

func TestBuiltinResolution(t *testing.T) {
	w := registry.NewWorld()
	for _, name := range []string{
		"Object", "int", "uint", "Number", "Boolean", "String", "Array",
		"Namespace", "QName", "Function", "Math", "Error",
	} {
		cls, err := w.ClassByMultiname(qname(name), false)
		require.NoError(t, err, name)
		require.NotNil(t, cls, name)
		assert.Equal(t, name, cls.Name)
		assert.Same(t, cls, w.Builtin(name))
	}

	_, err := w.ClassByMultiname(qname("NoSuchClass"), false)
	require.Error(t, err)

	cls, err := w.ClassByMultiname(qname("*"), true)
	require.NoError(t, err)
	assert.Nil(t, cls)
	_, err = w.ClassByMultiname(qname("*"), false)
	require.Error(t, err)
}

func TestTraitLookup(t *testing.T) {
	w := registry.NewWorld()
	str := w.Builtin("String")

	tr := str.TraitByName("charAt", nil)
	require.NotNil(t, tr)
	assert.Equal(t, registry.TraitMethod, tr.Kind)
	assert.Equal(t, registry.IntrinsicStringCharAt, tr.Intrinsic)

	// inherited through the parent chain
	tr = str.TraitByName("hasOwnProperty", nil)
	require.NotNil(t, tr)
	assert.Equal(t, registry.TraitMethod, tr.Kind)

	assert.Nil(t, str.TraitByName("noSuchMember", nil))
}

func TestRegisteredClassLookup(t *testing.T) {
	w := registry.NewWorld()
	object := w.Builtin("Object")
	num := w.Builtin("Number")
	cls := &registry.Class{
		Name:   "Point",
		Parent: object,
		Traits: []registry.Trait{
			{Name: "x", Kind: registry.TraitField, Type: num},
			{Name: "y", Kind: registry.TraitField, Type: num},
		},
	}
	w.Register(cls)

	got, err := w.ClassByMultiname(qname("Point"), false)
	require.NoError(t, err)
	require.Same(t, cls, got)
	require.NotNil(t, got.TraitByName("x", nil))
	assert.True(t, got.IsSubclassOf(object))
	assert.False(t, object.IsSubclassOf(got))
}

func TestVectorInterning(t *testing.T) {
	w := registry.NewWorld()
	mn := &abcfile.Multiname{
		Kind:     abcfile.MnTypeName,
		Base:     qname("Vector"),
		TypeArgs: []*abcfile.Multiname{qname("int")},
	}
	v1, err := w.ClassByMultiname(mn, false)
	require.NoError(t, err)
	v2, err := w.ClassByMultiname(mn, false)
	require.NoError(t, err)
	assert.Same(t, v1, v2)
	assert.True(t, v1.Indexable)
	assert.Same(t, w.Builtin("int"), v1.ElemType)
}

func TestDefaultValues(t *testing.T) {
	w := registry.NewWorld()
	assert.Equal(t, int32(0), w.Builtin("int").DefaultValue())
	assert.Equal(t, uint32(0), w.Builtin("uint").DefaultValue())
	assert.Equal(t, false, w.Builtin("Boolean").DefaultValue())
	nan, ok := w.Builtin("Number").DefaultValue().(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(nan))
	assert.Nil(t, w.Builtin("String").DefaultValue())
}

func TestSigArgCounts(t *testing.T) {
	sig := &registry.MethodSig{
		ParamTypes: make([]*registry.Class, 2),
		Optional:   1,
	}
	assert.False(t, sig.AcceptsArgCount(0))
	assert.True(t, sig.AcceptsArgCount(1))
	assert.True(t, sig.AcceptsArgCount(2))
	assert.False(t, sig.AcceptsArgCount(3))
	sig.HasRest = true
	assert.True(t, sig.AcceptsArgCount(7))
}

func TestContextHandle(t *testing.T) {
	w := registry.NewWorld()
	ctx := w.Context()
	// reads proceed under the shared handle
	assert.NotNil(t, w.Builtin("Object"))
	ctx.Release()
	ctx.Release() // releasing twice is a no-op
}

func TestNamespaceVisibility(t *testing.T) {
	w := registry.NewWorld()
	object := w.Builtin("Object")
	priv := &abcfile.Namespace{Kind: abcfile.NSPrivate, PrivateID: 7}
	cls := &registry.Class{
		Name:   "Secretive",
		Parent: object,
		Traits: []registry.Trait{
			{Name: "hidden", NS: priv, Kind: registry.TraitField},
			{Name: "open", Kind: registry.TraitField},
		},
	}
	w.Register(cls)

	assert.Nil(t, cls.TraitByName("hidden", nil))
	require.NotNil(t, cls.TraitByName("hidden", []*abcfile.Namespace{priv}))
	require.NotNil(t, cls.TraitByName("open", nil))

	other := &abcfile.Namespace{Kind: abcfile.NSPrivate, PrivateID: 8}
	assert.Nil(t, cls.TraitByName("hidden", []*abcfile.Namespace{other}))
}
