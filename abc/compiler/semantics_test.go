package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/compiler"
	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/opcode"
	"github.com/jfd16/mariana-go/abc/registry"
)

// Math.min(1, 2) resolves to the intrinsic and types as Number.
func TestAnalyzeIntrinsicCall(t *testing.T) {
	pool := abcfile.NewPool()
	mathMn := pool.AddMultiname(qname("Math"))
	minMn := pool.AddMultiname(qname("min"))
	code := bc(
		op(opcode.GETLEX), u30(mathMn),
		op(opcode.PUSHBYTE, 1),
		op(opcode.PUSHBYTE, 2),
		op(opcode.CALLPROPERTY), u30(minMn), u30(2),
		op(opcode.RETURNVALUE),
	)
	c, rec := buildAll(t, method(code), pool)

	lex := c.Instructions()[0]
	require.GreaterOrEqual(t, lex.Resolved, int32(0))
	lexProp := c.Props()[lex.Resolved]
	assert.Equal(t, compiler.PropTrait, lexProp.Kind)
	lexOut := c.Node(lex.Push)
	assert.Equal(t, compiler.TypeClass, lexOut.Type)
	require.True(t, lexOut.IsConstant())
	assert.Equal(t, "Math", lexOut.Const.Class.Name)

	call := c.Instructions()[3]
	require.GreaterOrEqual(t, call.Resolved, int32(0))
	prop := c.Props()[call.Resolved]
	assert.Equal(t, compiler.PropIntrinsic, prop.Kind)
	assert.Equal(t, registry.IntrinsicMathMin, prop.Intrinsic)
	assert.Equal(t, compiler.TypeNumber, c.Node(call.Push).Type)

	assert.True(t, hasOp(rec, il.Intrinsic))
	assert.True(t, hasOp(rec, il.LdType))
}

// a getter on a typed receiver binds to the trait and takes its type
func TestAnalyzeTraitGetter(t *testing.T) {
	pool := abcfile.NewPool()
	lenMn := pool.AddMultiname(qname("length"))
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.GETPROPERTY), u30(lenMn),
		op(opcode.RETURNVALUE),
	)
	c, rec := buildAll(t, method(code, "String"), pool)

	get := c.Instructions()[1]
	require.GreaterOrEqual(t, get.Resolved, int32(0))
	prop := c.Props()[get.Resolved]
	assert.Equal(t, compiler.PropTrait, prop.Kind)
	require.NotNil(t, prop.Trait)
	assert.Equal(t, registry.TraitGetter, prop.Trait.Kind)
	assert.Equal(t, compiler.TypeInt, c.Node(get.Push).Type)
	assert.True(t, hasOp(rec, il.CallVirt))
}

// with no static type information the access falls back to a runtime
// lookup
func TestAnalyzeRuntimeFallback(t *testing.T) {
	pool := abcfile.NewPool()
	fooMn := pool.AddMultiname(qname("foo"))
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.GETPROPERTY), u30(fooMn),
		op(opcode.RETURNVALUE),
	)
	c, rec := buildAll(t, method(code, "*"), pool)

	get := c.Instructions()[1]
	require.GreaterOrEqual(t, get.Resolved, int32(0))
	prop := c.Props()[get.Resolved]
	assert.Equal(t, compiler.PropRuntime, prop.Kind)
	assert.Equal(t, compiler.TypeAny, c.Node(get.Push).Type)
	assert.True(t, hasOp(rec, il.DynGet))
}

// identical resolution sites intern to the same table entry
func TestResolvedPropertyInterning(t *testing.T) {
	pool := abcfile.NewPool()
	lenMn := pool.AddMultiname(qname("length"))
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.GETPROPERTY), u30(lenMn),
		op(opcode.POP),
		op(opcode.GETLOCAL1),
		op(opcode.GETPROPERTY), u30(lenMn),
		op(opcode.RETURNVALUE),
	)
	c, _ := buildAll(t, method(code, "String"), pool)
	r1 := c.Instructions()[1].Resolved
	r2 := c.Instructions()[4].Resolved
	require.GreaterOrEqual(t, r1, int32(0))
	assert.Equal(t, r1, r2)
}

// the declared return type mandates an on-push coercion of the returned
// value
func TestAnalyzeReturnCoercion(t *testing.T) {
	pool := abcfile.NewPool()
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.RETURNVALUE),
	)
	m := method(code, "Number")
	m.ReturnType = qname("int")
	c, rec := buildAll(t, m, pool)

	ret := c.Instructions()[1]
	in := c.IntList(ret.StackIn)
	require.Len(t, in, 1)
	assert.Equal(t, compiler.TypeInt, c.Node(in[0]).PushCoerce)
	assert.True(t, hasOp(rec, il.ConvI4))
}

// numeric access on an indexable receiver resolves to INDEX
func TestAnalyzeIndexAccess(t *testing.T) {
	pool := abcfile.NewPool()
	idxMn := pool.AddMultiname(&abcfile.Multiname{Kind: abcfile.MnMultinameL})
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.PUSHBYTE, 3),
		op(opcode.GETPROPERTY), u30(idxMn),
		op(opcode.RETURNVALUE),
	)
	c, rec := buildAll(t, method(code, "Array"), pool)

	get := c.Instructions()[2]
	require.GreaterOrEqual(t, get.Resolved, int32(0))
	prop := c.Props()[get.Resolved]
	assert.Equal(t, compiler.PropIndex, prop.Kind)
	assert.True(t, hasOp(rec, il.LdElem))
}
