package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/compiler"
	"github.com/jfd16/mariana-go/abc/opcode"
)

// S1: straight-line add of two integer parameters.
func TestDataFlowStraightLineAdd(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.GETLOCAL2),
		op(opcode.ADD),
		op(opcode.RETURNVALUE),
	)
	c, _ := buildAll(t, method(code, "int", "int"), nil)

	blocks := reachableBlocks(c)
	require.Len(t, blocks, 1)
	assert.Equal(t, compiler.ExitReturn, blocks[0].Exit)

	addIns := c.Instructions()[2]
	require.GreaterOrEqual(t, addIns.Push, int32(0))
	out := c.Node(addIns.Push)
	assert.Equal(t, compiler.TypeInt, out.Type)

	// each operand is defined by its getlocal instruction and, through a
	// second def edge, by the argument node it reads
	in := c.IntList(addIns.StackIn)
	require.Len(t, in, 2)
	for _, opnd := range in {
		defs := c.DefsOf(opnd)
		require.Len(t, defs, 2)
		require.False(t, defs[0].IsNode())
		assert.Equal(t, opnd, c.Instructions()[defs[0].Index()].Push)
		require.True(t, defs[1].IsNode())
		arg := c.Node(defs[1].Index())
		assert.NotZero(t, arg.Flags&compiler.NodeArgument)
		assert.Equal(t, compiler.TypeInt, arg.Type)
	}
}

// S3: the loop header defines one phi for local 1 with the initial
// constant and the add result as sources.
func TestDataFlowLoopPhi(t *testing.T) {
	c := newComp(loopMethod(), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	require.NoError(t, c.BuildDominators())
	require.NoError(t, c.BuildDataFlow())

	header := c.Instructions()[2].Block
	entryLocals := c.IntList(c.Block(header).EntryLocals)
	require.Len(t, entryLocals, 2)
	phi := c.Node(entryLocals[1])
	require.True(t, phi.IsPhi())
	assert.NotZero(t, c.Block(header).Flags&compiler.BlockDefinesPhi)

	defs := c.DefsOf(phi.ID)
	require.Len(t, defs, 2)
	var constSources, otherSources int
	for _, d := range defs {
		require.True(t, d.IsNode())
		src := c.Node(d.Index())
		if src.IsConstant() && src.Const.I == 0 {
			constSources++
		} else {
			otherSources++
		}
		// invariant: each source's use list contains the phi
		found := false
		for _, u := range c.UsesOf(src.ID) {
			if u.IsNode() && u.Index() == phi.ID {
				found = true
			}
		}
		assert.True(t, found, "source n%d does not use phi n%d", src.ID, phi.ID)
	}
	assert.Equal(t, 1, constSources)
	assert.Equal(t, 1, otherSources)
}

// every phi appears in exactly one slot of exactly one block entry
func TestDataFlowPhiUniqueness(t *testing.T) {
	c := newComp(loopMethod(), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	require.NoError(t, c.BuildDominators())
	require.NoError(t, c.BuildDataFlow())

	count := map[int32]int{}
	for _, b := range reachableBlocks(c) {
		for _, tok := range []compiler.IntToken{b.EntryStack, b.EntryScope, b.EntryLocals} {
			for _, n := range c.IntList(tok) {
				if c.Node(n).IsPhi() {
					count[n]++
				}
			}
		}
	}
	for n, k := range count {
		assert.Equal(t, 1, k, "phi n%d appears %d times", n, k)
	}
}

func TestDataFlowConstantFold(t *testing.T) {
	code := bc(
		op(opcode.PUSHBYTE, 2),
		op(opcode.PUSHBYTE, 3),
		op(opcode.ADD),
		op(opcode.RETURNVALUE),
	)
	c, _ := buildAll(t, method(code), nil)

	out := c.Node(c.Instructions()[2].Push)
	require.True(t, out.IsConstant())
	assert.Equal(t, int32(5), out.Const.I)
	assert.Equal(t, compiler.TypeInt, out.Type)

	for _, in := range c.IntList(c.Instructions()[2].StackIn) {
		assert.NotZero(t, c.Node(in).Flags&compiler.NodeNoPush, "input n%d not marked no-push", in)
	}
}

func TestDataFlowCompareFold(t *testing.T) {
	code := bc(
		op(opcode.PUSHBYTE, 2),
		op(opcode.PUSHBYTE, 3),
		op(opcode.LESSTHAN),
		op(opcode.RETURNVALUE),
	)
	c, _ := buildAll(t, method(code), nil)
	out := c.Node(c.Instructions()[2].Push)
	require.True(t, out.IsConstant())
	assert.Equal(t, compiler.TypeBool, out.Type)
	assert.True(t, out.Const.B)
}

func TestDataFlowStackUnderflow(t *testing.T) {
	code := bc(op(opcode.POP), op(opcode.RETURNVOID))
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	require.NoError(t, c.BuildDominators())
	requireErrCode(t, c.BuildDataFlow(), compiler.ErrStackUnderflow)
}

func TestDataFlowLocalOutOfRange(t *testing.T) {
	code := bc(op(opcode.GETLOCAL), u30(9), op(opcode.POP), op(opcode.RETURNVOID))
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	require.NoError(t, c.BuildDominators())
	requireErrCode(t, c.BuildDataFlow(), compiler.ErrLocalIndexOutOfRange)
}

func TestDataFlowScopeStack(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL0),
		op(opcode.PUSHSCOPE),
		op(opcode.GETSCOPEOBJECT, 0),
		op(opcode.POP),
		op(opcode.POPSCOPE),
		op(opcode.RETURNVOID),
	)
	c, _ := buildAll(t, method(code), nil)
	scopeIns := c.Instructions()[2]
	n := c.Node(scopeIns.Push)
	assert.Equal(t, compiler.TypeThis, n.Type)
}

func TestDataFlowScopeUnderflow(t *testing.T) {
	code := bc(op(opcode.POPSCOPE), op(opcode.RETURNVOID))
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	require.NoError(t, c.BuildDominators())
	requireErrCode(t, c.BuildDataFlow(), compiler.ErrScopeUnderflow)
}

// the rest parameter and arguments array occupy the slot after the
// declared parameters
func TestDataFlowInitialLocals(t *testing.T) {
	code := bc(op(opcode.GETLOCAL2), op(opcode.POP), op(opcode.RETURNVOID))
	m := method(code, "String")
	m.Flags |= abcfile.MethodNeedRest
	c, _ := buildAll(t, m, nil)

	entry := c.Instructions()[0].Block
	locals := c.IntList(c.Block(entry).EntryLocals)
	require.GreaterOrEqual(t, len(locals), 3)
	assert.Equal(t, compiler.TypeThis, c.Node(locals[0]).Type)
	assert.Equal(t, compiler.TypeString, c.Node(locals[1]).Type)
	assert.Equal(t, compiler.TypeRest, c.Node(locals[2]).Type)
}
