package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/compiler"
	"github.com/jfd16/mariana-go/abc/opcode"
)

// checkCFGInvariants verifies the universal block invariants: every
// instruction belongs to its block, and every successor's entry set
// contains the predecessor.
func checkCFGInvariants(t *testing.T, c *compiler.MethodCompilation) {
	t.Helper()
	for _, b := range reachableBlocks(c) {
		for i := b.FirstInstr; i < b.FirstInstr+b.InstrCount; i++ {
			assert.Equal(t, b.ID, c.Instructions()[i].Block, "instruction %d block id", i)
		}
		for _, succ := range c.IntList(b.ExitBlocks) {
			found := false
			for _, e := range c.RefList(c.Block(succ).Entries) {
				if e.IsBlock() && e.Block() == b.ID {
					found = true
				}
			}
			assert.True(t, found, "block %d missing from entries of successor %d", b.ID, succ)
		}
	}
}

// S2: conditional with two return leaves.
func TestCFGConditional(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL0), // 0
		op(opcode.PUSHBYTE, 0),
		op(opcode.IFGT), s24(3), // -> L1
		op(opcode.PUSHBYTE, 1),
		op(opcode.RETURNVALUE),
		op(opcode.PUSHBYTE, 2), // L1
		op(opcode.RETURNVALUE),
	)
	c := buildFlow(t, method(code), nil)

	blocks := reachableBlocks(c)
	require.Len(t, blocks, 3)
	b0 := c.Block(0)
	assert.Equal(t, compiler.ExitBranch, b0.Exit)
	assert.Equal(t, []int32{2, 1}, c.IntList(b0.ExitBlocks))
	assert.Equal(t, compiler.ExitReturn, c.Block(1).Exit)
	assert.Equal(t, compiler.ExitReturn, c.Block(2).Exit)
	checkCFGInvariants(t, c)
}

// A backward branch into the middle of a visited block splits it.
func TestCFGBlockSplit(t *testing.T) {
	code := bc(
		op(opcode.PUSHBYTE, 0), // 0: offset 0
		op(opcode.POP),         // 1: offset 2  <- loop target
		op(opcode.PUSHBYTE, 1), // 2: offset 3
		op(opcode.IFTRUE), s24(-7), // 3: offset 5, back to offset 2
		op(opcode.RETURNVOID), // 4: offset 9
	)
	c := buildFlow(t, method(code), nil)

	// the original straight-line block is split at the branch target
	target := c.Instructions()[1].Block
	require.GreaterOrEqual(t, target, int32(0))
	tb := c.Block(target)
	assert.Equal(t, int32(1), tb.FirstInstr)
	head := c.Block(c.Instructions()[0].Block)
	assert.Equal(t, compiler.ExitJump, head.Exit)
	assert.Equal(t, []int32{target}, c.IntList(head.ExitBlocks))
	checkCFGInvariants(t, c)
}

func TestCFGBranchTargets(t *testing.T) {
	cases := []struct {
		desc string
		code []byte
		err  compiler.ErrorCode
	}{
		{
			"jump to last instruction start",
			bc(op(opcode.JUMP), s24(2), op(opcode.PUSHBYTE, 7), op(opcode.RETURNVOID)),
			0,
		},
		{
			"jump into instruction middle",
			bc(op(opcode.JUMP), s24(1), op(opcode.PUSHBYTE, 7), op(opcode.RETURNVOID)),
			compiler.ErrInvalidBranchTarget,
		},
		{
			"jump past end of body",
			bc(op(opcode.JUMP), s24(10), op(opcode.RETURNVOID)),
			compiler.ErrCodeFalloff,
		},
		{
			"jump before start of body",
			bc(op(opcode.RETURNVOID), op(opcode.JUMP), s24(-10)),
			0, // the bad jump is unreachable
		},
		{
			"fallthrough off the end",
			bc(op(opcode.PUSHBYTE, 1), op(opcode.POP)),
			compiler.ErrCodeFalloff,
		},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			c := newComp(method(tc.code), nil)
			require.NoError(t, c.Decode())
			err := c.BuildFlow()
			if tc.err == 0 {
				require.NoError(t, err)
				checkCFGInvariants(t, c)
				return
			}
			requireErrCode(t, err, tc.err)
		})
	}
}

// single-instruction body
func TestCFGSingleInstruction(t *testing.T) {
	c := buildFlow(t, method(op(opcode.RETURNVOID)), nil)
	blocks := reachableBlocks(c)
	require.Len(t, blocks, 1)
	assert.Equal(t, compiler.ExitReturn, blocks[0].Exit)
	assert.Equal(t, int32(1), blocks[0].InstrCount)
}

func TestCFGSwitchCases(t *testing.T) {
	// switch with two cases plus default; case offsets are relative to
	// the switch's own offset, in declared order after the default
	code := bc(
		op(opcode.PUSHBYTE, 1),                                     // offsets 0-1
		op(opcode.LOOKUPSWITCH), s24(11), u30(2), s24(12), s24(14), // offsets 2-12
		op(opcode.RETURNVOID),  // offset 13 (default)
		op(opcode.PUSHBYTE, 2), // offsets 14-15 (case 0)
		op(opcode.RETURNVALUE), // offset 16 (case 1)
	)
	c := buildFlow(t, method(code), nil)
	sw := c.Instructions()[1]
	b := c.Block(sw.Block)
	require.Equal(t, compiler.ExitSwitch, b.Exit)
	targets := c.IntList(b.ExitBlocks)
	require.Len(t, targets, 3)
	// instruction ids recorded in declared order: default, then cases
	ids := c.IntList(sw.Cases)
	require.Len(t, ids, 3)
	assert.Equal(t, int32(13), c.Instructions()[ids[0]].Offset)
	assert.Equal(t, int32(14), c.Instructions()[ids[1]].Offset)
	assert.Equal(t, int32(16), c.Instructions()[ids[2]].Offset)
	checkCFGInvariants(t, c)
}
