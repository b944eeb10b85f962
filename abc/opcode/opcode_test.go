package opcode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jfd16/mariana-go/abc/opcode"
)

func TestInfoTable(t *testing.T) {
	cases := []struct {
		op   opcode.Opcode
		name string
		imm  opcode.ImmKind
	}{
		{opcode.NOP, "nop", opcode.ImmNone},
		{opcode.PUSHBYTE, "pushbyte", opcode.ImmByte},
		{opcode.PUSHINT, "pushint", opcode.ImmU30},
		{opcode.HASNEXT2, "hasnext2", opcode.ImmU30U30},
		{opcode.JUMP, "jump", opcode.ImmS24},
		{opcode.LOOKUPSWITCH, "lookupswitch", opcode.ImmSwitch},
		{opcode.DEBUG, "debug", opcode.ImmDebug},
		{opcode.CALLPROPERTY, "callproperty", opcode.ImmU30U30},
		{opcode.GETSCOPEOBJECT, "getscopeobject", opcode.ImmByte},
	}
	for _, tc := range cases {
		info := opcode.InfoOf(tc.op)
		assert.Equal(t, tc.name, info.Name)
		assert.Equal(t, tc.imm, info.Imm)
		assert.True(t, opcode.Valid(tc.op))
		assert.Equal(t, tc.name, tc.op.String())
	}
}

func TestInvalidOpcode(t *testing.T) {
	assert.False(t, opcode.Valid(opcode.Opcode(0xFF)))
	assert.Equal(t, "op(0xff)", opcode.Opcode(0xFF).String())
}

func TestPredicates(t *testing.T) {
	assert.True(t, opcode.IFLT.IsBranch())
	assert.True(t, opcode.IFTRUE.IsBranch())
	assert.False(t, opcode.JUMP.IsBranch())
	assert.False(t, opcode.ADD.IsBranch())

	assert.Equal(t, 1, opcode.IFTRUE.BranchPops())
	assert.Equal(t, 2, opcode.IFSTRICTNE.BranchPops())

	for _, o := range []opcode.Opcode{
		opcode.JUMP, opcode.LOOKUPSWITCH, opcode.RETURNVOID,
		opcode.RETURNVALUE, opcode.THROW,
	} {
		assert.True(t, o.IsTerminator(), "%v", o)
		assert.True(t, o.EndsBlock(), "%v", o)
	}
	assert.False(t, opcode.IFLT.IsTerminator())
	assert.True(t, opcode.IFLT.EndsBlock())
	assert.False(t, opcode.ADD.EndsBlock())
}
