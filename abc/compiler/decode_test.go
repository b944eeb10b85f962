package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/compiler"
	"github.com/jfd16/mariana-go/abc/opcode"
)

func requireErrCode(t *testing.T, err error, code compiler.ErrorCode) {
	t.Helper()
	var cerr *compiler.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, code, cerr.Code)
}

func TestDecodeEmptyBody(t *testing.T) {
	c := newComp(method(nil), nil)
	requireErrCode(t, c.Decode(), compiler.ErrInvalidCodeLength)
}

// TestDecodeOffsetRoundTrip checks that the byte offsets produced by the
// decoder equal the cumulative immediate lengths determined by the
// opcode-info table.
func TestDecodeOffsetRoundTrip(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL0),
		op(opcode.PUSHBYTE, 0x7f),
		op(opcode.PUSHSHORT), u30(300),
		op(opcode.PUSHINT), u30(1),
		op(opcode.HASNEXT2), u30(1), u30(2),
		op(opcode.JUMP), s24(0),
		op(opcode.DEBUGLINE), u30(1<<29),
		op(opcode.RETURNVOID),
	)
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())

	// recompute offsets by walking the code with the info table
	var want []int32
	pos := 0
	for pos < len(code) {
		want = append(want, int32(pos))
		o := opcode.Opcode(code[pos])
		pos++
		switch opcode.InfoOf(o).Imm {
		case opcode.ImmByte:
			pos++
		case opcode.ImmS24:
			pos += 3
		case opcode.ImmU30, opcode.ImmU30U30, opcode.ImmDebug:
			n := 1
			if opcode.InfoOf(o).Imm == opcode.ImmU30U30 {
				n = 2
			}
			for k := 0; k < n; k++ {
				for code[pos]&0x80 != 0 {
					pos++
				}
				pos++
			}
		}
	}
	var got []int32
	for _, ins := range c.Instructions() {
		got = append(got, ins.Offset)
	}
	require.Equal(t, want, got)
}

func TestDecodeU30(t *testing.T) {
	cases := []struct {
		desc string
		code []byte
		err  compiler.ErrorCode // 0 = no error
		want int32
	}{
		{"single byte", bc(op(opcode.PUSHSHORT, 0x05), op(opcode.RETURNVOID)), 0, 5},
		{"five bytes max", bc(op(opcode.PUSHSHORT, 0xff, 0xff, 0xff, 0xff, 0x01), op(opcode.RETURNVOID)), 0, -1},
		{"too many bytes", bc(op(opcode.PUSHSHORT, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01)), compiler.ErrIllegalU30, 0},
		{"over 30 bits", bc(op(opcode.PUSHSHORT, 0xff, 0xff, 0xff, 0xff, 0x07)), compiler.ErrIllegalU30, 0},
		{"truncated", bc(op(opcode.PUSHSHORT, 0x80)), compiler.ErrCodeFalloff, 0},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			c := newComp(method(tc.code), nil)
			err := c.Decode()
			if tc.err != 0 {
				requireErrCode(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			if tc.want >= 0 {
				assert.Equal(t, tc.want, c.Instructions()[0].ImmA)
			}
		})
	}
}

func TestDecodeNormalize(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL2),
		op(opcode.SETLOCAL3),
		op(opcode.PUSHNAN),
		op(opcode.COERCE_I),
		op(opcode.COERCE_S),
		op(opcode.PUSHBYTE, 0xff),
		op(opcode.RETURNVOID),
	)
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	ins := c.Instructions()

	assert.Equal(t, opcode.GETLOCAL, ins[0].Op)
	assert.Equal(t, int32(2), ins[0].ImmA)
	assert.Equal(t, opcode.SETLOCAL, ins[1].Op)
	assert.Equal(t, int32(3), ins[1].ImmA)
	assert.Equal(t, opcode.PUSHDOUBLE, ins[2].Op)
	assert.Equal(t, opcode.CONVERT_I, ins[3].Op)
	// coerce_s keeps its null/undefined pass-through semantics
	assert.Equal(t, opcode.COERCE_S, ins[4].Op)
	assert.Equal(t, int32(-1), ins[5].ImmA)
}

// Undefined opcodes are kept as zero-operand instructions at decode time;
// only reachability makes them fatal.
func TestDecodeInvalidOpcodeTolerated(t *testing.T) {
	code := bc(
		op(opcode.JUMP), s24(1),
		[]byte{0xFF},
		op(opcode.RETURNVOID),
	)
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	assert.False(t, c.Instructions()[1].Reached())
}

func TestDecodeInvalidOpcodeReachable(t *testing.T) {
	code := bc([]byte{0xFF}, op(opcode.RETURNVOID))
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	requireErrCode(t, c.BuildFlow(), compiler.ErrInvalidOpcodeReachable)
}

func TestDecodeSwitchZeroCases(t *testing.T) {
	// default-only switch: the default offset is relative to the switch
	// instruction's own byte offset
	code := bc(
		op(opcode.PUSHBYTE, 1),
		op(opcode.LOOKUPSWITCH), s24(5), u30(0),
		op(opcode.RETURNVOID),
	)
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	sw := c.Instructions()[1]
	require.Equal(t, opcode.LOOKUPSWITCH, sw.Op)
	require.Equal(t, 1, sw.Cases.Len())
	b := c.Block(sw.Block)
	assert.Equal(t, compiler.ExitSwitch, b.Exit)
	assert.Len(t, c.IntList(b.ExitBlocks), 1)
}

func TestDecodeConstantPools(t *testing.T) {
	pool := abcfile.NewPool()
	di := pool.AddDouble(2.5)
	si := pool.AddString("hi")
	code := bc(
		op(opcode.PUSHDOUBLE), u30(di),
		op(opcode.PUSHSTRING), u30(si),
		op(opcode.POP),
		op(opcode.POP),
		op(opcode.RETURNVOID),
	)
	m := method(code)
	c := newComp(m, pool)
	var err error
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	require.NoError(t, c.BuildDominators())
	err = c.BuildDataFlow()
	require.NoError(t, err)

	n0 := c.Node(c.Instructions()[0].Push)
	require.True(t, n0.IsConstant())
	assert.Equal(t, 2.5, n0.Const.D)
	n1 := c.Node(c.Instructions()[1].Push)
	assert.Equal(t, "hi", n1.Const.S)
}

func TestDecodePoolIndexOutOfRange(t *testing.T) {
	code := bc(op(opcode.PUSHSTRING), u30(42), op(opcode.POP), op(opcode.RETURNVOID))
	c := newComp(method(code), nil)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	require.NoError(t, c.BuildDominators())
	requireErrCode(t, c.BuildDataFlow(), compiler.ErrConstantPoolIndex)
}

func TestErrorMessage(t *testing.T) {
	e := &compiler.Error{Code: compiler.ErrCodeFalloff, Instr: 3, Detail: "oops"}
	assert.Contains(t, e.Error(), "CODE_FALLOFF_END_OF_METHOD")
	assert.Contains(t, e.Error(), "instruction 3")
}
