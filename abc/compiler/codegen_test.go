package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/opcode"
)

func opSeq(rec *il.Recorder) []il.Op { return rec.Ops() }

func countOp(rec *il.Recorder, o il.Op) int {
	n := 0
	for _, in := range rec.Instrs {
		if !in.IsMark && in.Scope == "" && in.Op == o {
			n++
		}
	}
	return n
}

// S1 end to end: loads of the two int parameters feed an integer add.
func TestGenStraightLineAdd(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.GETLOCAL2),
		op(opcode.ADD),
		op(opcode.RETURNVALUE),
	)
	_, rec := buildAll(t, method(code, "int", "int"), nil)
	assert.Equal(t, []il.Op{il.LdLocal, il.LdLocal, il.AddI, il.Ret}, opSeq(rec))
}

// S6: two identical consecutive constant pushes fold into a dup.
func TestGenDupFold(t *testing.T) {
	code := bc(
		op(opcode.PUSHBYTE, 42),
		op(opcode.PUSHBYTE, 42),
		op(opcode.POP),
		op(opcode.POP),
		op(opcode.RETURNVOID),
	)
	_, rec := buildAll(t, method(code), nil)
	assert.Equal(t, []il.Op{il.LdcI4, il.Dup, il.Pop, il.Pop, il.RetVoid}, opSeq(rec))
}

func TestGenDupFoldBlockedByInterleave(t *testing.T) {
	code := bc(
		op(opcode.PUSHBYTE, 42),
		op(opcode.PUSHBYTE, 7),
		op(opcode.POP),
		op(opcode.PUSHBYTE, 42),
		op(opcode.POP),
		op(opcode.POP),
		op(opcode.RETURNVOID),
	)
	_, rec := buildAll(t, method(code), nil)
	assert.Equal(t, 0, countOp(rec, il.Dup))
	assert.Equal(t, 3, countOp(rec, il.LdcI4))
}

// a marked concat chain emits one n-ary string concat instead of a
// cascade of binary ones
func TestGenConcatChain(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.GETLOCAL2),
		op(opcode.ADD),
		op(opcode.GETLOCAL3),
		op(opcode.ADD),
		op(opcode.RETURNVALUE),
	)
	_, rec := buildAll(t, method(code, "String", "String", "String"), nil)
	assert.Equal(t, 1, countOp(rec, il.ConcatStr3))
	assert.Equal(t, 0, countOp(rec, il.ConcatStr2))
}

// global memory access emits one bounds check branching to the shared
// trap at the method tail
func TestGenMemoryBoundsCheck(t *testing.T) {
	code := bc(
		op(opcode.GETLOCAL1),
		op(opcode.LI8),
		op(opcode.RETURNVALUE),
	)
	_, rec := buildAll(t, method(code, "int"), nil)
	assert.Equal(t, 1, countOp(rec, il.ChkBounds))
	assert.Equal(t, 1, countOp(rec, il.LdMemI8))
	require.Equal(t, 1, countOp(rec, il.ThrowError))
	// the trap is emitted at the tail, after the return
	seq := opSeq(rec)
	assert.Equal(t, il.ThrowError, seq[len(seq)-1])
}

// S5: a catch handler gets one stash local per entry stack slot and the
// catch clause assigns the (coerced) thrown value to slot 0
func TestGenCatchStash(t *testing.T) {
	// try { throw local1 } catch (e: Error) { return }
	code := bc(
		op(opcode.GETLOCAL1), // 0
		op(opcode.THROW),     // 1
		op(opcode.RETURNVOID), // 2, catch target
	)
	m := method(code, "Object")
	m.Exceptions = []abcfile.ExceptionInfo{{From: 0, To: 2, Target: 2, Type: qname("Error")}}
	_, rec := buildAll(t, m, nil)

	// filter and catch scopes are emitted at the method tail
	var scopes []string
	for _, in := range rec.Instrs {
		if in.Scope != "" {
			scopes = append(scopes, in.Scope)
		}
	}
	assert.Equal(t, []string{"try", "filter", "catch", "end"}, scopes)

	// the thrown value is cast to the declared catch type and stashed
	foundCast := false
	for k, in := range rec.Instrs {
		if in.Op == il.CastClass && k > 0 && rec.Instrs[k-1].Op == il.LdExc {
			require.Less(t, k+1, len(rec.Instrs))
			assert.Equal(t, il.StLocal, rec.Instrs[k+1].Op)
			foundCast = true
		}
	}
	assert.True(t, foundCast, "no ldexc/castclass/stloc sequence in catch clause")
	assert.GreaterOrEqual(t, countOp(rec, il.LdExc), 2) // filter test + catch stash
}

// the current-handler-id register tracks try entry and exit
func TestGenHandlerRegister(t *testing.T) {
	code := bc(
		op(opcode.NOP), op(opcode.NOP), op(opcode.NOP), op(opcode.NOP), op(opcode.NOP), // 0-4
		op(opcode.RETURNVOID), // 5
		op(opcode.NOP),        // 6, unreachable
		op(opcode.RETURNVOID), // 7, catch target
	)
	m := method(code, "Object")
	m.Exceptions = []abcfile.ExceptionInfo{{From: 0, To: 5, Target: 7}}
	_, rec := buildAll(t, m, nil)

	// initialized to -1, then set per enclosing-handler change
	first := rec.Instrs[0]
	require.Equal(t, il.LdcI4, first.Op)
	assert.Equal(t, int64(-1), first.Int)
	assert.GreaterOrEqual(t, countOp(rec, il.LdcI4), 2)
}

// temp locals released LIFO are reused by later acquisitions
func TestRecorderTempReuse(t *testing.T) {
	var rec il.Recorder
	a := rec.AcquireTemp(il.TypeI4)
	rec.ReleaseTemp(a)
	b := rec.AcquireTemp(il.TypeI4)
	assert.Equal(t, a, b)
	c := rec.AcquireTemp(il.TypeI4)
	assert.NotEqual(t, b, c)
	rec.ReleaseTemp(c)
	rec.ReleaseTemp(b)
	assert.Panics(t, func() { rec.ReleaseTemp(a) })
}
