package compiler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/compiler"
	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/opcode"
	"github.com/jfd16/mariana-go/abc/registry"
)

// bc concatenates code fragments into a method body.
func bc(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func op(o opcode.Opcode, imm ...byte) []byte {
	return append([]byte{byte(o)}, imm...)
}

// s24 little-endian two's complement.
func s24(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// u30 variable-length encoding.
func u30(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func qname(name string) *abcfile.Multiname {
	return &abcfile.Multiname{Kind: abcfile.MnQName, Name: name}
}

func method(code []byte, paramTypes ...string) *abcfile.MethodInfo {
	m := &abcfile.MethodInfo{Name: "test", Code: code}
	for _, pt := range paramTypes {
		m.ParamTypes = append(m.ParamTypes, qname(pt))
	}
	return m
}

func newComp(m *abcfile.MethodInfo, pool *abcfile.Pool) *compiler.MethodCompilation {
	if pool == nil {
		pool = abcfile.NewPool()
	}
	return compiler.New(pool, m, registry.NewWorld())
}

// buildFlow runs decode and flow assembly.
func buildFlow(t *testing.T, m *abcfile.MethodInfo, pool *abcfile.Pool) *compiler.MethodCompilation {
	t.Helper()
	c := newComp(m, pool)
	require.NoError(t, c.Decode())
	require.NoError(t, c.BuildFlow())
	return c
}

// buildAll runs every pass and returns the compilation and the recorded
// back-end stream.
func buildAll(t *testing.T, m *abcfile.MethodInfo, pool *abcfile.Pool) (*compiler.MethodCompilation, *il.Recorder) {
	t.Helper()
	c := newComp(m, pool)
	var rec il.Recorder
	require.NoError(t, c.Run(context.Background(), &rec))
	return c, &rec
}

// reachableBlocks filters the block arena to flow-visited blocks.
func reachableBlocks(c *compiler.MethodCompilation) []*compiler.BasicBlock {
	var out []*compiler.BasicBlock
	for i := range c.Blocks() {
		b := c.Block(int32(i))
		if b.Flags&compiler.BlockVisited != 0 {
			out = append(out, b)
		}
	}
	return out
}

// hasOp reports whether the recorded stream contains the op.
func hasOp(rec *il.Recorder, o il.Op) bool {
	for _, in := range rec.Instrs {
		if !in.IsMark && in.Scope == "" && in.Op == o {
			return true
		}
	}
	return false
}
