package compiler

import "github.com/jfd16/mariana-go/abc/opcode"

// InstrFlags are per-instruction state bits set by the decoder and the flow
// assembler.
type InstrFlags uint8

const (
	InstrStartsBlock InstrFlags = 1 << iota
	InstrEndsBlock
	InstrTerminator
	InstrReached
	InstrInvalid // undefined opcode tolerated at decode; fatal if reached
)

// Instruction is one decoded ABC instruction. The immediate fields are
// keyed by opcode family: ImmA/ImmB hold the raw u30/byte/s24 immediates;
// Target holds the resolved branch-target instruction id; Cases references
// a switch target list; Push and Resolved are filled by later passes.
type Instruction struct {
	Op     opcode.Opcode
	Offset int32
	Block  int32
	Flags  InstrFlags

	ImmA, ImmB int32
	Target     int32    // branch/jump target instruction id, -1
	Cases      IntToken // lookupswitch: raw offsets, then instruction ids

	StackIn   IntToken // popped data-node ids, top of stack first
	Push      int32    // pushed data-node id, -1
	WriteNode int32    // node installed in a local slot by this instruction, -1
	Resolved  int32    // resolved-property id, -1
}

// Reached reports whether the flow assembler found the instruction
// reachable.
func (i *Instruction) Reached() bool { return i.Flags&InstrReached != 0 }
