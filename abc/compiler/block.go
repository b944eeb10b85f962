package compiler

import (
	"fmt"

	"github.com/jfd16/mariana-go/abc/registry"
)

// CFGNodeRef is a compact reference to a control-flow predecessor: the
// synthetic START node, a basic block, or a catch edge from an exception
// handler. Encoding: -1 is START, non-negative values are block ids, and
// -2-h is the catch edge of handler h.
type CFGNodeRef int32

// CFGStart is the synthetic entry predecessor.
const CFGStart CFGNodeRef = -1

// BlockRef returns the reference to block id.
func BlockRef(id int32) CFGNodeRef { return CFGNodeRef(id) }

// CatchRef returns the reference to the catch edge of handler h.
func CatchRef(h int32) CFGNodeRef { return CFGNodeRef(-2 - h) }

// IsStart reports whether r is the synthetic START node.
func (r CFGNodeRef) IsStart() bool { return r == CFGStart }

// IsBlock reports whether r references a basic block.
func (r CFGNodeRef) IsBlock() bool { return r >= 0 }

// IsCatch reports whether r references a catch edge.
func (r CFGNodeRef) IsCatch() bool { return r <= -2 }

// Block returns the referenced block id; r must be a block reference.
func (r CFGNodeRef) Block() int32 { return int32(r) }

// Handler returns the referenced handler id; r must be a catch reference.
func (r CFGNodeRef) Handler() int32 { return int32(-2 - r) }

func (r CFGNodeRef) String() string {
	switch {
	case r.IsStart():
		return "start"
	case r.IsCatch():
		return fmt.Sprintf("catch(%d)", r.Handler())
	default:
		return fmt.Sprintf("block(%d)", r.Block())
	}
}

// ExitKind classifies how control leaves a basic block.
type ExitKind uint8

const (
	ExitNone ExitKind = iota
	ExitFall
	ExitJump
	ExitBranch
	ExitSwitch
	ExitReturn
	ExitThrow
)

var exitKindNames = [...]string{
	ExitNone: "none", ExitFall: "fall", ExitJump: "jump",
	ExitBranch: "branch", ExitSwitch: "switch", ExitReturn: "return",
	ExitThrow: "throw",
}

func (k ExitKind) String() string { return exitKindNames[k] }

// BlockFlags are per-block state bits.
type BlockFlags uint8

const (
	BlockVisited BlockFlags = 1 << iota
	BlockDefinesPhi
	BlockReachable
)

// BasicBlock is a maximal single-entry instruction run. Exit targets,
// entry points and entry state snapshots are pool tokens.
type BasicBlock struct {
	ID         int32
	FirstInstr int32
	InstrCount int32

	Exit       ExitKind
	ExitBlocks IntToken // successor block ids; for branches: target first, then fallthrough
	Entries    IntToken // CFGNodeRef pool token

	Postorder int32 // -1 until numbered
	IDom      CFGNodeRef
	Handler   int32 // innermost enclosing exception handler, -1

	EntryStack  IntToken // data-node ids, bottom of stack first
	EntryScope  IntToken
	EntryLocals IntToken

	// ExitPhiSources lists (phi-node, source-node) pairs, flattened, for
	// the transitions out of this block.
	ExitPhiSources IntToken

	Flags BlockFlags
}

// LastInstr returns the id of the block's final instruction.
func (b *BasicBlock) LastInstr() int32 { return b.FirstInstr + b.InstrCount - 1 }

// Contains reports whether instruction id i lies inside the block.
func (b *BasicBlock) Contains(i int32) bool {
	return i >= b.FirstInstr && i < b.FirstInstr+b.InstrCount
}

// ExceptionHandler is one node of the exception-region tree. Try bounds are
// half-open instruction id ranges; after construction the regions form a
// forest of strictly nested intervals.
type ExceptionHandler struct {
	ID       int32
	TryStart int32
	TryEnd   int32
	Target   int32 // catch target instruction id
	Parent   int32 // -1 at roots
	ExcInfo  int32 // index into the method's exception table

	CatchType *registry.Class // nil catches everything

	// FlatCatchBlocks lists the catch-target block ids of this handler and
	// each ancestor, root last.
	FlatCatchBlocks IntToken
}
