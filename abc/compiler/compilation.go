// Package compiler is the middle-end of the ahead-of-time ABC compiler: it
// decodes a method body's bytecode, assembles the control-flow graph,
// recovers the exception-region tree, lifts the operand-stack machine into
// SSA-formed data nodes, resolves property accesses against the class
// registry, and emits a typed back-end instruction stream.
//
// A MethodCompilation owns every arena-allocated entity produced by its
// passes; nothing is shared between compilations, and a failed pass simply
// abandons the store.
package compiler

import (
	"context"

	"github.com/dolthub/swiss"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/mangle"
	"github.com/jfd16/mariana-go/abc/registry"
)

// MethodCompilation is the per-method pass store. Passes run sequentially
// on a single goroutine: Decode, BuildFlow, BuildDominators, BuildDataFlow,
// Analyze, Generate. Run drives them all.
type MethodCompilation struct {
	file   abcfile.File
	method *abcfile.MethodInfo
	world  registry.Registry

	instrs   []Instruction
	blocks   []BasicBlock
	handlers []ExceptionHandler
	nodes    []DataNode
	props    []ResolvedProperty

	staticInts StaticIntPool
	refs       RefPool
	dyn        DynamicIntPool

	propIntern  *swiss.Map[propKey, int32]
	mangler     *mangle.Mangler
	classTraits map[*registry.Class]*registry.Trait

	// flow-assembly working state
	blockOfHead map[int32]int32
	worklist    []int32

	// data-flow working state, block-indexed
	exitStack  [][]int32
	exitScope  [][]int32
	exitLocals [][]int32
}

// New returns a compilation for the given method against the given
// constant pools and class registry.
func New(file abcfile.File, method *abcfile.MethodInfo, world registry.Registry) *MethodCompilation {
	return &MethodCompilation{
		file:        file,
		method:      method,
		world:       world,
		propIntern:  swiss.NewMap[propKey, int32](16),
		mangler:     mangle.New(),
		blockOfHead: make(map[int32]int32),
	}
}

// Run executes all passes and emits into b. The first failing pass aborts
// the compilation; the error is an *Error for input-shape failures.
func (c *MethodCompilation) Run(ctx context.Context, b il.Builder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Decode(); err != nil {
		return err
	}
	if err := c.BuildFlow(); err != nil {
		return err
	}
	if err := c.BuildDominators(); err != nil {
		return err
	}
	if err := c.BuildDataFlow(); err != nil {
		return err
	}
	if err := c.Analyze(); err != nil {
		return err
	}
	return c.Generate(b)
}

// Method returns the method under compilation.
func (c *MethodCompilation) Method() *abcfile.MethodInfo { return c.method }

// Instructions returns the decoded instruction arena.
func (c *MethodCompilation) Instructions() []Instruction { return c.instrs }

// Blocks returns the basic-block arena.
func (c *MethodCompilation) Blocks() []BasicBlock { return c.blocks }

// Handlers returns the exception-handler arena.
func (c *MethodCompilation) Handlers() []ExceptionHandler { return c.handlers }

// Nodes returns the data-node arena.
func (c *MethodCompilation) Nodes() []DataNode { return c.nodes }

// Props returns the resolved-property table.
func (c *MethodCompilation) Props() []ResolvedProperty { return c.props }

// Node returns the data node with the given id.
func (c *MethodCompilation) Node(id int32) *DataNode { return &c.nodes[id] }

// Block returns the block with the given id.
func (c *MethodCompilation) Block(id int32) *BasicBlock { return &c.blocks[id] }

// IntList resolves a static int-pool token.
func (c *MethodCompilation) IntList(t IntToken) []int32 { return c.staticInts.Get(t) }

// RefList resolves a CFGNodeRef pool token.
func (c *MethodCompilation) RefList(t IntToken) []CFGNodeRef { return c.refs.Get(t) }

// DefsOf returns the def list of node id.
func (c *MethodCompilation) DefsOf(id int32) []DataNodeOrInstrRef {
	return refList(c.dyn.Get(c.nodes[id].Defs))
}

// UsesOf returns the use list of node id.
func (c *MethodCompilation) UsesOf(id int32) []DataNodeOrInstrRef {
	return refList(c.dyn.Get(c.nodes[id].Uses))
}

func refList(raw []uint32) []DataNodeOrInstrRef {
	if len(raw) == 0 {
		return nil
	}
	out := make([]DataNodeOrInstrRef, len(raw))
	for i, v := range raw {
		out[i] = DataNodeOrInstrRef(v)
	}
	return out
}

// newNode allocates a data node for the given slot.
func (c *MethodCompilation) newNode(slot Slot, typ DataType) int32 {
	id := int32(len(c.nodes))
	c.nodes = append(c.nodes, DataNode{
		ID:   id,
		Slot: slot,
		Type: typ,
		Defs: c.dyn.New(),
		Uses: c.dyn.New(),
	})
	return id
}

func (c *MethodCompilation) addDef(node int32, ref DataNodeOrInstrRef) {
	c.dyn.Append(c.nodes[node].Defs, uint32(ref))
}

func (c *MethodCompilation) addUse(node int32, ref DataNodeOrInstrRef) {
	c.dyn.Append(c.nodes[node].Uses, uint32(ref))
}
