package compiler

import (
	"sort"

	"github.com/jfd16/mariana-go/abc/opcode"
)

// instrAtOffset returns the id of the instruction starting at the given
// byte offset, or -1 if no instruction starts there.
func (c *MethodCompilation) instrAtOffset(off int32) int32 {
	i := sort.Search(len(c.instrs), func(i int) bool { return c.instrs[i].Offset >= off })
	if i < len(c.instrs) && c.instrs[i].Offset == off {
		return int32(i)
	}
	return -1
}

// nextOffset returns the byte offset just past instruction id.
func (c *MethodCompilation) nextOffset(id int32) int32 {
	if int(id)+1 < len(c.instrs) {
		return c.instrs[id+1].Offset
	}
	return int32(len(c.method.Code))
}

// newBlock allocates a block headed by instruction first. The instruction
// is flagged as a block head. With pending, the block is queued for
// walking.
func (c *MethodCompilation) newBlock(first int32, pending bool) int32 {
	id := int32(len(c.blocks))
	c.blocks = append(c.blocks, BasicBlock{
		ID:         id,
		FirstInstr: first,
		Postorder:  -1,
		Handler:    -1,
		IDom:       CFGStart,
	})
	c.instrs[first].Flags |= InstrStartsBlock
	c.blockOfHead[first] = id
	if pending {
		c.worklist = append(c.worklist, id)
	}
	return id
}

// blockAt returns the block headed by instruction id, creating or
// splitting as needed. Splitting reassigns instructions to a new block, so
// callers must re-read any held block ids afterwards.
func (c *MethodCompilation) blockAt(id int32) int32 {
	if b, ok := c.blockOfHead[id]; ok {
		return b
	}
	ins := &c.instrs[id]
	if ins.Reached() && ins.Block >= 0 {
		return c.splitBlock(ins.Block, id)
	}
	return c.newBlock(id, true)
}

// splitBlock splits block bid at instruction `at`, which becomes the head
// of a new block inheriting bid's exit; bid is retargeted as a jump to it.
func (c *MethodCompilation) splitBlock(bid, at int32) int32 {
	nid := c.newBlock(at, false)
	b := &c.blocks[bid]
	nb := &c.blocks[nid]

	nb.Exit = b.Exit
	nb.ExitBlocks = b.ExitBlocks
	nb.InstrCount = b.FirstInstr + b.InstrCount - at
	nb.Flags |= BlockVisited
	for i := at; i < at+nb.InstrCount; i++ {
		c.instrs[i].Block = nid
	}

	b.InstrCount = at - b.FirstInstr
	b.Exit = ExitJump
	b.ExitBlocks = c.staticInts.Alloc(nid)
	c.instrs[at-1].Flags |= InstrEndsBlock
	return nid
}

// buildFlowFrom walks the instruction stream block-by-block starting at
// the given instruction, discovering blocks through a worklist.
func (c *MethodCompilation) buildFlowFrom(entry int32) error {
	c.blockAt(entry)
	for len(c.worklist) > 0 {
		bid := c.worklist[len(c.worklist)-1]
		c.worklist = c.worklist[:len(c.worklist)-1]
		if c.blocks[bid].Flags&BlockVisited != 0 {
			continue
		}
		if err := c.walkBlock(bid); err != nil {
			return err
		}
	}
	return nil
}

func (c *MethodCompilation) walkBlock(bid int32) error {
	c.blocks[bid].Flags |= BlockVisited | BlockReachable
	i := c.blocks[bid].FirstInstr
	count := int32(0)
	for {
		ins := &c.instrs[i]
		if ins.Flags&InstrInvalid != 0 {
			return errAt(ErrInvalidOpcodeReachable, i, "undefined opcode 0x%02x is reachable", uint8(ins.Op))
		}
		ins.Flags |= InstrReached
		ins.Block = bid
		count++

		if ins.Op.EndsBlock() {
			ins.Flags |= InstrEndsBlock
			if ins.Op.IsTerminator() {
				ins.Flags |= InstrTerminator
			}
			c.blocks[bid].InstrCount = count
			return c.resolveExit(bid, i)
		}

		if int(i)+1 >= len(c.instrs) {
			return errAt(ErrCodeFalloff, i, "control falls off the end of the method")
		}
		if c.instrs[i+1].Flags&InstrStartsBlock != 0 {
			ins.Flags |= InstrEndsBlock
			c.blocks[bid].InstrCount = count
			next := c.blockAt(i + 1)
			bid = c.instrs[i].Block // blockAt may have split bid
			c.blocks[bid].Exit = ExitFall
			c.blocks[bid].ExitBlocks = c.staticInts.Alloc(next)
			return nil
		}
		i++
	}
}

// resolveExit sets the exit kind and targets of the block ending at
// control-transfer instruction i. Any blockAt call may split the current
// block, so the owning block id is re-read from the instruction afterwards.
func (c *MethodCompilation) resolveExit(bid, i int32) error {
	op := c.instrs[i].Op
	switch {
	case op == opcode.JUMP:
		t, err := c.branchTarget(i)
		if err != nil {
			return err
		}
		c.instrs[i].Target = t
		tb := c.blockAt(t)
		bid = c.instrs[i].Block
		c.blocks[bid].Exit = ExitJump
		c.blocks[bid].ExitBlocks = c.staticInts.Alloc(tb)

	case op.IsBranch():
		t, err := c.branchTarget(i)
		if err != nil {
			return err
		}
		c.instrs[i].Target = t
		if int(i)+1 >= len(c.instrs) {
			return errAt(ErrCodeFalloff, i, "branch fallthrough off the end of the method")
		}
		fall := c.blockAt(i + 1)
		tb := c.blockAt(t)
		bid = c.instrs[i].Block
		c.blocks[bid].Exit = ExitBranch
		c.blocks[bid].ExitBlocks = c.staticInts.Alloc(tb, fall)

	case op == opcode.LOOKUPSWITCH:
		// Switch case offsets are relative to the switch instruction's own
		// byte offset, unlike other branches.
		base := c.instrs[i].Offset
		// copy out: blockAt may grow the static pool and stale the view
		cases := append([]int32(nil), c.staticInts.Get(c.instrs[i].Cases)...)
		for j, rel := range cases {
			t, err := c.resolveTarget(i, base+rel)
			if err != nil {
				return err
			}
			cases[j] = t
			c.blockAt(t)
		}
		// raw offsets become instruction ids in place; targets are block
		// heads now and heads survive any splits above
		copy(c.staticInts.Get(c.instrs[i].Cases), cases)
		blockIDs := make([]int32, len(cases))
		for j, t := range cases {
			blockIDs[j] = c.blockOfHead[t]
		}
		bid = c.instrs[i].Block
		c.blocks[bid].Exit = ExitSwitch
		c.blocks[bid].ExitBlocks = c.staticInts.Alloc(blockIDs...)

	case op == opcode.RETURNVOID || op == opcode.RETURNVALUE:
		c.blocks[bid].Exit = ExitReturn

	case op == opcode.THROW:
		c.blocks[bid].Exit = ExitThrow
	}
	return nil
}

// branchTarget resolves the target of the s24 branch at instruction i,
// using the instruction-after base.
func (c *MethodCompilation) branchTarget(i int32) (int32, error) {
	base := c.nextOffset(i)
	return c.resolveTarget(i, base+c.instrs[i].ImmA)
}

// resolveTarget maps a byte offset to the instruction starting there.
func (c *MethodCompilation) resolveTarget(i, off int32) (int32, error) {
	if off < 0 {
		return 0, errAt(ErrInvalidBranchTarget, i, "branch target %d before start of code", off)
	}
	if off >= int32(len(c.method.Code)) {
		return 0, errAt(ErrCodeFalloff, i, "branch target %d past end of code", off)
	}
	t := c.instrAtOffset(off)
	if t < 0 {
		return 0, errAt(ErrInvalidBranchTarget, i, "branch target %d is inside an instruction", off)
	}
	return t, nil
}

// buildEntries populates every reachable block's entry-point set:
// predecessor blocks, the synthetic START for the method entry, and catch
// edges for handler targets.
func (c *MethodCompilation) buildEntries() {
	tmp := make([][]CFGNodeRef, len(c.blocks))
	if len(c.blocks) > 0 {
		entry := c.blockOfHead[0]
		tmp[entry] = append(tmp[entry], CFGStart)
	}
	for bi := range c.blocks {
		b := &c.blocks[bi]
		if b.Flags&BlockVisited == 0 {
			continue
		}
		for _, succ := range c.staticInts.Get(b.ExitBlocks) {
			tmp[succ] = append(tmp[succ], BlockRef(b.ID))
		}
	}
	for hi := range c.handlers {
		h := &c.handlers[hi]
		tb := c.instrs[h.Target].Block
		tmp[tb] = append(tmp[tb], CatchRef(h.ID))
	}
	for bi := range c.blocks {
		c.blocks[bi].Entries = c.refs.Alloc(tmp[bi]...)
	}
}
