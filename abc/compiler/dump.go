package compiler

import (
	"fmt"
	"strings"

	"github.com/jfd16/mariana-go/abc/opcode"
)

// FormatInstructions renders the decoded instruction list, one per line:
// id, byte offset, mnemonic, immediates and flow annotations.
func (c *MethodCompilation) FormatInstructions() string {
	flowRan := len(c.blocks) > 0
	var sb strings.Builder
	for ii := range c.instrs {
		ins := &c.instrs[ii]
		fmt.Fprintf(&sb, "%4d %+06d %s", ii, ins.Offset, ins.Op.String())
		switch opcode.InfoOf(ins.Op).Imm {
		case opcode.ImmByte, opcode.ImmU30:
			fmt.Fprintf(&sb, " %d", ins.ImmA)
		case opcode.ImmU30U30, opcode.ImmDebug:
			fmt.Fprintf(&sb, " %d, %d", ins.ImmA, ins.ImmB)
		case opcode.ImmS24:
			if ins.Target >= 0 {
				fmt.Fprintf(&sb, " -> %d", ins.Target)
			} else {
				fmt.Fprintf(&sb, " %+d", ins.ImmA)
			}
		case opcode.ImmSwitch:
			fmt.Fprintf(&sb, " %v", c.staticInts.Get(ins.Cases))
		}
		var marks []string
		if ins.Flags&InstrStartsBlock != 0 {
			marks = append(marks, "head")
		}
		if flowRan && !ins.Reached() {
			marks = append(marks, "dead")
		}
		if len(marks) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(marks, ","))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatCFG renders the basic blocks with their exits, entry points,
// dominators and exception handlers.
func (c *MethodCompilation) FormatCFG() string {
	var sb strings.Builder
	for bi := range c.blocks {
		b := &c.blocks[bi]
		if b.Flags&BlockVisited == 0 {
			continue
		}
		fmt.Fprintf(&sb, "block %d: instr %d..%d exit=%s", b.ID,
			b.FirstInstr, b.FirstInstr+b.InstrCount-1, b.Exit)
		if succ := c.staticInts.Get(b.ExitBlocks); len(succ) > 0 {
			fmt.Fprintf(&sb, " -> %v", succ)
		}
		if refs := c.refs.Get(b.Entries); len(refs) > 0 {
			sb.WriteString(" from [")
			for ri, r := range refs {
				if ri > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(r.String())
			}
			sb.WriteByte(']')
		}
		if b.Postorder >= 0 {
			fmt.Fprintf(&sb, " po=%d idom=%s", b.Postorder, b.IDom)
		}
		if b.Handler != -1 {
			fmt.Fprintf(&sb, " eh=%d", b.Handler)
		}
		sb.WriteByte('\n')
	}
	for hi := range c.handlers {
		h := &c.handlers[hi]
		fmt.Fprintf(&sb, "handler %d: try [%d,%d) target=%d parent=%d",
			h.ID, h.TryStart, h.TryEnd, h.Target, h.Parent)
		if h.CatchType != nil {
			fmt.Fprintf(&sb, " type=%s", h.CatchType.QualifiedName())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatDataFlow renders the data nodes: slot, type, flags and def/use
// edges.
func (c *MethodCompilation) FormatDataFlow() string {
	var sb strings.Builder
	for ni := range c.nodes {
		n := &c.nodes[ni]
		fmt.Fprintf(&sb, "n%-4d %-10s %-9s", n.ID, n.Slot, n.Type)
		var marks []string
		if n.Flags&NodePhi != 0 {
			marks = append(marks, "phi")
		}
		if n.IsConstant() {
			marks = append(marks, "const")
		}
		if n.Flags&NodeArgument != 0 {
			marks = append(marks, "arg")
		}
		if n.Flags&NodeException != 0 {
			marks = append(marks, "exc")
		}
		if len(marks) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(marks, ","))
		}
		if defs := c.DefsOf(n.ID); len(defs) > 0 {
			fmt.Fprintf(&sb, " defs=%v", defs)
		}
		if uses := c.UsesOf(n.ID); len(uses) > 0 {
			fmt.Fprintf(&sb, " uses=%v", uses)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
