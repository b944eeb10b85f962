package compiler

import "golang.org/x/exp/slices"

// successorsInto appends block bid's control-flow successors to dst: its
// exit targets, plus — when the block lies in a try region — the catch
// targets of the enclosing handler chain.
func (c *MethodCompilation) successorsInto(dst []int32, bid int32) []int32 {
	b := &c.blocks[bid]
	dst = append(dst, c.staticInts.Get(b.ExitBlocks)...)
	if b.Handler != -1 {
		dst = append(dst, c.staticInts.Get(c.handlers[b.Handler].FlatCatchBlocks)...)
	}
	return dst
}

// BuildDominators numbers reachable blocks in postorder and computes
// immediate dominators with the iterative intersection algorithm.
func (c *MethodCompilation) BuildDominators() error {
	c.numberPostorder()
	c.computeIDoms()
	return nil
}

// numberPostorder runs an iterative depth-first walk from the entry block;
// a two-phase stack entry discriminates first visits from finalization.
func (c *MethodCompilation) numberPostorder() {
	type frame struct {
		bid   int32
		final bool
	}
	visited := make([]bool, len(c.blocks))
	var stack []frame
	var succ []int32

	entry := c.blockOfHead[0]
	stack = append(stack, frame{bid: entry})
	po := int32(0)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.final {
			c.blocks[f.bid].Postorder = po
			po++
			continue
		}
		if visited[f.bid] {
			continue
		}
		visited[f.bid] = true
		stack = append(stack, frame{bid: f.bid, final: true})
		succ = c.successorsInto(succ[:0], f.bid)
		for _, s := range succ {
			if !visited[s] {
				stack = append(stack, frame{bid: s})
			}
		}
	}
}

// postorderOf returns the postorder index of a predecessor reference. The
// synthetic START and catch markers sort strictly before every block.
func (c *MethodCompilation) postorderOf(r CFGNodeRef) int32 {
	if r.IsBlock() {
		return c.blocks[r.Block()].Postorder
	}
	return -1
}

func (c *MethodCompilation) computeIDoms() {
	// blocks in reverse postorder
	order := make([]int32, 0, len(c.blocks))
	for bi := range c.blocks {
		if c.blocks[bi].Postorder >= 0 {
			order = append(order, int32(bi))
		}
	}
	slices.SortFunc(order, func(a, b int32) int {
		return int(c.blocks[b].Postorder - c.blocks[a].Postorder)
	})

	entry := c.blockOfHead[0]
	defined := make([]bool, len(c.blocks))
	c.blocks[entry].IDom = CFGStart
	defined[entry] = true

	for changed := true; changed; {
		changed = false
		for _, bid := range order {
			if bid == entry {
				continue
			}
			var newIdom CFGNodeRef
			have := false
			for _, pred := range c.refs.Get(c.blocks[bid].Entries) {
				if pred.IsBlock() && !defined[pred.Block()] {
					continue // unvisited predecessor, first pass
				}
				if !have {
					newIdom, have = pred, true
					continue
				}
				newIdom = c.intersect(pred, newIdom)
			}
			if have && (!defined[bid] || c.blocks[bid].IDom != newIdom) {
				c.blocks[bid].IDom = newIdom
				defined[bid] = true
				changed = true
			}
		}
	}
}

// intersect walks the two dominator chains to their common ancestor,
// advancing the reference with the smaller postorder index. Non-block
// references (START, catch markers) sort before all blocks, so any
// intersection involving two distinct ones resolves to START.
func (c *MethodCompilation) intersect(a, b CFGNodeRef) CFGNodeRef {
	for a != b {
		if !a.IsBlock() || !b.IsBlock() {
			return CFGStart
		}
		for a.IsBlock() && c.postorderOf(a) < c.postorderOf(b) {
			a = c.blocks[a.Block()].IDom
		}
		if a == b {
			break
		}
		for b.IsBlock() && c.postorderOf(b) < c.postorderOf(a) {
			b = c.blocks[b.Block()].IDom
		}
	}
	return a
}
