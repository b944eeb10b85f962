package compiler

import (
	"golang.org/x/exp/slices"
)

// ehRegion is the working form of an exception-table entry during tree
// construction. Bounds are half-open instruction id ranges.
type ehRegion struct {
	start, end int32
	target     int32
	exc        int32 // exception-table index
	parent     int32 // index into the region list, assigned late
}

// regionLess orders regions so that an enclosing region precedes its
// enclosed regions: start ascending, end descending, declaration index
// descending.
func regionLess(a, b ehRegion) int {
	switch {
	case a.start != b.start:
		return int(a.start - b.start)
	case a.end != b.end:
		return int(b.end - a.end)
	default:
		return int(b.exc - a.exc)
	}
}

// BuildFlow assembles the control-flow graph and the exception-region
// tree: the initial walk from the method entry, the catch-reachability
// fixpoint, overlap splitting, parent assignment, and the per-block
// innermost-handler assignment.
func (c *MethodCompilation) BuildFlow() error {
	if err := c.buildFlowFrom(0); err != nil {
		return err
	}

	regions, err := c.initialRegions()
	if err != nil {
		return err
	}
	regions, err = c.activateRegions(regions)
	if err != nil {
		return err
	}
	c.trimRegions(regions)
	regions = dropEmpty(regions)

	slices.SortFunc(regions, regionLess)
	regions = c.resolveOverlaps(regions)
	c.trimRegions(regions)
	regions = dropEmpty(regions)
	slices.SortFunc(regions, regionLess)
	assignParents(regions)

	if err := c.buildHandlers(regions); err != nil {
		return err
	}
	c.assignBlockHandlers()
	c.buildEntries()
	return nil
}

// initialRegions maps the raw exception table to instruction id ranges,
// dropping empty regions.
func (c *MethodCompilation) initialRegions() ([]ehRegion, error) {
	excs := c.method.Exceptions
	regions := make([]ehRegion, 0, len(excs))
	for xi := range excs {
		x := &excs[xi]
		from := c.instrAtOffset(int32(x.From))
		if from < 0 {
			return nil, errAt(ErrIllegalExceptionTable, -1, "try start %d is inside an instruction", x.From)
		}
		var to int32
		if x.To == uint32(len(c.method.Code)) {
			to = int32(len(c.instrs))
		} else if to = c.instrAtOffset(int32(x.To)); to < 0 {
			return nil, errAt(ErrIllegalExceptionTable, -1, "try end %d is inside an instruction", x.To)
		}
		target := c.instrAtOffset(int32(x.Target))
		if target < 0 {
			return nil, errAt(ErrIllegalExceptionTable, -1, "catch target %d is inside an instruction", x.Target)
		}
		if from >= to {
			continue // empty try region
		}
		regions = append(regions, ehRegion{start: from, end: to, target: target, exc: int32(xi), parent: -1})
	}
	return regions, nil
}

// activateRegions reruns the flow assembler from each catch target whose
// try region contains at least one reachable instruction, to a fixed
// point. Regions guarding only unreachable code are removed.
func (c *MethodCompilation) activateRegions(regions []ehRegion) ([]ehRegion, error) {
	active := make([]bool, len(regions))
	for changed := true; changed; {
		changed = false
		for ri := range regions {
			if active[ri] || !c.regionReached(&regions[ri]) {
				continue
			}
			active[ri] = true
			changed = true
			if err := c.buildFlowFrom(regions[ri].target); err != nil {
				return nil, err
			}
		}
	}
	out := regions[:0]
	for ri := range regions {
		if active[ri] {
			out = append(out, regions[ri])
		}
	}
	return out, nil
}

func (c *MethodCompilation) regionReached(r *ehRegion) bool {
	for i := r.start; i < r.end; i++ {
		if c.instrs[i].Reached() {
			return true
		}
	}
	return false
}

// trimRegions shrinks each region inward to its first and last reachable
// instructions.
func (c *MethodCompilation) trimRegions(regions []ehRegion) {
	for ri := range regions {
		r := &regions[ri]
		for r.start < r.end && !c.instrs[r.start].Reached() {
			r.start++
		}
		for r.end > r.start && !c.instrs[r.end-1].Reached() {
			r.end--
		}
	}
}

func dropEmpty(regions []ehRegion) []ehRegion {
	out := regions[:0]
	for _, r := range regions {
		if r.start < r.end {
			out = append(out, r)
		}
	}
	return out
}

// resolveOverlaps splits partially-overlapping regions so that the final
// set forms a forest of strictly nested intervals. The input must be
// sorted; split fragments are re-inserted in sorted position by a backward
// bubble.
func (c *MethodCompilation) resolveOverlaps(regions []ehRegion) []ehRegion {
	var open []int32 // ends of currently enclosing regions
	for i := 0; i < len(regions); i++ {
		r := &regions[i]
		for len(open) > 0 && r.start >= open[len(open)-1] {
			open = open[:len(open)-1]
		}
		if len(open) == 0 || r.end <= open[len(open)-1] {
			open = append(open, r.end)
			continue
		}
		// partial overlap: truncate r at the enclosing end and re-insert
		// the remainder as a fragment with the same exception info
		top := open[len(open)-1]
		frag := ehRegion{start: top, end: r.end, target: r.target, exc: r.exc, parent: -1}
		r.end = top
		open = append(open, r.end)
		regions = append(regions, frag)
		for j := len(regions) - 1; j > i+1 && regionLess(regions[j], regions[j-1]) < 0; j-- {
			regions[j], regions[j-1] = regions[j-1], regions[j]
		}
	}
	return regions
}

// assignParents links each region to its innermost enclosing region. The
// input is sorted and overlap-free.
func assignParents(regions []ehRegion) {
	cur := int32(-1)
	for i := range regions {
		for cur != -1 && regions[i].start >= regions[cur].end {
			cur = regions[cur].parent
		}
		regions[i].parent = cur
		cur = int32(i)
	}
}

// buildHandlers materializes the ExceptionHandler arena from the final
// regions, pre-splits blocks at region boundaries, and computes the
// flattened catch-target block lists.
func (c *MethodCompilation) buildHandlers(regions []ehRegion) error {
	c.handlers = make([]ExceptionHandler, len(regions))
	for ri := range regions {
		r := &regions[ri]
		h := &c.handlers[ri]
		h.ID = int32(ri)
		h.TryStart, h.TryEnd = r.start, r.end
		h.Target = r.target
		h.Parent = r.parent
		h.ExcInfo = r.exc

		if tmn := c.method.Exceptions[r.exc].Type; tmn != nil && tmn.Name != "*" {
			cls, err := c.world.ClassByMultiname(tmn, true)
			if err != nil {
				return errAt(ErrClassNotFound, r.target, "catch type %v: %v", tmn, err)
			}
			h.CatchType = cls
		}
	}

	// block boundaries at every try start and end; bounds are trimmed to
	// reachable instructions so the head lookup cannot create new flow
	for hi := range c.handlers {
		h := &c.handlers[hi]
		c.blockAt(h.TryStart)
		if int(h.TryEnd) < len(c.instrs) && c.instrs[h.TryEnd].Reached() {
			c.blockAt(h.TryEnd)
		}
	}

	for hi := range c.handlers {
		var flat []int32
		for p := int32(hi); p != -1; p = c.handlers[p].Parent {
			flat = append(flat, c.blockOfHead[c.handlers[p].Target])
		}
		c.handlers[hi].FlatCatchBlocks = c.staticInts.Alloc(flat...)
	}
	return nil
}

// assignBlockHandlers assigns each reachable block its innermost enclosing
// handler by a single sweep over blocks in first-instruction order.
func (c *MethodCompilation) assignBlockHandlers() {
	order := make([]int32, 0, len(c.blocks))
	for bi := range c.blocks {
		if c.blocks[bi].Flags&BlockVisited != 0 {
			order = append(order, int32(bi))
		}
	}
	slices.SortFunc(order, func(a, b int32) int {
		return int(c.blocks[a].FirstInstr - c.blocks[b].FirstInstr)
	})

	cur := int32(-1)
	hi := 0
	for _, bid := range order {
		f := c.blocks[bid].FirstInstr
		for cur != -1 && f >= c.handlers[cur].TryEnd {
			cur = c.handlers[cur].Parent
		}
		for hi < len(c.handlers) && c.handlers[hi].TryStart <= f {
			if c.handlers[hi].TryStart == f && f < c.handlers[hi].TryEnd {
				cur = int32(hi)
			}
			hi++
		}
		c.blocks[bid].Handler = cur
	}
}
