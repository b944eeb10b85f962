package compiler

// The compiler's entities cross-reference each other by dense arena indices
// rather than pointers, so cyclic structures (the CFG, phi webs) need no
// ownership discipline. Small immutable integer lists (exit-block lists,
// switch cases, entry snapshots) live in a single shared backing slice and
// are referenced by tokens; mutable def-use lists live in a separate
// dynamic pool.

// IntToken is an opaque handle to a list in a StaticIntPool or RefPool. It
// carries the list length; the zero token is the empty list.
type IntToken uint64

func makeToken(off, n int) IntToken { return IntToken(uint64(off)<<24 | uint64(n)) }

// Len returns the number of elements in the referenced list.
func (t IntToken) Len() int { return int(t & 0xffffff) }

func (t IntToken) off() int { return int(t >> 24) }

// StaticIntPool allocates small immutable int32 lists.
type StaticIntPool struct {
	data []int32
}

// Alloc copies vals into the pool and returns its token.
func (p *StaticIntPool) Alloc(vals ...int32) IntToken {
	if len(vals) == 0 {
		return 0
	}
	off := len(p.data)
	p.data = append(p.data, vals...)
	return makeToken(off, len(vals))
}

// Get returns the list referenced by t. The returned slice aliases the
// pool; writes through it update the stored list in place.
func (p *StaticIntPool) Get(t IntToken) []int32 {
	if t.Len() == 0 {
		return nil
	}
	return p.data[t.off() : t.off()+t.Len()]
}

// RefPool allocates small immutable CFGNodeRef lists.
type RefPool struct {
	data []CFGNodeRef
}

// Alloc copies vals into the pool and returns its token.
func (p *RefPool) Alloc(vals ...CFGNodeRef) IntToken {
	if len(vals) == 0 {
		return 0
	}
	off := len(p.data)
	p.data = append(p.data, vals...)
	return makeToken(off, len(vals))
}

// Get returns the list referenced by t.
func (p *RefPool) Get(t IntToken) []CFGNodeRef {
	if t.Len() == 0 {
		return nil
	}
	return p.data[t.off() : t.off()+t.Len()]
}

// DynToken references a mutable list in a DynamicIntPool. -1 is the nil
// list.
type DynToken int32

// DynamicIntPool holds the growable def-use lists.
type DynamicIntPool struct {
	lists [][]uint32
}

// New allocates an empty list.
func (p *DynamicIntPool) New() DynToken {
	p.lists = append(p.lists, nil)
	return DynToken(len(p.lists) - 1)
}

// Append adds v to the list referenced by t.
func (p *DynamicIntPool) Append(t DynToken, v uint32) {
	p.lists[t] = append(p.lists[t], v)
}

// Get returns the current contents of the list referenced by t.
func (p *DynamicIntPool) Get(t DynToken) []uint32 {
	if t < 0 {
		return nil
	}
	return p.lists[t]
}
