package abcfile

import "fmt"

// Pool is a plain in-memory implementation of File, used by the driver
// commands and by tests. Slices are indexed directly; index 0 is the
// conventional "no value" slot and must be pre-filled by the builder
// functions below.
type Pool struct {
	Ints       []int32
	Uints      []uint32
	Doubles    []float64
	Strings    []string
	Namespaces []*Namespace
	Multinames []*Multiname
}

// NewPool returns a Pool with the index-0 entries in place.
func NewPool() *Pool {
	return &Pool{
		Ints:       []int32{0},
		Uints:      []uint32{0},
		Doubles:    []float64{0},
		Strings:    []string{""},
		Namespaces: []*Namespace{nil},
		Multinames: []*Multiname{nil},
	}
}

func poolGet[T any](what string, s []T, i uint32) (T, error) {
	var zero T
	if i >= uint32(len(s)) {
		return zero, fmt.Errorf("abcfile: %s constant index %d out of range (pool size %d)", what, i, len(s))
	}
	return s[i], nil
}

func (p *Pool) ConstInt(i uint32) (int32, error)          { return poolGet("int", p.Ints, i) }
func (p *Pool) ConstUint(i uint32) (uint32, error)        { return poolGet("uint", p.Uints, i) }
func (p *Pool) ConstDouble(i uint32) (float64, error)     { return poolGet("double", p.Doubles, i) }
func (p *Pool) ConstString(i uint32) (string, error)      { return poolGet("string", p.Strings, i) }
func (p *Pool) ConstNamespace(i uint32) (*Namespace, error) { return poolGet("namespace", p.Namespaces, i) }
func (p *Pool) ConstMultiname(i uint32) (*Multiname, error) {
	return poolGet("multiname", p.Multinames, i)
}

// AddInt appends v and returns its pool index.
func (p *Pool) AddInt(v int32) uint32 {
	p.Ints = append(p.Ints, v)
	return uint32(len(p.Ints) - 1)
}

// AddUint appends v and returns its pool index.
func (p *Pool) AddUint(v uint32) uint32 {
	p.Uints = append(p.Uints, v)
	return uint32(len(p.Uints) - 1)
}

// AddDouble appends v and returns its pool index.
func (p *Pool) AddDouble(v float64) uint32 {
	p.Doubles = append(p.Doubles, v)
	return uint32(len(p.Doubles) - 1)
}

// AddString appends v and returns its pool index.
func (p *Pool) AddString(v string) uint32 {
	p.Strings = append(p.Strings, v)
	return uint32(len(p.Strings) - 1)
}

// AddNamespace appends ns and returns its pool index.
func (p *Pool) AddNamespace(ns *Namespace) uint32 {
	p.Namespaces = append(p.Namespaces, ns)
	return uint32(len(p.Namespaces) - 1)
}

// AddMultiname appends mn and returns its pool index.
func (p *Pool) AddMultiname(mn *Multiname) uint32 {
	p.Multinames = append(p.Multinames, mn)
	return uint32(len(p.Multinames) - 1)
}
