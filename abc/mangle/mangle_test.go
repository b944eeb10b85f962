package mangle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/abcfile"
	"github.com/jfd16/mariana-go/abc/mangle"
)

func ns(kind abcfile.NamespaceKind, uri string) *abcfile.Namespace {
	return &abcfile.Namespace{Kind: kind, URI: uri}
}

func TestMangleInjective(t *testing.T) {
	m := mangle.New()
	inputs := []struct {
		ns   *abcfile.Namespace
		name string
	}{
		{ns(abcfile.NSPublic, ""), "foo"},
		{ns(abcfile.NSPublic, "a"), "b:c"},
		{ns(abcfile.NSPublic, "a:b"), "c"},
		{ns(abcfile.NSPublic, "a:b:c"), ""},
		{ns(abcfile.NSPrivate, ""), "foo"},
		{&abcfile.Namespace{Kind: abcfile.NSPrivate, PrivateID: 1}, "foo"},
		{ns(abcfile.NSProtected, "a"), "foo"},
		{ns(abcfile.NSStaticProtected, "a"), "foo"},
		{ns(abcfile.NSPackageInternal, "a"), "foo"},
		{ns(abcfile.NSExplicit, "a"), "foo"},
		{nil, "foo"},
		{ns(abcfile.NSPublic, ""), "fo$o"},
		{ns(abcfile.NSPublic, ""), "fo$$o"},
		{ns(abcfile.NSPublic, ""), "fo\x00o"},
		{ns(abcfile.NSPublic, ""), "fo0o"},
		{ns(abcfile.NSPublic, ""), "<Module>"},
	}
	seen := make(map[string]int)
	for i, in := range inputs {
		sym := m.Name(in.ns, in.name)
		if prev, ok := seen[sym]; ok {
			t.Errorf("inputs %d and %d both mangle to %q", prev, i, sym)
		}
		seen[sym] = i
	}
}

func TestMangleTypeName(t *testing.T) {
	m := mangle.New()
	// type names omit the component separator
	assert.NotContains(t, m.TypeName(ns(abcfile.NSPublic, ""), "Foo"), ":")
	assert.Contains(t, m.Name(ns(abcfile.NSPublic, ""), "Foo"), ":")

	// the reserved back-end module name is escaped
	mod := m.TypeName(ns(abcfile.NSPublic, ""), "<Module>")
	assert.NotEqual(t, "<Module>", mod)
	assert.NotEqual(t, m.TypeName(ns(abcfile.NSPublic, ""), "$<$M$o$d$u$l$e$>"), mod)
}

func TestMangleEscapes(t *testing.T) {
	m := mangle.New()
	assert.Equal(t, ":fo$0o", m.Name(ns(abcfile.NSPublic, ""), "fo\x00o"))
	assert.Equal(t, ":a$:b", m.Name(ns(abcfile.NSPublic, ""), "a:b"))
	assert.Equal(t, ":a$$b", m.Name(ns(abcfile.NSPublic, ""), "a$b"))
}

func TestMangleCached(t *testing.T) {
	m := mangle.New()
	n := ns(abcfile.NSProtected, "pkg")
	first := m.Name(n, "member")
	second := m.Name(n, "member")
	require.Equal(t, first, second)
}

func TestManglePrivateSerials(t *testing.T) {
	m := mangle.New()
	a := m.Name(&abcfile.Namespace{Kind: abcfile.NSPrivate, PrivateID: 3}, "x")
	b := m.Name(&abcfile.Namespace{Kind: abcfile.NSPrivate, PrivateID: 4}, "x")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "3")
	assert.Contains(t, b, "4")
}
