// Package mangle encodes qualified ABC names into back-end symbol
// identifiers. Member names (Name) are encoded injectively: distinct
// ⟨namespace, local name⟩ pairs always produce distinct symbols. Type names
// (TypeName) omit the separator between the namespace prefix and the local
// name, so two pairs whose encoded components concatenate to the same
// string share one type symbol.
package mangle

import (
	"strconv"
	"strings"

	"github.com/dolthub/swiss"

	"github.com/jfd16/mariana-go/abc/abcfile"
)

// escape is the prefix character introducing an escaped reserved
// character. moduleName is the back-end reserved type name that must never
// appear verbatim.
const (
	escape     = '$'
	separator  = ':'
	moduleName = "<Module>"
)

type cacheKey struct {
	kind     abcfile.NamespaceKind
	uri      string
	priv     int32
	name     string
	typeName bool
}

// Mangler encodes names. The scratch buffer is owned by the instance, so a
// Mangler must not be shared between goroutines; each compilation owns its
// own.
type Mangler struct {
	sb    strings.Builder
	cache *swiss.Map[cacheKey, string]
}

// New returns a ready Mangler.
func New() *Mangler {
	return &Mangler{cache: swiss.NewMap[cacheKey, string](16)}
}

// Name encodes a member name qualified by ns.
func (m *Mangler) Name(ns *abcfile.Namespace, name string) string {
	return m.mangle(ns, name, false)
}

// TypeName encodes a type name qualified by ns. Unlike member names, the
// component separator is omitted, and the reserved "<Module>" literal is
// escaped.
func (m *Mangler) TypeName(ns *abcfile.Namespace, name string) string {
	return m.mangle(ns, name, true)
}

func (m *Mangler) mangle(ns *abcfile.Namespace, name string, typeName bool) string {
	key := cacheKey{name: name, typeName: typeName}
	if ns != nil {
		key.kind = ns.Kind
		key.uri = ns.URI
		key.priv = ns.PrivateID
	} else {
		key.kind = abcfile.NSAny
	}
	if s, ok := m.cache.Get(key); ok {
		return s
	}

	m.sb.Reset()
	m.writePrefix(ns)
	if !typeName {
		m.sb.WriteByte(separator)
	}
	if typeName && name == moduleName {
		m.writeEscaped(name)
	} else {
		m.writeComponent(name)
	}
	s := m.sb.String()
	m.cache.Put(key, s)
	return s
}

func (m *Mangler) writePrefix(ns *abcfile.Namespace) {
	if ns == nil {
		m.sb.WriteString("$any")
		return
	}
	switch ns.Kind {
	case abcfile.NSPublic:
		m.writeComponent(ns.URI)
	case abcfile.NSPrivate:
		m.sb.WriteString("$private")
		m.sb.WriteString(strconv.FormatInt(int64(ns.PrivateID), 10))
	case abcfile.NSProtected:
		m.sb.WriteString("$protected")
		m.writeComponent(ns.URI)
	case abcfile.NSStaticProtected:
		m.sb.WriteString("$sprotected")
		m.writeComponent(ns.URI)
	case abcfile.NSExplicit:
		m.sb.WriteString("$explicit")
		m.writeComponent(ns.URI)
	case abcfile.NSPackageInternal:
		m.sb.WriteString("$internal")
		m.writeComponent(ns.URI)
	default:
		m.sb.WriteString("$any")
	}
}

// writeComponent writes s escaping every reserved character.
func (m *Mangler) writeComponent(s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case 0:
			m.sb.WriteByte(escape)
			m.sb.WriteByte('0')
		case escape, separator, '<', '>':
			m.sb.WriteByte(escape)
			m.sb.WriteByte(c)
		default:
			m.sb.WriteByte(c)
		}
	}
}

// writeEscaped writes s with every character escaped, used for the
// reserved module type name.
func (m *Mangler) writeEscaped(s string) {
	for i := 0; i < len(s); i++ {
		m.sb.WriteByte(escape)
		m.sb.WriteByte(s[i])
	}
}
