package model

import (
	"strings"

	"github.com/jacentio/trellis-odm/store"
)

// highlightField is added to search hits by the engine and is never part of
// a document.
const highlightField = "_highlightResult"

type maskKind int

const (
	maskDefault maskKind = iota
	maskSelect
	maskExtend
	maskAll
)

// Mask selects the fields returned to a caller. The zero value is the
// model's default mask.
type Mask struct {
	kind   maskKind
	expr   string
	fields []string
}

// Select returns a mask projecting expr, a field selector such as
// "a,b/c,d(e,f),*". An empty expr is the default mask.
func Select(expr string) Mask {
	if expr == "" {
		return Mask{}
	}
	return Mask{kind: maskSelect, expr: expr}
}

// Extend returns the default mask plus fields. Without fields nothing is
// redacted, like All.
func Extend(fields ...string) Mask {
	if len(fields) == 0 {
		return All()
	}
	return Mask{kind: maskExtend, fields: fields}
}

// All returns the identity mask. It exposes every field and must only be
// used for trusted callers.
func All() Mask {
	return Mask{kind: maskAll}
}

func defaultMask(fields Fields) []string {
	mask := []string{FieldID}
	for _, name := range sortedNames(fields) {
		if fields[name].WhiteList && !isReserved(name) {
			mask = append(mask, name)
		}
	}
	return append(mask, FieldCreatedAt, FieldUpdatedAt)
}

// DefaultMask returns the fields exposed when no mask is given.
func (m *Model) DefaultMask() []string {
	return append([]string(nil), m.defaultMask...)
}

// compile resolves mask into a selection tree; nil means identity.
func (m *Model) compile(mask Mask) maskNode {
	switch mask.kind {
	case maskDefault:
		return parseMask(strings.Join(m.defaultMask, ","))
	case maskSelect:
		return parseMask(mask.expr)
	case maskExtend:
		return parseMask(strings.Join(append(m.DefaultMask(), mask.fields...), ","))
	}
	return nil
}

// Mask projects doc through mask. The result is a copy.
func (m *Model) Mask(doc store.Data, mask Mask) store.Data {
	if doc == nil {
		return nil
	}
	return project(doc, m.compile(mask))
}

// MaskAll projects every document of docs. Nil entries stay nil.
func (m *Model) MaskAll(docs []store.Data, mask Mask) []store.Data {
	node := m.compile(mask)
	out := make([]store.Data, len(docs))
	for i, doc := range docs {
		if doc != nil {
			out[i] = project(doc, node)
		}
	}
	return out
}

// ProjectHits projects raw search hits, dropping the engine highlight data
// first.
func (m *Model) ProjectHits(hits []store.Data, mask Mask) []store.Data {
	node := m.compile(mask)
	out := make([]store.Data, len(hits))
	for i, hit := range hits {
		if hit == nil {
			continue
		}
		clean := make(store.Data, len(hit))
		for k, v := range hit {
			if k != highlightField {
				clean[k] = v
			}
		}
		out[i] = project(clean, node)
	}
	return out
}

// Mask projects the instance document through mask.
func (i *Instance) Mask(mask Mask) store.Data {
	return i.model.Mask(i.doc, mask)
}

// maskNode is a parsed selector. A nil child selects the whole value.
type maskNode map[string]maskNode

func project(doc store.Data, node maskNode) store.Data {
	if node == nil {
		return deepCopy(doc).(store.Data)
	}
	v, _ := selectValue(doc, node)
	out, _ := v.(map[string]any)
	if out == nil {
		out = store.Data{}
	}
	return out
}

// selectValue applies node to v. It reports false when nothing of v is
// selected.
func selectValue(v any, node maskNode) (any, bool) {
	if node == nil {
		return deepCopy(v), true
	}
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any)
		if child, ok := node["*"]; ok {
			for k, e := range tv {
				if _, explicit := node[k]; explicit {
					continue
				}
				if r, ok := selectValue(e, child); ok {
					out[k] = r
				}
			}
		}
		for k, child := range node {
			if k == "*" {
				continue
			}
			e, ok := tv[k]
			if !ok {
				continue
			}
			if r, ok := selectValue(e, child); ok {
				out[k] = r
			}
		}
		return out, len(out) > 0
	case []any:
		out := make([]any, 0, len(tv))
		for _, e := range tv {
			if r, ok := selectValue(e, node); ok {
				out = append(out, r)
			}
		}
		return out, true
	}
	return nil, false
}

// parseMask parses a selector of comma separated paths. A path is a chain
// of names joined by "/" and may end in a parenthesized sub selector:
//
//	a,b/c,d(e,f/g),*
func parseMask(expr string) maskNode {
	p := &maskParser{tokens: tokenize(expr)}
	return p.list()
}

type maskParser struct {
	tokens []string
	pos    int
}

func (p *maskParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *maskParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

// list parses paths until the end of input or a closing parenthesis.
func (p *maskParser) list() maskNode {
	node := maskNode{}
	for p.pos < len(p.tokens) {
		switch p.peek() {
		case ",":
			p.next()
		case ")":
			p.next()
			return node
		case "/", "(":
			p.next()
		default:
			name, child := p.path()
			merge(node, name, child)
		}
	}
	return node
}

func (p *maskParser) path() (string, maskNode) {
	name := p.next()
	switch p.peek() {
	case "/":
		p.next()
		if tok := p.peek(); tok == "" || isDelimiter(tok) {
			return name, nil
		}
		childName, grandchild := p.path()
		child := maskNode{}
		merge(child, childName, grandchild)
		return name, child
	case "(":
		p.next()
		child := p.list()
		if len(child) == 0 {
			return name, nil
		}
		return name, child
	}
	return name, nil
}

// merge adds name with child to node. Selecting a whole value wins over a
// partial selection of it.
func merge(node maskNode, name string, child maskNode) {
	existing, ok := node[name]
	switch {
	case !ok:
		node[name] = child
	case existing == nil || child == nil:
		node[name] = nil
	default:
		for k, c := range child {
			merge(existing, k, c)
		}
	}
}

func isDelimiter(tok string) bool {
	return tok == "," || tok == "/" || tok == "(" || tok == ")"
}

func tokenize(expr string) []string {
	var tokens []string
	var name strings.Builder
	flush := func() {
		if s := strings.TrimSpace(name.String()); s != "" {
			tokens = append(tokens, s)
		}
		name.Reset()
	}
	for _, r := range expr {
		switch r {
		case ',', '/', '(', ')':
			flush()
			tokens = append(tokens, string(r))
		default:
			name.WriteRune(r)
		}
	}
	flush()
	return tokens
}
