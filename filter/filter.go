// Package filter implements the attribute-predicate expressions used by
// requirements to select capabilities.
//
// The syntax is the parenthesised prefix form familiar from directory
// services:
//
//	(&(package=com.example.api)(version>=1.0.0)(!(version>=2.0.0)))
//
// Supported operators are & (and), | (or), ! (not), = (equality, with *
// wildcards for substring and presence tests), ~= (approximate: case and
// whitespace insensitive), >= and <=.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSyntax = errors.New("filter syntax error")
)

type operator int

const (
	opAnd operator = iota
	opOr
	opNot
	opEqual
	opApprox
	opGreaterEqual
	opLessEqual
	opPresent
	opSubstring
)

type node struct {
	op       operator
	attr     string
	value    string
	parts    []string // substring pieces; "" at either end means open
	children []*node
}

// Filter is a parsed, immutable filter expression. It is safe for
// concurrent use.
type Filter struct {
	text string
	root *node
}

// Parse compiles a filter expression.
func Parse(text string) (*Filter, error) {
	p := &parser{src: strings.TrimSpace(text)}
	root, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing characters")
	}
	return &Filter{text: p.src, root: root}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) *Filter {
	f, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the source text of the filter.
func (f *Filter) String() string {
	return f.text
}

// Matches evaluates the filter against an attribute map.
func (f *Filter) Matches(attrs map[string]any) bool {
	return f.root.matches(attrs)
}

// Attributes returns the sorted set of attribute names referenced anywhere in
// the filter.
func (f *Filter) Attributes() []string {
	seen := make(map[string]struct{})
	var walk func(n *node)
	walk = func(n *node) {
		if n.attr != "" {
			seen[n.attr] = struct{}{}
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(f.root)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// References reports whether attr is referenced by the filter.
func (f *Filter) References(attr string) bool {
	for _, name := range f.Attributes() {
		if name == attr {
			return true
		}
	}
	return false
}

// EqualityValue returns the value of a plain equality test on attr found at
// the top level of the filter (directly, or as a direct child of a top level
// conjunction). It is used to narrow index lookups.
func (f *Filter) EqualityValue(attr string) (string, bool) {
	candidates := []*node{f.root}
	if f.root.op == opAnd {
		candidates = f.root.children
	}
	for _, n := range candidates {
		if n.op == opEqual && n.attr == attr {
			return n.value, true
		}
	}
	return "", false
}

func (n *node) matches(attrs map[string]any) bool {
	switch n.op {
	case opAnd:
		for _, c := range n.children {
			if !c.matches(attrs) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range n.children {
			if c.matches(attrs) {
				return true
			}
		}
		return false
	case opNot:
		return !n.children[0].matches(attrs)
	}

	value, ok := attrs[n.attr]
	if !ok || value == nil {
		return false
	}
	if n.op == opPresent {
		return true
	}
	return compareValue(n, value)
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d in %q: %s", ErrSyntax, p.pos, p.src, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *parser) parseFilter() (*node, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end")
	}

	var n *node
	var err error
	switch p.src[p.pos] {
	case '&':
		p.pos++
		n, err = p.parseList(opAnd)
	case '|':
		p.pos++
		n, err = p.parseList(opOr)
	case '!':
		p.pos++
		var child *node
		child, err = p.parseFilter()
		n = &node{op: opNot, children: []*node{child}}
	default:
		n, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseList(op operator) (*node, error) {
	n := &node{op: op}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '(' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	if len(n.children) == 0 {
		return nil, p.errorf("empty filter list")
	}
	return n, nil
}

func (p *parser) parseItem() (*node, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("=<>~()", rune(p.src[p.pos])) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}
	if p.pos >= len(p.src) {
		return nil, p.errorf("missing operator")
	}

	var op operator
	switch {
	case strings.HasPrefix(p.src[p.pos:], "~="):
		op, p.pos = opApprox, p.pos+2
	case strings.HasPrefix(p.src[p.pos:], ">="):
		op, p.pos = opGreaterEqual, p.pos+2
	case strings.HasPrefix(p.src[p.pos:], "<="):
		op, p.pos = opLessEqual, p.pos+2
	case p.src[p.pos] == '=':
		op, p.pos = opEqual, p.pos+1
	default:
		return nil, p.errorf("invalid operator")
	}

	parts, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	n := &node{op: op, attr: attr}
	if op != opEqual {
		if len(parts) != 1 {
			return nil, p.errorf("wildcards are only allowed with =")
		}
		n.value = parts[0]
		return n, nil
	}
	switch {
	case len(parts) == 1:
		n.value = parts[0]
	case len(parts) == 2 && parts[0] == "" && parts[1] == "":
		n.op = opPresent
	default:
		n.op = opSubstring
		n.parts = parts
	}
	return n, nil
}

// parseValue reads an item value up to the closing parenthesis, splitting on
// unescaped '*'.
func (p *parser) parseValue() ([]string, error) {
	var parts []string
	var cur strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case ')':
			return append(parts, cur.String()), nil
		case '(':
			return nil, p.errorf("unescaped '(' in value")
		case '*':
			parts = append(parts, cur.String())
			cur.Reset()
			p.pos++
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.errorf("dangling escape")
			}
			cur.WriteByte(p.src[p.pos])
			p.pos++
		default:
			cur.WriteByte(c)
			p.pos++
		}
	}
	return nil, p.errorf("unterminated value")
}
