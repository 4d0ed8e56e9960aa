package uitree

import (
	"fmt"
	"strings"
)

// Selector syntax:
//
//	role:Button                exact role match
//	name:Submit                name contains "Submit" (case-insensitive)
//	name:"Submit"              exact name match
//	name~:sub                  explicit contains match
//	role:Button AND name:Sub   conjunction; AND is case-insensitive
//
// role comparisons are always exact. For name and value the plain ":" form
// matches by case-insensitive substring; double-quoting the value demands
// an exact match, and "~:" always means contains.

type matchOp int

const (
	opEquals matchOp = iota
	opContains
)

type clause struct {
	attr  string // "role", "name" or "value"
	op    matchOp
	value string
}

// Selector is a conjunction of attribute clauses. Parse once per call;
// a Selector is stateless and safe for concurrent use.
type Selector struct {
	clauses []clause
	raw     string
}

// Parse builds a selector from its string form.
func Parse(s string) (*Selector, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("parse selector: empty selector")
	}

	sel := &Selector{raw: raw}
	for _, part := range splitAnd(raw) {
		c, err := parseClause(part)
		if err != nil {
			return nil, err
		}
		sel.clauses = append(sel.clauses, c)
	}
	return sel, nil
}

// splitAnd splits on the AND keyword, case-insensitively.
func splitAnd(s string) []string {
	var parts []string
	rest := s
	for {
		idx := strings.Index(strings.ToLower(rest), " and ")
		if idx < 0 {
			parts = append(parts, strings.TrimSpace(rest))
			return parts
		}
		parts = append(parts, strings.TrimSpace(rest[:idx]))
		rest = rest[idx+len(" and "):]
	}
}

func parseClause(s string) (clause, error) {
	key, value, ok := strings.Cut(s, ":")
	if !ok {
		return clause{}, fmt.Errorf("parse selector clause %q: expected key:value", s)
	}

	op := opContains
	key = strings.TrimSpace(key)
	if strings.HasSuffix(key, "~") {
		key = strings.TrimSuffix(key, "~")
	}

	attr := strings.ToLower(key)
	switch attr {
	case "role":
		op = opEquals
	case "name", "value":
	default:
		return clause{}, fmt.Errorf("parse selector clause %q: unknown attribute %q", s, key)
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
		op = opEquals
	}
	if value == "" {
		return clause{}, fmt.Errorf("parse selector clause %q: empty value", s)
	}

	return clause{attr: attr, op: op, value: value}, nil
}

// Matches reports whether every clause holds for the node.
func (s *Selector) Matches(n *Node) bool {
	for _, c := range s.clauses {
		var target string
		switch c.attr {
		case "role":
			target = n.Role
		case "name":
			target = n.Name
		case "value":
			target = n.Value
		}

		switch c.op {
		case opEquals:
			if target != c.value {
				return false
			}
		case opContains:
			if !strings.Contains(strings.ToLower(target), strings.ToLower(c.value)) {
				return false
			}
		}
	}
	return true
}

// String returns the selector as originally written.
func (s *Selector) String() string { return s.raw }
