// Package uitree models the accessibility element hierarchy of an
// application and the selector language used to query it.
package uitree

import "strings"

// Frame is an element's bounding box in screen coordinates.
type Frame struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Center returns the screen point element actions are aimed at.
func (f Frame) Center() (int, int) {
	return int(f.X + f.Width/2), int(f.Y + f.Height/2)
}

// Node is one element of an accessibility tree. Children are owned by the
// parent and ordered as the OS reported them. Trees are built per query and
// never persisted.
type Node struct {
	Role     string  `json:"role"`
	Name     string  `json:"name,omitempty"`
	Value    string  `json:"value,omitempty"`
	Frame    Frame   `json:"frame"`
	Children []*Node `json:"children,omitempty"`
}

// Walk visits the tree pre-order: node first, then children in reported
// order. Returning false from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the first node matching sel in pre-order, or nil.
func (n *Node) Find(sel *Selector) *Node {
	var found *Node
	n.Walk(func(node *Node) bool {
		if sel.Matches(node) {
			found = node
			return false
		}
		return true
	})
	return found
}

// FindAll returns every node matching sel in pre-order.
func (n *Node) FindAll(sel *Selector) []*Node {
	var out []*Node
	n.Walk(func(node *Node) bool {
		if sel.Matches(node) {
			out = append(out, node)
		}
		return true
	})
	return out
}

// Count returns the number of nodes in the tree.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Prune returns a copy of the tree cut off below maxDepth levels
// (the root is depth 0). maxDepth < 0 keeps the whole tree.
func (n *Node) Prune(maxDepth int) *Node {
	if n == nil || maxDepth < 0 {
		return n
	}
	return prune(n, 0, maxDepth)
}

func prune(n *Node, depth, maxDepth int) *Node {
	out := &Node{Role: n.Role, Name: n.Name, Value: n.Value, Frame: n.Frame}
	if depth == maxDepth {
		return out
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, prune(c, depth+1, maxDepth))
	}
	return out
}

// Scrape collects the text of text-bearing nodes in traversal order,
// joined by sep. Duplicate strings and very short fragments are skipped,
// since accessibility trees repeat labels across wrapper elements.
func (n *Node) Scrape(sep string) string {
	var parts []string
	seen := make(map[string]bool)
	n.Walk(func(node *Node) bool {
		text := node.text()
		if len(text) > 2 && !seen[text] {
			seen[text] = true
			parts = append(parts, text)
		}
		return true
	})
	return strings.Join(parts, sep)
}

func (n *Node) text() string {
	if n.Value != "" {
		return n.Value
	}
	return n.Name
}
