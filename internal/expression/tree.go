package expression

import (
	"strconv"
	"strings"
)

// Op identifies the kind of a tree node.
type Op int

const (
	OpLeaf Op = iota
	OpAnd
	OpOr
)

func (o Op) String() string {
	switch o {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	default:
		return "leaf"
	}
}

// Node is an entry in a Tree arena. Leaf nodes carry the index of their
// sub-expression in Compiled.SubExpressions; operator nodes carry the arena
// indices of their children.
type Node struct {
	Op    Op
	Leaf  int
	Left  int
	Right int
}

// Tree is the boolean structure of an alarm expression stored as an index
// arena. It is immutable after compilation.
type Tree struct {
	Nodes []Node
	Root  int
}

func (t *Tree) addLeaf(sub int) int {
	t.Nodes = append(t.Nodes, Node{Op: OpLeaf, Leaf: sub, Left: -1, Right: -1})
	return len(t.Nodes) - 1
}

func (t *Tree) addOp(op Op, left, right int) int {
	t.Nodes = append(t.Nodes, Node{Op: op, Leaf: -1, Left: left, Right: right})
	return len(t.Nodes) - 1
}

// Leaves returns the sub-expression indices of the leaves in left-to-right order.
func (t *Tree) Leaves() []int {
	var out []int
	var walk func(int)
	walk = func(i int) {
		n := t.Nodes[i]
		if n.Op == OpLeaf {
			out = append(out, n.Leaf)
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	if len(t.Nodes) > 0 {
		walk(t.Root)
	}
	return out
}

// String renders the tree with fully parenthesised operator nodes and leaves
// shown as #<sub-expression index>, e.g. "((#0 and #1) or #2)".
func (t *Tree) String() string {
	return t.render(func(i int) string { return "#" + strconv.Itoa(i) })
}

func (t *Tree) render(leaf func(int) string) string {
	if len(t.Nodes) == 0 {
		return ""
	}
	var b strings.Builder
	var walk func(int)
	walk = func(i int) {
		n := t.Nodes[i]
		if n.Op == OpLeaf {
			b.WriteString(leaf(n.Leaf))
			return
		}
		b.WriteByte('(')
		walk(n.Left)
		b.WriteByte(' ')
		b.WriteString(n.Op.String())
		b.WriteByte(' ')
		walk(n.Right)
		b.WriteByte(')')
	}
	walk(t.Root)
	return b.String()
}
