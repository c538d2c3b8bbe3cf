// Package expression compiles alarm expressions such as
//
//	max(cpu{host=a}, 120) > 90 and avg(mem) >= 80 or count(errors) > 5
//
// into a flat list of threshold sub-expressions and an and/or tree over them.
// The keywords have no precedence: terms combine strictly left to right, so
// the example above is ((cpu and mem) or errors).
package expression

import "fmt"

// Compiled is the result of compiling one alarm expression.
type Compiled struct {
	Source         string
	SubExpressions []*SubExpression
	Tree           Tree
}

// String renders the expression in canonical, fully parenthesised form.
func (c *Compiled) String() string {
	return c.Tree.render(func(i int) string { return c.SubExpressions[i].String() })
}

type itemKind int

const (
	itemMark itemKind = iota // open parenthesis
	itemNode                 // compiled subtree
	itemOp                   // pending and/or
)

type stackItem struct {
	kind itemKind
	pos  int
	node int
	op   Op
}

// Compile parses expr. The expression is treated as if wrapped in one extra
// pair of parentheses and reduced with a shift/reduce loop: after every
// shifted term or closed group, "item op item" at the top of the stack is
// collapsed immediately.
func Compile(expr string) (*Compiled, error) {
	c := &Compiled{Source: expr}
	stack := []stackItem{{kind: itemMark, pos: -1}}
	expectTerm := true

	reduce := func() {
		for n := len(stack); n >= 3; n = len(stack) {
			l, o, r := stack[n-3], stack[n-2], stack[n-1]
			if l.kind != itemNode || o.kind != itemOp || r.kind != itemNode {
				return
			}
			idx := c.Tree.addOp(o.op, l.node, r.node)
			stack = append(stack[:n-3], stackItem{kind: itemNode, pos: l.pos, node: idx})
		}
	}

	openGroups := func() bool {
		for _, it := range stack {
			if it.kind == itemMark && it.pos >= 0 {
				return true
			}
		}
		return false
	}

	closeGroup := func(pos int, implicit bool) error {
		if !implicit && !openGroups() {
			return errorf(expr, pos, "unbalanced parentheses: unexpected ')'")
		}
		top := stack[len(stack)-1]
		if expectTerm {
			if top.kind == itemMark {
				if implicit && len(stack) == 1 {
					return errorf(expr, pos, "empty expression")
				}
				return errorf(expr, pos, "empty parentheses")
			}
			return errorf(expr, top.pos, "operator %s without right operand", top.op)
		}
		if len(stack) < 2 || stack[len(stack)-2].kind != itemMark {
			return errorf(expr, pos, "unbalanced parentheses")
		}
		mark := stack[len(stack)-2]
		if implicit != (mark.pos < 0) {
			if implicit {
				return errorf(expr, mark.pos, "unbalanced parentheses: '(' is never closed")
			}
			return errorf(expr, pos, "unbalanced parentheses: unexpected ')'")
		}
		stack = append(stack[:len(stack)-2], top)
		reduce()
		return nil
	}

	lex := &lexer{expr: expr}
	for {
		tok, err := lex.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			break
		}

		switch tok.kind {
		case tokLParen:
			if !expectTerm {
				return nil, errorf(expr, tok.pos, "missing and/or before '('")
			}
			stack = append(stack, stackItem{kind: itemMark, pos: tok.pos})

		case tokTerm:
			if !expectTerm {
				return nil, errorf(expr, tok.pos, "missing and/or before term")
			}
			sub, err := parseTerm(expr, tok)
			if err != nil {
				return nil, err
			}
			c.SubExpressions = append(c.SubExpressions, sub)
			idx := c.Tree.addLeaf(len(c.SubExpressions) - 1)
			stack = append(stack, stackItem{kind: itemNode, pos: tok.pos, node: idx})
			expectTerm = false
			reduce()

		case tokAnd, tokOr:
			if expectTerm {
				return nil, errorf(expr, tok.pos, "operator %s without left operand", tok.kind)
			}
			op := OpAnd
			if tok.kind == tokOr {
				op = OpOr
			}
			stack = append(stack, stackItem{kind: itemOp, pos: tok.pos, op: op})
			expectTerm = true

		case tokRParen:
			if err := closeGroup(tok.pos, false); err != nil {
				return nil, err
			}
		}
	}

	if err := closeGroup(len(expr), true); err != nil {
		return nil, err
	}
	if len(stack) != 1 || stack[0].kind != itemNode {
		return nil, errorf(expr, len(expr), "unbalanced parentheses")
	}
	c.Tree.Root = stack[0].node
	return c, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// fixed expressions.
func MustCompile(expr string) *Compiled {
	c, err := Compile(expr)
	if err != nil {
		panic(fmt.Sprintf("expression: Compile(%q): %v", expr, err))
	}
	return c
}
