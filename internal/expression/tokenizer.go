package expression

type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	tokAnd
	tokOr
	tokTerm
	tokEOF
)

func (k tokenKind) String() string {
	switch k {
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokAnd:
		return "and"
	case tokOr:
		return "or"
	case tokEOF:
		return "end of expression"
	default:
		return "term"
	}
}

type token struct {
	kind tokenKind
	pos  int
	text string // term source for tokTerm
}

// lexer splits an alarm expression into grouping parentheses, and/or
// keywords and leaf terms. A term runs from its function name through the
// closing parenthesis of its argument list, the comparator and the
// threshold literal; it is validated later by parseTerm.
type lexer struct {
	expr string
	pos  int
}

// next returns the following token, or tokEOF once the input is consumed.
func (l *lexer) next() (token, error) {
	l.pos = skipSpace(l.expr, l.pos)
	if l.pos >= len(l.expr) {
		return token{kind: tokEOF, pos: len(l.expr)}, nil
	}

	start := l.pos
	switch c := l.expr[start]; {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, pos: start}, nil
	case isKeyword(l.expr, start, "and"):
		l.pos += len("and")
		return token{kind: tokAnd, pos: start}, nil
	case isKeyword(l.expr, start, "or"):
		l.pos += len("or")
		return token{kind: tokOr, pos: start}, nil
	}

	end, err := scanTerm(l.expr, start)
	if err != nil {
		return token{}, err
	}
	l.pos = end
	return token{kind: tokTerm, pos: start, text: l.expr[start:end]}, nil
}

// scanTerm returns the end offset of the leaf term starting at start.
func scanTerm(expr string, start int) (int, error) {
	pos := start
	for pos < len(expr) && isIdentChar(expr[pos]) {
		pos++
	}
	if pos == start {
		return 0, errorf(expr, start, "unexpected character %q", expr[start])
	}

	pos = skipSpace(expr, pos)
	if pos >= len(expr) || expr[pos] != '(' {
		return 0, errorf(expr, pos, "expected '(' after function name %q", expr[start:pos])
	}

	// Argument list: balanced parentheses, braces are opaque.
	depth := 0
	inBraces := false
	for ; pos < len(expr); pos++ {
		c := expr[pos]
		if inBraces {
			if c == '}' {
				inBraces = false
			}
			continue
		}
		switch c {
		case '{':
			inBraces = true
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 {
			break
		}
	}
	if inBraces {
		return 0, errorf(expr, pos, "unterminated dimension block")
	}
	if depth != 0 {
		return 0, errorf(expr, pos, "unbalanced parentheses: argument list is not closed")
	}
	pos++ // closing ')'

	// Comparator and threshold. If no comparator follows, the term ends
	// here and parseTerm reports it.
	p := skipSpace(expr, pos)
	if p >= len(expr) || (expr[p] != '<' && expr[p] != '>') {
		return pos, nil
	}
	for p < len(expr) && (expr[p] == '<' || expr[p] == '>' || expr[p] == '=') {
		p++
	}
	p = skipSpace(expr, p)
	for p < len(expr) && isFloatChar(expr[p]) {
		p++
	}
	// A keyword may follow the number directly, as in "max(a)>1and max(b)>1".
	if isKeyword(expr, p, "and") || isKeyword(expr, p, "or") {
		return p, nil
	}
	for p < len(expr) && !isSpace(expr[p]) && expr[p] != '(' && expr[p] != ')' {
		p++
	}
	return p, nil
}

func isKeyword(expr string, pos int, kw string) bool {
	end := pos + len(kw)
	if end > len(expr) || expr[pos:end] != kw {
		return false
	}
	return end == len(expr) || isSpace(expr[end]) || expr[end] == '('
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isFloatChar(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '+' || c == '-' || c == 'e' || c == 'E'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && isSpace(s[pos]) {
		pos++
	}
	return pos
}
