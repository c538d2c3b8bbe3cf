package expression

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every *ParseError via errors.Is.
var ErrParse = errors.New("expression parse error")

// ParseError reports a malformed alarm expression. Pos is the byte offset in
// Expr where the problem was detected.
type ParseError struct {
	Pos  int
	Expr string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid alarm expression %q at position %d: %s", e.Expr, e.Pos, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

func errorf(expr string, pos int, format string, args ...any) *ParseError {
	return &ParseError{Pos: pos, Expr: expr, Msg: fmt.Sprintf(format, args...)}
}
