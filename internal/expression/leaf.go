package expression

import (
	"strconv"
	"strings"
)

// parseTerm builds a SubExpression from one term token of the form
// FUNC(metric[{k=v,...}][, period]) CMP threshold.
func parseTerm(expr string, tok token) (*SubExpression, error) {
	text := tok.text
	at := func(i int) int { return tok.pos + i }

	open := strings.IndexByte(text, '(')
	fn := Function(strings.TrimSpace(text[:open]))
	if !fn.Valid() {
		return nil, errorf(expr, tok.pos, "unknown function %q", string(fn))
	}

	sub := &SubExpression{Function: fn, Period: DefaultPeriod}

	i := open + 1
	nameEnd := i + strings.IndexAny(text[i:], "{,)")
	sub.MetricName = strings.TrimSpace(text[i:nameEnd])
	if sub.MetricName == "" {
		return nil, errorf(expr, at(i), "missing metric name")
	}
	i = nameEnd

	if text[i] == '{' {
		closeBrace := strings.IndexByte(text[i:], '}')
		if closeBrace < 0 {
			return nil, errorf(expr, at(i), "unterminated dimension block")
		}
		dims, err := parseDimensions(expr, at(i+1), text[i+1:i+closeBrace])
		if err != nil {
			return nil, err
		}
		sub.Dimensions = dims
		i += closeBrace + 1
		i += len(text[i:]) - len(strings.TrimLeft(text[i:], " \t\r\n"))
	}

	argsEnd := strings.LastIndexByte(text, ')')
	if i < argsEnd {
		rest := strings.TrimSpace(text[i:argsEnd])
		if !strings.HasPrefix(rest, ",") {
			return nil, errorf(expr, at(i), "unexpected %q in argument list", rest)
		}
		raw := strings.TrimSpace(rest[1:])
		period, err := strconv.Atoi(raw)
		if err != nil || period <= 0 {
			return nil, errorf(expr, at(i), "period must be a positive integer, got %q", raw)
		}
		sub.Period = period
	}

	tail := text[argsEnd+1:]
	tailPos := at(argsEnd + 1)
	trimmed := strings.TrimLeft(tail, " \t\r\n")
	tailPos += len(tail) - len(trimmed)

	cmp, n, ok := parseComparator(trimmed)
	if !ok {
		return nil, errorf(expr, tailPos, "missing comparator after %s(...)", fn)
	}
	sub.Comparator = cmp

	num := strings.TrimLeft(trimmed[n:], " \t\r\n")
	threshold, ok := parseNumericPrefix(num)
	if !ok {
		return nil, errorf(expr, tailPos+n, "threshold %q is not a number", num)
	}
	sub.Threshold = threshold
	return sub, nil
}

// parseDimensions splits "k=v, k2=v2". Keys and values are trimmed and a
// repeated key keeps its last value.
func parseDimensions(expr string, pos int, block string) (map[string]string, error) {
	dims := make(map[string]string)
	if strings.TrimSpace(block) == "" {
		return dims, nil
	}
	for _, pair := range strings.Split(block, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errorf(expr, pos, "malformed dimension %q, want key=value", strings.TrimSpace(pair))
		}
		dims[k] = strings.TrimSpace(v)
		pos += len(pair) + 1
	}
	return dims, nil
}

// Two-character comparators first so ">=" is not read as ">".
func parseComparator(s string) (Comparator, int, bool) {
	switch {
	case strings.HasPrefix(s, ">="):
		return GTE, 2, true
	case strings.HasPrefix(s, "<="):
		return LTE, 2, true
	case strings.HasPrefix(s, ">"):
		return GT, 1, true
	case strings.HasPrefix(s, "<"):
		return LT, 1, true
	}
	return 0, 0, false
}

// parseNumericPrefix parses the longest prefix of s that is a valid float.
// Whatever follows the number is ignored.
func parseNumericPrefix(s string) (float64, bool) {
	end := 0
	for end < len(s) && isFloatChar(s[end]) {
		end++
	}
	for ; end > 0; end-- {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
