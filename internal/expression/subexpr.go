package expression

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultPeriod is the window length in seconds used when a term gives none.
const DefaultPeriod = 60

// Function is the aggregate applied to a sub-expression's window.
type Function string

const (
	FuncMin   Function = "min"
	FuncMax   Function = "max"
	FuncAvg   Function = "avg"
	FuncSum   Function = "sum"
	FuncCount Function = "count"
)

// Valid reports whether f is one of the supported aggregates.
func (f Function) Valid() bool {
	switch f {
	case FuncMin, FuncMax, FuncAvg, FuncSum, FuncCount:
		return true
	}
	return false
}

// Comparator selects how the aggregate is tested against the threshold.
type Comparator int

const (
	GT Comparator = iota
	LT
	GTE
	LTE
)

var comparatorNames = [...]string{GT: "GT", LT: "LT", GTE: "GTE", LTE: "LTE"}
var comparatorSymbols = [...]string{GT: ">", LT: "<", GTE: ">=", LTE: "<="}

func (c Comparator) String() string {
	if int(c) < len(comparatorNames) {
		return comparatorNames[c]
	}
	return "Comparator(" + strconv.Itoa(int(c)) + ")"
}

// Symbol returns the operator as written in an expression.
func (c Comparator) Symbol() string {
	if int(c) < len(comparatorSymbols) {
		return comparatorSymbols[c]
	}
	return "?"
}

// SubExpression is one threshold test of an alarm expression, e.g.
// "max(cpu{host=a}, 120) > 90". It is immutable once compiled.
type SubExpression struct {
	Function   Function
	MetricName string
	Dimensions map[string]string
	Comparator Comparator
	Threshold  float64
	Period     int
}

// String renders the sub-expression in canonical form with sorted dimensions.
func (s *SubExpression) String() string {
	var b strings.Builder
	b.WriteString(string(s.Function))
	b.WriteByte('(')
	b.WriteString(s.MetricName)
	if len(s.Dimensions) > 0 {
		keys := make([]string, 0, len(s.Dimensions))
		for k := range s.Dimensions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(s.Dimensions[k])
		}
		b.WriteByte('}')
	}
	if s.Period != DefaultPeriod {
		fmt.Fprintf(&b, ", %d", s.Period)
	}
	b.WriteString(") ")
	b.WriteString(s.Comparator.Symbol())
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(s.Threshold, 'g', -1, 64))
	return b.String()
}

// Matches reports whether a measurement with the given name and dimensions
// feeds this sub-expression. Every filter dimension must be present with an
// equal value; extra measurement dimensions are ignored.
func (s *SubExpression) Matches(name string, dims map[string]string) bool {
	if name != s.MetricName {
		return false
	}
	for k, want := range s.Dimensions {
		got, ok := dims[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
