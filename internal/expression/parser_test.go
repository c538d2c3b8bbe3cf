package expression

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExpr = "max(foo{hostname=mini-mon,mu=na}, 120) > 1100 and max(bar{asd=asd}) > 1200 or avg(biz) > 1300"

func TestCompile_SampleExpression(t *testing.T) {
	c, err := Compile(sampleExpr)
	require.NoError(t, err)
	require.Len(t, c.SubExpressions, 3)

	foo := c.SubExpressions[0]
	assert.Equal(t, FuncMax, foo.Function)
	assert.Equal(t, "foo", foo.MetricName)
	assert.Equal(t, map[string]string{"hostname": "mini-mon", "mu": "na"}, foo.Dimensions)
	assert.Equal(t, GT, foo.Comparator)
	assert.InDelta(t, 1100.0, foo.Threshold, 0)
	assert.Equal(t, 120, foo.Period)

	bar := c.SubExpressions[1]
	assert.Equal(t, "bar", bar.MetricName)
	assert.Equal(t, map[string]string{"asd": "asd"}, bar.Dimensions)
	assert.Equal(t, DefaultPeriod, bar.Period)

	biz := c.SubExpressions[2]
	assert.Equal(t, FuncAvg, biz.Function)
	assert.Empty(t, biz.Dimensions)
	assert.InDelta(t, 1300.0, biz.Threshold, 0)

	assert.Equal(t, "((#0 and #1) or #2)", c.Tree.String())
}

func TestCompile_LeftToRightWithoutPrecedence(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"and then or", "max(a)>1 and max(b)>1 or max(c)>1", "((#0 and #1) or #2)"},
		{"or then and", "max(a)>1 or max(b)>1 and max(c)>1", "((#0 or #1) and #2)"},
		{"chain", "max(a)>1 and max(b)>1 and max(c)>1 and max(d)>1", "(((#0 and #1) and #2) and #3)"},
		{"group on right", "max(a)>1 and (max(b)>1 or max(c)>1)", "(#0 and (#1 or #2))"},
		{"group on left", "(max(a)>1 or max(b)>1) and max(c)>1", "((#0 or #1) and #2)"},
		{"nested groups", "((max(a)>1))", "#0"},
		{"groups both sides", "(max(a)>1 or max(b)>1) and (max(c)>1 or max(d)>1)", "((#0 or #1) and (#2 or #3))"},
		{"no spaces around group", "max(a)>1 and(max(b)>1)", "(#0 and #1)"},
		{"and right after threshold", "max(a)>1and max(b)>1", "(#0 and #1)"},
		{"or right after threshold", "max(a)>1or(max(b)>2)", "(#0 or #1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Tree.String())
		})
	}
}

func TestCompile_LeavesAreTheFlatList(t *testing.T) {
	exprs := []string{
		sampleExpr,
		"count(x) > 0",
		"(min(a)<1 or max(b)>=2) and (sum(c)<=3 or avg(d)>4) and count(e)>5",
	}
	for _, expr := range exprs {
		c, err := Compile(expr)
		require.NoError(t, err, expr)

		terms := strings.Count(expr, ">") + strings.Count(expr, "<")
		assert.Len(t, c.SubExpressions, terms, "one sub-expression per comparator term")

		want := make([]int, len(c.SubExpressions))
		for i := range want {
			want[i] = i
		}
		assert.Equal(t, want, c.Tree.Leaves(), "every sub-expression appears exactly once, in source order")
	}
}

func TestCompile_Comparators(t *testing.T) {
	tests := []struct {
		expr string
		want Comparator
		thr  float64
	}{
		{"max(m) > 5", GT, 5},
		{"max(m) < 5", LT, 5},
		{"max(m) >= 5", GTE, 5},
		{"max(m) <= 5", LTE, 5},
		{"max(m)>=-2.5", GTE, -2.5},
		{"max(m) <=1e3", LTE, 1000},
		{"max(m) > 42abc", GT, 42},
		{"max(m) > 7.25;", GT, 7.25},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.SubExpressions[0].Comparator)
			assert.InDelta(t, tt.thr, c.SubExpressions[0].Threshold, 1e-9)
		})
	}
}

func TestCompile_KeywordAfterThreshold(t *testing.T) {
	c, err := Compile("max(a)>1.5and min(b)<=-2e1or avg(c)>3")
	require.NoError(t, err)
	require.Len(t, c.SubExpressions, 3)
	assert.InDelta(t, 1.5, c.SubExpressions[0].Threshold, 1e-9)
	assert.InDelta(t, -20.0, c.SubExpressions[1].Threshold, 1e-9)
	assert.InDelta(t, 3.0, c.SubExpressions[2].Threshold, 1e-9)
	assert.Equal(t, "((#0 and #1) or #2)", c.Tree.String())
}

func TestCompile_Dimensions(t *testing.T) {
	c, err := Compile("sum(disk{ host = a , mount=/var, host=b }, 30) > 1")
	require.NoError(t, err)
	sub := c.SubExpressions[0]
	assert.Equal(t, map[string]string{"host": "b", "mount": "/var"}, sub.Dimensions, "trimmed, last duplicate wins")
	assert.Equal(t, 30, sub.Period)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
		msg  string
	}{
		{"unbalanced argument list", "max(foo > 100", "unbalanced"},
		{"unclosed group", "(max(foo) > 100", "never closed"},
		{"extra close", "max(foo) > 100)", "unexpected ')'"},
		{"lone close", ")", "unexpected ')'"},
		{"leading close", ") max(a) > 1", "unexpected ')'"},
		{"unknown function", "median(foo) > 1", "unknown function"},
		{"uppercase function", "MAX(foo) > 1", "unknown function"},
		{"missing comparator", "max(foo) 100", "missing comparator"},
		{"missing comparator at end", "max(foo)", "missing comparator"},
		{"non numeric threshold", "max(foo) > abc", "not a number"},
		{"empty", "   ", "empty expression"},
		{"empty group", "max(a)>1 and ()", "empty parentheses"},
		{"missing metric", "max() > 1", "missing metric name"},
		{"zero period", "max(foo, 0) > 1", "positive integer"},
		{"negative period", "max(foo, -5) > 1", "positive integer"},
		{"fractional period", "max(foo, 1.5) > 1", "positive integer"},
		{"unterminated dimensions", "max(foo{a=b) > 1", "unterminated dimension block"},
		{"malformed dimension", "max(foo{a}) > 1", "malformed dimension"},
		{"dangling operator", "max(a) > 1 and", "without right operand"},
		{"leading operator", "or max(a) > 1", "without left operand"},
		{"double operator", "max(a) > 1 and or max(b) > 1", "without left operand"},
		{"adjacent terms", "max(a) > 1 max(b) > 1", "missing and/or"},
		{"garbage", "max(a) > 1 and $", "unexpected character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.expr)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, errors.Is(err, ErrParse))

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.expr, perr.Expr)
			assert.Contains(t, perr.Msg, tt.msg)
			assert.GreaterOrEqual(t, perr.Pos, 0)
		})
	}
}

func TestCompiled_String(t *testing.T) {
	c := MustCompile("max(foo{b=2,a=1}, 120) > 1100 and avg(bar) <= 0.5")
	assert.Equal(t, "(max(foo{a=1,b=2}, 120) > 1100 and avg(bar) <= 0.5)", c.String())

	again, err := Compile(c.String())
	require.NoError(t, err)
	assert.Equal(t, c.String(), again.String())
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("max(") })
}

func TestSubExpression_Matches(t *testing.T) {
	sub := &SubExpression{MetricName: "cpu", Dimensions: map[string]string{"host": "a"}}

	assert.True(t, sub.Matches("cpu", map[string]string{"host": "a"}))
	assert.True(t, sub.Matches("cpu", map[string]string{"host": "a", "dc": "x"}), "extra dimensions are ignored")
	assert.False(t, sub.Matches("cpu", map[string]string{"host": "b"}))
	assert.False(t, sub.Matches("cpu", nil), "missing dimension key fails")
	assert.False(t, sub.Matches("mem", map[string]string{"host": "a"}))

	bare := &SubExpression{MetricName: "cpu"}
	assert.True(t, bare.Matches("cpu", nil))
}
