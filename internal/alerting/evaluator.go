package alerting

import (
	"github.com/alarmpipe/alarmpipe/internal/expression"
)

// compare derives a sub-expression state from its aggregate. LT and GTE are
// written threshold first (threshold > agg, threshold <= agg), GT and LTE
// aggregate first; each is the ordinary comparison, NaN included.
func compare(cmp expression.Comparator, agg, threshold float64) State {
	var alarm bool
	switch cmp {
	case expression.GT:
		alarm = agg > threshold
	case expression.LT:
		alarm = threshold > agg
	case expression.LTE:
		alarm = agg <= threshold
	case expression.GTE:
		alarm = threshold <= agg
	}
	if alarm {
		return StateAlarm
	}
	return StateOK
}

// CombineAnd joins two states under "and": UNDETERMINED wins, then OK, and
// only ALARM and ALARM gives ALARM.
func CombineAnd(left, right State) State {
	switch {
	case left == StateUndetermined || right == StateUndetermined:
		return StateUndetermined
	case left == StateOK || right == StateOK:
		return StateOK
	default:
		return StateAlarm
	}
}

// CombineOr joins two states under "or": ALARM wins, then UNDETERMINED,
// otherwise OK.
func CombineOr(left, right State) State {
	switch {
	case left == StateAlarm || right == StateAlarm:
		return StateAlarm
	case left == StateUndetermined || right == StateUndetermined:
		return StateUndetermined
	default:
		return StateOK
	}
}

// EvaluateTree folds the tree bottom-up. leafState returns the current state
// of the sub-expression with the given index.
func EvaluateTree(tree *expression.Tree, leafState func(sub int) State) State {
	if len(tree.Nodes) == 0 {
		return StateUndetermined
	}
	var eval func(i int) State
	eval = func(i int) State {
		n := &tree.Nodes[i]
		switch n.Op {
		case expression.OpAnd:
			return CombineAnd(eval(n.Left), eval(n.Right))
		case expression.OpOr:
			return CombineOr(eval(n.Left), eval(n.Right))
		default:
			return leafState(n.Leaf)
		}
	}
	return eval(tree.Root)
}
