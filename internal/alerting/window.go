package alerting

import (
	"github.com/alarmpipe/alarmpipe/internal/expression"
)

// Sample is one (timestamp, value) pair retained in a window.
type Sample struct {
	Timestamp float64
	Value     float64
}

// SubExpressionState is the mutable evaluation state of one sub-expression:
// its sliding window of matched samples and its cached state.
type SubExpressionState struct {
	expr   *expression.SubExpression
	window []Sample
	state  State
}

// NewSubExpressionState starts an empty, UNDETERMINED window for expr.
func NewSubExpressionState(expr *expression.SubExpression) *SubExpressionState {
	return &SubExpressionState{
		expr:   expr,
		window: make([]Sample, 0, 8),
		state:  StateUndetermined,
	}
}

// Expression returns the sub-expression this state tracks.
func (s *SubExpressionState) Expression() *expression.SubExpression { return s.expr }

// State returns the state computed by the last relevant Update.
func (s *SubExpressionState) State() State { return s.state }

// Window returns a copy of the retained samples, oldest first.
func (s *SubExpressionState) Window() []Sample {
	out := make([]Sample, len(s.window))
	copy(out, s.window)
	return out
}

// Update feeds m into the window if it matches the sub-expression's metric
// filter and re-derives the state. It reports whether m was relevant.
//
// Samples older than m.Timestamp minus the period are pruned from the front
// after appending; a window left empty by pruning is UNDETERMINED.
func (s *SubExpressionState) Update(m *Measurement) bool {
	if !s.expr.Matches(m.Name, m.Dimensions) {
		return false
	}

	if len(s.window) == maxWindowSamples {
		n := copy(s.window, s.window[1:])
		s.window = s.window[:n]
	}
	s.window = append(s.window, Sample{Timestamp: m.Timestamp, Value: m.Value})

	cutoff := m.Timestamp - float64(s.expr.Period)
	start := 0
	for start < len(s.window) && s.window[start].Timestamp < cutoff {
		start++
	}
	if start > 0 {
		n := copy(s.window, s.window[start:])
		s.window = s.window[:n]
	}

	if len(s.window) == 0 {
		s.state = StateUndetermined
		return true
	}

	s.state = compare(s.expr.Comparator, s.Aggregate(), s.expr.Threshold)
	return true
}

// Aggregate applies the sub-expression's function to the current window.
// It returns 0 for an empty window.
func (s *SubExpressionState) Aggregate() float64 {
	if len(s.window) == 0 {
		return 0
	}
	switch s.expr.Function {
	case expression.FuncSum:
		return sum(s.window)
	case expression.FuncAvg:
		return sum(s.window) / float64(len(s.window))
	case expression.FuncMax:
		v := s.window[0].Value
		for _, smp := range s.window[1:] {
			v = max(v, smp.Value)
		}
		return v
	case expression.FuncMin:
		v := s.window[0].Value
		for _, smp := range s.window[1:] {
			v = min(v, smp.Value)
		}
		return v
	case expression.FuncCount:
		return float64(len(s.window))
	default:
		return 0
	}
}

func sum(window []Sample) float64 {
	var total float64
	for _, smp := range window {
		total += smp.Value
	}
	return total
}
