package alerting

import (
	"github.com/alarmpipe/alarmpipe/internal/expression"
)

// Schema describes the alarm expression language for clients building
// definitions.
type Schema struct {
	Functions     []FunctionSchema   `json:"functions"`
	Comparators   []ComparatorSchema `json:"comparators"`
	Operators     []OperatorSchema   `json:"operators"`
	States        []string           `json:"states"`
	Operations    []string           `json:"operations"`
	DefaultPeriod int                `json:"default_period"`
	MaxWindow     int                `json:"max_window_samples"`
}

// FunctionSchema describes an aggregation function.
type FunctionSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// ComparatorSchema describes a threshold comparator.
type ComparatorSchema struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Label  string `json:"label"`
}

// OperatorSchema describes a logical operator and how it combines states.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// GetSchema returns the expression catalog.
func GetSchema() Schema {
	return Schema{
		Functions: []FunctionSchema{
			{Name: string(expression.FuncSum), Label: "Sum of values in the window"},
			{Name: string(expression.FuncAvg), Label: "Mean of values in the window"},
			{Name: string(expression.FuncMax), Label: "Largest value in the window"},
			{Name: string(expression.FuncMin), Label: "Smallest value in the window"},
			{Name: string(expression.FuncCount), Label: "Number of samples in the window"},
		},
		Comparators: []ComparatorSchema{
			{Name: expression.GT.String(), Symbol: expression.GT.Symbol(), Label: "Greater than"},
			{Name: expression.LT.String(), Symbol: expression.LT.Symbol(), Label: "Less than"},
			{Name: expression.GTE.String(), Symbol: expression.GTE.Symbol(), Label: "Greater or equal"},
			{Name: expression.LTE.String(), Symbol: expression.LTE.Symbol(), Label: "Less or equal"},
		},
		Operators: []OperatorSchema{
			{Name: "and", Label: "UNDETERMINED if either side is, else OK if either side is, else ALARM"},
			{Name: "or", Label: "ALARM if either side is, else UNDETERMINED if either side is, else OK"},
		},
		States:        []string{StateUndetermined.String(), StateOK.String(), StateAlarm.String()},
		Operations:    []string{OpAdd, OpUpdate, OpDelete},
		DefaultPeriod: expression.DefaultPeriod,
		MaxWindow:     maxWindowSamples,
	}
}
