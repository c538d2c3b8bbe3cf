package alerting

import (
	"time"

	"github.com/google/uuid"

	"github.com/alarmpipe/alarmpipe/internal/expression"
)

// Clock supplies wall-clock time for state_updated_timestamp.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// AlarmEvent is published whenever a processor's overall state changes.
type AlarmEvent struct {
	ID                    string       `json:"id"`
	Definition            *Definition  `json:"alarm_definition"`
	Metrics               *Measurement `json:"metrics"`
	State                 State        `json:"state"`
	StateUpdatedTimestamp int64        `json:"state_updated_timestamp"`
	CreatedTimestamp      any          `json:"created_timestamp,omitempty"`

	// PreviousState is the state before the transition. Not serialized.
	PreviousState State `json:"-"`
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithClock overrides the clock used to stamp events.
func WithClock(c Clock) ProcessorOption {
	return func(p *Processor) {
		if c != nil {
			p.clock = c
		}
	}
}

// Processor evaluates one alarm definition against the measurement stream.
// It is not safe for concurrent use; the engine gives each processor to one
// goroutine at a time.
type Processor struct {
	def      *Definition
	compiled *expression.Compiled
	subs     []*SubExpressionState
	state    State
	clock    Clock
}

// NewProcessor compiles def's expression and returns a processor in the
// UNDETERMINED state. A missing id or expression, or an expression that does
// not compile, yields a *DefinitionError.
func NewProcessor(def *Definition, opts ...ProcessorOption) (*Processor, error) {
	if def == nil {
		return nil, &DefinitionError{Reason: "nil definition"}
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	compiled, err := expression.Compile(def.Expression)
	if err != nil {
		return nil, &DefinitionError{ID: def.ID, Reason: "expression does not compile", Err: err}
	}

	p := &Processor{
		def:      def,
		compiled: compiled,
		subs:     make([]*SubExpressionState, len(compiled.SubExpressions)),
		state:    StateUndetermined,
		clock:    systemClock{},
	}
	for i, sub := range compiled.SubExpressions {
		p.subs[i] = NewSubExpressionState(sub)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Processor) Definition() *Definition               { return p.def }
func (p *Processor) Compiled() *expression.Compiled        { return p.compiled }
func (p *Processor) State() State                          { return p.state }
func (p *Processor) SubExpressions() []*SubExpressionState { return p.subs }

// Process feeds m to every sub-expression. When at least one was relevant
// the tree is re-evaluated, and an event is returned if the overall state
// changed. Windows are updated even when no event results.
func (p *Processor) Process(m *Measurement) *AlarmEvent {
	relevant := false
	for _, s := range p.subs {
		if s.Update(m) {
			relevant = true
		}
	}
	if !relevant {
		return nil
	}

	next := EvaluateTree(&p.compiled.Tree, func(i int) State { return p.subs[i].State() })
	if next == p.state {
		return nil
	}
	prev := p.state
	p.state = next
	return p.buildEvent(m, prev)
}

func (p *Processor) buildEvent(m *Measurement, prev State) *AlarmEvent {
	ev := &AlarmEvent{
		ID:                    uuid.NewString(),
		Definition:            p.def,
		Metrics:               m,
		State:                 p.state,
		StateUpdatedTimestamp: p.clock.Now().Unix(),
		PreviousState:         prev,
	}
	if ts, ok := p.def.CreatedTimestamp(); ok {
		ev.CreatedTimestamp = ts
	}
	return ev
}
