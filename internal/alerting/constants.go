// Package alerting turns alarm definitions into stateful threshold processors
// and runs every incoming measurement through them.
package alerting

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the three-valued state of a sub-expression or a whole alarm.
type State int

const (
	StateUndetermined State = iota
	StateOK
	StateAlarm
)

var stateNames = [...]string{
	StateUndetermined: "UNDETERMINED",
	StateOK:           "OK",
	StateAlarm:        "ALARM",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState accepts the upper-case names produced by String.
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if strings.EqualFold(s, name) {
			return State(i), nil
		}
	}
	return StateUndetermined, fmt.Errorf("unknown alarm state %q", s)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Control operations on alarm definitions.
const (
	OpAdd    = "ADD"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// requestAliases maps the REST-style request field used by the definition
// CRUD service onto control operations.
var requestAliases = map[string]string{
	"POST":   OpAdd,
	"PUT":    OpUpdate,
	"DEL":    OpDelete,
	"DELETE": OpDelete,
}

const (
	// maxWindowSamples caps every sub-expression window; the oldest sample is
	// dropped when a new one would exceed it.
	maxWindowSamples = 256

	// eventBusBufferSize is the default capacity of the outbound event channel.
	eventBusBufferSize = 1000
)
