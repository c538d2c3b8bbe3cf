package alerting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDefinition is matched by every *DefinitionError.
	ErrDefinition = errors.New("invalid alarm definition")
	// ErrMeasurement is returned for measurement payloads that cannot be used.
	ErrMeasurement = errors.New("invalid measurement")
)

// DefinitionError rejects a control message or definition body. Err carries
// the underlying cause, typically an *expression.ParseError.
type DefinitionError struct {
	ID     string
	Reason string
	Err    error
}

func (e *DefinitionError) Error() string {
	msg := fmt.Sprintf("alarm definition %q: %s", e.ID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DefinitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDefinition}
	}
	return []error{ErrDefinition, e.Err}
}

// Measurement is one metric sample from the metrics topic.
type Measurement struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
	Timestamp  float64           `json:"timestamp"` // unix seconds
	Value      float64           `json:"value"`
}

// ParseMeasurement decodes a measurement payload.
func ParseMeasurement(data []byte) (*Measurement, error) {
	var m Measurement
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMeasurement, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrMeasurement)
	}
	return &m, nil
}

// Definition is an alarm definition. The typed fields are what the engine
// reads; Body keeps the document exactly as received so it can be echoed in
// alarm events and persisted without loss.
type Definition struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name,omitempty"`
	Description         string   `json:"description,omitempty"`
	Expression          string   `json:"expression"`
	Severity            string   `json:"severity,omitempty"`
	MatchBy             []string `json:"match_by,omitempty"`
	AlarmActions        []string `json:"alarm_actions,omitempty"`
	OKActions           []string `json:"ok_actions,omitempty"`
	UndeterminedActions []string `json:"undetermined_actions,omitempty"`

	Body map[string]any `json:"-"`
}

// MarshalJSON writes Body when present so unknown fields survive.
func (d *Definition) MarshalJSON() ([]byte, error) {
	if d.Body != nil {
		return json.Marshal(d.Body)
	}
	type plain Definition
	return json.Marshal((*plain)(d))
}

// CreatedTimestamp returns the definition's "timestamp" field, if any.
func (d *Definition) CreatedTimestamp() (any, bool) {
	v, ok := d.Body["timestamp"]
	return v, ok && v != nil
}

// Actions returns the action ids configured for the given state.
func (d *Definition) Actions(s State) []string {
	switch s {
	case StateAlarm:
		return d.AlarmActions
	case StateOK:
		return d.OKActions
	default:
		return d.UndeterminedActions
	}
}

// ParseDefinition decodes a stored or received definition document.
// Control fields (op, request) are stripped from Body.
func ParseDefinition(data []byte) (*Definition, error) {
	body, err := decodeBody(data)
	if err != nil {
		return nil, &DefinitionError{Reason: "malformed json", Err: err}
	}
	return definitionFromBody(body, data)
}

func definitionFromBody(body map[string]any, data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		id, _ := body["id"].(string)
		return nil, &DefinitionError{ID: id, Reason: "malformed field", Err: err}
	}
	delete(body, "op")
	delete(body, "request")
	d.Body = body
	return &d, nil
}

func decodeBody(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("definition must be a json object")
	}
	return body, nil
}

// validate checks what a processor needs to be built.
func (d *Definition) validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return &DefinitionError{Reason: "missing id"}
	}
	if strings.TrimSpace(d.Expression) == "" {
		return &DefinitionError{ID: d.ID, Reason: "missing expression"}
	}
	return nil
}

// ControlMessage adds, updates or deletes an alarm definition.
type ControlMessage struct {
	Op         string
	Definition *Definition
}

// ParseControlMessage decodes a message from the alarm-definitions topic.
// The operation comes from "op" (ADD, UPDATE, DELETE) or, failing that, from
// the CRUD service's "request" field (POST, PUT, DEL). Neither means ADD.
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	body, err := decodeBody(data)
	if err != nil {
		return nil, &DefinitionError{Reason: "malformed json", Err: err}
	}
	id, _ := body["id"].(string)

	op := OpAdd
	if raw, ok := body["op"].(string); ok && raw != "" {
		op = strings.ToUpper(strings.TrimSpace(raw))
	} else if raw, ok := body["request"].(string); ok && raw != "" {
		alias, known := requestAliases[strings.ToUpper(strings.TrimSpace(raw))]
		if !known {
			return nil, &DefinitionError{ID: id, Reason: fmt.Sprintf("unknown request %q", raw)}
		}
		op = alias
	}
	switch op {
	case OpAdd, OpUpdate, OpDelete:
	default:
		return nil, &DefinitionError{ID: id, Reason: fmt.Sprintf("unknown op %q", op)}
	}

	def, err := definitionFromBody(body, data)
	if err != nil {
		return nil, err
	}
	return &ControlMessage{Op: op, Definition: def}, nil
}
