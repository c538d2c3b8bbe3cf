package alerting

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mu   sync.Mutex
	sent []*Notification
	fail map[string]bool
}

func (m *mockNotifier) PublishNotification(n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[n.ActionID] {
		return errors.New("broker unavailable")
	}
	m.sent = append(m.sent, n)
	return nil
}

func dispatchEvent(def *Definition, s, prev State) *AlarmEvent {
	return &AlarmEvent{
		ID:                    "alarm-1",
		Definition:            def,
		Metrics:               measure("cpu", 10, 97.5, "host", "web-1"),
		State:                 s,
		PreviousState:         prev,
		StateUpdatedTimestamp: testNow.Unix(),
	}
}

func TestActionDispatcher_SelectsActionsByState(t *testing.T) {
	t.Parallel()

	def := &Definition{
		ID:                  "d1",
		Name:                "High CPU",
		Severity:            "HIGH",
		AlarmActions:        []string{"pager", "email", "pager", ""},
		OKActions:           []string{"email"},
		UndeterminedActions: nil,
	}
	n := &mockNotifier{}
	d := NewActionDispatcher(n, testLogger(), nil)

	assert.Equal(t, 2, d.Dispatch(dispatchEvent(def, StateAlarm, StateOK)), "duplicates and blanks dropped")
	require.Len(t, n.sent, 2)
	assert.Equal(t, "pager", n.sent[0].ActionID)
	assert.Equal(t, "email", n.sent[1].ActionID)
	assert.Equal(t, "d1", n.sent[0].DefinitionID)
	assert.Equal(t, "alarm-1", n.sent[0].AlarmID)
	assert.Equal(t, StateAlarm, n.sent[0].State)
	assert.Equal(t, StateOK, n.sent[0].OldState)
	assert.Equal(t, "HIGH", n.sent[0].Severity)
	assert.Equal(t, "Alarm High CPU is ALARM (cpu)", n.sent[0].Message)

	assert.Equal(t, 1, d.Dispatch(dispatchEvent(def, StateOK, StateAlarm)))
	assert.Zero(t, d.Dispatch(dispatchEvent(def, StateUndetermined, StateOK)))
}

func TestActionDispatcher_RendersDescriptionTemplate(t *testing.T) {
	t.Parallel()

	def := &Definition{
		ID:           "d1",
		Name:         "High CPU",
		Description:  "{{name}} went {{old_state}} -> {{state}}: {{metric}}={{value}} on {{dimensions.host}}",
		AlarmActions: []string{"pager"},
	}
	n := &mockNotifier{}
	NewActionDispatcher(n, testLogger(), nil).Dispatch(dispatchEvent(def, StateAlarm, StateOK))

	require.Len(t, n.sent, 1)
	assert.Equal(t, "High CPU went OK -> ALARM: cpu=97.5 on web-1", n.sent[0].Message)
}

func TestActionDispatcher_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	def := &Definition{ID: "d1", AlarmActions: []string{"broken", "email"}}
	n := &mockNotifier{fail: map[string]bool{"broken": true}}
	var failures int
	d := NewActionDispatcher(n, testLogger(), func() { failures++ })

	assert.Equal(t, 1, d.Dispatch(dispatchEvent(def, StateAlarm, StateOK)))
	assert.Equal(t, 1, failures)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "email", n.sent[0].ActionID)
	assert.Equal(t, "Alarm d1 is ALARM (cpu)", n.sent[0].Message, "falls back to id without a name")
}

func TestActionDispatcher_NilSafe(t *testing.T) {
	t.Parallel()

	assert.Zero(t, NewActionDispatcher(nil, testLogger(), nil).Dispatch(dispatchEvent(&Definition{ID: "d1"}, StateAlarm, StateOK)))
	assert.Zero(t, NewActionDispatcher(&mockNotifier{}, testLogger(), nil).Dispatch(nil))
}
