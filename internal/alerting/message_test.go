package alerting

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alarmpipe/alarmpipe/internal/expression"
)

func TestParseControlMessage_Ops(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"default add", `{"id":"d1","expression":"max(a)>1"}`, OpAdd},
		{"explicit op", `{"id":"d1","expression":"max(a)>1","op":"update"}`, OpUpdate},
		{"delete", `{"id":"d1","op":"DELETE"}`, OpDelete},
		{"request post", `{"id":"d1","expression":"max(a)>1","request":"POST"}`, OpAdd},
		{"request put", `{"id":"d1","expression":"max(a)>1","request":"PUT"}`, OpUpdate},
		{"request del", `{"id":"d1","request":"DEL"}`, OpDelete},
		{"op wins over request", `{"id":"d1","expression":"max(a)>1","op":"ADD","request":"DEL"}`, OpAdd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseControlMessage([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Op)
			assert.Equal(t, "d1", msg.Definition.ID)
			assert.NotContains(t, msg.Definition.Body, "op")
			assert.NotContains(t, msg.Definition.Body, "request")
		})
	}
}

func TestParseControlMessage_Errors(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`not json`,
		`[1,2]`,
		`null`,
		`{"id":"d1","op":"MERGE"}`,
		`{"id":"d1","request":"PATCH"}`,
		`{"id":"d1","alarm_actions":"not-a-list"}`,
	} {
		_, err := ParseControlMessage([]byte(payload))
		require.Error(t, err, payload)
		assert.ErrorIs(t, err, ErrDefinition, payload)
	}
}

func TestDefinition_BodyEchoedVerbatim(t *testing.T) {
	t.Parallel()

	payload := `{"id":"d1","expression":"max(a)>1","custom":{"x":[1,2]},"timestamp":1700000000123,"op":"ADD"}`
	msg, err := ParseControlMessage([]byte(payload))
	require.NoError(t, err)

	out, err := json.Marshal(msg.Definition)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"d1","expression":"max(a)>1","custom":{"x":[1,2]},"timestamp":1700000000123}`, string(out))

	ts, ok := msg.Definition.CreatedTimestamp()
	require.True(t, ok)
	assert.Equal(t, json.Number("1700000000123"), ts, "large integers keep their precision")
}

func TestDefinition_Actions(t *testing.T) {
	t.Parallel()

	def := &Definition{
		AlarmActions:        []string{"page"},
		OKActions:           []string{"resolve"},
		UndeterminedActions: []string{"ask"},
	}
	assert.Equal(t, []string{"page"}, def.Actions(StateAlarm))
	assert.Equal(t, []string{"resolve"}, def.Actions(StateOK))
	assert.Equal(t, []string{"ask"}, def.Actions(StateUndetermined))
}

func TestParseMeasurement(t *testing.T) {
	t.Parallel()

	m, err := ParseMeasurement([]byte(`{"name":"cpu","dimensions":{"host":"a"},"timestamp":1.5,"value":42}`))
	require.NoError(t, err)
	assert.Equal(t, &Measurement{Name: "cpu", Dimensions: map[string]string{"host": "a"}, Timestamp: 1.5, Value: 42}, m)

	_, err = ParseMeasurement([]byte(`{"value":1}`))
	require.ErrorIs(t, err, ErrMeasurement)
	_, err = ParseMeasurement([]byte(`{`))
	require.ErrorIs(t, err, ErrMeasurement)
}

func TestDefinitionError_Unwrap(t *testing.T) {
	t.Parallel()

	_, err := NewProcessor(&Definition{ID: "d1", Expression: "max(foo > 100"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDefinition))
	assert.True(t, errors.Is(err, expression.ErrParse))

	var derr *DefinitionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "d1", derr.ID)
	assert.Contains(t, err.Error(), `"d1"`)
}

func TestState_JSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(StateAlarm)
	require.NoError(t, err)
	assert.JSONEq(t, `"ALARM"`, string(out))

	var s State
	require.NoError(t, json.Unmarshal([]byte(`"ok"`), &s))
	assert.Equal(t, StateOK, s)
	require.Error(t, json.Unmarshal([]byte(`"BROKEN"`), &s))
}
