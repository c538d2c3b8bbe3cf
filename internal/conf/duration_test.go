package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration Duration
		expected string
	}{
		{"zero", Duration(0), `"0s"`},
		{"30 seconds", Duration(30 * time.Second), `"30s"`},
		{"5 minutes", Duration(5 * time.Minute), `"5m0s"`},
		{"1 hour", Duration(time.Hour), `"1h0m0s"`},
		{"30 days", Duration(720 * time.Hour), `"720h0m0s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(b))
		})
	}
}

func TestDuration_UnmarshalJSON_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Duration
	}{
		{"30s string", `"30s"`, Duration(30 * time.Second)},
		{"5m string", `"5m"`, Duration(5 * time.Minute)},
		{"1h string", `"1h"`, Duration(time.Hour)},
		{"0s string", `"0s"`, Duration(0)},
		{"bare seconds string", `"45"`, Duration(45 * time.Second)},
		{"complex", `"1h30m10s"`, Duration(time.Hour + 30*time.Minute + 10*time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_UnmarshalJSON_NumberIsSeconds(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`90`), &d))
	assert.Equal(t, Duration(90*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`0.5`), &d))
	assert.Equal(t, Duration(500*time.Millisecond), d)
}

func TestDuration_UnmarshalJSON_Null(t *testing.T) {
	t.Parallel()

	d := Duration(30 * time.Second)
	err := json.Unmarshal([]byte(`null`), &d)
	require.NoError(t, err)
	assert.Equal(t, Duration(0), d)
}

func TestDuration_UnmarshalJSON_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"invalid string", `"notaduration"`},
		{"boolean", `true`},
		{"object", `{"s":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			assert.Error(t, err)
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	type Config struct {
		Retention Duration `json:"retention"`
	}

	original := Config{Retention: Duration(72 * time.Hour)}
	b, err := json.Marshal(original)
	require.NoError(t, err)
	assert.JSONEq(t, `{"retention":"72h0m0s"}`, string(b))

	var result Config
	require.NoError(t, json.Unmarshal(b, &result))
	assert.Equal(t, original.Retention, result.Retention)
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	type Config struct {
		Timeout Duration `yaml:"timeout"`
	}

	original := Config{Timeout: Duration(5 * time.Second)}

	b, err := yaml.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(b), "5s")

	var result Config
	require.NoError(t, yaml.Unmarshal(b, &result))
	assert.Equal(t, original.Timeout, result.Timeout)
}

func TestDuration_YAMLBareSeconds(t *testing.T) {
	t.Parallel()

	type Config struct {
		Period Duration `yaml:"period"`
	}

	var result Config
	require.NoError(t, yaml.Unmarshal([]byte("period: 120"), &result))
	assert.Equal(t, Duration(2*time.Minute), result.Period)

	err := yaml.Unmarshal([]byte("period: [1, 2]"), &result)
	assert.Error(t, err)

	err = yaml.Unmarshal([]byte("period: soon"), &result)
	assert.Error(t, err)
}

func TestDuration_Std(t *testing.T) {
	t.Parallel()

	d := Duration(30 * time.Second)
	assert.Equal(t, 30*time.Second, d.Std())
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	hook := DurationDecodeHook()
	tests := []struct {
		name string
		in   any
		want Duration
	}{
		{"string", "2m", Duration(2 * time.Minute)},
		{"int seconds", 30, Duration(30 * time.Second)},
		{"int64 seconds", int64(5), Duration(5 * time.Second)},
		{"float seconds", 1.5, Duration(1500 * time.Millisecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out struct {
				D Duration
			}
			dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{DecodeHook: hook, Result: &out})
			require.NoError(t, err)
			require.NoError(t, dec.Decode(map[string]any{"D": tt.in}))
			assert.Equal(t, tt.want, out.D)
		})
	}
}
