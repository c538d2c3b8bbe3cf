package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alarmpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(Default()))
}

func TestDefault_ControlDedupeDisabled(t *testing.T) {
	t.Parallel()
	assert.Zero(t, Default().Engine.ControlDedupeTTL.Std())

	s, err := Load(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)
	assert.Zero(t, s.Engine.ControlDedupeTTL.Std())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
mqtt:
  broker: tcp://broker:1883
  qos: 0
  connect_timeout: 3s
  topics:
    metrics: in/metrics
engine:
  workers: 4
  control_dedupe_ttl: 120
store:
  driver: mysql
  dsn: user:pass@tcp(db:3306)/alarms
  history_retention: 48h
`)
	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "tcp://broker:1883", s.MQTT.Broker)
	assert.Equal(t, byte(0), s.MQTT.QoS)
	assert.Equal(t, 3*time.Second, s.MQTT.ConnectTimeout.Std())
	assert.Equal(t, "in/metrics", s.MQTT.Topics.Metrics)
	assert.Equal(t, "alarms", s.MQTT.Topics.Alarms, "unset keys keep defaults")
	assert.Equal(t, 4, s.Engine.Workers)
	assert.Equal(t, 2*time.Minute, s.Engine.ControlDedupeTTL.Std())
	assert.Equal(t, "mysql", s.Store.Driver)
	assert.Equal(t, 48*time.Hour, s.Store.HistoryRetention.Std())
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "engine:\n  workers: 2\n")
	t.Setenv("ALARMPIPE_ENGINE_WORKERS", "8")
	t.Setenv("ALARMPIPE_MQTT_BROKER", "tcp://env-broker:1883")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Engine.Workers)
	assert.Equal(t, "tcp://env-broker:1883", s.MQTT.Broker)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidSettings(t *testing.T) {
	path := writeConfig(t, "engine:\n  workers: 0\nstore:\n  driver: postgres\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.workers")
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"bad level", func(s *Settings) { s.Log.Level = "loud" }, "log.level"},
		{"no broker", func(s *Settings) { s.MQTT.Broker = "" }, "mqtt.broker"},
		{"qos 3", func(s *Settings) { s.MQTT.QoS = 3 }, "mqtt.qos"},
		{"no alarm topic", func(s *Settings) { s.MQTT.Topics.Alarms = "" }, "mqtt.topics"},
		{"no event buffer", func(s *Settings) { s.Engine.EventBuffer = 0 }, "engine.event_buffer"},
		{"empty dsn", func(s *Settings) { s.Store.DSN = "" }, "store.dsn"},
		{"webhook without url", func(s *Settings) { s.Webhook.Enabled = true }, "webhook.url"},
		{"http without listen", func(s *Settings) { s.HTTP.Listen = "" }, "http.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Default()
			tt.mutate(s)
			err := Validate(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("disabled sections are not checked", func(t *testing.T) {
		t.Parallel()
		s := Default()
		s.MQTT.Enabled = false
		s.MQTT.Broker = ""
		s.Store.Enabled = false
		s.Store.Driver = ""
		assert.NoError(t, Validate(s))
	})
}
