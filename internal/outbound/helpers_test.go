package outbound

import (
	"io"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	"github.com/alarmpipe/alarmpipe/internal/logger"
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func sampleEvent() *alerting.AlarmEvent {
	return &alerting.AlarmEvent{
		ID:         "3f1c6d0e-6a57-4bdb-9c59-6bd0d3d0a1f2",
		Definition: &alerting.Definition{ID: "def-1", Name: "High CPU", Expression: "max(cpu) > 90"},
		Metrics:    &alerting.Measurement{Name: "cpu", Timestamp: 1700000000, Value: 97},
		State:      alerting.StateAlarm,
	}
}
