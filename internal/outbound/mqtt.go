package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/observability"
)

const defaultPublishTimeout = 5 * time.Second

// TopicPublisher is satisfied by mqtt.Client.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTTSink publishes alarm events to the alarms topic and notification
// requests to the notifications topic.
type MQTTSink struct {
	client             TopicPublisher
	alarmTopic         string
	notificationsTopic string
	timeout            time.Duration
	metrics            *observability.Metrics
	log                logger.Logger
}

func NewMQTTSink(client TopicPublisher, topics conf.TopicsConfig, metrics *observability.Metrics, log logger.Logger) *MQTTSink {
	return &MQTTSink{
		client:             client,
		alarmTopic:         topics.Alarms,
		notificationsTopic: topics.Notifications,
		timeout:            defaultPublishTimeout,
		metrics:            metrics,
		log:                log.With(logger.String("component", "mqtt_sink")),
	}
}

// HandleAlarm publishes ev as JSON on the alarms topic.
func (s *MQTTSink) HandleAlarm(ev *alerting.AlarmEvent) {
	if err := s.publish(s.alarmTopic, ev); err != nil {
		s.metrics.OutboundError("mqtt")
		s.log.Error("failed to publish alarm event",
			logger.String("definition_id", ev.Definition.ID),
			logger.String("alarm_id", ev.ID),
			logger.Error(err))
	}
}

// PublishNotification implements alerting.NotificationPublisher.
func (s *MQTTSink) PublishNotification(n *alerting.Notification) error {
	if s.notificationsTopic == "" {
		return fmt.Errorf("no notifications topic configured")
	}
	return s.publish(s.notificationsTopic, n)
}

func (s *MQTTSink) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Publish(ctx, topic, payload)
}
