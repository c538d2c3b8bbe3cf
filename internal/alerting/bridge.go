package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/mqtt"
	"github.com/alarmpipe/alarmpipe/internal/observability"
)

// Subscriber is the part of the MQTT client BusSource needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler mqtt.MessageHandler) error
}

const defaultSourceBuffer = 1024

// BusSource decodes raw bus payloads into the channels Engine.Run consumes.
// With a positive dedupe TTL, a control payload identical to the last one
// accepted for the same definition id within the TTL is dropped; by default
// every control message is forwarded.
type BusSource struct {
	controls     chan *ControlMessage
	measurements chan *Measurement
	stopCh       chan struct{}
	stopOnce     sync.Once

	// lastControl maps definition id to the hash of its last accepted payload.
	lastControl *cache.Cache

	metrics *observability.Metrics
	log     logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBusSource creates a source with channels of the given capacity. A
// non-positive dedupeTTL disables duplicate suppression.
func NewBusSource(buffer int, dedupeTTL time.Duration, metrics *observability.Metrics, log logger.Logger) *BusSource {
	if buffer <= 0 {
		buffer = defaultSourceBuffer
	}
	s := &BusSource{
		controls:     make(chan *ControlMessage, buffer),
		measurements: make(chan *Measurement, buffer),
		stopCh:       make(chan struct{}),
		metrics:      metrics,
		log:          log.With(logger.String("component", "bus_source")),
	}
	if dedupeTTL > 0 {
		s.lastControl = cache.New(dedupeTTL, 2*dedupeTTL)
	}
	return s
}

func (s *BusSource) Controls() <-chan *ControlMessage  { return s.controls }
func (s *BusSource) Measurements() <-chan *Measurement { return s.measurements }

// Attach subscribes the source's handlers to the control and metric topics.
func (s *BusSource) Attach(ctx context.Context, sub Subscriber, controlTopic, metricTopic string) error {
	if err := sub.Subscribe(ctx, controlTopic, s.HandleControl); err != nil {
		return err
	}
	return sub.Subscribe(ctx, metricTopic, s.HandleMeasurement)
}

// HandleControl decodes a control payload and queues it. It blocks while the
// control channel is full.
func (s *BusSource) HandleControl(topic string, payload []byte) {
	msg, err := ParseControlMessage(payload)
	if err != nil {
		s.decodeFailed(topic, err)
		return
	}
	if s.duplicate(msg.Definition.ID, payload) {
		s.log.Debug("duplicate control message ignored",
			logger.String("definition_id", msg.Definition.ID),
			logger.String("op", msg.Op))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.controls <- msg:
	case <-s.stopCh:
	}
}

// HandleMeasurement decodes a metric payload and queues it.
func (s *BusSource) HandleMeasurement(topic string, payload []byte) {
	m, err := ParseMeasurement(payload)
	if err != nil {
		s.decodeFailed(topic, err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.measurements <- m:
	case <-s.stopCh:
	}
}

func (s *BusSource) duplicate(id string, payload []byte) bool {
	if s.lastControl == nil || id == "" {
		return false
	}
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])
	if prev, ok := s.lastControl.Get(id); ok && prev.(string) == digest {
		return true
	}
	s.lastControl.SetDefault(id, digest)
	return false
}

func (s *BusSource) decodeFailed(topic string, err error) {
	s.metrics.DecodeError(topic)
	level := s.log.Warn
	if errors.Is(err, ErrMeasurement) {
		level = s.log.Debug
	}
	level("dropping undecodable payload", logger.String("topic", topic), logger.Error(err))
}

// Close unblocks pending handlers and closes both channels, which ends
// Engine.Run once the measurements already queued are drained.
func (s *BusSource) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.controls)
		close(s.measurements)
	}
}
