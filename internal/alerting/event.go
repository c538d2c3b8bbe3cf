package alerting

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/telemetry"
)

// AlarmEventHandler consumes published alarm events.
type AlarmEventHandler func(event *AlarmEvent)

// Publisher is where the engine hands off fired alarm events.
type Publisher interface {
	Publish(event *AlarmEvent) bool
}

// AlarmEventBus is the outbound alarm channel. Publish is non-blocking:
// events go to a buffered channel drained by one worker goroutine, so the
// evaluation loop never waits on MQTT, HTTP or database writes.
type AlarmEventBus struct {
	handlers []AlarmEventHandler
	mu       sync.RWMutex
	eventCh  chan *AlarmEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
	onDrop   func()
	log      logger.Logger
}

// NewAlarmEventBus starts a bus with the given buffer size (defaulting to
// 1000 when not positive). onDrop, if set, is called for every event lost to
// a full buffer.
func NewAlarmEventBus(bufferSize int, log logger.Logger, onDrop func()) *AlarmEventBus {
	if bufferSize <= 0 {
		bufferSize = eventBusBufferSize
	}
	b := &AlarmEventBus{
		eventCh: make(chan *AlarmEvent, bufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		onDrop:  onDrop,
		log:     log.With(logger.String("component", "alarm_bus")),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler. Handlers run sequentially on the worker.
func (b *AlarmEventBus) Subscribe(handler AlarmEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues event and reports whether it was accepted. Events are
// dropped when the buffer is full or the bus has been stopped.
func (b *AlarmEventBus) Publish(event *AlarmEvent) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	select {
	case b.eventCh <- event:
		return true
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop()
		}
		b.log.Warn("alarm event dropped, bus buffer full",
			logger.String("definition_id", event.Definition.ID),
			logger.String("state", event.State.String()))
		return false
	}
}

// Dropped returns the number of events lost to a full buffer.
func (b *AlarmEventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stop stops accepting events, lets the worker deliver what is already
// buffered and waits for it to exit. Safe to call multiple times.
func (b *AlarmEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *AlarmEventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *AlarmEventBus) dispatch(event *AlarmEvent) {
	b.mu.RLock()
	handlers := make([]AlarmEventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall keeps the worker alive when a handler panics.
func (b *AlarmEventBus) safeCall(handler AlarmEventHandler, event *AlarmEvent) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("alarm event handler panic: %v", r)
			b.log.Error("alarm event handler panicked",
				logger.String("definition_id", event.Definition.ID),
				logger.Error(err))
			telemetry.CaptureException(err, map[string]string{"definition_id": event.Definition.ID})
		}
	}()
	handler(event)
}
