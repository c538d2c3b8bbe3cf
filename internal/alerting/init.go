package alerting

import (
	"context"
	"fmt"

	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/datastore/repository"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/observability"
)

// Dependencies are the collaborators Initialize wires together. Every field
// is optional.
type Dependencies struct {
	// Subscriber feeds the control and metric topics into the engine.
	Subscriber  Subscriber
	Definitions repository.DocumentRepository
	Alarms      repository.DocumentRepository
	Metrics     *observability.Metrics
	// Notifier receives one request per configured action on every transition.
	Notifier NotificationPublisher
	// Handlers receive every alarm event, e.g. the MQTT, webhook and store sinks.
	Handlers []AlarmEventHandler
	Clock    Clock
}

// Service is a running engine with its inbound source and outbound bus.
type Service struct {
	Engine     *Engine
	Bus        *AlarmEventBus
	Source     *BusSource
	Dispatcher *ActionDispatcher
}

// Initialize builds the alarm bus and engine, restores stored definitions,
// subscribes to the bus topics and starts history cleanup. Call Run to start
// evaluating and Stop to shut everything down.
func Initialize(ctx context.Context, settings *conf.Settings, deps Dependencies, log logger.Logger) (*Service, error) {
	bus := NewAlarmEventBus(settings.Engine.EventBuffer, log, deps.Metrics.EventDropped)
	for _, h := range deps.Handlers {
		bus.Subscribe(h)
	}

	var dispatcher *ActionDispatcher
	if deps.Notifier != nil {
		dispatcher = NewActionDispatcher(deps.Notifier, log, func() { deps.Metrics.OutboundError("notifications") })
		bus.Subscribe(dispatcher.Handler())
	}

	engine := NewEngine(bus, log,
		WithWorkers(settings.Engine.Workers),
		WithDefinitionStore(deps.Definitions),
		WithAlarmStore(deps.Alarms),
		WithMetrics(deps.Metrics),
		WithEngineClock(deps.Clock),
	)

	if _, err := engine.Restore(ctx); err != nil {
		bus.Stop()
		return nil, err
	}

	source := NewBusSource(settings.Engine.EventBuffer, settings.Engine.ControlDedupeTTL.Std(), deps.Metrics, log)
	if deps.Subscriber != nil {
		topics := settings.MQTT.Topics
		if err := source.Attach(ctx, deps.Subscriber, topics.AlarmDefinitions, topics.Metrics); err != nil {
			source.Close()
			bus.Stop()
			return nil, fmt.Errorf("failed to subscribe engine topics: %w", err)
		}
	}

	if settings.Store.Enabled {
		engine.StartHistoryCleanup(settings.Store.HistoryRetention.Std())
	}

	log.Info("alarm engine initialized",
		logger.Int("definitions", engine.Stats().ActiveDefinitions),
		logger.Int("workers", settings.Engine.Workers),
		logger.Int("handlers", len(deps.Handlers)))

	return &Service{Engine: engine, Bus: bus, Source: source, Dispatcher: dispatcher}, nil
}

// Run blocks in the engine loop until ctx is cancelled or the source closes.
func (s *Service) Run(ctx context.Context) error {
	return s.Engine.Run(ctx, s.Source)
}

// Stop closes the source, stops cleanup and flushes the alarm bus.
func (s *Service) Stop() {
	s.Source.Close()
	s.Engine.Stop()
	s.Bus.Stop()
}
