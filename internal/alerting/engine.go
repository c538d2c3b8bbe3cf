package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"golang.org/x/sync/errgroup"

	"github.com/alarmpipe/alarmpipe/internal/datastore/repository"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/observability"
	"github.com/alarmpipe/alarmpipe/internal/telemetry"
)

const (
	// storeTimeout bounds every document store call made from the loop.
	storeTimeout = 3 * time.Second
	// cleanupTimeout is the context deadline for the periodic history deletion.
	cleanupTimeout = 5 * time.Second
	// defaultCleanupInterval is how often the history cleanup goroutine runs.
	defaultCleanupInterval = 1 * time.Hour
)

// Source delivers control messages and measurements to Engine.Run.
type Source interface {
	Controls() <-chan *ControlMessage
	Measurements() <-chan *Measurement
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWorkers splits each fan-out pass across n goroutines. n <= 1 keeps
// the pass on the calling goroutine.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) { e.workers = max(n, 1) }
}

// WithDefinitionStore mirrors accepted control messages into repo and lets
// Restore rebuild the registry from it.
func WithDefinitionStore(repo repository.DocumentRepository) EngineOption {
	return func(e *Engine) { e.definitions = repo }
}

// WithAlarmStore gives StartHistoryCleanup the alarm collection to prune.
func WithAlarmStore(repo repository.DocumentRepository) EngineOption {
	return func(e *Engine) { e.alarms = repo }
}

func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineClock sets the clock handed to every processor.
func WithEngineClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithCleanupInterval overrides how often history cleanup runs.
func WithCleanupInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.cleanupInterval = d
		}
	}
}

// Engine owns the registry of processors, keyed by definition id, and fans
// every measurement out to all of them.
type Engine struct {
	publisher   Publisher
	log         logger.Logger
	metrics     *observability.Metrics
	definitions repository.DocumentRepository
	alarms      repository.DocumentRepository
	clock       Clock
	workers     int

	processors map[string]*Processor
	mu         sync.RWMutex

	// passMu serializes fan-out passes with Snapshot readers.
	passMu sync.Mutex

	measurements atomic.Uint64
	events       atomic.Uint64
	failures     atomic.Uint64
	rejected     atomic.Uint64
	passLatency  ewma.MovingAverage
	latencyMu    sync.Mutex

	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupMu       sync.Mutex
	cleanupWG       sync.WaitGroup
}

// NewEngine creates an engine that hands fired events to publisher.
func NewEngine(publisher Publisher, log logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		publisher:       publisher,
		log:             log.With(logger.String("component", "engine")),
		clock:           systemClock{},
		workers:         1,
		processors:      make(map[string]*Processor),
		passLatency:     ewma.NewMovingAverage(),
		cleanupInterval: defaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyControl adds, replaces or removes a processor. Add and update always
// start from an empty history. A definition that does not compile is
// rejected and leaves any existing processor for that id untouched.
func (e *Engine) ApplyControl(msg *ControlMessage) error {
	if msg == nil || msg.Definition == nil {
		e.reject(nil)
		return &DefinitionError{Reason: "empty control message"}
	}
	def := msg.Definition

	switch msg.Op {
	case OpAdd, OpUpdate:
		p, err := NewProcessor(def, WithClock(e.clock))
		if err != nil {
			e.reject(err)
			return err
		}
		e.mu.Lock()
		_, replaced := e.processors[def.ID]
		e.processors[def.ID] = p
		active := len(e.processors)
		e.mu.Unlock()

		e.metrics.SetActiveDefinitions(active)
		e.metrics.DefinitionApplied(msg.Op)
		e.log.Info("alarm definition applied",
			logger.String("op", msg.Op),
			logger.String("definition_id", def.ID),
			logger.Bool("replaced", replaced),
			logger.Int("sub_expressions", len(p.SubExpressions())))
		e.persistDefinition(def)
		return nil

	case OpDelete:
		if def.ID == "" {
			err := &DefinitionError{Reason: "missing id"}
			e.reject(err)
			return err
		}
		e.mu.Lock()
		_, existed := e.processors[def.ID]
		delete(e.processors, def.ID)
		active := len(e.processors)
		e.mu.Unlock()

		e.metrics.SetActiveDefinitions(active)
		e.metrics.DefinitionApplied(msg.Op)
		e.log.Info("alarm definition deleted",
			logger.String("definition_id", def.ID),
			logger.Bool("existed", existed))
		e.forgetDefinition(def.ID)
		return nil

	default:
		err := &DefinitionError{ID: def.ID, Reason: fmt.Sprintf("unknown op %q", msg.Op)}
		e.reject(err)
		return err
	}
}

func (e *Engine) reject(err error) {
	e.rejected.Add(1)
	e.metrics.DefinitionRejected()
	if err != nil {
		e.log.Warn("alarm definition rejected", logger.Error(err))
	}
}

func (e *Engine) persistDefinition(def *Definition) {
	if e.definitions == nil {
		return
	}
	body, err := json.Marshal(def)
	if err != nil {
		e.log.Error("failed to marshal alarm definition",
			logger.String("definition_id", def.ID), logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.definitions.Index(ctx, def.ID, body); err != nil {
		e.log.Error("failed to store alarm definition",
			logger.String("definition_id", def.ID), logger.Error(err))
	}
}

func (e *Engine) forgetDefinition(id string) {
	if e.definitions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.definitions.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrDocumentNotFound) {
		e.log.Error("failed to delete stored alarm definition",
			logger.String("definition_id", id), logger.Error(err))
	}
}

// Restore rebuilds the registry from the definition store. Documents that
// no longer parse are logged and skipped. It returns the number restored.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.definitions == nil {
		return 0, nil
	}
	docs, err := e.definitions.List(ctx, repository.DocumentFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to restore alarm definitions: %w", err)
	}

	restored := make(map[string]*Processor, len(docs))
	for i := range docs {
		def, err := ParseDefinition([]byte(docs[i].Body))
		if err == nil {
			var p *Processor
			if p, err = NewProcessor(def, WithClock(e.clock)); err == nil {
				restored[def.ID] = p
				continue
			}
		}
		e.log.Warn("skipping stored alarm definition",
			logger.String("definition_id", docs[i].ID), logger.Error(err))
	}

	e.mu.Lock()
	for id, p := range restored {
		e.processors[id] = p
	}
	active := len(e.processors)
	e.mu.Unlock()

	e.metrics.SetActiveDefinitions(active)
	e.log.Info("alarm definitions restored",
		logger.Int("restored", len(restored)),
		logger.Int("stored", len(docs)))
	return len(restored), nil
}

type registryEntry struct {
	id string
	p  *Processor
}

// snapshot copies the registry, sorted by id, for one fan-out pass.
func (e *Engine) snapshot() []registryEntry {
	e.mu.RLock()
	entries := make([]registryEntry, 0, len(e.processors))
	for id, p := range e.processors {
		entries = append(entries, registryEntry{id: id, p: p})
	}
	e.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries
}

// HandleMeasurement runs m through every active processor, publishes the
// resulting events and returns how many were emitted. A failing processor
// is logged with its definition id and skipped.
func (e *Engine) HandleMeasurement(m *Measurement) int {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := time.Now()
	e.measurements.Add(1)
	e.metrics.MeasurementReceived()

	entries := e.snapshot()
	var events []*AlarmEvent
	if e.workers > 1 && len(entries) > 1 {
		events = e.fanOutParallel(entries, m)
	} else {
		events = e.fanOut(entries, m)
	}

	for _, ev := range events {
		e.events.Add(1)
		e.metrics.EventEmitted(ev.State.String())
		e.log.Info("alarm state changed",
			logger.String("definition_id", ev.Definition.ID),
			logger.String("old_state", ev.PreviousState.String()),
			logger.String("new_state", ev.State.String()),
			logger.String("metric", m.Name))
		if e.publisher != nil {
			e.publisher.Publish(ev)
		}
	}

	elapsed := time.Since(start)
	e.metrics.ObservePass(elapsed)
	e.latencyMu.Lock()
	e.passLatency.Add(float64(elapsed))
	e.latencyMu.Unlock()
	return len(events)
}

func (e *Engine) fanOut(entries []registryEntry, m *Measurement) []*AlarmEvent {
	var events []*AlarmEvent
	for _, entry := range entries {
		if ev := e.safeProcess(entry, m); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// fanOutParallel gives each worker a contiguous chunk of the snapshot, so a
// processor is only ever touched by one goroutine per pass. Events come back
// in snapshot order.
func (e *Engine) fanOutParallel(entries []registryEntry, m *Measurement) []*AlarmEvent {
	chunk := (len(entries) + e.workers - 1) / e.workers
	results := make([][]*AlarmEvent, 0, e.workers)
	var g errgroup.Group
	for lo := 0; lo < len(entries); lo += chunk {
		hi := min(lo+chunk, len(entries))
		idx := len(results)
		results = append(results, nil)
		part := entries[lo:hi]
		g.Go(func() error {
			results[idx] = e.fanOut(part, m)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are handled per processor

	var events []*AlarmEvent
	for _, r := range results {
		events = append(events, r...)
	}
	return events
}

// safeProcess isolates one processor: a panic is recovered, logged with the
// definition id, reported and counted.
func (e *Engine) safeProcess(entry registryEntry, m *Measurement) (ev *AlarmEvent) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("processor panic: %v", r)
			e.failures.Add(1)
			e.metrics.ProcessorFailed()
			e.log.Error("alarm processor failed",
				logger.String("definition_id", entry.id),
				logger.String("metric", m.Name),
				logger.Error(err))
			telemetry.CaptureException(err, map[string]string{"definition_id": entry.id})
			ev = nil
		}
	}()
	return entry.p.Process(m)
}

// Run consumes src until ctx is cancelled or the measurement channel is
// closed. Pending control messages are always applied before the next
// measurement is evaluated.
func (e *Engine) Run(ctx context.Context, src Source) error {
	controls := src.Controls()
	measurements := src.Measurements()
	e.log.Info("engine loop started", logger.Int("workers", e.workers))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine loop stopped")
			return nil
		case msg, ok := <-controls:
			if !ok {
				controls = nil
				continue
			}
			_ = e.ApplyControl(msg) // rejection already logged and counted
		case m, ok := <-measurements:
			if !ok {
				e.log.Info("measurement source closed")
				return nil
			}
			controls = e.drainControls(controls)
			e.HandleMeasurement(m)
		}
	}
}

// drainControls applies every control message already queued. It returns
// nil once the channel is closed.
func (e *Engine) drainControls(controls <-chan *ControlMessage) <-chan *ControlMessage {
	for controls != nil {
		select {
		case msg, ok := <-controls:
			if !ok {
				return nil
			}
			_ = e.ApplyControl(msg)
		default:
			return controls
		}
	}
	return nil
}

// SubExpressionStatus describes one sub-expression of an active definition.
type SubExpressionStatus struct {
	Expression string  `json:"expression"`
	State      State   `json:"state"`
	Samples    int     `json:"samples"`
	Aggregate  float64 `json:"aggregate"`
}

// DefinitionStatus describes one active processor.
type DefinitionStatus struct {
	ID             string                `json:"id"`
	Name           string                `json:"name,omitempty"`
	Expression     string                `json:"expression"`
	State          State                 `json:"state"`
	SubExpressions []SubExpressionStatus `json:"sub_expressions"`
}

// Snapshot reports every active definition, sorted by id. It waits for any
// in-flight pass so windows are read consistently.
func (e *Engine) Snapshot() []DefinitionStatus {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	entries := e.snapshot()
	out := make([]DefinitionStatus, 0, len(entries))
	for _, entry := range entries {
		p := entry.p
		st := DefinitionStatus{
			ID:         entry.id,
			Name:       p.Definition().Name,
			Expression: p.Definition().Expression,
			State:      p.State(),
		}
		for _, s := range p.SubExpressions() {
			st.SubExpressions = append(st.SubExpressions, SubExpressionStatus{
				Expression: s.Expression().String(),
				State:      s.State(),
				Samples:    len(s.window),
				Aggregate:  s.Aggregate(),
			})
		}
		out = append(out, st)
	}
	return out
}

// Stats is a point-in-time summary of engine activity.
type Stats struct {
	ActiveDefinitions   int           `json:"active_definitions"`
	Measurements        uint64        `json:"measurements"`
	Events              uint64        `json:"events"`
	ProcessorFailures   uint64        `json:"processor_failures"`
	RejectedDefinitions uint64        `json:"rejected_definitions"`
	AvgPassLatency      time.Duration `json:"avg_pass_latency_ns"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	active := len(e.processors)
	e.mu.RUnlock()

	e.latencyMu.Lock()
	latency := time.Duration(e.passLatency.Value())
	e.latencyMu.Unlock()

	return Stats{
		ActiveDefinitions:   active,
		Measurements:        e.measurements.Load(),
		Events:              e.events.Load(),
		ProcessorFailures:   e.failures.Load(),
		RejectedDefinitions: e.rejected.Load(),
		AvgPassLatency:      latency,
	}
}

// StartHistoryCleanup periodically deletes stored alarms older than
// retention. A non-positive retention or a missing alarm store disables it.
func (e *Engine) StartHistoryCleanup(retention time.Duration) {
	if retention <= 0 || e.alarms == nil {
		return
	}
	e.stopCleanup()

	e.cleanupMu.Lock()
	e.cleanupStop = make(chan struct{})
	stopCh := e.cleanupStop
	e.cleanupMu.Unlock()

	e.cleanupWG.Add(1)
	go func() {
		defer e.cleanupWG.Done()
		ticker := time.NewTicker(e.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.cleanupHistory(retention)
			case <-stopCh:
				return
			}
		}
	}()
}

func (e *Engine) cleanupHistory(retention time.Duration) {
	cutoff := e.clock.Now().Add(-retention)
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	deleted, err := e.alarms.DeleteBefore(ctx, cutoff)
	if err != nil {
		e.log.Error("alarm history cleanup failed", logger.Error(err))
		return
	}
	if deleted > 0 {
		e.log.Info("alarm history cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Duration("retention", retention))
	}
}

// stopCleanup makes the nil-check-then-close atomic so Stop and
// StartHistoryCleanup can race safely.
func (e *Engine) stopCleanup() {
	e.cleanupMu.Lock()
	ch := e.cleanupStop
	e.cleanupStop = nil
	e.cleanupMu.Unlock()
	if ch != nil {
		close(ch)
	}
	e.cleanupWG.Wait()
}

// Stop shuts down background goroutines.
func (e *Engine) Stop() {
	e.stopCleanup()
}
