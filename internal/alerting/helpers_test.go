package alerting

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alarmpipe/alarmpipe/internal/datastore/entities"
	"github.com/alarmpipe/alarmpipe/internal/datastore/repository"
	"github.com/alarmpipe/alarmpipe/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Unix(1_700_000_000, 0)

// definition builds a *Definition the way it arrives off the bus.
func definition(t *testing.T, id, expr string, extra ...map[string]any) *Definition {
	t.Helper()
	body := map[string]any{"id": id, "name": id + "-name", "expression": expr}
	for _, e := range extra {
		for k, v := range e {
			body[k] = v
		}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	def, err := ParseDefinition(raw)
	require.NoError(t, err)
	return def
}

func add(t *testing.T, id, expr string) *ControlMessage {
	t.Helper()
	return &ControlMessage{Op: OpAdd, Definition: definition(t, id, expr)}
}

func measure(name string, ts, value float64, dims ...string) *Measurement {
	m := &Measurement{Name: name, Timestamp: ts, Value: value}
	if len(dims) > 0 {
		m.Dimensions = make(map[string]string, len(dims)/2)
		for i := 0; i+1 < len(dims); i += 2 {
			m.Dimensions[dims[i]] = dims[i+1]
		}
	}
	return m
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*AlarmEvent
}

func (p *recordingPublisher) Publish(ev *AlarmEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) Events() []*AlarmEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*AlarmEvent, len(p.events))
	copy(out, p.events)
	return out
}

// memRepo is an in-memory DocumentRepository.
type memRepo struct {
	mu            sync.Mutex
	docs          map[string]entities.Document
	deleteBefores []time.Time
	listErr       error
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[string]entities.Document)}
}

func (r *memRepo) Index(_ context.Context, id string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id] = entities.Document{ID: id, Body: string(body), UpdatedAt: time.Now()}
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*entities.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	return &doc, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return repository.ErrDocumentNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *memRepo) List(_ context.Context, _ repository.DocumentFilter) ([]entities.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]entities.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteBefores = append(r.deleteBefores, before)
	return 0, nil
}

func (r *memRepo) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *memRepo) cleanups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deleteBefores)
}
