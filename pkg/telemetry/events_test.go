package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/stores"
)

type collector struct {
	mu     sync.Mutex
	events []engine.Event
}

func (c *collector) add(e engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []engine.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Event(nil), c.events...)
}

func TestPublisherDeliversInOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, EnableAsync: true})
	require.NoError(t, err)

	var got collector
	ep.Subscribe(got.add, nil)

	ctx := context.Background()
	for _, typ := range []engine.EventType{
		engine.EventTypeExecutionStarted,
		engine.EventTypeJobSubmitted,
		engine.EventTypeJobCompleted,
		engine.EventTypeExecutionCompleted,
	} {
		require.NoError(t, ep.Publish(ctx, &engine.Event{Type: typ, PlanID: "p1"}))
	}
	require.NoError(t, ep.Shutdown(ctx))

	events := got.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, engine.EventTypeExecutionStarted, events[0].Type)
	assert.Equal(t, engine.EventTypeExecutionCompleted, events[3].Type)
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
		assert.Equal(t, EventLevelInfo, e.Level)
	}

	assert.ErrorIs(t, ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobFailed}), ErrPublisherStopped)
}

func TestPublisherFiltersAndUnsubscribe(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4})
	require.NoError(t, err)

	var failures, all collector
	ep.Subscribe(failures.add, FilterByType(engine.EventTypeJobFailed))
	stop := ep.Subscribe(all.add, nil)
	ep.AddFilter(FilterByLevel(EventLevelWarning))

	ctx := context.Background()
	require.NoError(t, ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobCompleted, Level: EventLevelInfo}))
	require.NoError(t, ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobRetrying, Level: EventLevelWarning}))
	stop()
	require.NoError(t, ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobFailed, Level: EventLevelError}))

	assert.Len(t, all.snapshot(), 1, "info event filtered globally, last event after unsubscribe")
	require.Len(t, failures.snapshot(), 1)
	assert.Equal(t, engine.EventTypeJobFailed, failures.snapshot()[0].Type)
}

func TestPublisherMinLevel(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4, MinLevel: EventLevelWarning})
	require.NoError(t, err)

	var got collector
	ep.Subscribe(got.add, nil)

	ctx := context.Background()
	require.NoError(t, ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobSubmitted}))
	require.NoError(t, ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobRetrying, Level: EventLevelWarning}))
	require.NoError(t, ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobFailed, Level: EventLevelError}))

	events := got.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, engine.EventTypeJobRetrying, events[0].Type)
	assert.Equal(t, engine.EventTypeJobFailed, events[1].Type)
}

func TestMatchAll(t *testing.T) {
	filter := MatchAll(
		FilterByPlanID("p1"),
		nil,
		FilterByType(engine.EventTypeJobFailed, engine.EventTypeJobRetrying),
		FilterByLevel(EventLevelWarning),
	)

	assert.True(t, filter(engine.Event{PlanID: "p1", Type: engine.EventTypeJobFailed, Level: EventLevelError}))
	assert.False(t, filter(engine.Event{PlanID: "p2", Type: engine.EventTypeJobFailed, Level: EventLevelError}))
	assert.False(t, filter(engine.Event{PlanID: "p1", Type: engine.EventTypeJobCompleted, Level: EventLevelError}))
	assert.False(t, filter(engine.Event{PlanID: "p1", Type: engine.EventTypeJobRetrying, Level: EventLevelInfo}))
	assert.True(t, MatchAll()(engine.Event{}))
}

func TestPublisherBufferFull(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1, EnableAsync: true})
	require.NoError(t, err)

	block := make(chan struct{})
	ep.Subscribe(func(engine.Event) { <-block }, nil)

	ctx := context.Background()
	var dropped bool
	for i := 0; i < 10 && !dropped; i++ {
		if err := ep.Publish(ctx, &engine.Event{Type: engine.EventTypeJobSubmitted}); errors.Is(err, ErrBufferFull) {
			dropped = true
		}
	}
	close(block)
	assert.True(t, dropped)
	require.NoError(t, ep.Shutdown(ctx))
}

func TestDisabledPublisher(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)

	called := false
	ep.Subscribe(func(engine.Event) { called = true }, nil)
	require.NoError(t, ep.Publish(context.Background(), &engine.Event{Type: engine.EventTypeJobFailed}))
	assert.False(t, called)
	assert.NoError(t, ep.Shutdown(context.Background()))
}

type fakeAppender struct {
	mu      sync.Mutex
	records []*stores.EventRecord
	err     error
}

func (f *fakeAppender) AppendEvent(_ context.Context, e *stores.EventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, e)
	return nil
}

func TestStoreSink(t *testing.T) {
	store := &fakeAppender{}
	sink := StoreSink(store, zerolog.Nop())

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink(engine.Event{
		ID:          "e1",
		Type:        engine.EventTypeJobFailed,
		Timestamp:   ts,
		PlanID:      "plan-1",
		ComponentID: "comp-1",
		Message:     "job failed",
		Level:       EventLevelError,
		Data:        map[string]interface{}{"failure_kind": "Process Execution Failed"},
	})
	sink(engine.Event{ID: "e2", Type: engine.EventTypeDiscoveryStarted, Level: EventLevelInfo})

	require.Len(t, store.records, 2)
	r := store.records[0]
	assert.Equal(t, "e1", r.EventID)
	assert.Equal(t, "job.failed", r.Type)
	require.NotNil(t, r.PlanID)
	assert.Equal(t, "plan-1", *r.PlanID)
	require.NotNil(t, r.Details)

	var details map[string]string
	require.NoError(t, json.Unmarshal([]byte(*r.Details), &details))
	assert.Equal(t, "Process Execution Failed", details["failure_kind"])
	assert.Equal(t, ts, r.Timestamp)

	assert.Nil(t, store.records[1].PlanID)
	assert.Nil(t, store.records[1].Details)

	store.err = errors.New("disk full")
	assert.NotPanics(t, func() { sink(engine.Event{ID: "e3", Type: engine.EventTypeJobCompleted}) })
}
