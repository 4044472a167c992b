package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ato-project/ato/pkg/engine"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// ErrBufferFull is returned by Publish when the async buffer is full.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// EventSubscriber handles one event. Subscribers run on the delivery
// goroutine and must not block.
type EventSubscriber func(event engine.Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event engine.Event) bool

// EventPublisher fans engine events out to subscribers. It satisfies
// engine.EventPublisher. Events are delivered in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan engine.Event
	subscribers map[uint64]subscriberEntry
	nextID      uint64
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, errors.New("event buffer size must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan engine.Event, cfg.BufferSize),
		subscribers: make(map[uint64]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.MinLevel != "" {
		ep.AddFilter(FilterByLevel(cfg.MinLevel))
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish queues event for delivery. ctx is not used for delivery; events
// outlive the request that produced them.
func (ep *EventPublisher) Publish(_ context.Context, event *engine.Event) error {
	if ep == nil || !ep.config.Enabled || event == nil {
		return nil
	}

	e := *event
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(e) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.ctx.Err() != nil {
		return ErrPublisherStopped
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- e:
			return nil
		case <-ep.ctx.Done():
			return ErrPublisherStopped
		default:
			return ErrBufferFull
		}
	}

	ep.deliverEvent(e)
	return nil
}

// Subscribe adds a subscriber and returns a function that removes it. filter
// may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) func() {
	if ep == nil || !ep.config.Enabled {
		return func() {}
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	id := ep.nextID
	ep.nextID++
	ep.subscribers[id] = subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	}

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		delete(ep.subscribers, id)
	}
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil || !ep.config.Enabled {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events until shutdown, then drains the buffer.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event engine.Event) {
	ep.mu.RLock()
	entries := make([]subscriberEntry, 0, len(ep.subscribers))
	for _, entry := range ep.subscribers {
		entries = append(entries, entry)
	}
	ep.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event engine.Event) bool {
		return typeSet[event.Type]
	}
}

// MatchAll creates a filter that allows events passing every filter. Nil
// filters are ignored.
func MatchAll(filters ...EventFilter) EventFilter {
	return func(event engine.Event) bool {
		for _, f := range filters {
			if f != nil && !f(event) {
				return false
			}
		}
		return true
	}
}

// FilterByPlanID creates a filter that only allows events for one test plan.
func FilterByPlanID(planID string) EventFilter {
	return func(event engine.Event) bool {
		return event.PlanID == planID
	}
}
