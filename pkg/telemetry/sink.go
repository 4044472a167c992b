package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/stores"
)

// EventAppender persists event records. *stores.SQLiteStore implements it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *stores.EventRecord) error
}

// sinkTimeout bounds a single event write.
const sinkTimeout = 5 * time.Second

// StoreSink returns a subscriber that records every event it receives in the
// event log. Write failures are logged and the event is dropped.
func StoreSink(store EventAppender, logger zerolog.Logger) EventSubscriber {
	logger = logger.With().Str("component", "event-sink").Logger()

	return func(event engine.Event) {
		record := EventRecord(event)

		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()

		if err := store.AppendEvent(ctx, record); err != nil {
			logger.Warn().Err(err).
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Msg("Failed to record event")
		}
	}
}

// EventRecord converts an engine event to its stored form.
func EventRecord(event engine.Event) *stores.EventRecord {
	record := &stores.EventRecord{
		EventID:   event.ID,
		Type:      string(event.Type),
		Level:     event.Level,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if event.PlanID != "" {
		planID := event.PlanID
		record.PlanID = &planID
	}
	if event.ComponentID != "" {
		componentID := event.ComponentID
		record.ComponentID = &componentID
	}
	if len(event.Data) > 0 {
		if raw, err := json.Marshal(event.Data); err == nil {
			details := string(raw)
			record.Details = &details
		}
	}
	return record
}
