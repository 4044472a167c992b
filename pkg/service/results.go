package service

import (
	"context"
	"strings"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/stores"
)

// GetResults returns the results matching filter, oldest first.
func (s *Service) GetResults(ctx context.Context, filter engine.ResultFilter) ([]*engine.TestExecutionResult, error) {
	filter.Status = engine.ResultStatus(strings.ToUpper(strings.TrimSpace(string(filter.Status))))
	if filter.Status != "" {
		if err := filter.Status.Validate(); err != nil {
			return nil, engine.NewValidationError(err.Error())
		}
	}
	if filter.Limit < 0 {
		return nil, engine.NewValidationError("limit must not be negative")
	}
	return s.store.ListResults(ctx, filter)
}

// EventQuery narrows ListEvents.
type EventQuery struct {
	PlanID string
	Type   string
	Limit  int
	Offset int
}

// ListEvents returns persisted engine events, oldest first.
func (s *Service) ListEvents(ctx context.Context, q EventQuery) ([]*stores.EventRecord, error) {
	filter := stores.EventFilter{Limit: q.Limit, Offset: q.Offset}
	if q.PlanID != "" {
		filter.PlanID = &q.PlanID
	}
	if q.Type != "" {
		filter.Type = &q.Type
	}
	return s.store.ListEvents(ctx, filter)
}
