package service

import (
	"context"
	"io"
	"strings"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/report"
)

// MappingUpdate changes the names and flags of a mapping. Nil fields keep
// their current value; the component ids of a mapping never change.
type MappingUpdate struct {
	MainComponentName *string `json:"main_component_name,omitempty"`
	TestComponentName *string `json:"test_component_name,omitempty"`
	IsDeployed        *bool   `json:"is_deployed,omitempty"`
	IsPackage         *bool   `json:"is_package,omitempty"`
}

// ImportReport summarizes a mapping import.
type ImportReport struct {
	Created    []*engine.Mapping   `json:"created"`
	Duplicates []*engine.Mapping   `json:"duplicates"`
	Skipped    []report.SkippedRow `json:"skipped"`
}

// CreateMapping validates and stores a new mapping. A mapping for the same
// main and test component pair is a conflict.
func (s *Service) CreateMapping(ctx context.Context, m *engine.Mapping) (*engine.Mapping, error) {
	if m == nil {
		return nil, engine.NewValidationError("mapping is required")
	}
	mapping := *m
	mapping.ID = ""
	mapping.MainComponentID = strings.TrimSpace(mapping.MainComponentID)
	mapping.TestComponentID = strings.TrimSpace(mapping.TestComponentID)
	if err := s.validate.Struct(mapping); err != nil {
		return nil, s.validationError("mapping", err)
	}

	if err := s.store.CreateMapping(ctx, &mapping); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("mapping_id", mapping.ID).
		Str("main_component_id", mapping.MainComponentID).
		Str("test_component_id", mapping.TestComponentID).
		Msg("Mapping created")
	return &mapping, nil
}

// GetMapping returns one mapping.
func (s *Service) GetMapping(ctx context.Context, id string) (*engine.Mapping, error) {
	if id == "" {
		return nil, engine.NewValidationError("mapping id is required")
	}
	return s.store.GetMapping(ctx, id)
}

// ListMappings returns mappings matching filter, oldest first.
func (s *Service) ListMappings(ctx context.Context, filter engine.MappingFilter) ([]*engine.Mapping, error) {
	return s.store.ListMappings(ctx, filter)
}

// UpdateMapping applies update to the mapping id.
func (s *Service) UpdateMapping(ctx context.Context, id string, update MappingUpdate) (*engine.Mapping, error) {
	m, err := s.GetMapping(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.MainComponentName != nil {
		m.MainComponentName = *update.MainComponentName
	}
	if update.TestComponentName != nil {
		m.TestComponentName = *update.TestComponentName
	}
	if update.IsDeployed != nil {
		m.IsDeployed = *update.IsDeployed
	}
	if update.IsPackage != nil {
		m.IsPackage = *update.IsPackage
	}
	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMapping removes a mapping.
func (s *Service) DeleteMapping(ctx context.Context, id string) error {
	if id == "" {
		return engine.NewValidationError("mapping id is required")
	}
	if err := s.store.DeleteMapping(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("mapping_id", id).Msg("Mapping deleted")
	return nil
}

// ImportMappings creates a mapping for every usable row of a CSV file.
// Rows that already exist are reported as duplicates, not errors.
func (s *Service) ImportMappings(ctx context.Context, r io.Reader) (rep *ImportReport, err error) {
	op := s.startOperation(ctx, "service.import_mappings")
	defer func() { op.End(err) }()

	parsed, err := report.ParseMappingsCSV(r)
	if err != nil {
		return nil, err
	}

	rep = &ImportReport{
		Created:    []*engine.Mapping{},
		Duplicates: []*engine.Mapping{},
		Skipped:    parsed.Skipped,
	}
	if rep.Skipped == nil {
		rep.Skipped = []report.SkippedRow{}
	}
	for i, m := range parsed.Mappings {
		created, err := s.CreateMapping(op.Ctx, m)
		switch {
		case err == nil:
			rep.Created = append(rep.Created, created)
		case engine.IsConflict(err):
			rep.Duplicates = append(rep.Duplicates, m)
		case engine.HasCode(err, engine.ErrCodeValidation):
			rep.Skipped = append(rep.Skipped, report.SkippedRow{Line: parsed.Lines[i], Reason: err.Error()})
		default:
			return rep, err
		}
	}

	s.logger.Info().
		Int("created", len(rep.Created)).
		Int("duplicates", len(rep.Duplicates)).
		Int("skipped", len(rep.Skipped)).
		Msg("Mappings imported")
	return rep, nil
}
