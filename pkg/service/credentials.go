package service

import (
	"context"
	"strings"

	"github.com/ato-project/ato/pkg/credentials"
	"github.com/ato-project/ato/pkg/engine"
)

// AddCredentials creates or replaces a credential profile.
func (s *Service) AddCredentials(ctx context.Context, name string, creds engine.Credentials) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return engine.NewValidationError("profile name is required")
	}
	return s.creds.Add(ctx, name, creds)
}

// ListCredentials returns every profile without secrets.
func (s *Service) ListCredentials(ctx context.Context) ([]credentials.Profile, error) {
	return s.creds.List(ctx)
}

// GetCredentials returns one profile without its secret.
func (s *Service) GetCredentials(ctx context.Context, name string) (*credentials.Profile, error) {
	return s.creds.Get(ctx, name)
}

// DeleteCredentials removes a profile.
func (s *Service) DeleteCredentials(ctx context.Context, name string) error {
	if name == "" {
		return engine.NewValidationError("profile name is required")
	}
	return s.creds.Delete(ctx, name)
}
