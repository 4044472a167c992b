package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/ato-project/ato/pkg/engine"
)

// CredentialRecord is a credential profile as persisted. The password is
// never stored in clear; SealedSecret holds it encrypted under a key derived
// from Salt.
type CredentialRecord struct {
	Name                string    `json:"name"`
	Provider            string    `json:"provider"`
	AccountID           string    `json:"account_id"`
	Username            string    `json:"username"`
	ExecutionInstanceID string    `json:"execution_instance_id,omitempty"`
	Salt                []byte    `json:"-"`
	SealedSecret        []byte    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// EventRecord is a persisted engine event.
type EventRecord struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	PlanID      *string   `json:"plan_id,omitempty"`
	ComponentID *string   `json:"component_id,omitempty"`
	Type        string    `json:"type"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	Details     *string   `json:"details,omitempty"` // JSON blob
	Timestamp   time.Time `json:"timestamp"`
}

// EventFilter narrows event queries. Nil fields match everything.
type EventFilter struct {
	PlanID *string
	Type   *string
	Limit  int
	Offset int
}

// Store is the full persistence surface of the orchestrator.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	engine.PlanStore
	engine.MappingStore
	engine.ResultStore

	// Credential profiles
	SaveCredential(ctx context.Context, record *CredentialRecord) error
	GetCredential(ctx context.Context, name string) (*CredentialRecord, error)
	ListCredentials(ctx context.Context) ([]*CredentialRecord, error)
	DeleteCredential(ctx context.Context, name string) error

	// Events
	AppendEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*EventRecord, error)
}
