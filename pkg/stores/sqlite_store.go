package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/ato-project/ato/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// mappingLookupChunk bounds the number of bound parameters per IN query.
const mappingLookupChunk = 500

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" json:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	BusyTimeout     time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	// Every connection to ":memory:" is a distinct database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) dsn() string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
		"_time_format=sqlite",
	}
	if s.cfg.Path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return "file:" + s.cfg.Path + "?" + strings.Join(params, "&")
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// CreatePlan inserts a new test plan.
func (s *SQLiteStore) CreatePlan(ctx context.Context, plan *engine.TestPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	if plan.UpdatedAt.IsZero() {
		plan.UpdatedAt = plan.CreatedAt
	}

	query := `
		INSERT INTO test_plans (id, name, root_component_id, status, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		plan.ID,
		plan.Name,
		plan.RootComponentID,
		plan.Status,
		plan.FailureReason,
		plan.CreatedAt.UTC(),
		plan.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return engine.NewConflictError("plan already exists", err).WithResource(plan.ID)
		}
		return fmt.Errorf("failed to create plan: %w", err)
	}

	return nil
}

// GetPlan retrieves a plan by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*engine.TestPlan, error) {
	query := `
		SELECT id, name, root_component_id, status, failure_reason, created_at, updated_at
		FROM test_plans
		WHERE id = ?
	`

	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return plan, nil
}

// UpdatePlan persists a plan's name, status and failure reason.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, plan *engine.TestPlan) error {
	if plan.UpdatedAt.IsZero() {
		plan.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE test_plans
		SET name = ?, status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		plan.Name,
		plan.Status,
		plan.FailureReason,
		plan.UpdatedAt.UTC(),
		plan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}

	return requireRow(result, "plan", plan.ID)
}

// ListPlans lists plans, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context) ([]*engine.TestPlan, error) {
	query := `
		SELECT id, name, root_component_id, status, failure_reason, created_at, updated_at
		FROM test_plans
		ORDER BY created_at DESC, id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*engine.TestPlan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return plans, nil
}

// DeletePlan deletes a plan together with its components and results.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM test_plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}

	return requireRow(result, "plan", id)
}

// SavePlanComponents writes the component set of a plan in one transaction.
func (s *SQLiteStore) SavePlanComponents(ctx context.Context, planID string, components []*engine.PlanComponent) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plan_components (id, plan_id, component_id, component_name, component_type, version, source_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare component insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range components {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.PlanID = planID

		if _, err := stmt.ExecContext(ctx,
			c.ID,
			c.PlanID,
			c.ComponentID,
			c.ComponentName,
			c.ComponentType,
			c.Version,
			c.SourceSystem,
			c.CreatedAt.UTC(),
		); err != nil {
			if isUniqueViolation(err) {
				return engine.NewConflictError("component already recorded for plan", err).
					WithResource(c.ComponentID).WithDetail("plan_id", planID)
			}
			if isForeignKeyViolation(err) {
				return engine.NewNotFoundError("plan", planID)
			}
			return fmt.Errorf("failed to save plan component: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan components: %w", err)
	}

	return nil
}

// ListPlanComponents lists the components of a plan in discovery order.
func (s *SQLiteStore) ListPlanComponents(ctx context.Context, planID string) ([]*engine.PlanComponent, error) {
	query := `
		SELECT id, plan_id, component_id, component_name, component_type, version, source_system, created_at
		FROM plan_components
		WHERE plan_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan components: %w", err)
	}
	defer rows.Close()

	components := []*engine.PlanComponent{}
	for rows.Next() {
		c := &engine.PlanComponent{}
		if err := rows.Scan(
			&c.ID,
			&c.PlanID,
			&c.ComponentID,
			&c.ComponentName,
			&c.ComponentType,
			&c.Version,
			&c.SourceSystem,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan component: %w", err)
		}
		components = append(components, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan components: %w", err)
	}

	return components, nil
}

// CreateMapping inserts a mapping. A duplicate main/test pair is a conflict.
func (s *SQLiteStore) CreateMapping(ctx context.Context, m *engine.Mapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	query := `
		INSERT INTO mappings (
			id, main_component_id, main_component_name, test_component_id, test_component_name,
			is_deployed, is_package, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.MainComponentID,
		m.MainComponentName,
		m.TestComponentID,
		m.TestComponentName,
		m.IsDeployed,
		m.IsPackage,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return engine.NewConflictError("mapping already exists", err).
				WithResource(m.MainComponentID).
				WithDetail("test_component_id", m.TestComponentID)
		}
		return fmt.Errorf("failed to create mapping: %w", err)
	}

	return nil
}

// GetMapping retrieves a mapping by ID.
func (s *SQLiteStore) GetMapping(ctx context.Context, id string) (*engine.Mapping, error) {
	query := `
		SELECT id, main_component_id, main_component_name, test_component_id, test_component_name,
			is_deployed, is_package, created_at, updated_at
		FROM mappings
		WHERE id = ?
	`

	m, err := scanMapping(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("mapping", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return m, nil
}

// UpdateMapping updates the names and flags of a mapping.
func (s *SQLiteStore) UpdateMapping(ctx context.Context, m *engine.Mapping) error {
	m.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE mappings
		SET main_component_name = ?, test_component_name = ?, is_deployed = ?, is_package = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		m.MainComponentName,
		m.TestComponentName,
		m.IsDeployed,
		m.IsPackage,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}

	return requireRow(result, "mapping", m.ID)
}

// DeleteMapping deletes a mapping.
func (s *SQLiteStore) DeleteMapping(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM mappings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}

	return requireRow(result, "mapping", id)
}

// ListMappings lists mappings matching filter, oldest first.
func (s *SQLiteStore) ListMappings(ctx context.Context, filter engine.MappingFilter) ([]*engine.Mapping, error) {
	query := `
		SELECT id, main_component_id, main_component_name, test_component_id, test_component_name,
			is_deployed, is_package, created_at, updated_at
		FROM mappings
		WHERE (? IS NULL OR main_component_id = ?)
		  AND (? IS NULL OR test_component_id = ?)
		ORDER BY created_at, id
	`

	mainID := nullString(filter.MainComponentID)
	testID := nullString(filter.TestComponentID)

	return s.queryMappings(ctx, query, mainID, mainID, testID, testID)
}

// ListMappingsForComponents returns the mappings of the given main components, oldest first.
func (s *SQLiteStore) ListMappingsForComponents(ctx context.Context, mainComponentIDs []string) ([]*engine.Mapping, error) {
	mappings := []*engine.Mapping{}

	for start := 0; start < len(mainComponentIDs); start += mappingLookupChunk {
		end := start + mappingLookupChunk
		if end > len(mainComponentIDs) {
			end = len(mainComponentIDs)
		}
		chunk := mainComponentIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := `
			SELECT id, main_component_id, main_component_name, test_component_id, test_component_name,
				is_deployed, is_package, created_at, updated_at
			FROM mappings
			WHERE main_component_id IN (` + placeholders + `)
			ORDER BY created_at, id
		`

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		found, err := s.queryMappings(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, found...)
	}

	if len(mainComponentIDs) > mappingLookupChunk {
		sort.SliceStable(mappings, func(i, j int) bool {
			if mappings[i].CreatedAt.Equal(mappings[j].CreatedAt) {
				return mappings[i].ID < mappings[j].ID
			}
			return mappings[i].CreatedAt.Before(mappings[j].CreatedAt)
		})
	}

	return mappings, nil
}

func (s *SQLiteStore) queryMappings(ctx context.Context, query string, args ...any) ([]*engine.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	mappings := []*engine.Mapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}

	return mappings, nil
}

// SaveResult appends an execution result.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *engine.TestExecutionResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = time.Now().UTC()
	}

	cases := r.TestCases
	if cases == nil {
		cases = []engine.TestCaseResult{}
	}
	casesJSON, err := json.Marshal(cases)
	if err != nil {
		return fmt.Errorf("failed to encode test cases: %w", err)
	}

	query := `
		INSERT INTO test_execution_results (
			id, plan_id, plan_component_id, component_id, component_name, test_component_id,
			test_component_name, status, failure_kind, message, log_url, submit_attempts, polls,
			test_cases, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.PlanID,
		r.PlanComponentID,
		r.ComponentID,
		r.ComponentName,
		r.TestComponentID,
		r.TestComponentName,
		r.Status,
		r.FailureKind,
		r.Message,
		r.LogURL,
		r.SubmitAttempts,
		r.Polls,
		string(casesJSON),
		r.ExecutedAt.UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return engine.NewNotFoundError("plan", r.PlanID)
		}
		return fmt.Errorf("failed to save result: %w", err)
	}

	return nil
}

// ListResults lists results matching filter in execution order.
func (s *SQLiteStore) ListResults(ctx context.Context, filter engine.ResultFilter) ([]*engine.TestExecutionResult, error) {
	query := `
		SELECT id, plan_id, plan_component_id, component_id, component_name, test_component_id,
			test_component_name, status, failure_kind, message, log_url, submit_attempts, polls,
			test_cases, executed_at
		FROM test_execution_results
		WHERE (? IS NULL OR plan_id = ?)
		  AND (? IS NULL OR plan_component_id = ?)
		  AND (? IS NULL OR component_id = ?)
		  AND (? IS NULL OR test_component_id = ?)
		  AND (? IS NULL OR status = ?)
		ORDER BY executed_at, rowid
		LIMIT ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	planID := nullString(filter.PlanID)
	planComponentID := nullString(filter.PlanComponentID)
	componentID := nullString(filter.ComponentID)
	testComponentID := nullString(filter.TestComponentID)
	status := nullString(string(filter.Status))

	rows, err := s.db.QueryContext(ctx, query,
		planID, planID,
		planComponentID, planComponentID,
		componentID, componentID,
		testComponentID, testComponentID,
		status, status,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := []*engine.TestExecutionResult{}
	for rows.Next() {
		r := &engine.TestExecutionResult{}
		var casesJSON string
		if err := rows.Scan(
			&r.ID,
			&r.PlanID,
			&r.PlanComponentID,
			&r.ComponentID,
			&r.ComponentName,
			&r.TestComponentID,
			&r.TestComponentName,
			&r.Status,
			&r.FailureKind,
			&r.Message,
			&r.LogURL,
			&r.SubmitAttempts,
			&r.Polls,
			&casesJSON,
			&r.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if casesJSON != "" && casesJSON != "[]" {
			if err := json.Unmarshal([]byte(casesJSON), &r.TestCases); err != nil {
				return nil, fmt.Errorf("failed to decode test cases of result %s: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// SaveCredential inserts or replaces a credential profile.
func (s *SQLiteStore) SaveCredential(ctx context.Context, record *CredentialRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	query := `
		INSERT INTO credential_profiles (
			name, provider, account_id, username, execution_instance_id, salt, sealed_secret, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			provider = excluded.provider,
			account_id = excluded.account_id,
			username = excluded.username,
			execution_instance_id = excluded.execution_instance_id,
			salt = excluded.salt,
			sealed_secret = excluded.sealed_secret,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.Name,
		record.Provider,
		record.AccountID,
		record.Username,
		record.ExecutionInstanceID,
		record.Salt,
		record.SealedSecret,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential profile: %w", err)
	}

	return nil
}

// GetCredential retrieves a credential profile by name.
func (s *SQLiteStore) GetCredential(ctx context.Context, name string) (*CredentialRecord, error) {
	query := `
		SELECT name, provider, account_id, username, execution_instance_id, salt, sealed_secret, created_at, updated_at
		FROM credential_profiles
		WHERE name = ?
	`

	record, err := scanCredential(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("credential profile", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential profile: %w", err)
	}

	return record, nil
}

// ListCredentials lists credential profiles by name.
func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]*CredentialRecord, error) {
	query := `
		SELECT name, provider, account_id, username, execution_instance_id, salt, sealed_secret, created_at, updated_at
		FROM credential_profiles
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential profiles: %w", err)
	}
	defer rows.Close()

	records := []*CredentialRecord{}
	for rows.Next() {
		record, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential profile: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credential profiles: %w", err)
	}

	return records, nil
}

// DeleteCredential deletes a credential profile.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM credential_profiles WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete credential profile: %w", err)
	}

	return requireRow(result, "credential profile", name)
}

// AppendEvent appends an engine event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (event_id, plan_id, component_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.PlanID,
		event.ComponentID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents lists events with optional filters, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*EventRecord, error) {
	query := `
		SELECT id, event_id, plan_id, component_id, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR plan_id = ?)
		  AND (? IS NULL OR type = ?)
		ORDER BY id
		LIMIT ? OFFSET ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.PlanID, filter.PlanID,
		filter.Type, filter.Type,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		event := &EventRecord{}
		if err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.PlanID,
			&event.ComponentID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*engine.TestPlan, error) {
	plan := &engine.TestPlan{}
	err := row.Scan(
		&plan.ID,
		&plan.Name,
		&plan.RootComponentID,
		&plan.Status,
		&plan.FailureReason,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	return plan, err
}

func scanMapping(row rowScanner) (*engine.Mapping, error) {
	m := &engine.Mapping{}
	err := row.Scan(
		&m.ID,
		&m.MainComponentID,
		&m.MainComponentName,
		&m.TestComponentID,
		&m.TestComponentName,
		&m.IsDeployed,
		&m.IsPackage,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func scanCredential(row rowScanner) (*CredentialRecord, error) {
	record := &CredentialRecord{}
	err := row.Scan(
		&record.Name,
		&record.Provider,
		&record.AccountID,
		&record.Username,
		&record.ExecutionInstanceID,
		&record.Salt,
		&record.SealedSecret,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	return record, err
}

func requireRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError(kind, id)
	}
	return nil
}

// nullString maps "" to NULL so optional filters can use the (? IS NULL OR col = ?) form.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
