// Package stores provides the persistence layer for ato.
//
// SQLiteStore keeps test plans, their discovered components, component
// mappings, the append-only execution result log, sealed credential profiles
// and engine events in a single SQLite database (pure Go driver, WAL mode,
// foreign keys on). The schema ships as embedded golang-migrate migrations.
//
// SQLiteStore implements engine.PlanStore, engine.MappingStore and
// engine.ResultStore, so it can be handed straight to the discoverer and the
// orchestrator.
package stores
