package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the engine
const (
	AuditActionRunCreated    = "run.created"
	AuditActionRunUpdated    = "run.updated"
	AuditActionStepCommitted = "run.step_committed"
)

// Audit entity types
const (
	AuditEntityRun     = "procedure_run"
	AuditEntityRunStep = "procedure_run_step"
)

// FieldChange records a single changed key inside a diff
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff is the shallow before/after comparison stored on every audit event
type Diff struct {
	Added   map[string]any         `json:"added"`
	Removed map[string]any         `json:"removed"`
	Changed map[string]FieldChange `json:"changed"`
}

// AuditEvent is an immutable record of a state-changing action.
// Write-once; never updated or deleted.
// Maps to: audit_events table
type AuditEvent struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Actor      string    `db:"actor" json:"actor"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Diff       Diff      `db:"diff" json:"diff"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
