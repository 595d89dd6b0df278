package models

import (
	"time"

	"github.com/google/uuid"
)

// RunState represents the lifecycle state of a procedure run
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateInProgress RunState = "in_progress"
	RunStateCompleted  RunState = "completed"
	RunStateFailed     RunState = "failed"
)

// IsTerminal reports whether the state admits no further transitions
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Valid reports whether s is a known run state
func (s RunState) Valid() bool {
	switch s {
	case RunStatePending, RunStateInProgress, RunStateCompleted, RunStateFailed:
		return true
	}
	return false
}

// Run is one execution instance of a procedure
// Maps to: procedure_runs table
type Run struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ProcedureID uuid.UUID `db:"procedure_id" json:"procedure_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	State       RunState  `db:"state" json:"state"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	// ClosedAt is non-nil iff State is terminal
	ClosedAt *time.Time `db:"closed_at" json:"closed_at"`
}

// StepPayload is the validated content stored for one committed step
type StepPayload struct {
	Slots     map[string]any          `json:"slots"`
	Checklist []ChecklistPayloadEntry `json:"checklist"`
}

// ChecklistPayloadEntry is the serialized outcome of one checklist item
// inside a step payload
type ChecklistPayloadEntry struct {
	Key         string     `json:"key"`
	Label       string     `json:"label"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
}

// RunStepState is one committed step result within a run, unique per
// (run, step key). Created exactly once; re-commits are rejected.
// Maps to: procedure_run_step_states table
type RunStepState struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	RunID       uuid.UUID   `db:"run_id" json:"run_id"`
	StepKey     string      `db:"step_key" json:"step_key"`
	Payload     StepPayload `db:"payload" json:"payload"`
	CommittedAt time.Time   `db:"committed_at" json:"committed_at"`
}

// RunSlotValue is a normalized per-field row derived from a step commit.
// It references the defining slot by id, not by name, so schema renames
// do not orphan history.
// Maps to: procedure_run_slot_values table
type RunSlotValue struct {
	ID     uuid.UUID `db:"id" json:"id"`
	RunID  uuid.UUID `db:"run_id" json:"run_id"`
	SlotID uuid.UUID `db:"slot_id" json:"slot_id"`
	Value  any       `db:"value" json:"value"`
}

// RunChecklistItemState is a normalized per-item row derived from a step
// commit, referencing the defining checklist item by id.
// Maps to: procedure_run_checklist_item_states table
type RunChecklistItemState struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	RunID           uuid.UUID  `db:"run_id" json:"run_id"`
	ChecklistItemID uuid.UUID  `db:"checklist_item_id" json:"checklist_item_id"`
	IsCompleted     bool       `db:"is_completed" json:"is_completed"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at"`
}

// ChecklistProgress aggregates checklist completion for a run snapshot
type ChecklistProgress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Percentage float64 `json:"percentage"`
}

// ComputeChecklistProgress summarizes the given checklist states
func ComputeChecklistProgress(states []*RunChecklistItemState) ChecklistProgress {
	total := len(states)
	completed := 0
	for _, state := range states {
		if state.IsCompleted {
			completed++
		}
	}
	progress := ChecklistProgress{Total: total, Completed: completed}
	if total > 0 {
		progress.Percentage = float64(completed*100) / float64(total)
	}
	return progress
}
