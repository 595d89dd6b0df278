package models

import (
	"fmt"

	"github.com/google/uuid"
)

// SlotType is the closed set of input types a slot can declare.
// Dispatching on it is done with exhaustive switches rather than a
// runtime lookup table.
type SlotType string

const (
	SlotTypeString  SlotType = "string"
	SlotTypeNumber  SlotType = "number"
	SlotTypeDate    SlotType = "date"
	SlotTypeEnum    SlotType = "enum"
	SlotTypePhone   SlotType = "phone"
	SlotTypeEmail   SlotType = "email"
	SlotTypeBoolean SlotType = "boolean"
)

// ParseSlotType converts a stored type tag into a SlotType
func ParseSlotType(s string) (SlotType, error) {
	switch SlotType(s) {
	case SlotTypeString, SlotTypeNumber, SlotTypeDate, SlotTypeEnum,
		SlotTypePhone, SlotTypeEmail, SlotTypeBoolean:
		return SlotType(s), nil
	}
	return "", fmt.Errorf("unsupported slot type: %q", s)
}

// Procedure is a reusable definition of an ordered workflow.
// Maps to: procedures table. This service only ever reads definitions;
// editing happens through a separate service boundary.
type Procedure struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description *string        `db:"description" json:"description,omitempty"`
	Metadata    map[string]any `db:"metadata" json:"metadata,omitempty"`

	// Steps ordered by position
	Steps []*Step `json:"steps,omitempty"`
}

// StepByKey returns the step with the given key, or nil
func (p *Procedure) StepByKey(key string) *Step {
	for _, step := range p.Steps {
		if step.Key == key {
			return step
		}
	}
	return nil
}

// Step is one ordered stage of a procedure
// Maps to: procedure_steps table
type Step struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	ProcedureID uuid.UUID      `db:"procedure_id" json:"procedure_id"`
	Key         string         `db:"key" json:"key"`
	Title       string         `db:"title" json:"title"`
	Prompt      *string        `db:"prompt" json:"prompt,omitempty"`
	Position    int            `db:"position" json:"position"`
	Metadata    map[string]any `db:"metadata" json:"metadata,omitempty"`

	Slots          []*Slot          `json:"slots,omitempty"`
	ChecklistItems []*ChecklistItem `json:"checklist_items,omitempty"`
}

// Slot is a typed input field collected while committing a step
// Maps to: procedure_slots table
type Slot struct {
	ID       uuid.UUID      `db:"id" json:"id"`
	StepID   uuid.UUID      `db:"step_id" json:"step_id"`
	Name     string         `db:"name" json:"name"`
	Label    *string        `db:"label" json:"label,omitempty"`
	Type     SlotType       `db:"type" json:"type"`
	Required bool           `db:"required" json:"required"`
	Position int            `db:"position" json:"position"`

	// Optional constraints applied after type normalization
	Pattern *string  `db:"pattern" json:"pattern,omitempty"`
	Mask    *string  `db:"mask" json:"mask,omitempty"`
	Options []string `db:"options" json:"options,omitempty"`

	Metadata map[string]any `db:"metadata" json:"metadata,omitempty"`
}

// ChecklistItem is a boolean requirement confirmed while committing a step
// Maps to: procedure_step_checklist_items table
type ChecklistItem struct {
	ID           uuid.UUID `db:"id" json:"id"`
	StepID       uuid.UUID `db:"step_id" json:"step_id"`
	Key          string    `db:"key" json:"key"`
	Label        string    `db:"label" json:"label"`
	Description  *string   `db:"description" json:"description,omitempty"`
	Required     bool      `db:"required" json:"required"`
	DefaultState *bool     `db:"default_state" json:"default_state,omitempty"`
	Position     int       `db:"position" json:"position"`
}
