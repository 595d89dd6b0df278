package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stepline/stepline/common/db"
	"github.com/stepline/stepline/common/models"
)

// ProcedureRepository reads procedure definitions. Definitions are edited
// through a separate service boundary; this repository never writes them.
type ProcedureRepository struct {
	db *db.DB
}

// NewProcedureRepository creates a new procedure repository
func NewProcedureRepository(database *db.DB) *ProcedureRepository {
	return &ProcedureRepository{db: database}
}

// List retrieves all procedures without their step definitions
func (r *ProcedureRepository) List(ctx context.Context) ([]*models.Procedure, error) {
	query := `
		SELECT id, name, description, metadata
		FROM procedures
		ORDER BY name, id
	`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list procedures: %w", err)
	}
	defer rows.Close()

	var procedures []*models.Procedure
	for rows.Next() {
		procedure := &models.Procedure{}
		var metadata []byte
		if err := rows.Scan(&procedure.ID, &procedure.Name, &procedure.Description, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan procedure: %w", err)
		}
		if err := unmarshalMap(metadata, &procedure.Metadata); err != nil {
			return nil, err
		}
		procedures = append(procedures, procedure)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating procedures: %w", err)
	}

	return procedures, nil
}

// GetByID retrieves one procedure with its steps, slots, and checklist
// items, steps ordered by position
func (r *ProcedureRepository) GetByID(ctx context.Context, procedureID uuid.UUID) (*models.Procedure, error) {
	q := r.db.QuerierFrom(ctx)

	procedure := &models.Procedure{}
	var metadata []byte
	err := q.QueryRow(ctx, `
		SELECT id, name, description, metadata
		FROM procedures
		WHERE id = $1
	`, procedureID).Scan(&procedure.ID, &procedure.Name, &procedure.Description, &metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("procedure %s: %w", procedureID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get procedure: %w", err)
	}
	if err := unmarshalMap(metadata, &procedure.Metadata); err != nil {
		return nil, err
	}

	steps, err := r.listSteps(ctx, procedureID)
	if err != nil {
		return nil, err
	}
	procedure.Steps = steps

	return procedure, nil
}

func (r *ProcedureRepository) listSteps(ctx context.Context, procedureID uuid.UUID) ([]*models.Step, error) {
	q := r.db.QuerierFrom(ctx)

	rows, err := q.Query(ctx, `
		SELECT id, procedure_id, key, title, prompt, position, metadata
		FROM procedure_steps
		WHERE procedure_id = $1
		ORDER BY position
	`, procedureID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.Step
	byID := make(map[uuid.UUID]*models.Step)
	for rows.Next() {
		step := &models.Step{}
		var metadata []byte
		if err := rows.Scan(&step.ID, &step.ProcedureID, &step.Key, &step.Title, &step.Prompt, &step.Position, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := unmarshalMap(metadata, &step.Metadata); err != nil {
			return nil, err
		}
		steps = append(steps, step)
		byID[step.ID] = step
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	if err := r.attachSlots(ctx, procedureID, byID); err != nil {
		return nil, err
	}
	if err := r.attachChecklistItems(ctx, procedureID, byID); err != nil {
		return nil, err
	}

	return steps, nil
}

func (r *ProcedureRepository) attachSlots(ctx context.Context, procedureID uuid.UUID, steps map[uuid.UUID]*models.Step) error {
	rows, err := r.db.QuerierFrom(ctx).Query(ctx, `
		SELECT s.id, s.step_id, s.name, s.label, s.type, s.required, s.position,
		       s.pattern, s.mask, s.options, s.metadata
		FROM procedure_slots s
		JOIN procedure_steps st ON st.id = s.step_id
		WHERE st.procedure_id = $1
		ORDER BY s.position
	`, procedureID)
	if err != nil {
		return fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		slot := &models.Slot{}
		var slotType string
		var options, metadata []byte
		if err := rows.Scan(&slot.ID, &slot.StepID, &slot.Name, &slot.Label, &slotType,
			&slot.Required, &slot.Position, &slot.Pattern, &slot.Mask, &options, &metadata); err != nil {
			return fmt.Errorf("failed to scan slot: %w", err)
		}

		parsed, err := models.ParseSlotType(slotType)
		if err != nil {
			return fmt.Errorf("slot %s: %w", slot.Name, err)
		}
		slot.Type = parsed

		if len(options) > 0 {
			if err := json.Unmarshal(options, &slot.Options); err != nil {
				return fmt.Errorf("failed to decode slot options: %w", err)
			}
		}
		if err := unmarshalMap(metadata, &slot.Metadata); err != nil {
			return err
		}

		if step, ok := steps[slot.StepID]; ok {
			step.Slots = append(step.Slots, slot)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating slots: %w", err)
	}
	return nil
}

func (r *ProcedureRepository) attachChecklistItems(ctx context.Context, procedureID uuid.UUID, steps map[uuid.UUID]*models.Step) error {
	rows, err := r.db.QuerierFrom(ctx).Query(ctx, `
		SELECT c.id, c.step_id, c.key, c.label, c.description, c.required, c.default_state, c.position
		FROM procedure_step_checklist_items c
		JOIN procedure_steps st ON st.id = c.step_id
		WHERE st.procedure_id = $1
		ORDER BY c.position
	`, procedureID)
	if err != nil {
		return fmt.Errorf("failed to list checklist items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := &models.ChecklistItem{}
		if err := rows.Scan(&item.ID, &item.StepID, &item.Key, &item.Label,
			&item.Description, &item.Required, &item.DefaultState, &item.Position); err != nil {
			return fmt.Errorf("failed to scan checklist item: %w", err)
		}
		if step, ok := steps[item.StepID]; ok {
			step.ChecklistItems = append(step.ChecklistItems, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating checklist items: %w", err)
	}
	return nil
}

func unmarshalMap(raw []byte, target *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	return nil
}
