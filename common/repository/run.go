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

// RunRepository handles database operations for procedure runs and the
// per-step rows derived from commits
type RunRepository struct {
	db *db.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(database *db.DB) *RunRepository {
	return &RunRepository{db: database}
}

// Create inserts a new run
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO procedure_runs (id, procedure_id, user_id, state, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.QuerierFrom(ctx).Exec(
		ctx,
		query,
		run.ID,
		run.ProcedureID,
		run.UserID,
		run.State,
		run.CreatedAt,
		run.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetByID retrieves a run by its ID
func (r *RunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	query := `
		SELECT id, procedure_id, user_id, state, created_at, closed_at
		FROM procedure_runs
		WHERE id = $1
	`

	run := &models.Run{}
	err := r.db.QuerierFrom(ctx).QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.ProcedureID,
		&run.UserID,
		&run.State,
		&run.CreatedAt,
		&run.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// Lock takes a transaction-scoped advisory lock on the run so concurrent
// commits to the same run serialize regardless of isolation level.
// Must be called inside db.WithinTx.
func (r *RunRepository) Lock(ctx context.Context, runID uuid.UUID) error {
	_, err := r.db.QuerierFrom(ctx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, runID)
	if err != nil {
		return fmt.Errorf("failed to lock run: %w", err)
	}
	return nil
}

// UpdateState persists the run's state and closed_at
func (r *RunRepository) UpdateState(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE procedure_runs
		SET state = $2, closed_at = $3
		WHERE id = $1
	`

	_, err := r.db.QuerierFrom(ctx).Exec(ctx, query, run.ID, run.State, run.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	return nil
}

// ListStepStates retrieves all committed step states for a run, ordered
// by commit time
func (r *RunRepository) ListStepStates(ctx context.Context, runID uuid.UUID) ([]*models.RunStepState, error) {
	query := `
		SELECT id, run_id, step_key, payload, committed_at
		FROM procedure_run_step_states
		WHERE run_id = $1
		ORDER BY committed_at, id
	`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step states: %w", err)
	}
	defer rows.Close()

	var states []*models.RunStepState
	for rows.Next() {
		state := &models.RunStepState{}
		var payload []byte
		if err := rows.Scan(&state.ID, &state.RunID, &state.StepKey, &payload, &state.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step state: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &state.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode step payload: %w", err)
			}
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step states: %w", err)
	}

	return states, nil
}

// CreateStepState inserts one committed step result. The unique
// (run_id, step_key) constraint turns a racing duplicate commit into an
// error instead of a silent overwrite.
func (r *RunRepository) CreateStepState(ctx context.Context, state *models.RunStepState) error {
	payload, err := json.Marshal(state.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode step payload: %w", err)
	}

	query := `
		INSERT INTO procedure_run_step_states (id, run_id, step_key, payload, committed_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`

	_, err = r.db.QuerierFrom(ctx).Exec(ctx, query,
		state.ID, state.RunID, state.StepKey, string(payload), state.CommittedAt)
	if err != nil {
		return fmt.Errorf("failed to create step state: %w", err)
	}

	return nil
}

// CreateSlotValues inserts the normalized per-field rows for a commit
func (r *RunRepository) CreateSlotValues(ctx context.Context, values []*models.RunSlotValue) error {
	query := `
		INSERT INTO procedure_run_slot_values (id, run_id, slot_id, value)
		VALUES ($1, $2, $3, $4::jsonb)
	`

	q := r.db.QuerierFrom(ctx)
	for _, value := range values {
		encoded, err := json.Marshal(value.Value)
		if err != nil {
			return fmt.Errorf("failed to encode slot value: %w", err)
		}
		if _, err := q.Exec(ctx, query, value.ID, value.RunID, value.SlotID, string(encoded)); err != nil {
			return fmt.Errorf("failed to create slot value: %w", err)
		}
	}

	return nil
}

// ListSlotValues retrieves all slot values captured for a run
func (r *RunRepository) ListSlotValues(ctx context.Context, runID uuid.UUID) ([]*models.RunSlotValue, error) {
	query := `
		SELECT id, run_id, slot_id, value
		FROM procedure_run_slot_values
		WHERE run_id = $1
		ORDER BY id
	`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot values: %w", err)
	}
	defer rows.Close()

	var values []*models.RunSlotValue
	for rows.Next() {
		value := &models.RunSlotValue{}
		var encoded []byte
		if err := rows.Scan(&value.ID, &value.RunID, &value.SlotID, &encoded); err != nil {
			return nil, fmt.Errorf("failed to scan slot value: %w", err)
		}
		if len(encoded) > 0 {
			if err := json.Unmarshal(encoded, &value.Value); err != nil {
				return nil, fmt.Errorf("failed to decode slot value: %w", err)
			}
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slot values: %w", err)
	}

	return values, nil
}

// CreateChecklistStates inserts the normalized per-item rows for a commit
func (r *RunRepository) CreateChecklistStates(ctx context.Context, states []*models.RunChecklistItemState) error {
	query := `
		INSERT INTO procedure_run_checklist_item_states (id, run_id, checklist_item_id, is_completed, completed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	q := r.db.QuerierFrom(ctx)
	for _, state := range states {
		if _, err := q.Exec(ctx, query,
			state.ID, state.RunID, state.ChecklistItemID, state.IsCompleted, state.CompletedAt); err != nil {
			return fmt.Errorf("failed to create checklist state: %w", err)
		}
	}

	return nil
}

// ListChecklistStates retrieves all checklist item states for a run
func (r *RunRepository) ListChecklistStates(ctx context.Context, runID uuid.UUID) ([]*models.RunChecklistItemState, error) {
	query := `
		SELECT id, run_id, checklist_item_id, is_completed, completed_at
		FROM procedure_run_checklist_item_states
		WHERE run_id = $1
		ORDER BY id
	`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checklist states: %w", err)
	}
	defer rows.Close()

	var states []*models.RunChecklistItemState
	for rows.Next() {
		state := &models.RunChecklistItemState{}
		if err := rows.Scan(&state.ID, &state.RunID, &state.ChecklistItemID,
			&state.IsCompleted, &state.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checklist state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checklist states: %w", err)
	}

	return states, nil
}
