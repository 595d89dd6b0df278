package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stepline/stepline/common/cache"
	"github.com/stepline/stepline/common/fsm"
	"github.com/stepline/stepline/common/logger"
	"github.com/stepline/stepline/common/models"
	"github.com/stepline/stepline/common/repository"
	"github.com/stepline/stepline/common/validation"
)

// ProcedureStore is what the run service needs from procedure storage
type ProcedureStore interface {
	GetByID(ctx context.Context, procedureID uuid.UUID) (*models.Procedure, error)
}

// RunStore is what the run service needs from run storage
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error)
	Lock(ctx context.Context, runID uuid.UUID) error
	UpdateState(ctx context.Context, run *models.Run) error
	ListStepStates(ctx context.Context, runID uuid.UUID) ([]*models.RunStepState, error)
	CreateStepState(ctx context.Context, state *models.RunStepState) error
	CreateSlotValues(ctx context.Context, values []*models.RunSlotValue) error
	CreateChecklistStates(ctx context.Context, states []*models.RunChecklistItemState) error
	ListChecklistStates(ctx context.Context, runID uuid.UUID) ([]*models.RunChecklistItemState, error)
}

// AuditRecorder appends immutable audit events
type AuditRecorder interface {
	Record(ctx context.Context, actor, action, entityType, entityID string, before, after map[string]any) (*models.AuditEvent, error)
}

// RunCache is the slice of the cache coordinator the run service uses
type RunCache interface {
	RunDetail(ctx context.Context, runID string, fetch cache.FetchFunc) ([]byte, error)
	InvalidateRun(ctx context.Context, runID string)
}

// TxRunner executes a function inside a single database transaction
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CommitRequest is one step submission: typed slot values plus checkbox
// states
type CommitRequest struct {
	Slots     map[string]any              `json:"slots"`
	Checklist []validation.ChecklistEntry `json:"checklist"`
}

// RunSnapshot is the full current view of a run
type RunSnapshot struct {
	Run         *models.Run              `json:"run"`
	Procedure   *models.Procedure        `json:"procedure"`
	Steps       []*models.RunStepState   `json:"steps"`
	Progress    models.ChecklistProgress `json:"checklist_progress"`
	NextStepKey string                   `json:"next_step_key,omitempty"`
}

// RunService orchestrates the run lifecycle: starting runs, committing
// steps atomically, and failing runs. All writes for one commit happen in
// one transaction; a commit either fully lands or leaves no trace.
type RunService struct {
	procedures ProcedureStore
	runs       RunStore
	auditor    AuditRecorder
	cache      RunCache
	tx         TxRunner
	log        *logger.Logger
	now        func() time.Time
}

// NewRunService creates a new run service
func NewRunService(
	procedures ProcedureStore,
	runs RunStore,
	auditor AuditRecorder,
	runCache RunCache,
	tx TxRunner,
	log *logger.Logger,
) *RunService {
	return &RunService{
		procedures: procedures,
		runs:       runs,
		auditor:    auditor,
		cache:      runCache,
		tx:         tx,
		log:        log,
		now:        time.Now,
	}
}

// WithClock overrides the service clock, for tests
func (s *RunService) WithClock(now func() time.Time) *RunService {
	s.now = now
	return s
}

// StartRun creates a new pending run for the given procedure
func (s *RunService) StartRun(ctx context.Context, procedureID uuid.UUID, userID, actor string) (*models.Run, error) {
	if _, err := s.loadProcedure(ctx, procedureID); err != nil {
		return nil, err
	}

	run := &models.Run{
		ID:          uuid.New(),
		ProcedureID: procedureID,
		UserID:      userID,
		State:       models.RunStatePending,
		CreatedAt:   s.now().UTC(),
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.runs.Create(ctx, run); err != nil {
			return err
		}
		_, err := s.auditor.Record(ctx, actor, models.AuditActionRunCreated,
			models.AuditEntityRun, run.ID.String(), nil, runAuditFields(run))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	s.log.WithRunID(run.ID.String()).Info("run started",
		"procedure_id", procedureID,
		"user_id", userID,
	)

	return run, nil
}

// GetSnapshot returns the current view of a run: its state, committed
// steps, checklist progress, and the next step to commit
func (s *RunService) GetSnapshot(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error) {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	procedure, err := s.loadProcedure(ctx, run.ProcedureID)
	if err != nil {
		return nil, err
	}

	steps, err := s.runs.ListStepStates(ctx, runID)
	if err != nil {
		return nil, err
	}

	checklistStates, err := s.runs.ListChecklistStates(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &RunSnapshot{
		Run:         run,
		Procedure:   procedure,
		Steps:       steps,
		Progress:    models.ComputeChecklistProgress(checklistStates),
		NextStepKey: nextStepKey(procedure, steps),
	}, nil
}

// GetSnapshotJSON returns the snapshot through the versioned cache
func (s *RunService) GetSnapshotJSON(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	return s.cache.RunDetail(ctx, runID.String(), func(ctx context.Context) ([]byte, error) {
		snapshot, err := s.GetSnapshot(ctx, runID)
		if err != nil {
			return nil, err
		}
		return marshalJSON(snapshot)
	})
}

// CommitStep validates and commits one step submission. The step state,
// its normalized slot and checklist rows, the run state transition, and
// the audit trail land in a single transaction.
func (s *RunService) CommitStep(ctx context.Context, runID uuid.UUID, stepKey string, req CommitRequest, actor string) (*RunSnapshot, error) {
	var snapshot *RunSnapshot

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Serialize concurrent commits to the same run for the duration
		// of the transaction.
		if err := s.runs.Lock(ctx, runID); err != nil {
			return err
		}

		run, err := s.loadRun(ctx, runID)
		if err != nil {
			return err
		}

		procedure, err := s.loadProcedure(ctx, run.ProcedureID)
		if err != nil {
			return err
		}

		step := procedure.StepByKey(stepKey)
		if step == nil {
			return &StepNotFoundError{RunID: runID, StepKey: stepKey}
		}

		committed, err := s.runs.ListStepStates(ctx, runID)
		if err != nil {
			return err
		}

		committedKeys := make(map[string]bool, len(committed))
		for _, state := range committed {
			committedKeys[state.StepKey] = true
		}
		if committedKeys[stepKey] {
			return &StepAlreadyCommittedError{RunID: runID, StepKey: stepKey}
		}

		expected := nextUncommitted(procedure, committedKeys)
		if expected != nil && expected.Key != stepKey {
			return &StepOutOfOrderError{RunID: runID, StepKey: stepKey, Expected: expected.Key}
		}

		slotValidator, err := validation.NewSlotValidator(step.Slots)
		if err != nil {
			return fmt.Errorf("step %q has an invalid slot definition: %w", stepKey, err)
		}

		normalized, slotIssues := slotValidator.Validate(req.Slots)
		if len(slotIssues) > 0 {
			return &SlotValidationError{StepKey: stepKey, Issues: slotIssues}
		}

		now := s.now().UTC()
		resolved, checklistIssues := validation.NewChecklistValidator(step.ChecklistItems).Validate(req.Checklist, now)
		if len(checklistIssues) > 0 {
			return &ChecklistValidationError{StepKey: stepKey, Issues: checklistIssues}
		}

		before := runAuditFields(run)
		runChanged, err := fsm.Apply(run, models.RunStateInProgress, s.now)
		if err != nil {
			return err
		}
		if len(committed)+1 == len(procedure.Steps) {
			completedNow, err := fsm.Apply(run, models.RunStateCompleted, s.now)
			if err != nil {
				return err
			}
			runChanged = runChanged || completedNow
		}

		state := &models.RunStepState{
			ID:          uuid.New(),
			RunID:       runID,
			StepKey:     stepKey,
			Payload:     buildPayload(normalized, resolved),
			CommittedAt: now,
		}
		if err := s.runs.CreateStepState(ctx, state); err != nil {
			return err
		}

		if err := s.runs.CreateSlotValues(ctx, slotValueRows(runID, step, normalized)); err != nil {
			return err
		}
		if err := s.runs.CreateChecklistStates(ctx, checklistRows(runID, resolved)); err != nil {
			return err
		}

		if runChanged {
			if err := s.runs.UpdateState(ctx, run); err != nil {
				return err
			}
		}

		if _, err := s.auditor.Record(ctx, actor, models.AuditActionStepCommitted,
			models.AuditEntityRunStep, state.ID.String(), nil, stepAuditFields(state)); err != nil {
			return err
		}
		// Middle commits of an in-progress run leave the run row untouched;
		// only record a run update when state or closed_at moved.
		if runChanged {
			if _, err := s.auditor.Record(ctx, actor, models.AuditActionRunUpdated,
				models.AuditEntityRun, run.ID.String(), before, runAuditFields(run)); err != nil {
				return err
			}
		}

		allStates, err := s.runs.ListChecklistStates(ctx, runID)
		if err != nil {
			return err
		}

		steps := append(committed, state)
		committedKeys[stepKey] = true
		snapshot = &RunSnapshot{
			Run:         run,
			Procedure:   procedure,
			Steps:       steps,
			Progress:    models.ComputeChecklistProgress(allStates),
			NextStepKey: nextStepKeyFromSet(procedure, committedKeys),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateRun(ctx, runID.String())

	s.log.WithRunID(runID.String()).WithStepKey(stepKey).Info("step committed",
		"run_state", snapshot.Run.State,
	)

	return snapshot, nil
}

// FailRun moves a run to the failed terminal state
func (s *RunService) FailRun(ctx context.Context, runID uuid.UUID, actor, reason string) (*models.Run, error) {
	var run *models.Run
	var changed bool

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.runs.Lock(ctx, runID); err != nil {
			return err
		}

		var err error
		run, err = s.loadRun(ctx, runID)
		if err != nil {
			return err
		}

		before := runAuditFields(run)
		changed, err = fsm.Apply(run, models.RunStateFailed, s.now)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		if err := s.runs.UpdateState(ctx, run); err != nil {
			return err
		}

		after := runAuditFields(run)
		if reason != "" {
			after["failure_reason"] = reason
		}
		_, err = s.auditor.Record(ctx, actor, models.AuditActionRunUpdated,
			models.AuditEntityRun, run.ID.String(), before, after)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.cache.InvalidateRun(ctx, runID.String())
		s.log.WithRunID(runID.String()).Info("run failed", "reason", reason)
	}

	return run, nil
}

func (s *RunService) loadRun(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &RunNotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *RunService) loadProcedure(ctx context.Context, procedureID uuid.UUID) (*models.Procedure, error) {
	procedure, err := s.procedures.GetByID(ctx, procedureID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ProcedureNotFoundError{ProcedureID: procedureID}
	}
	if err != nil {
		return nil, err
	}
	return procedure, nil
}

func runAuditFields(run *models.Run) map[string]any {
	fields := map[string]any{
		"procedure_id": run.ProcedureID.String(),
		"user_id":      run.UserID,
		"state":        string(run.State),
	}
	if run.ClosedAt != nil {
		fields["closed_at"] = run.ClosedAt.UTC().Format(time.RFC3339)
	}
	return fields
}

func stepAuditFields(state *models.RunStepState) map[string]any {
	return map[string]any{
		"run_id":       state.RunID.String(),
		"step_key":     state.StepKey,
		"committed_at": state.CommittedAt.Format(time.RFC3339),
	}
}

func buildPayload(normalized map[string]any, resolved []validation.ResolvedChecklistItem) models.StepPayload {
	payload := models.StepPayload{Slots: normalized}
	for _, item := range resolved {
		payload.Checklist = append(payload.Checklist, models.ChecklistPayloadEntry{
			Key:         item.Item.Key,
			Label:       item.Item.Label,
			Completed:   item.Completed,
			CompletedAt: item.CompletedAt,
		})
	}
	return payload
}

func slotValueRows(runID uuid.UUID, step *models.Step, normalized map[string]any) []*models.RunSlotValue {
	var rows []*models.RunSlotValue
	for _, slot := range step.Slots {
		value, ok := normalized[slot.Name]
		if !ok {
			continue
		}
		rows = append(rows, &models.RunSlotValue{
			ID:     uuid.New(),
			RunID:  runID,
			SlotID: slot.ID,
			Value:  value,
		})
	}
	return rows
}

func checklistRows(runID uuid.UUID, resolved []validation.ResolvedChecklistItem) []*models.RunChecklistItemState {
	var rows []*models.RunChecklistItemState
	for _, item := range resolved {
		rows = append(rows, &models.RunChecklistItemState{
			ID:              uuid.New(),
			RunID:           runID,
			ChecklistItemID: item.Item.ID,
			IsCompleted:     item.Completed,
			CompletedAt:     item.CompletedAt,
		})
	}
	return rows
}

// nextUncommitted returns the first step in definition order with no
// committed state, or nil when every step is committed
func nextUncommitted(procedure *models.Procedure, committedKeys map[string]bool) *models.Step {
	for _, step := range procedure.Steps {
		if !committedKeys[step.Key] {
			return step
		}
	}
	return nil
}

func nextStepKey(procedure *models.Procedure, committed []*models.RunStepState) string {
	committedKeys := make(map[string]bool, len(committed))
	for _, state := range committed {
		committedKeys[state.StepKey] = true
	}
	return nextStepKeyFromSet(procedure, committedKeys)
}

func nextStepKeyFromSet(procedure *models.Procedure, committedKeys map[string]bool) string {
	if step := nextUncommitted(procedure, committedKeys); step != nil {
		return step.Key
	}
	return ""
}
