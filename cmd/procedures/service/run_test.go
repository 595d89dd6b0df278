package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/common/cache"
	"github.com/stepline/stepline/common/fsm"
	"github.com/stepline/stepline/common/logger"
	"github.com/stepline/stepline/common/models"
	"github.com/stepline/stepline/common/repository"
	"github.com/stepline/stepline/common/validation"
)

type fixtureProcedureStore struct {
	procedures map[uuid.UUID]*models.Procedure
}

func (s *fixtureProcedureStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Procedure, error) {
	procedure, ok := s.procedures[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return procedure, nil
}

type memoryRunStore struct {
	runs            map[uuid.UUID]*models.Run
	stepStates      []*models.RunStepState
	slotValues      []*models.RunSlotValue
	checklistStates []*models.RunChecklistItemState
	lockCalls       int
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{runs: make(map[uuid.UUID]*models.Run)}
}

func (s *memoryRunStore) Create(ctx context.Context, run *models.Run) error {
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *memoryRunStore) GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *memoryRunStore) Lock(ctx context.Context, runID uuid.UUID) error {
	s.lockCalls++
	return nil
}

func (s *memoryRunStore) UpdateState(ctx context.Context, run *models.Run) error {
	stored, ok := s.runs[run.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.State = run.State
	stored.ClosedAt = run.ClosedAt
	return nil
}

func (s *memoryRunStore) ListStepStates(ctx context.Context, runID uuid.UUID) ([]*models.RunStepState, error) {
	var states []*models.RunStepState
	for _, state := range s.stepStates {
		if state.RunID == runID {
			states = append(states, state)
		}
	}
	return states, nil
}

func (s *memoryRunStore) CreateStepState(ctx context.Context, state *models.RunStepState) error {
	s.stepStates = append(s.stepStates, state)
	return nil
}

func (s *memoryRunStore) CreateSlotValues(ctx context.Context, values []*models.RunSlotValue) error {
	s.slotValues = append(s.slotValues, values...)
	return nil
}

func (s *memoryRunStore) CreateChecklistStates(ctx context.Context, states []*models.RunChecklistItemState) error {
	s.checklistStates = append(s.checklistStates, states...)
	return nil
}

func (s *memoryRunStore) ListChecklistStates(ctx context.Context, runID uuid.UUID) ([]*models.RunChecklistItemState, error) {
	var states []*models.RunChecklistItemState
	for _, state := range s.checklistStates {
		if state.RunID == runID {
			states = append(states, state)
		}
	}
	return states, nil
}

type recordedEvent struct {
	actor      string
	action     string
	entityType string
	entityID   string
	before     map[string]any
	after      map[string]any
}

type fakeRecorder struct {
	events []recordedEvent
}

func (r *fakeRecorder) Record(ctx context.Context, actor, action, entityType, entityID string, before, after map[string]any) (*models.AuditEvent, error) {
	r.events = append(r.events, recordedEvent{actor, action, entityType, entityID, before, after})
	return &models.AuditEvent{ID: uuid.New(), Action: action}, nil
}

func (r *fakeRecorder) actions() []string {
	var actions []string
	for _, event := range r.events {
		actions = append(actions, event.action)
	}
	return actions
}

type fakeRunCache struct {
	invalidated []string
}

func (f *fakeRunCache) RunDetail(ctx context.Context, runID string, fetch cache.FetchFunc) ([]byte, error) {
	return fetch(ctx)
}

func (f *fakeRunCache) InvalidateRun(ctx context.Context, runID string) {
	f.invalidated = append(f.invalidated, runID)
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// onboardingProcedure has two steps: "contact" collects a required email
// and a required consent checkbox, "confirm" collects an optional flag.
func onboardingProcedure() *models.Procedure {
	procedureID := uuid.New()
	contactID := uuid.New()
	confirmID := uuid.New()

	return &models.Procedure{
		ID:   procedureID,
		Name: "customer-onboarding",
		Steps: []*models.Step{
			{
				ID:          contactID,
				ProcedureID: procedureID,
				Key:         "contact",
				Title:       "Contact details",
				Position:    0,
				Slots: []*models.Slot{
					{ID: uuid.New(), StepID: contactID, Name: "email", Type: models.SlotTypeEmail, Required: true, Position: 0},
				},
				ChecklistItems: []*models.ChecklistItem{
					{ID: uuid.New(), StepID: contactID, Key: "consent", Label: "Consent given", Required: true, Position: 0},
				},
			},
			{
				ID:          confirmID,
				ProcedureID: procedureID,
				Key:         "confirm",
				Title:       "Confirmation",
				Position:    1,
				Slots: []*models.Slot{
					{ID: uuid.New(), StepID: confirmID, Name: "subscribed", Type: models.SlotTypeBoolean, Required: false, Position: 0},
				},
			},
		},
	}
}

// reviewProcedure has three steps with only optional slots, so a run
// spends one commit in the middle of the walkthrough.
func reviewProcedure() *models.Procedure {
	procedureID := uuid.New()
	procedure := &models.Procedure{
		ID:   procedureID,
		Name: "document-review",
	}
	for position, key := range []string{"intake", "annotate", "signoff"} {
		stepID := uuid.New()
		procedure.Steps = append(procedure.Steps, &models.Step{
			ID:          stepID,
			ProcedureID: procedureID,
			Key:         key,
			Title:       key,
			Position:    position,
			Slots: []*models.Slot{
				{ID: uuid.New(), StepID: stepID, Name: "note", Type: models.SlotTypeString, Required: false, Position: 0},
			},
		})
	}
	return procedure
}

type harness struct {
	svc       *RunService
	procedure *models.Procedure
	runs      *memoryRunStore
	recorder  *fakeRecorder
	cache     *fakeRunCache
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessFor(t, onboardingProcedure())
}

func newHarnessFor(t *testing.T, procedure *models.Procedure) *harness {
	t.Helper()

	runs := newMemoryRunStore()
	recorder := &fakeRecorder{}
	runCache := &fakeRunCache{}
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	svc := NewRunService(
		&fixtureProcedureStore{procedures: map[uuid.UUID]*models.Procedure{procedure.ID: procedure}},
		runs,
		recorder,
		runCache,
		passthroughTx{},
		logger.New("error", "json"),
	).WithClock(func() time.Time { return now })

	return &harness{svc: svc, procedure: procedure, runs: runs, recorder: recorder, cache: runCache, now: now}
}

func (h *harness) startRun(t *testing.T) *models.Run {
	t.Helper()
	run, err := h.svc.StartRun(context.Background(), h.procedure.ID, "user-7", "user-7")
	require.NoError(t, err)
	return run
}

func contactSubmission() CommitRequest {
	return CommitRequest{
		Slots: map[string]any{"email": "  ada@example.com "},
		Checklist: []validation.ChecklistEntry{
			{Key: "consent", Completed: true},
		},
	}
}

func TestRunService_StartRun(t *testing.T) {
	h := newHarness(t)

	run := h.startRun(t)

	assert.Equal(t, models.RunStatePending, run.State)
	assert.Nil(t, run.ClosedAt)
	assert.Equal(t, h.procedure.ID, run.ProcedureID)

	stored, err := h.runs.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatePending, stored.State)

	require.Len(t, h.recorder.events, 1)
	event := h.recorder.events[0]
	assert.Equal(t, models.AuditActionRunCreated, event.action)
	assert.Equal(t, models.AuditEntityRun, event.entityType)
	assert.Equal(t, run.ID.String(), event.entityID)
	assert.Nil(t, event.before)
	assert.Equal(t, "pending", event.after["state"])
}

func TestRunService_StartRun_UnknownProcedure(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.StartRun(context.Background(), uuid.New(), "user-7", "user-7")

	var notFound *ProcedureNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRunService_FullWalkthrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.startRun(t)

	// First commit moves the run to in_progress.
	snapshot, err := h.svc.CommitStep(ctx, run.ID, "contact", contactSubmission(), "user-7")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateInProgress, snapshot.Run.State)
	assert.Nil(t, snapshot.Run.ClosedAt)
	assert.Equal(t, "confirm", snapshot.NextStepKey)

	require.Len(t, snapshot.Steps, 1)
	assert.Equal(t, "ada@example.com", snapshot.Steps[0].Payload.Slots["email"])
	require.Len(t, snapshot.Steps[0].Payload.Checklist, 1)
	assert.True(t, snapshot.Steps[0].Payload.Checklist[0].Completed)

	assert.Equal(t, 1, snapshot.Progress.Total)
	assert.Equal(t, 1, snapshot.Progress.Completed)

	// Slot and checklist rows are normalized out per definition.
	assert.Len(t, h.runs.slotValues, 1)
	assert.Len(t, h.runs.checklistStates, 1)

	// Final commit completes the run.
	snapshot, err = h.svc.CommitStep(ctx, run.ID, "confirm", CommitRequest{
		Slots: map[string]any{"subscribed": "yes"},
	}, "user-7")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, snapshot.Run.State)
	require.NotNil(t, snapshot.Run.ClosedAt)
	assert.Equal(t, h.now, *snapshot.Run.ClosedAt)
	assert.Empty(t, snapshot.NextStepKey)
	assert.Equal(t, true, snapshot.Steps[1].Payload.Slots["subscribed"])

	assert.Equal(t, []string{
		models.AuditActionRunCreated,
		models.AuditActionStepCommitted,
		models.AuditActionRunUpdated,
		models.AuditActionStepCommitted,
		models.AuditActionRunUpdated,
	}, h.recorder.actions())

	assert.Equal(t, []string{run.ID.String(), run.ID.String()}, h.cache.invalidated)
}

func TestRunService_MiddleCommitDoesNotRecordRunUpdate(t *testing.T) {
	h := newHarnessFor(t, reviewProcedure())
	ctx := context.Background()
	run := h.startRun(t)

	_, err := h.svc.CommitStep(ctx, run.ID, "intake", CommitRequest{}, "user-7")
	require.NoError(t, err)
	assert.Equal(t, []string{
		models.AuditActionRunCreated,
		models.AuditActionStepCommitted,
		models.AuditActionRunUpdated,
	}, h.recorder.actions())

	// The middle step leaves the run in_progress; only the step event
	// lands, never a run update with an identical before and after.
	snapshot, err := h.svc.CommitStep(ctx, run.ID, "annotate", CommitRequest{}, "user-7")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateInProgress, snapshot.Run.State)
	assert.Nil(t, snapshot.Run.ClosedAt)
	assert.Equal(t, []string{
		models.AuditActionRunCreated,
		models.AuditActionStepCommitted,
		models.AuditActionRunUpdated,
		models.AuditActionStepCommitted,
	}, h.recorder.actions())
	for _, event := range h.recorder.events {
		if event.action == models.AuditActionRunUpdated {
			assert.NotEqual(t, event.before, event.after)
		}
	}

	snapshot, err = h.svc.CommitStep(ctx, run.ID, "signoff", CommitRequest{}, "user-7")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, snapshot.Run.State)
	assert.Equal(t, []string{
		models.AuditActionRunCreated,
		models.AuditActionStepCommitted,
		models.AuditActionRunUpdated,
		models.AuditActionStepCommitted,
		models.AuditActionStepCommitted,
		models.AuditActionRunUpdated,
	}, h.recorder.actions())
}

func TestRunService_EmptyFinalStepCompletesRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.startRun(t)

	_, err := h.svc.CommitStep(ctx, run.ID, "contact", contactSubmission(), "user-7")
	require.NoError(t, err)

	// The second step's slot is optional, so an empty submission commits.
	snapshot, err := h.svc.CommitStep(ctx, run.ID, "confirm", CommitRequest{}, "user-7")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, snapshot.Run.State)
	assert.NotNil(t, snapshot.Run.ClosedAt)
	assert.NotContains(t, snapshot.Steps[1].Payload.Slots, "subscribed")
}

func TestRunService_EmptySubmissionRejected(t *testing.T) {
	h := newHarness(t)
	run := h.startRun(t)

	_, err := h.svc.CommitStep(context.Background(), run.ID, "contact", CommitRequest{}, "user-7")

	var validationErr *SlotValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Issues, 1)
	assert.Equal(t, "email", validationErr.Issues[0].Field)
	assert.Equal(t, validation.CodeRequired, validationErr.Issues[0].Code)

	// Nothing landed and the run did not move.
	assert.Empty(t, h.runs.stepStates)
	stored, _ := h.runs.GetByID(context.Background(), run.ID)
	assert.Equal(t, models.RunStatePending, stored.State)
	assert.Empty(t, h.cache.invalidated)
	assert.Equal(t, []string{models.AuditActionRunCreated}, h.recorder.actions())
}

func TestRunService_ChecklistFailureRejected(t *testing.T) {
	h := newHarness(t)
	run := h.startRun(t)

	req := contactSubmission()
	req.Checklist = nil

	_, err := h.svc.CommitStep(context.Background(), run.ID, "contact", req, "user-7")

	var validationErr *ChecklistValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Issues, 1)
	assert.Equal(t, validation.CodeMissingRequiredItem, validationErr.Issues[0].Code)
	assert.Empty(t, h.runs.stepStates)
}

func TestRunService_OutOfOrderCommit(t *testing.T) {
	h := newHarness(t)
	run := h.startRun(t)

	_, err := h.svc.CommitStep(context.Background(), run.ID, "confirm", CommitRequest{}, "user-7")

	var outOfOrder *StepOutOfOrderError
	require.ErrorAs(t, err, &outOfOrder)
	assert.Equal(t, "contact", outOfOrder.Expected)
	assert.Equal(t, "confirm", outOfOrder.StepKey)
}

func TestRunService_DuplicateCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.startRun(t)

	_, err := h.svc.CommitStep(ctx, run.ID, "contact", contactSubmission(), "user-7")
	require.NoError(t, err)

	_, err = h.svc.CommitStep(ctx, run.ID, "contact", contactSubmission(), "user-7")

	var already *StepAlreadyCommittedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "contact", already.StepKey)
	assert.Len(t, h.runs.stepStates, 1)
}

func TestRunService_UnknownStep(t *testing.T) {
	h := newHarness(t)
	run := h.startRun(t)

	_, err := h.svc.CommitStep(context.Background(), run.ID, "teardown", CommitRequest{}, "user-7")

	var notFound *StepNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRunService_UnknownRun(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CommitStep(context.Background(), uuid.New(), "contact", CommitRequest{}, "user-7")

	var notFound *RunNotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = h.svc.GetSnapshot(context.Background(), uuid.New())
	require.ErrorAs(t, err, &notFound)
}

func TestRunService_CommitOnFailedRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.startRun(t)

	_, err := h.svc.FailRun(ctx, run.ID, "user-7", "customer withdrew")
	require.NoError(t, err)

	_, err = h.svc.CommitStep(ctx, run.ID, "contact", contactSubmission(), "user-7")

	var invalid *fsm.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.RunStateFailed, invalid.From)
}

func TestRunService_FailRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.startRun(t)

	failed, err := h.svc.FailRun(ctx, run.ID, "user-7", "customer withdrew")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, failed.State)
	require.NotNil(t, failed.ClosedAt)
	assert.Equal(t, h.now, *failed.ClosedAt)

	events := h.recorder.events
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditActionRunUpdated, events[1].action)
	assert.Equal(t, "customer withdrew", events[1].after["failure_reason"])

	assert.Equal(t, []string{run.ID.String()}, h.cache.invalidated)

	// Failing an already failed run is a no-op: no new audit event and
	// no second cache invalidation.
	_, err = h.svc.FailRun(ctx, run.ID, "user-7", "again")
	require.NoError(t, err)
	assert.Len(t, h.recorder.events, 2)
	assert.Len(t, h.cache.invalidated, 1)
}

func TestRunService_FailCompletedRunRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.startRun(t)

	_, err := h.svc.CommitStep(ctx, run.ID, "contact", contactSubmission(), "user-7")
	require.NoError(t, err)
	_, err = h.svc.CommitStep(ctx, run.ID, "confirm", CommitRequest{}, "user-7")
	require.NoError(t, err)

	_, err = h.svc.FailRun(ctx, run.ID, "user-7", "too late")

	var invalid *fsm.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.RunStateCompleted, invalid.From)
	assert.Equal(t, models.RunStateFailed, invalid.To)
}

func TestRunService_SnapshotJSONGoesThroughCache(t *testing.T) {
	h := newHarness(t)
	run := h.startRun(t)

	data, err := h.svc.GetSnapshotJSON(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), run.ID.String())
	assert.Contains(t, string(data), `"next_step_key":"contact"`)
}
