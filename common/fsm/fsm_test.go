package fsm

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/common/models"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newRun(state models.RunState) *models.Run {
	return &models.Run{
		ID:          uuid.New(),
		ProcedureID: uuid.New(),
		UserID:      "operator-1",
		State:       state,
		CreatedAt:   fixedNow().Add(-time.Hour),
	}
}

func TestCanTransition_Table(t *testing.T) {
	all := []models.RunState{
		models.RunStatePending,
		models.RunStateInProgress,
		models.RunStateCompleted,
		models.RunStateFailed,
	}

	legal := map[models.RunState][]models.RunState{
		models.RunStatePending:    {models.RunStatePending, models.RunStateInProgress, models.RunStateFailed},
		models.RunStateInProgress: {models.RunStateInProgress, models.RunStateCompleted, models.RunStateFailed},
		models.RunStateCompleted:  {models.RunStateCompleted},
		models.RunStateFailed:     {models.RunStateFailed},
	}

	for _, from := range all {
		for _, to := range all {
			expected := false
			for _, allowed := range legal[from] {
				if allowed == to {
					expected = true
				}
			}
			assert.Equal(t, expected, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestApply_LegalTransitions(t *testing.T) {
	run := newRun(models.RunStatePending)

	changed, err := Apply(run, models.RunStateInProgress, fixedNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.RunStateInProgress, run.State)
	assert.Nil(t, run.ClosedAt)

	changed, err = Apply(run, models.RunStateCompleted, fixedNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.RunStateCompleted, run.State)
	require.NotNil(t, run.ClosedAt)
	assert.Equal(t, fixedNow(), *run.ClosedAt)
}

func TestApply_SelfTransitionIsNoOp(t *testing.T) {
	for _, state := range []models.RunState{
		models.RunStatePending,
		models.RunStateInProgress,
		models.RunStateCompleted,
		models.RunStateFailed,
	} {
		run := newRun(state)
		if state.IsTerminal() {
			closedAt := fixedNow().Add(-time.Minute)
			run.ClosedAt = &closedAt
		}
		before := *run

		changed, err := Apply(run, state, fixedNow)
		require.NoError(t, err, "state %s", state)
		assert.False(t, changed, "state %s", state)
		assert.Equal(t, before.State, run.State)
		assert.Equal(t, before.ClosedAt, run.ClosedAt)
	}
}

func TestApply_IllegalTransitionLeavesRunUntouched(t *testing.T) {
	cases := []struct {
		from models.RunState
		to   models.RunState
	}{
		{models.RunStatePending, models.RunStateCompleted},
		{models.RunStateCompleted, models.RunStateInProgress},
		{models.RunStateCompleted, models.RunStateFailed},
		{models.RunStateFailed, models.RunStateCompleted},
		{models.RunStateFailed, models.RunStateInProgress},
		{models.RunStateFailed, models.RunStatePending},
		{models.RunStateInProgress, models.RunStatePending},
	}

	for _, tc := range cases {
		run := newRun(tc.from)
		if tc.from.IsTerminal() {
			closedAt := fixedNow().Add(-time.Minute)
			run.ClosedAt = &closedAt
		}
		before := *run

		changed, err := Apply(run, tc.to, fixedNow)
		assert.False(t, changed, "%s -> %s", tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)

		var invalid *InvalidTransitionError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, run.ID, invalid.RunID)
		assert.Equal(t, tc.from, invalid.From)
		assert.Equal(t, tc.to, invalid.To)

		assert.Equal(t, before.State, run.State)
		assert.Equal(t, before.ClosedAt, run.ClosedAt)
	}
}

func TestApply_TerminalKeepsExistingClosedAt(t *testing.T) {
	run := newRun(models.RunStateInProgress)
	earlier := fixedNow().Add(-10 * time.Minute)
	run.ClosedAt = &earlier

	changed, err := Apply(run, models.RunStateFailed, fixedNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, &earlier, run.ClosedAt)
}

func TestApply_UnknownStateRejected(t *testing.T) {
	run := newRun(models.RunState("archived"))

	_, err := Apply(run, models.RunStateInProgress, fixedNow)
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
}
