package fsm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stepline/stepline/common/models"
)

// transitions is the legal transition table. A state always maps to
// itself (self-transitions are no-ops); terminal states map only to
// themselves.
var transitions = map[models.RunState][]models.RunState{
	models.RunStatePending:    {models.RunStatePending, models.RunStateInProgress, models.RunStateFailed},
	models.RunStateInProgress: {models.RunStateInProgress, models.RunStateCompleted, models.RunStateFailed},
	models.RunStateCompleted:  {models.RunStateCompleted},
	models.RunStateFailed:     {models.RunStateFailed},
}

// InvalidTransitionError reports a transition the table does not allow
type InvalidTransitionError struct {
	RunID uuid.UUID
	From  models.RunState
	To    models.RunState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %s: invalid transition from %q to %q", e.RunID, e.From, e.To)
}

// CanTransition reports whether current may move to target
func CanTransition(current, target models.RunState) bool {
	for _, allowed := range transitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Apply moves run to target after checking the transition table.
// Entering a terminal state sets ClosedAt if unset; entering a
// non-terminal state clears it. A self-transition is a no-op and the
// returned bool reports whether anything actually changed.
func Apply(run *models.Run, target models.RunState, now func() time.Time) (bool, error) {
	if !run.State.Valid() {
		return false, &InvalidTransitionError{RunID: run.ID, From: run.State, To: target}
	}
	if !CanTransition(run.State, target) {
		return false, &InvalidTransitionError{RunID: run.ID, From: run.State, To: target}
	}

	if run.State == target {
		return false, nil
	}

	run.State = target
	if target.IsTerminal() {
		if run.ClosedAt == nil {
			closedAt := now()
			run.ClosedAt = &closedAt
		}
	} else {
		run.ClosedAt = nil
	}

	return true, nil
}
