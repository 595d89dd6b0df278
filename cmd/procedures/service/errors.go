package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/stepline/stepline/common/validation"
)

// ProcedureNotFoundError reports a reference to a procedure that does not
// exist
type ProcedureNotFoundError struct {
	ProcedureID uuid.UUID
}

func (e *ProcedureNotFoundError) Error() string {
	return fmt.Sprintf("procedure %s not found", e.ProcedureID)
}

// RunNotFoundError reports a reference to a run that does not exist
type RunNotFoundError struct {
	RunID uuid.UUID
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %s not found", e.RunID)
}

// StepNotFoundError reports a step key the run's procedure does not define
type StepNotFoundError struct {
	RunID   uuid.UUID
	StepKey string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("run %s: step %q not found", e.RunID, e.StepKey)
}

// StepAlreadyCommittedError reports a commit for a step that already has a
// committed state. Committed steps are immutable.
type StepAlreadyCommittedError struct {
	RunID   uuid.UUID
	StepKey string
}

func (e *StepAlreadyCommittedError) Error() string {
	return fmt.Sprintf("run %s: step %q already committed", e.RunID, e.StepKey)
}

// StepOutOfOrderError reports a commit that skips ahead of the next
// uncommitted step
type StepOutOfOrderError struct {
	RunID    uuid.UUID
	StepKey  string
	Expected string
}

func (e *StepOutOfOrderError) Error() string {
	return fmt.Sprintf("run %s: step %q committed out of order, expected %q", e.RunID, e.StepKey, e.Expected)
}

// SlotValidationError carries every slot issue found in a submission
type SlotValidationError struct {
	StepKey string
	Issues  []validation.Issue
}

func (e *SlotValidationError) Error() string {
	return fmt.Sprintf("step %q: slot validation failed with %d issue(s)", e.StepKey, len(e.Issues))
}

// ChecklistValidationError carries every checklist issue found in a
// submission
type ChecklistValidationError struct {
	StepKey string
	Issues  []validation.Issue
}

func (e *ChecklistValidationError) Error() string {
	return fmt.Sprintf("step %q: checklist validation failed with %d issue(s)", e.StepKey, len(e.Issues))
}
