package validation

import (
	"fmt"
	"time"

	"github.com/stepline/stepline/common/models"
)

// ChecklistEntry is one submitted checkbox state. Completed is loosely
// typed on purpose: a non-boolean flag is a validation issue, not a
// deserialization failure.
type ChecklistEntry struct {
	Key         string `json:"key"`
	Completed   any    `json:"completed"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// ResolvedChecklistItem is the outcome for one defined item after a valid
// submission. Every defined item gets a resolved state; items not
// mentioned resolve to incomplete.
type ResolvedChecklistItem struct {
	Item        *models.ChecklistItem
	Completed   bool
	CompletedAt *time.Time
}

// ChecklistValidator checks completeness and legality of one step's
// submitted checkbox items against its definitions.
type ChecklistValidator struct {
	items []*models.ChecklistItem
	byKey map[string]*models.ChecklistItem
}

// NewChecklistValidator creates a validator for the given item definitions
func NewChecklistValidator(items []*models.ChecklistItem) *ChecklistValidator {
	v := &ChecklistValidator{
		items: items,
		byKey: make(map[string]*models.ChecklistItem, len(items)),
	}
	for _, item := range items {
		v.byKey[item.Key] = item
	}
	return v
}

// Validate resolves the submission into a per-item state for every defined
// item, or the complete issue list when any rule fails. Completed items
// with no usable submitted timestamp get now as their completion time.
func (v *ChecklistValidator) Validate(entries []ChecklistEntry, now time.Time) ([]ResolvedChecklistItem, []Issue) {
	var issues []Issue

	seen := make(map[string]bool, len(entries))
	completed := make(map[string]bool, len(entries))
	completedAt := make(map[string]*time.Time, len(entries))

	for _, entry := range entries {
		field := fmt.Sprintf("checklist.%s", entry.Key)

		if seen[entry.Key] {
			issues = append(issues, newIssue(field, CodeDuplicateKey))
			continue
		}
		seen[entry.Key] = true

		if _, defined := v.byKey[entry.Key]; !defined {
			issues = append(issues, newIssue(field, CodeUnknownItem))
			continue
		}

		flag, ok := entry.Completed.(bool)
		if !ok {
			issues = append(issues, newIssueParams(field, CodeInvalidCompletedFlag, map[string]any{"expected": "boolean"}))
			continue
		}

		completed[entry.Key] = flag
		if flag {
			completedAt[entry.Key] = resolveCompletedAt(entry.CompletedAt, now)
		}
	}

	for _, item := range v.items {
		field := fmt.Sprintf("checklist.%s", item.Key)
		if !item.Required {
			continue
		}
		if !seen[item.Key] {
			issues = append(issues, newIssue(field, CodeMissingRequiredItem))
			continue
		}
		if done, ok := completed[item.Key]; ok && !done {
			issues = append(issues, newIssue(field, CodeRequiredNotCompleted))
		}
	}

	if len(issues) > 0 {
		return nil, issues
	}

	resolved := make([]ResolvedChecklistItem, 0, len(v.items))
	for _, item := range v.items {
		state := ResolvedChecklistItem{Item: item}
		if completed[item.Key] {
			state.Completed = true
			state.CompletedAt = completedAt[item.Key]
		}
		resolved = append(resolved, state)
	}
	return resolved, nil
}

// resolveCompletedAt keeps a parseable submitted timestamp, otherwise the
// commit time stands in so a completed item always carries one.
func resolveCompletedAt(submitted string, now time.Time) *time.Time {
	if submitted != "" {
		if parsed, err := time.Parse(time.RFC3339, submitted); err == nil {
			return &parsed
		}
	}
	return &now
}
