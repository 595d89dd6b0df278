package audit

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/stepline/stepline/common/logger"
	"github.com/stepline/stepline/common/models"
)

// Store persists audit events. Events are append-only; there is no
// update or delete.
type Store interface {
	Insert(ctx context.Context, event *models.AuditEvent) error
}

// ComputeDiff returns a shallow diff between two payloads. A nil payload
// is treated as an empty map.
func ComputeDiff(before, after map[string]any) models.Diff {
	diff := models.Diff{
		Added:   make(map[string]any),
		Removed: make(map[string]any),
		Changed: make(map[string]models.FieldChange),
	}

	for key, afterValue := range after {
		beforeValue, existed := before[key]
		if !existed {
			diff.Added[key] = afterValue
			continue
		}
		if !reflect.DeepEqual(beforeValue, afterValue) {
			diff.Changed[key] = models.FieldChange{From: beforeValue, To: afterValue}
		}
	}

	for key, beforeValue := range before {
		if _, exists := after[key]; !exists {
			diff.Removed[key] = beforeValue
		}
	}

	return diff
}

// Recorder computes before/after diffs and appends immutable audit events
type Recorder struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

// NewRecorder creates a new audit recorder
func NewRecorder(store Store, log *logger.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// WithClock overrides the recorder's clock, for tests
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record appends one audit event carrying the shallow diff of before and
// after. The returned event is the persisted value; it is never mutated
// afterwards.
func (r *Recorder) Record(ctx context.Context, actor, action, entityType, entityID string, before, after map[string]any) (*models.AuditEvent, error) {
	event := &models.AuditEvent{
		ID:         uuid.New(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Diff:       ComputeDiff(before, after),
		OccurredAt: r.now().UTC(),
	}

	if err := r.store.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("append audit event %s/%s: %w", entityType, action, err)
	}

	r.log.Debug("audit event recorded",
		"action", action,
		"entity_type", entityType,
		"entity_id", entityID)

	return event, nil
}
