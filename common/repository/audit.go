package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepline/stepline/common/db"
	"github.com/stepline/stepline/common/models"
)

// AuditRepository persists audit events. Events are append-only; there is
// no update or delete path.
type AuditRepository struct {
	db *db.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(database *db.DB) *AuditRepository {
	return &AuditRepository{db: database}
}

// Insert appends one audit event
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	diff, err := json.Marshal(event.Diff)
	if err != nil {
		return fmt.Errorf("failed to encode audit diff: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, actor, action, entity_type, entity_id, diff, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`

	_, err = r.db.QuerierFrom(ctx).Exec(ctx, query,
		event.ID, event.Actor, event.Action, event.EntityType, event.EntityID,
		string(diff), event.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// AuditFilter narrows an audit listing
type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

// List retrieves audit events matching the filter, oldest first. Ordering
// ties on occurred_at break on id so the sequence is stable.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, actor, action, entity_type, entity_id, diff, occurred_at
		FROM audit_events
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR entity_id = $2)
		ORDER BY occurred_at, id
		LIMIT $3
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, filter.EntityType, filter.EntityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		var diff []byte
		if err := rows.Scan(&event.ID, &event.Actor, &event.Action,
			&event.EntityType, &event.EntityID, &diff, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(diff) > 0 {
			if err := json.Unmarshal(diff, &event.Diff); err != nil {
				return nil, fmt.Errorf("failed to decode audit diff: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}
