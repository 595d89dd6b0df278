package service

import (
	"context"
	"fmt"

	"github.com/stepline/stepline/common/logger"
	"github.com/stepline/stepline/common/models"
	"github.com/stepline/stepline/common/repository"
)

// AuditLister is what the audit service needs from storage
type AuditLister interface {
	List(ctx context.Context, filter repository.AuditFilter) ([]*models.AuditEvent, error)
}

// AuditService serves the audit trail
type AuditService struct {
	repo AuditLister
	log  *logger.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(repo AuditLister, log *logger.Logger) *AuditService {
	return &AuditService{
		repo: repo,
		log:  log,
	}
}

// List returns audit events matching the filter, oldest first
func (s *AuditService) List(ctx context.Context, filter repository.AuditFilter) ([]*models.AuditEvent, error) {
	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	if events == nil {
		events = []*models.AuditEvent{}
	}

	return events, nil
}
