package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stepline/stepline/common/cache"
	"github.com/stepline/stepline/common/logger"
	"github.com/stepline/stepline/common/models"
	"github.com/stepline/stepline/common/repository"
)

// ProcedureLister is what the procedure service needs from storage
type ProcedureLister interface {
	List(ctx context.Context) ([]*models.Procedure, error)
	GetByID(ctx context.Context, procedureID uuid.UUID) (*models.Procedure, error)
}

// ProcedureCache is the slice of the cache coordinator the procedure
// service uses
type ProcedureCache interface {
	ProcedureList(ctx context.Context, fetch cache.FetchFunc) ([]byte, error)
	ProcedureDetail(ctx context.Context, procedureID string, fetch cache.FetchFunc) ([]byte, error)
}

// ProcedureService serves procedure definitions through the versioned
// cache. Definitions are read-only from this service's point of view.
type ProcedureService struct {
	repo  ProcedureLister
	cache ProcedureCache
	log   *logger.Logger
}

// NewProcedureService creates a new procedure service
func NewProcedureService(repo ProcedureLister, procCache ProcedureCache, log *logger.Logger) *ProcedureService {
	return &ProcedureService{
		repo:  repo,
		cache: procCache,
		log:   log,
	}
}

// ListJSON returns all procedure summaries through the cache
func (s *ProcedureService) ListJSON(ctx context.Context) ([]byte, error) {
	return s.cache.ProcedureList(ctx, func(ctx context.Context) ([]byte, error) {
		procedures, err := s.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		if procedures == nil {
			procedures = []*models.Procedure{}
		}
		return marshalJSON(map[string]any{"procedures": procedures})
	})
}

// GetJSON returns one full procedure definition through the cache
func (s *ProcedureService) GetJSON(ctx context.Context, procedureID uuid.UUID) ([]byte, error) {
	return s.cache.ProcedureDetail(ctx, procedureID.String(), func(ctx context.Context) ([]byte, error) {
		procedure, err := s.Get(ctx, procedureID)
		if err != nil {
			return nil, err
		}
		return marshalJSON(procedure)
	})
}

// Get returns one full procedure definition
func (s *ProcedureService) Get(ctx context.Context, procedureID uuid.UUID) (*models.Procedure, error) {
	procedure, err := s.repo.GetByID(ctx, procedureID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ProcedureNotFoundError{ProcedureID: procedureID}
	}
	if err != nil {
		return nil, err
	}
	return procedure, nil
}

func marshalJSON(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return data, nil
}
