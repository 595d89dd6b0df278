package container

import (
	"github.com/stepline/stepline/cmd/procedures/service"
	"github.com/stepline/stepline/common/audit"
	"github.com/stepline/stepline/common/bootstrap"
	"github.com/stepline/stepline/common/cache"
	"github.com/stepline/stepline/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	ProcedureRepo *repository.ProcedureRepository
	RunRepo       *repository.RunRepository
	AuditRepo     *repository.AuditRepository

	// Shared infrastructure
	Coordinator *cache.Coordinator
	Recorder    *audit.Recorder

	// Services
	ProcedureService *service.ProcedureService
	RunService       *service.RunService
	AuditService     *service.AuditService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	// Initialize repositories
	procedureRepo := repository.NewProcedureRepository(components.DB)
	runRepo := repository.NewRunRepository(components.DB)
	auditRepo := repository.NewAuditRepository(components.DB)

	// Cache store is absent when caching is disabled; fall back to the
	// in-memory store so services keep a single code path.
	store := components.Cache
	if store == nil {
		store = cache.NewMemoryStore(components.Logger)
	}
	coordinator := cache.NewCoordinator(
		store,
		components.Logger,
		components.Config.Cache.Namespace,
		components.Config.Cache.DefaultTTL,
	)

	recorder := audit.NewRecorder(auditRepo, components.Logger)

	// Initialize services (bottom-up: dependencies first)
	procedureService := service.NewProcedureService(procedureRepo, coordinator, components.Logger)
	runService := service.NewRunService(
		procedureRepo,
		runRepo,
		recorder,
		coordinator,
		components.DB,
		components.Logger,
	)
	auditService := service.NewAuditService(auditRepo, components.Logger)

	return &Container{
		Components:       components,
		ProcedureRepo:    procedureRepo,
		RunRepo:          runRepo,
		AuditRepo:        auditRepo,
		Coordinator:      coordinator,
		Recorder:         recorder,
		ProcedureService: procedureService,
		RunService:       runService,
		AuditService:     auditService,
	}, nil
}
