package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/stepline/stepline/common/logger"
)

// FetchFunc computes a payload when the cache cannot serve it
type FetchFunc func(ctx context.Context) ([]byte, error)

// Coordinator serves read-through cached views keyed by per-resource
// version counters stored in the cache itself. Invalidation bumps a
// counter, making every previously cached key for that resource
// unreachable; TTL expiry reclaims them lazily. Cache trouble never
// fails the caller: the coordinator falls back to direct computation.
type Coordinator struct {
	store     Store
	log       *logger.Logger
	namespace string
	ttl       time.Duration
}

// NewCoordinator creates a cache coordinator
func NewCoordinator(store Store, log *logger.Logger, namespace string, ttl time.Duration) *Coordinator {
	return &Coordinator{
		store:     store,
		log:       log,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (c *Coordinator) listVersionKey() string {
	return fmt.Sprintf("%s:list:version", c.namespace)
}

func (c *Coordinator) procedureVersionKey(procedureID string) string {
	return fmt.Sprintf("%s:procedure:%s:version", c.namespace, procedureID)
}

func (c *Coordinator) runVersionKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:version", c.namespace, runID)
}

// ProcedureList returns the cached procedure list or refreshes it via fetch
func (c *Coordinator) ProcedureList(ctx context.Context, fetch FetchFunc) ([]byte, error) {
	return c.getOrCompute(ctx, "list", c.listVersionKey(), fetch)
}

// ProcedureDetail returns cached details for one procedure
func (c *Coordinator) ProcedureDetail(ctx context.Context, procedureID string, fetch FetchFunc) ([]byte, error) {
	resource := fmt.Sprintf("procedure:%s", procedureID)
	return c.getOrCompute(ctx, resource, c.procedureVersionKey(procedureID), fetch)
}

// RunDetail returns cached details for one run
func (c *Coordinator) RunDetail(ctx context.Context, runID string, fetch FetchFunc) ([]byte, error) {
	resource := fmt.Sprintf("run:%s", runID)
	return c.getOrCompute(ctx, resource, c.runVersionKey(runID), fetch)
}

// InvalidateProcedureList makes all cached procedure-list entries
// unreachable
func (c *Coordinator) InvalidateProcedureList(ctx context.Context) {
	c.bump(ctx, "list", c.listVersionKey())
}

// InvalidateProcedure invalidates one procedure's detail and, because the
// list renders from the same definitions, the global list as well
func (c *Coordinator) InvalidateProcedure(ctx context.Context, procedureID string) {
	c.bump(ctx, "list", c.listVersionKey())
	c.bump(ctx, fmt.Sprintf("procedure:%s", procedureID), c.procedureVersionKey(procedureID))
}

// InvalidateRun invalidates one run's detail. The procedure list is not
// affected by run writes.
func (c *Coordinator) InvalidateRun(ctx context.Context, runID string) {
	c.bump(ctx, fmt.Sprintf("run:%s", runID), c.runVersionKey(runID))
}

// getOrCompute is the read path: resolve the resource's current version,
// try the versioned key, compute and store on miss.
func (c *Coordinator) getOrCompute(ctx context.Context, resource, versionKey string, fetch FetchFunc) ([]byte, error) {
	version, err := c.resolveVersion(ctx, versionKey)
	if err != nil {
		c.log.Warn("cache unavailable, computing directly", "resource", resource, "error", err)
		return fetch(ctx)
	}

	cacheKey := fmt.Sprintf("%s:%s:v%d", c.namespace, resource, version)

	cached, found, err := c.store.Get(ctx, cacheKey)
	if err != nil {
		c.log.Warn("cache read failed, computing directly", "resource", resource, "error", err)
		return fetch(ctx)
	}
	if found {
		c.log.Debug("cache hit", "resource", resource, "key", cacheKey)
		return cached, nil
	}

	c.log.Debug("cache miss", "resource", resource, "key", cacheKey)
	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, cacheKey, data, c.ttl); err != nil {
		c.log.Warn("cache store failed", "resource", resource, "error", err)
	}

	return data, nil
}

// resolveVersion reads the resource's version counter, initializing it to
// 1 through increment-or-initialize when absent.
func (c *Coordinator) resolveVersion(ctx context.Context, versionKey string) (int64, error) {
	raw, found, err := c.store.Get(ctx, versionKey)
	if err != nil {
		return 0, err
	}
	if found {
		var version int64
		if _, err := fmt.Sscanf(string(raw), "%d", &version); err == nil && version > 0 {
			return version, nil
		}
	}
	return c.store.Increment(ctx, versionKey)
}

// bump atomically increments a version counter; failure is logged and
// swallowed because the cache is an optimization, not a source of truth.
func (c *Coordinator) bump(ctx context.Context, resource, versionKey string) {
	version, err := c.store.Increment(ctx, versionKey)
	if err != nil {
		c.log.Warn("cache invalidation failed", "resource", resource, "error", err)
		return
	}
	c.log.Info("cache invalidated", "resource", resource, "version", version)
}
