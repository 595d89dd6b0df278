package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/common/logger"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingStore) Increment(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) Close() error { return nil }

func newCoordinator(t *testing.T) (*Coordinator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(nil)
	return NewCoordinator(store, logger.New("error", "json"), "procedures", 5*time.Minute), store
}

func countingFetch(payload string, calls *int) FetchFunc {
	return func(context.Context) ([]byte, error) {
		*calls++
		return []byte(payload), nil
	}
}

func TestCoordinator_ReadThrough(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	calls := 0
	fetch := countingFetch(`{"procedures":[]}`, &calls)

	data, err := c.ProcedureList(ctx, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"procedures":[]}`, string(data))
	assert.Equal(t, 1, calls)

	// Second read is a hit.
	data, err = c.ProcedureList(ctx, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"procedures":[]}`, string(data))
	assert.Equal(t, 1, calls)
}

func TestCoordinator_InvalidationForcesRecompute(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	calls := 0
	fetch := countingFetch(`{"id":"p1"}`, &calls)

	_, err := c.ProcedureDetail(ctx, "p1", fetch)
	require.NoError(t, err)
	_, err = c.ProcedureDetail(ctx, "p1", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	c.InvalidateProcedure(ctx, "p1")

	_, err = c.ProcedureDetail(ctx, "p1", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCoordinator_InvalidationIsScopedPerProcedure(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	callsP1, callsP2 := 0, 0
	fetchP1 := countingFetch(`{"id":"p1"}`, &callsP1)
	fetchP2 := countingFetch(`{"id":"p2"}`, &callsP2)

	_, _ = c.ProcedureDetail(ctx, "p1", fetchP1)
	_, _ = c.ProcedureDetail(ctx, "p2", fetchP2)

	c.InvalidateProcedure(ctx, "p1")

	_, _ = c.ProcedureDetail(ctx, "p1", fetchP1)
	_, _ = c.ProcedureDetail(ctx, "p2", fetchP2)

	assert.Equal(t, 2, callsP1, "invalidated procedure recomputes")
	assert.Equal(t, 1, callsP2, "unrelated procedure stays cached")
}

func TestCoordinator_ProcedureInvalidationCascadesToList(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	listCalls := 0
	fetchList := countingFetch(`[]`, &listCalls)

	_, _ = c.ProcedureList(ctx, fetchList)
	c.InvalidateProcedure(ctx, "p1")
	_, _ = c.ProcedureList(ctx, fetchList)

	assert.Equal(t, 2, listCalls)
}

func TestCoordinator_RunInvalidationDoesNotTouchList(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	listCalls, runCalls := 0, 0
	fetchList := countingFetch(`[]`, &listCalls)
	fetchRun := countingFetch(`{"id":"r1"}`, &runCalls)

	_, _ = c.ProcedureList(ctx, fetchList)
	_, _ = c.RunDetail(ctx, "r1", fetchRun)

	c.InvalidateRun(ctx, "r1")

	_, _ = c.ProcedureList(ctx, fetchList)
	_, _ = c.RunDetail(ctx, "r1", fetchRun)

	assert.Equal(t, 1, listCalls, "list stays cached")
	assert.Equal(t, 2, runCalls, "run detail recomputes")
}

func TestCoordinator_StoreFailureFallsBackToFetch(t *testing.T) {
	c := NewCoordinator(failingStore{}, logger.New("error", "json"), "procedures", time.Minute)
	ctx := context.Background()

	calls := 0
	data, err := c.RunDetail(ctx, "r1", countingFetch(`{"id":"r1"}`, &calls))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1"}`, string(data))
	assert.Equal(t, 1, calls)

	// Invalidation against a dead store must not panic or error.
	c.InvalidateRun(ctx, "r1")
	c.InvalidateProcedure(ctx, "p1")
}

func TestCoordinator_FetchErrorPropagates(t *testing.T) {
	c, _ := newCoordinator(t)

	boom := errors.New("database down")
	_, err := c.ProcedureList(context.Background(), func(context.Context) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}
