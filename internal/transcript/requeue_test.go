package transcript

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crtlab/crtchat/internal/session"
)

func TestRequeueParkAndDrain(t *testing.T) {
	store := NewMemoryStore()
	rq := NewRequeue(store)

	rq.Park(
		testRow("111111111111111", 0, session.RoleUser, "q1"),
		testRow("111111111111111", 1, session.RoleAssistant, "a1"),
	)
	assert.Equal(t, 2, rq.Len())

	require.NoError(t, rq.Drain(context.Background()))
	assert.Equal(t, 0, rq.Len())
	assert.Len(t, store.Rows(), 2)
}

func TestRequeueDrainFailureKeepsRows(t *testing.T) {
	store := NewMemoryStore()
	rq := NewRequeue(store)

	rq.Park(testRow("111111111111111", 0, session.RoleUser, "q1"))

	store.FailNext(1)
	require.ErrorIs(t, rq.Drain(context.Background()), ErrStoreUnavailable)
	assert.Equal(t, 1, rq.Len(), "failed drain must keep rows parked")

	require.NoError(t, rq.Drain(context.Background()))
	assert.Equal(t, 0, rq.Len())
	assert.Len(t, store.Rows(), 1)
}

func TestRequeueDrainEmptyIsNoop(t *testing.T) {
	store := NewMemoryStore()
	rq := NewRequeue(store)
	require.NoError(t, rq.Drain(context.Background()))
	assert.Empty(t, store.Rows())
}

func TestRequeueDepthGauge(t *testing.T) {
	store := NewMemoryStore()
	var depths []int
	rq := NewRequeue(store, WithRequeueDepthGauge(func(n int) {
		depths = append(depths, n)
	}))

	rq.Park(testRow("111111111111111", 0, session.RoleUser, "q1"))
	require.NoError(t, rq.Drain(context.Background()))

	require.Len(t, depths, 2)
	assert.Equal(t, 1, depths[0])
	assert.Equal(t, 0, depths[1])
}

func TestRequeueStopDrains(t *testing.T) {
	store := NewMemoryStore()
	rq := NewRequeue(store, WithRequeueSchedule("@every 1h"))
	require.NoError(t, rq.Start())

	rq.Park(testRow("111111111111111", 0, session.RoleUser, "q1"))

	require.NoError(t, rq.Stop(context.Background()))
	assert.Len(t, store.Rows(), 1)
}

func TestRequeueInvalidSchedule(t *testing.T) {
	rq := NewRequeue(NewMemoryStore(), WithRequeueSchedule("not a schedule"))
	assert.Error(t, rq.Start())
}
