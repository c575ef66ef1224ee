package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAssigner(t *testing.T) *Assigner {
	t.Helper()
	a, err := NewAssigner(AssignDeterministic, 50, []ArmConfig{
		{Arm: ArmShort, SystemPrompt: "short prompt"},
		{Arm: ArmLong, SystemPrompt: "long prompt", ContextDocument: "doc"},
	})
	require.NoError(t, err)
	return a
}

func TestCreateIDFormat(t *testing.T) {
	r := NewRegistry(testAssigner(t))

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s, err := r.Create()
		require.NoError(t, err)
		require.Len(t, s.ID, 15)
		assert.True(t, ValidID(s.ID), "id %q must be all digits", s.ID)
		assert.False(t, seen[s.ID], "duplicate id %q", s.ID)
		seen[s.ID] = true
		assert.True(t, s.Arm.Valid())
	}
}

func TestCreateConcurrent(t *testing.T) {
	r := NewRegistry(testAssigner(t))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := r.Create()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16*50, r.Len(), "every create must yield a distinct session")
}

func TestResolve(t *testing.T) {
	r := NewRegistry(testAssigner(t))
	s, err := r.Create()
	require.NoError(t, err)

	got, err := r.Resolve(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestResolveInvalidFormat(t *testing.T) {
	r := NewRegistry(testAssigner(t))

	for _, id := range []string{
		"",
		"12345",
		"1234567890123456",
		"12345678901234a",
		"12345678901234 ",
		"-12345678901234",
	} {
		_, err := r.Resolve(id)
		assert.ErrorIs(t, err, ErrInvalidSessionFormat, "id %q", id)
	}
}

func TestResolveNotFound(t *testing.T) {
	r := NewRegistry(testAssigner(t))
	_, err := r.Resolve("123456789012345")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRestore(t *testing.T) {
	r := NewRegistry(testAssigner(t))
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	s, err := r.Restore("123456789012345", ArmLong, created)
	require.NoError(t, err)
	assert.Equal(t, ArmLong, s.Arm)
	assert.Equal(t, created, s.CreatedAt)

	got, err := r.Resolve("123456789012345")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRestoreExistingWins(t *testing.T) {
	r := NewRegistry(testAssigner(t))
	s, err := r.Create()
	require.NoError(t, err)

	other := ArmShort
	if s.Arm == ArmShort {
		other = ArmLong
	}
	got, err := r.Restore(s.ID, other, time.Now())
	require.NoError(t, err)
	assert.Equal(t, s.Arm, got.Arm, "restore must not reassign a live session")
}

func TestRestoreRejectsBadInput(t *testing.T) {
	r := NewRegistry(testAssigner(t))

	_, err := r.Restore("short", ArmShort, time.Now())
	assert.ErrorIs(t, err, ErrInvalidSessionFormat)

	_, err = r.Restore("123456789012345", Arm("weird"), time.Now())
	assert.Error(t, err)
}
