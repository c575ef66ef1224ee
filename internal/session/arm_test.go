package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bothArms = []ArmConfig{
	{Arm: ArmShort, SystemPrompt: "short prompt"},
	{Arm: ArmLong, SystemPrompt: "long prompt", ContextDocument: "crt context"},
}

func TestDeterministicAssignIsStable(t *testing.T) {
	a, err := NewAssigner(AssignDeterministic, 50, bothArms)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("%015d", i)
		first, err := a.Assign(id)
		require.NoError(t, err)
		for j := 0; j < 5; j++ {
			again, err := a.Assign(id)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}
}

func TestDeterministicAssignSurvivesRestart(t *testing.T) {
	a1, err := NewAssigner(AssignDeterministic, 50, bothArms)
	require.NoError(t, err)
	a2, err := NewAssigner(AssignDeterministic, 50, bothArms)
	require.NoError(t, err)

	// A fresh assigner stands in for a restarted process.
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("%015d", i*7919)
		arm1, err := a1.Assign(id)
		require.NoError(t, err)
		arm2, err := a2.Assign(id)
		require.NoError(t, err)
		assert.Equal(t, arm1, arm2, "id %s", id)
	}
}

func TestDeterministicAssignCoversBothArms(t *testing.T) {
	a, err := NewAssigner(AssignDeterministic, 50, bothArms)
	require.NoError(t, err)

	counts := map[Arm]int{}
	for i := 0; i < 1000; i++ {
		arm, err := a.Assign(fmt.Sprintf("%015d", i))
		require.NoError(t, err)
		counts[arm]++
	}
	assert.Greater(t, counts[ArmShort], 0)
	assert.Greater(t, counts[ArmLong], 0)
}

func TestDeterministicRatioExtremes(t *testing.T) {
	all, err := NewAssigner(AssignDeterministic, 100, bothArms)
	require.NoError(t, err)
	none, err := NewAssigner(AssignDeterministic, 0, bothArms)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("%015d", i)
		arm, err := all.Assign(id)
		require.NoError(t, err)
		assert.Equal(t, ArmShort, arm)

		arm, err = none.Assign(id)
		require.NoError(t, err)
		assert.Equal(t, ArmLong, arm)
	}
}

func TestRandomAssignPinsPerSession(t *testing.T) {
	a, err := NewAssigner(AssignRandom, 50, bothArms)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("%015d", i)
		first, err := a.Assign(id)
		require.NoError(t, err)
		for j := 0; j < 5; j++ {
			again, err := a.Assign(id)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}
}

func TestSingleArmDeployment(t *testing.T) {
	a, err := NewAssigner(AssignDeterministic, 0, []ArmConfig{
		{Arm: ArmShort, SystemPrompt: "only arm"},
	})
	require.NoError(t, err)

	// With no long arm configured, every session falls back to short.
	for i := 0; i < 100; i++ {
		arm, err := a.Assign(fmt.Sprintf("%015d", i))
		require.NoError(t, err)
		assert.Equal(t, ArmShort, arm)
	}
}

func TestAssignerValidation(t *testing.T) {
	_, err := NewAssigner(AssignPolicy("coinflip"), 50, bothArms)
	assert.Error(t, err)

	_, err = NewAssigner(AssignDeterministic, 101, bothArms)
	assert.Error(t, err)

	_, err = NewAssigner(AssignDeterministic, 50, []ArmConfig{
		{Arm: ArmLong, SystemPrompt: "long only"},
	})
	assert.Error(t, err, "short arm config is required")

	_, err = NewAssigner(AssignDeterministic, 50, []ArmConfig{
		{Arm: Arm("medium"), SystemPrompt: "?"},
	})
	assert.Error(t, err)
}

func TestConfigLookup(t *testing.T) {
	a, err := NewAssigner(AssignDeterministic, 50, bothArms)
	require.NoError(t, err)

	cfg, err := a.Config(ArmLong)
	require.NoError(t, err)
	assert.Equal(t, "crt context", cfg.ContextDocument)

	_, err = a.Config(Arm("medium"))
	assert.Error(t, err)
}
