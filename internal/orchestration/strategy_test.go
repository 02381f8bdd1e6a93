package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForName(t *testing.T) {
	for name, want := range map[string]string{
		"":           StrategySequential,
		"sequential": StrategySequential,
		"concurrent": StrategyConcurrent,
		"handoff":    StrategyHandoff,
		"group_chat": StrategyGroupChat,
		"magentic":   StrategyMagentic,
	} {
		s, err := ForName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, s.Name())
	}

	_, err := ForName("swarm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestRosterDeduplicatesAndOrders(t *testing.T) {
	r := NewRoster(
		&Agent{ID: "Lead"},
		&Agent{ID: "second"},
		&Agent{ID: "lead"}, // same id, different case
	)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"Lead", "second"}, r.IDs())
	assert.Equal(t, "Lead", r.Lead().ID)

	got, ok := r.Get("LEAD")
	require.True(t, ok)
	assert.Equal(t, "Lead", got.ID)
}
