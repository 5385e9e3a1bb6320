package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTable_EvictsOldest(t *testing.T) {
	table := NewStatusTable(2)
	table.Put(TaskSnapshot{ID: "a", State: StateQueued})
	table.Put(TaskSnapshot{ID: "b", State: StateQueued})
	table.Put(TaskSnapshot{ID: "c", State: StateQueued})

	_, ok := table.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, table.Len())
	assert.False(t, table.Update("a", func(s *TaskSnapshot) { s.State = StateDone }))
}

func TestStatusTable_CountsTransitionsOnce(t *testing.T) {
	table := NewStatusTable(10)
	table.Put(TaskSnapshot{ID: "a", State: StateQueued})

	require.True(t, table.Update("a", func(s *TaskSnapshot) { s.State = StateRunning }))
	require.True(t, table.Update("a", func(s *TaskSnapshot) { s.Chunks = 3 }))
	require.True(t, table.Update("a", func(s *TaskSnapshot) { s.State = StateDone }))

	counts := table.Transitions()
	assert.Equal(t, int64(1), counts[StateQueued])
	assert.Equal(t, int64(1), counts[StateRunning])
	assert.Equal(t, int64(1), counts[StateDone])

	snap, ok := table.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, snap.Chunks)
	assert.True(t, snap.State.Terminal())
}

func TestStatusTable_Discard(t *testing.T) {
	table := NewStatusTable(10)
	table.Put(TaskSnapshot{ID: "a", State: StateQueued})
	table.Put(TaskSnapshot{ID: "b", State: StateQueued})

	assert.True(t, table.Discard("b"))
	assert.False(t, table.Discard("b"))

	_, ok := table.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, int64(1), table.Transitions()[StateQueued])
}

func TestTaskSnapshot_ElapsedSeconds(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	assert.Zero(t, TaskSnapshot{}.ElapsedSeconds())
	assert.InDelta(t, 1.5, TaskSnapshot{StartedAt: &start, FinishedAt: &end}.ElapsedSeconds(), 1e-9)
}
