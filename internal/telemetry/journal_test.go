package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_IngestEvents(t *testing.T) {
	ctx := context.Background()
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	require.NoError(t, j.RecordIngest(ctx, IngestEvent{TaskID: "t1", DocumentID: "d1", Filename: "a.txt", Partition: "documents", Status: StatusDone, Chunks: 3}))
	require.NoError(t, j.RecordIngest(ctx, IngestEvent{TaskID: "t2", Filename: "b.pdf", Status: StatusFailed, Error: "unsupported"}))

	events, err := j.RecentIngests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "t2", events[0].TaskID)
	assert.Equal(t, StatusFailed, events[0].Status)
	assert.Equal(t, 3, events[1].Chunks)
	assert.False(t, events[1].CreatedAt.IsZero())
}

func TestJournal_PartialLifecycle(t *testing.T) {
	ctx := context.Background()
	j, err := OpenJournal("")
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	// Given two partial documents in different partitions
	require.NoError(t, j.RecordPartial(ctx, PartialEntry{DocumentID: "d1", Partition: "documents", Filename: "a.txt", Chunks: 2, Error: "keyword down"}))
	require.NoError(t, j.RecordPartial(ctx, PartialEntry{DocumentID: "d2", Partition: "projects/apollo/memory", Filename: "b.txt", Chunks: 1}))

	all, err := j.PendingPartials(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	docs, err := j.PendingPartials(ctx, "documents")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].DocumentID)
	assert.Equal(t, 2, docs[0].Chunks)

	// When d1 is repaired
	require.NoError(t, j.MarkRepaired(ctx, "d1"))

	// Then only d2 stays pending
	all, err = j.PendingPartials(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "d2", all[0].DocumentID)

	assert.Error(t, j.MarkRepaired(ctx, "missing"))
}

func TestJournal_ZeroResultBufferIsTrimmed(t *testing.T) {
	j, err := OpenJournal("")
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	for i := 0; i < 105; i++ {
		require.NoError(t, j.AddZeroResultQuery("q", time.Now()))
	}
	queries, err := j.GetZeroResultQueries(1000)
	require.NoError(t, err)
	assert.Len(t, queries, 100)
}
