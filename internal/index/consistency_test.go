package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/chunk"
	"github.com/bg073/jarvis-rag/internal/store"
)

const runbookText = "Incident runbook: page the on-call engineer, open a bridge, then post updates every thirty minutes until resolved."

func TestInconsistencyType_String(t *testing.T) {
	assert.Equal(t, "orphan_vector", InconsistencyOrphanVector.String())
	assert.Equal(t, "orphan_keyword", InconsistencyOrphanKeyword.String())
	assert.Equal(t, "unknown", InconsistencyType(99).String())
}

func TestConsistencyChecker_CleanPartition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "menu.txt", Data: []byte(menuText)})
	require.NoError(t, err)

	checker := NewConsistencyChecker(f.vectors, f.keywords, f.journal, 40, 10)
	result, err := checker.Check(ctx, mustFlat(t, "documents"))
	require.NoError(t, err)
	assert.True(t, result.Consistent())
	assert.Equal(t, res.Chunks, result.VectorPoints)
	assert.Equal(t, res.Chunks, result.KeywordChunks)
	assert.Equal(t, 1, result.Sentinels)

	ok, err := checker.QuickCheck(ctx, mustFlat(t, "documents"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsistencyChecker_DetectsAndReconcilesPartialWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	documents := mustFlat(t, "documents")
	checker := NewConsistencyChecker(f.vectors, f.keywords, f.journal, 40, 10)

	// Given a document whose keyword write failed
	require.NoError(t, f.coord.EnsurePartition(ctx, documents))
	f.keywords.setFailUpsert(true)
	_, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "runbook.txt", Data: []byte(runbookText), TenantID: "acme"})
	require.Error(t, err)
	f.keywords.setFailUpsert(false)

	// When checking the partition
	result, err := checker.Check(ctx, documents)
	require.NoError(t, err)

	// Then every vector point is an orphan of doc1
	require.False(t, result.Consistent())
	assert.Equal(t, result.VectorPoints, len(result.Inconsistencies))
	for _, issue := range result.Inconsistencies {
		assert.Equal(t, InconsistencyOrphanVector, issue.Type)
		assert.Equal(t, "doc1", issue.DocumentID)
	}
	ok, err := checker.QuickCheck(ctx, documents)
	require.NoError(t, err)
	assert.False(t, ok)

	// When reconciling
	rec, err := checker.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Pending)
	assert.Equal(t, []string{"doc1"}, rec.Repaired)
	assert.Empty(t, rec.Failed)

	// Then the partition is consistent and the sentinel holds the full text
	result, err = checker.Check(ctx, documents)
	require.NoError(t, err)
	assert.True(t, result.Consistent())
	assert.Equal(t, 1, result.Sentinels)

	hits, err := f.keywords.Search(ctx, "rag_docs_documents", "runbook", store.Filter{TenantID: "acme"}, 20)
	require.NoError(t, err)
	var sentinel *store.Hit
	for i := range hits {
		if hits[i].ID == chunk.FullDocumentID("doc1") {
			sentinel = &hits[i]
		}
	}
	require.NotNil(t, sentinel)
	assert.Equal(t, runbookText, sentinel.Payload.Text)
	assert.Equal(t, chunk.SentinelIndex, sentinel.Payload.ChunkIndex)
	assert.Equal(t, []string{"engineering"}, sentinel.Payload.Roles)

	pending, err := f.journal.PendingPartials(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConsistencyChecker_ReconcileNeedsJournal(t *testing.T) {
	f := newFixture(t)
	checker := NewConsistencyChecker(f.vectors, f.keywords, nil, 40, 10)

	_, err := checker.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrNilDependency)
}
