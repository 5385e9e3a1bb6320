package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/acl"
	"github.com/bg073/jarvis-rag/internal/embed"
	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/store"
)

const menuText = "The cafeteria menu for next week includes soup, salad and fresh bread every day."

func TestNewCoordinator_RequiresStores(t *testing.T) {
	_, err := NewCoordinator(CoordinatorConfig{})
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestProcessAndIndex_WritesBothStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Given a plain text document longer than one window
	res, err := f.coord.ProcessAndIndex(ctx, IngestRequest{
		Filename:   "menu.txt",
		Data:       []byte(menuText),
		TenantID:   "acme",
		UploaderID: "u-7",
		Tags:       []string{"food", " food ", ""},
	})
	require.NoError(t, err)

	// Then every chunk has one vector point and one keyword record, plus
	// one sentinel in the keyword store
	assert.Equal(t, "doc1", res.DocumentID)
	assert.Equal(t, "documents", res.Partition)
	assert.Equal(t, "text/plain", res.MIME)
	assert.Equal(t, []string{acl.BaselineRole}, res.Roles)
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, res.Chunks, res.VectorPoints)
	assert.Equal(t, res.Chunks+1, res.KeywordDocs)

	counts, err := f.coord.CountByFilename(ctx, partition.Route{}, "menu.txt")
	require.NoError(t, err)
	assert.Equal(t, IndexedCounts{Vector: res.Chunks, Keyword: res.Chunks + 1}, counts)

	hits, err := f.keywords.Search(ctx, "rag_docs_documents", "soup", store.Filter{TenantID: "acme", Tags: []string{"food"}}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "u-7", hits[0].Payload.UploaderID)
	assert.Equal(t, []string{"food"}, hits[0].Payload.Tags)
}

func TestProcessAndIndex_DefaultsTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "menu.txt", Data: []byte(menuText)})
	require.NoError(t, err)

	n, err := f.vectors.Count(ctx, "rag_chunks_documents", store.Filter{TenantID: DefaultTenant})
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestProcessAndIndex_SalaryDocumentIsHROnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.ProcessAndIndex(ctx, IngestRequest{
		Filename: "pay.txt",
		Data:     []byte("Salary bands for 2025"),
		TenantID: "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hr"}, res.Roles)

	employee := store.Filter{TenantID: "acme", Roles: []string{"employee"}}
	hits, err := f.keywords.Search(ctx, "rag_docs_documents", "salary", employee, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hr := store.Filter{TenantID: "acme", Roles: []string{"employee", "hr"}}
	hits, err = f.keywords.Search(ctx, "rag_docs_documents", "salary", hr, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestProcessAndIndex_BlankTextIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "empty.txt", Data: []byte("  \n ")})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.DocumentID)

	n, err := f.vectors.Count(ctx, "rag_chunks_documents", store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessAndIndex_InvalidSubDBRejectedBeforeIO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.ProcessAndIndex(ctx, IngestRequest{
		Filename:  "plan.txt",
		Data:      []byte("roadmap"),
		Space:     "projects",
		ProjectID: "apollo",
		SubDB:     "secrets",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerrors.ErrInvalidRouting)

	ok, err := f.vectors.Exists(ctx, "rag_chunks_projects_apollo_secrets")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessAndIndex_ProjectRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.ProcessAndIndex(ctx, IngestRequest{
		Filename:  "decision.md",
		Data:      []byte("# Decision\nWe ship on Friday."),
		Space:     "Projects",
		ProjectID: "Apollo",
		SubDB:     "key_decisions",
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/apollo/key_decisions", res.Partition)
	assert.Equal(t, "text/markdown", res.MIME)

	n, err := f.vectors.Count(ctx, "rag_chunks_projects_apollo_key_decisions", store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, n)
}

func TestProcessAndIndex_EmbeddingFailureAbortsDocument(t *testing.T) {
	f := newFixture(t, func(cfg *CoordinatorConfig) {
		cfg.Model = embed.StaticModel(failingEmbedder{embed.NewStaticEmbedder(64)})
	})
	ctx := context.Background()

	_, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "menu.txt", Data: []byte(menuText)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerrors.ErrEmbeddingFailure)

	n, err := f.vectors.Count(ctx, "rag_chunks_documents", store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	kw, err := f.keywords.Count(ctx, "rag_docs_documents", store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, kw)
}

func TestProcessAndIndex_UnsupportedFormatPropagates(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.ProcessAndIndex(context.Background(), IngestRequest{Filename: "scan.pdf", Data: []byte("%PDF-1.4")})
	assert.ErrorIs(t, err, ragerrors.ErrUnsupportedFormat)
}

func TestProcessAndIndex_KeywordFailureIsJournaled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Given a keyword backend that fails after provisioning
	require.NoError(t, f.coord.EnsurePartition(ctx, mustFlat(t, "documents")))
	f.keywords.setFailUpsert(true)

	_, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "menu.txt", Data: []byte(menuText)})

	// Then the error is a partial index and the vectors stay
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerrors.ErrPartialIndex)

	n, err := f.vectors.Count(ctx, "rag_chunks_documents", store.Filter{})
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	pending, err := f.journal.PendingPartials(ctx, "documents")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "doc1", pending[0].DocumentID)
	assert.Equal(t, n, pending[0].Chunks)
}

func TestProcessAndIndex_ReingestDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "menu.txt", Data: []byte(menuText)})
	require.NoError(t, err)
	second, err := f.coord.ProcessAndIndex(ctx, IngestRequest{Filename: "menu.txt", Data: []byte(menuText)})
	require.NoError(t, err)

	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	counts, err := f.coord.CountByFilename(ctx, partition.Route{}, "menu.txt")
	require.NoError(t, err)
	assert.Equal(t, 2*first.Chunks, counts.Vector)
}

func TestReady_ReportsEachStructure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.keywords.failEnsure = true

	r, err := f.coord.Ready(ctx, partition.Route{Space: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", r.Partition)
	assert.True(t, r.VectorReady)
	assert.False(t, r.KeywordReady)
	assert.False(t, r.Ready())
	assert.NotEmpty(t, r.Error)

	_, err = f.coord.Ready(ctx, partition.Route{Space: "projects", ProjectID: "apollo"})
	assert.ErrorIs(t, err, ragerrors.ErrInvalidRouting)

	err = f.coord.EnsurePartition(ctx, mustFlat(t, "memory"))
	assert.ErrorIs(t, err, ragerrors.ErrProvisioning)

	// Recovery is picked up on the next probe
	f.keywords.failEnsure = false
	r, err = f.coord.Ready(ctx, partition.Route{Space: "memory"})
	require.NoError(t, err)
	assert.True(t, r.Ready())
}

func TestEnsureDefaults_ContinuesPastBadSpaces(t *testing.T) {
	f := newFixture(t)

	out := f.coord.EnsureDefaults(context.Background(), []string{"documents", "Bad Space", "memory"})
	require.Len(t, out, 3)
	assert.True(t, out[0].Ready())
	assert.False(t, out[1].Ready())
	assert.NotEmpty(t, out[1].Error)
	assert.True(t, out[2].Ready())
}

func mustFlat(t *testing.T, space string) partition.Partition {
	t.Helper()
	p, err := partition.Flat(space)
	require.NoError(t, err)
	return p
}
