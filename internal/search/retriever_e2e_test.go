package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/embed"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/store"
)

type stack struct {
	coord     *index.Coordinator
	retriever *Retriever
}

func newStack(t *testing.T) *stack {
	t.Helper()

	vectors, err := store.NewHNSWStore(store.HNSWConfig{})
	require.NoError(t, err)
	keywords, err := store.NewBleveStore("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vectors.Close()
		_ = keywords.Close()
	})

	model := embed.StaticModel(embed.NewStaticEmbedder(64))
	coord, err := index.NewCoordinator(index.CoordinatorConfig{
		Model:       model,
		Vectors:     vectors,
		Keywords:    keywords,
		Provisioner: store.NewProvisioner(2, time.Millisecond),
	})
	require.NoError(t, err)

	retriever, err := NewRetriever(RetrieverConfig{
		Model:    model,
		Vectors:  vectors,
		Keywords: keywords,
		Reranker: &LexicalReranker{},
	})
	require.NoError(t, err)

	return &stack{coord: coord, retriever: retriever}
}

func (s *stack) ingest(t *testing.T, req index.IngestRequest) string {
	t.Helper()
	res, err := s.coord.ProcessAndIndex(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	return res.DocumentID
}

func documentIDs(results []Result) map[string]bool {
	out := make(map[string]bool)
	for _, r := range results {
		out[r.DocumentID] = true
	}
	return out
}

func TestRetrieve_SalaryDocumentVisibleOnlyToHR(t *testing.T) {
	s := newStack(t)

	// Given a salary document and a general announcement
	salaryDoc := s.ingest(t, index.IngestRequest{
		Filename: "bands.txt",
		Data:     []byte("Salary bands for engineers are reviewed every March."),
	})
	menuDoc := s.ingest(t, index.IngestRequest{
		Filename: "menu.txt",
		Data:     []byte("Engineers get free lunch every Friday in March."),
	})

	// When an employee-only caller asks about salary bands
	results, err := s.retriever.Retrieve(context.Background(), Query{Text: "salary bands", Roles: []string{"employee"}})
	require.NoError(t, err)

	// Then the salary document never appears
	assert.False(t, documentIDs(results)[salaryDoc])

	// When an HR caller asks the same question
	results, err = s.retriever.Retrieve(context.Background(), Query{Text: "salary bands", Roles: []string{"hr"}})
	require.NoError(t, err)

	// Then the salary document ranks first and the employee document is hidden
	require.NotEmpty(t, results)
	assert.Equal(t, salaryDoc, results[0].DocumentID)
	assert.Equal(t, "bands.txt", results[0].Source.Filename)
	assert.InDelta(t, 1.0, results[0].RerankScore, 1e-9)
	assert.False(t, documentIDs(results)[menuDoc])

	// And a caller holding both roles sees both
	results, err = s.retriever.Retrieve(context.Background(), Query{Text: "engineers march", Roles: []string{"employee", "hr"}})
	require.NoError(t, err)
	seen := documentIDs(results)
	assert.True(t, seen[salaryDoc])
	assert.True(t, seen[menuDoc])
}

func TestRetrieve_TagFilter(t *testing.T) {
	s := newStack(t)

	secret := s.ingest(t, index.IngestRequest{
		Filename: "roadmap.txt",
		Data:     []byte("The product roadmap lists launch dates for next year."),
		Tags:     []string{"confidential"},
	})
	s.ingest(t, index.IngestRequest{
		Filename: "public-roadmap.txt",
		Data:     []byte("The public roadmap lists launch dates we can share."),
	})

	results, err := s.retriever.Retrieve(context.Background(), Query{Text: "roadmap launch dates", Tags: []string{"confidential"}})
	require.NoError(t, err)

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, secret, r.DocumentID)
	}
}

func TestRetrieve_TenantIsolation(t *testing.T) {
	s := newStack(t)

	s.ingest(t, index.IngestRequest{Filename: "a.txt", Data: []byte("Travel policy for visitors."), TenantID: "acme"})

	results, err := s.retriever.Retrieve(context.Background(), Query{Text: "travel policy", TenantID: "globex"})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.retriever.Retrieve(context.Background(), Query{Text: "travel policy", TenantID: "acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
