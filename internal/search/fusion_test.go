package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/store"
)

func hits(ids ...string) []store.Hit {
	out := make([]store.Hit, len(ids))
	for i, id := range ids {
		out[i] = store.Hit{ID: id, Score: 1 - float64(i)*0.1, Payload: store.Payload{ChunkID: id, Text: "text " + id}}
	}
	return out
}

func TestRRFFusion_CrossListAgreementWins(t *testing.T) {
	// Given A = [x, y] and B = [y, z]
	lists := []RankedList{
		{Modality: ModalityVector, Space: "documents", Hits: hits("x", "y")},
		{Modality: ModalityKeyword, Space: "documents", Hits: hits("y", "z")},
	}

	// When fused with k=60
	fused := NewRRFFusion().Fuse(lists)

	// Then y (1/62 + 1/61) outranks x (1/61), which outranks z (1/62)
	require.Len(t, fused, 3)
	assert.Equal(t, []string{"y", "x", "z"}, []string{fused[0].ID, fused[1].ID, fused[2].ID})
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/61, fused[1].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/62, fused[2].RRFScore, 1e-12)
	assert.Equal(t, 2, fused[0].Lists)
}

func TestRRFFusion_SameRankInBothLists(t *testing.T) {
	// Given y ranked first in both lists
	lists := []RankedList{
		{Modality: ModalityVector, Space: "documents", Hits: hits("y", "x")},
		{Modality: ModalityKeyword, Space: "documents", Hits: hits("y", "z")},
	}

	fused := NewRRFFusion().Fuse(lists)

	// Then fused(y) = 2/61 and x ties z at 1/62, x first-seen
	assert.InDelta(t, 2.0/61, fused[0].RRFScore, 1e-12)
	assert.Equal(t, "x", fused[1].ID)
	assert.Equal(t, "z", fused[2].ID)
}

func TestRRFFusion_TiesKeepFirstSeenOrder(t *testing.T) {
	lists := []RankedList{
		{Modality: ModalityVector, Space: "employees", Hits: hits("b")},
		{Modality: ModalityKeyword, Space: "employees", Hits: hits("a")},
		{Modality: ModalityVector, Space: "documents", Hits: hits("c")},
	}

	fused := NewRRFFusion().Fuse(lists)

	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].ID)
	assert.Equal(t, "a", fused[1].ID)
	assert.Equal(t, "c", fused[2].ID)
}

func TestRRFFusion_MetadataFromFirstList(t *testing.T) {
	// Given y seen first by keyword search in employees, then by vector search in documents
	kw := hits("y")
	kw[0].Payload.Filename = "from-keyword.txt"
	kw[0].Score = 7.5
	vec := hits("y")
	vec[0].Payload.Filename = "from-vector.txt"
	vec[0].Score = 0.9

	fused := NewRRFFusion().Fuse([]RankedList{
		{Modality: ModalityKeyword, Space: "employees", Hits: kw},
		{Modality: ModalityVector, Space: "documents", Hits: vec},
	})

	require.Len(t, fused, 1)
	assert.Equal(t, "from-keyword.txt", fused[0].Payload.Filename)
	assert.Equal(t, "bm25:employees", fused[0].Origin)
	assert.Equal(t, "employees", fused[0].Space)
	require.NotNil(t, fused[0].KeywordScore)
	require.NotNil(t, fused[0].VectorScore)
	assert.InDelta(t, 7.5, *fused[0].KeywordScore, 1e-12)
	assert.InDelta(t, 0.9, *fused[0].VectorScore, 1e-12)
}

func TestRRFFusion_SingleModalityLeavesOtherScoreNil(t *testing.T) {
	fused := NewRRFFusion().Fuse([]RankedList{{Modality: ModalityVector, Space: "documents", Hits: hits("a")}})

	require.Len(t, fused, 1)
	assert.NotNil(t, fused[0].VectorScore)
	assert.Nil(t, fused[0].KeywordScore)
}

func TestRRFFusion_EmptyInput(t *testing.T) {
	fused := NewRRFFusion().Fuse(nil)
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestNewRRFFusionWithK_DefaultsInvalid(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusionWithK(0).K)
	assert.Equal(t, 10, NewRRFFusionWithK(10).K)
}

func TestRerankWindow(t *testing.T) {
	assert.Equal(t, 50, RerankWindow(1))
	assert.Equal(t, 60, RerankWindow(20))
}
