package search

import (
	"context"

	"github.com/bg073/jarvis-rag/internal/store"
)

// RerankResult represents a single reranked result
type RerankResult struct {
	// Index is the original position in the input documents slice
	Index int
	// Score is the relevance score
	Score float64
	// Document is the original document content
	Document string
}

// Reranker scores (query, document) pairs jointly. Cross-encoders are
// more accurate than vector similarity but cost a model call per pair,
// so callers bound the batch.
type Reranker interface {
	// Rerank scores documents against query and returns results sorted
	// by score descending. topK limits the results; 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available checks if the reranker service is available
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// NoOpReranker is a reranker that returns results in original order.
// Used when reranking is disabled.
type NoOpReranker struct{}

// Rerank returns documents in original order with decreasing scores.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Index:    i,
			Score:    1.0 - float64(i)*0.01, // 1.0, 0.99, 0.98, ...
			Document: doc,
		}
	}

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	return results, nil
}

// Available always returns true for NoOpReranker.
func (n *NoOpReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op for NoOpReranker.
func (n *NoOpReranker) Close() error {
	return nil
}

// LexicalReranker scores a document by the share of distinct query terms
// it contains. It needs no model and is deterministic, so it serves as
// the offline reranker.
type LexicalReranker struct{}

// Rerank scores each document by query-term coverage in [0, 1].
func (l *LexicalReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := distinct(store.Terms(query))
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i, Score: coverage(queryTerms, doc), Document: doc}
	}

	sortRerankResults(results)
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func coverage(queryTerms []string, doc string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docTerms := make(map[string]struct{})
	for _, t := range store.Terms(doc) {
		docTerms[t] = struct{}{}
	}
	hit := 0
	for _, t := range queryTerms {
		if _, ok := docTerms[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(queryTerms))
}

func distinct(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Available always returns true for LexicalReranker.
func (l *LexicalReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op for LexicalReranker.
func (l *LexicalReranker) Close() error {
	return nil
}

// Verify interface implementation at compile time
var (
	_ Reranker = (*NoOpReranker)(nil)
	_ Reranker = (*LexicalReranker)(nil)
)
