package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bg073/jarvis-rag/internal/chunk"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector point with no keyword record:
	// the state a failed keyword write leaves behind.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyOrphanKeyword is a keyword chunk record with no vector
	// point. Write ordering makes this impossible, so it signals damage.
	InconsistencyOrphanKeyword
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyOrphanKeyword:
		return "orphan_keyword"
	default:
		return "unknown"
	}
}

// MarshalText lets the type render by name in JSON.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type       InconsistencyType `json:"type"`
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Partition       string          `json:"partition"`
	VectorPoints    int             `json:"vector_points"`
	KeywordChunks   int             `json:"keyword_chunks"`
	Sentinels       int             `json:"sentinels"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration"`
}

// Consistent reports whether no issues were found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// ReconcileResult summarizes a Reconcile run.
type ReconcileResult struct {
	Pending  int      `json:"pending"`
	Repaired []string `json:"repaired"`
	Failed   []string `json:"failed"`
}

// ConsistencyChecker compares a partition's vector and keyword ids and
// replays journaled partial writes.
type ConsistencyChecker struct {
	vectors  store.VectorStore
	keywords store.KeywordStore
	journal  PartialJournal

	windowSize int
	overlap    int
}

// NewConsistencyChecker creates a checker. windowSize and overlap must
// match the chunker settings used at ingestion so sentinels rebuild
// exactly; journal may be nil when only Check is needed.
func NewConsistencyChecker(vectors store.VectorStore, keywords store.KeywordStore, journal PartialJournal, windowSize, overlap int) *ConsistencyChecker {
	return &ConsistencyChecker{
		vectors:    vectors,
		keywords:   keywords,
		journal:    journal,
		windowSize: windowSize,
		overlap:    overlap,
	}
}

// Check diffs every id in both structures of p. O(n) in the partition size.
func (c *ConsistencyChecker) Check(ctx context.Context, p partition.Partition) (*CheckResult, error) {
	start := time.Now()

	vectorIDs, err := c.vectors.IDs(ctx, p.VectorName())
	if err != nil {
		return nil, fmt.Errorf("list vector ids: %w", err)
	}
	keywordIDs, err := c.keywords.IDs(ctx, p.KeywordName())
	if err != nil {
		return nil, fmt.Errorf("list keyword ids: %w", err)
	}

	result := &CheckResult{Partition: p.Key(), VectorPoints: len(vectorIDs)}
	keywordSet := make(map[string]bool, len(keywordIDs))
	for _, id := range keywordIDs {
		if chunk.IsFullDocumentID(id) {
			result.Sentinels++
			continue
		}
		keywordSet[id] = true
	}
	result.KeywordChunks = len(keywordSet)

	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
		if !keywordSet[id] {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:       InconsistencyOrphanVector,
				ChunkID:    id,
				DocumentID: chunk.DocumentIDOf(id),
			})
		}
	}

	var orphanKeyword []string
	for id := range keywordSet {
		if !vectorSet[id] {
			orphanKeyword = append(orphanKeyword, id)
		}
	}
	sort.Strings(orphanKeyword)
	for _, id := range orphanKeyword {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			Type:       InconsistencyOrphanKeyword,
			ChunkID:    id,
			DocumentID: chunk.DocumentIDOf(id),
		})
	}

	result.Duration = time.Since(start)
	if !result.Consistent() {
		slog.Warn("partition_inconsistent",
			slog.String("partition", p.Key()),
			slog.Int("issues", len(result.Inconsistencies)))
	}
	return result, nil
}

// QuickCheck compares the vector point count with the number of keyword
// chunk records, without diffing ids.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context, p partition.Partition) (bool, error) {
	vectorCount, err := c.vectors.Count(ctx, p.VectorName(), store.Filter{})
	if err != nil {
		return false, err
	}
	keywordIDs, err := c.keywords.IDs(ctx, p.KeywordName())
	if err != nil {
		return false, err
	}
	keywordChunks := 0
	for _, id := range keywordIDs {
		if !chunk.IsFullDocumentID(id) {
			keywordChunks++
		}
	}

	consistent := vectorCount == keywordChunks
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.String("partition", p.Key()),
			slog.Int("vector", vectorCount),
			slog.Int("keyword", keywordChunks))
	}
	return consistent, nil
}

// Reconcile rebuilds the keyword records of every journaled partial
// document from its vector payloads. Nothing is deleted.
func (c *ConsistencyChecker) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	if c.journal == nil {
		return nil, fmt.Errorf("%w: journal is required to reconcile", ErrNilDependency)
	}
	entries, err := c.journal.PendingPartials(ctx, "")
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Pending: len(entries), Repaired: []string{}, Failed: []string{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := c.repair(ctx, e.DocumentID, e.Partition, e.Chunks); err != nil {
			slog.Warn("reconcile_failed",
				slog.String("document_id", e.DocumentID),
				slog.String("partition", e.Partition),
				slog.String("error", err.Error()))
			result.Failed = append(result.Failed, e.DocumentID)
			continue
		}
		if err := c.journal.MarkRepaired(ctx, e.DocumentID); err != nil {
			result.Failed = append(result.Failed, e.DocumentID)
			continue
		}
		slog.Info("reconcile_repaired",
			slog.String("document_id", e.DocumentID),
			slog.String("partition", e.Partition),
			slog.Int("chunks", e.Chunks))
		result.Repaired = append(result.Repaired, e.DocumentID)
	}
	return result, nil
}

func (c *ConsistencyChecker) repair(ctx context.Context, documentID, key string, chunks int) error {
	p, err := partition.ParseKey(key)
	if err != nil {
		return err
	}

	ids := make([]string, chunks)
	for i := range ids {
		ids[i] = chunk.ID(documentID, i)
	}
	points, err := c.vectors.Fetch(ctx, p.VectorName(), ids)
	if err != nil {
		return fmt.Errorf("fetch vector payloads: %w", err)
	}
	if len(points) != chunks {
		return fmt.Errorf("expected %d vector points, found %d", chunks, len(points))
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Payload.ChunkIndex < points[j].Payload.ChunkIndex
	})

	windows := make([]string, len(points))
	docs := make([]store.Record, 0, len(points)+1)
	docs = append(docs, store.Record{})
	for i, pt := range points {
		windows[i] = pt.Payload.Text
		docs = append(docs, store.Record{ID: pt.ID, Payload: pt.Payload})
	}

	sentinel := points[0].Payload
	sentinel.ChunkID = ""
	sentinel.ChunkIndex = chunk.SentinelIndex
	sentinel.Text = chunk.Join(windows, c.windowSize, c.overlap)
	docs[0] = store.Record{ID: chunk.FullDocumentID(documentID), Payload: sentinel}

	if err := c.keywords.Upsert(ctx, p.KeywordName(), docs); err != nil {
		return fmt.Errorf("keyword upsert: %w", err)
	}
	if r, ok := c.keywords.(store.Refresher); ok {
		_ = r.Refresh(ctx, p.KeywordName())
	}
	return nil
}
