package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bg073/jarvis-rag/internal/embed"
	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/store"
	"github.com/bg073/jarvis-rag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// DefaultSourceTimeout bounds one store call.
const DefaultSourceTimeout = 10 * time.Second

// RetrieverConfig contains the Retriever's collaborators and defaults.
type RetrieverConfig struct {
	Model    *embed.Model
	Vectors  store.VectorStore
	Keywords store.KeywordStore

	// Reranker defaults to NoOpReranker.
	Reranker Reranker

	// Metrics is optional.
	Metrics *telemetry.QueryMetrics

	SourceTimeout     time.Duration
	DefaultTenant     string
	DefaultTopK       int
	DefaultPerSourceK int
	RRFConstant       int
}

// Retriever answers hybrid queries. It is safe for concurrent use.
type Retriever struct {
	model    *embed.Model
	vectors  store.VectorStore
	keywords store.KeywordStore
	reranker Reranker
	metrics  *telemetry.QueryMetrics
	fusion   *RRFFusion

	sourceTimeout     time.Duration
	defaultTenant     string
	defaultTopK       int
	defaultPerSourceK int

	vectorBreaker  *ragerrors.CircuitBreaker
	keywordBreaker *ragerrors.CircuitBreaker
}

// NewRetriever validates cfg and applies defaults.
func NewRetriever(cfg RetrieverConfig) (*Retriever, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("%w: embedding model is required", ErrNilDependency)
	}
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if cfg.Keywords == nil {
		return nil, fmt.Errorf("%w: keyword store is required", ErrNilDependency)
	}
	if cfg.Reranker == nil {
		cfg.Reranker = &NoOpReranker{}
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = DefaultTenant
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.DefaultPerSourceK <= 0 {
		cfg.DefaultPerSourceK = DefaultPerSourceK
	}

	return &Retriever{
		model:             cfg.Model,
		vectors:           cfg.Vectors,
		keywords:          cfg.Keywords,
		reranker:          cfg.Reranker,
		metrics:           cfg.Metrics,
		fusion:            NewRRFFusionWithK(cfg.RRFConstant),
		sourceTimeout:     cfg.SourceTimeout,
		defaultTenant:     cfg.DefaultTenant,
		defaultTopK:       cfg.DefaultTopK,
		defaultPerSourceK: cfg.DefaultPerSourceK,
		vectorBreaker:     ragerrors.NewCircuitBreaker("vector"),
		keywordBreaker:    ragerrors.NewCircuitBreaker("keyword"),
	}, nil
}

// Retrieve runs q against every requested space and returns at most
// TopK results. Source failures are logged and contribute nothing; only
// request validation fails the call.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	start := time.Now()

	q, parts, err := normalizeQuery(q, r.defaultTenant, r.defaultTopK, r.defaultPerSourceK)
	if err != nil {
		return nil, err
	}
	if q.Text == "" {
		return nil, ragerrors.New(ragerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}

	lists := r.gather(ctx, q, parts)

	fused := r.fusion.Fuse(lists)
	window := RerankWindow(q.TopK)
	if len(fused) > window {
		fused = fused[:window]
	}

	results := r.rerank(ctx, q.Text, fused)
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}

	latency := time.Since(start)
	slog.Info("query_completed",
		slog.String("tenant_id", q.TenantID),
		slog.Any("spaces", q.Spaces),
		slog.Int("lists", len(lists)),
		slog.Int("candidates", len(fused)),
		slog.Int("results", len(results)),
		slog.Duration("latency", latency))

	if r.metrics != nil {
		r.metrics.Record(telemetry.QueryEvent{
			Query:       q.Text,
			Spaces:      q.Spaces,
			ResultCount: len(results),
			Latency:     latency,
			Timestamp:   start,
		})
	}

	return results, nil
}

// gather runs the per-space searches concurrently and returns their
// lists in request order, vector before keyword within a space.
func (r *Retriever) gather(ctx context.Context, q Query, parts []partition.Partition) []RankedList {
	vector := r.embedQuery(ctx, q.Text)

	slots := make([][]store.Hit, 2*len(parts))
	g, gctx := errgroup.WithContext(ctx)

	for i, p := range parts {
		filter := store.Filter{
			TenantID: q.TenantID,
			Space:    p.Space,
			Roles:    q.Roles,
			Tags:     q.Tags,
		}

		if vector != nil {
			g.Go(func() error {
				slots[2*i] = r.searchSource(gctx, ModalityVector, p, r.vectorBreaker, func(sctx context.Context) ([]store.Hit, error) {
					return r.vectors.Search(sctx, p.VectorName(), vector, filter, q.PerSourceK)
				})
				return nil
			})
		}

		g.Go(func() error {
			slots[2*i+1] = r.searchSource(gctx, ModalityKeyword, p, r.keywordBreaker, func(sctx context.Context) ([]store.Hit, error) {
				return r.keywords.Search(sctx, p.KeywordName(), q.Text, filter, q.PerSourceK)
			})
			return nil
		})
	}
	_ = g.Wait()

	lists := make([]RankedList, 0, len(slots))
	for i, p := range parts {
		if hits := slots[2*i]; len(hits) > 0 {
			lists = append(lists, RankedList{Modality: ModalityVector, Space: p.Key(), Hits: hits})
		}
		if hits := slots[2*i+1]; len(hits) > 0 {
			lists = append(lists, RankedList{Modality: ModalityKeyword, Space: p.Key(), Hits: hits})
		}
	}
	return lists
}

// embedQuery returns nil when the query cannot be embedded; the vector
// modality then sits out for every space.
func (r *Retriever) embedQuery(ctx context.Context, text string) []float32 {
	embedder, err := r.model.Get(ctx)
	if err == nil {
		var vec []float32
		vec, err = embedder.Embed(ctx, text)
		if err == nil {
			return vec
		}
	}
	warnUnavailable(ragerrors.SourceUnavailable("embedding", err))
	return nil
}

// searchSource runs one store call under the source timeout and the
// modality's breaker. A missing partition is an empty source, not a
// backend failure.
func (r *Retriever) searchSource(ctx context.Context, m Modality, p partition.Partition, cb *ragerrors.CircuitBreaker, search func(context.Context) ([]store.Hit, error)) []store.Hit {
	sctx, cancel := context.WithTimeout(ctx, r.sourceTimeout)
	defer cancel()

	hits, err := ragerrors.Guard(cb, func() ([]store.Hit, error) {
		hits, err := search(sctx)
		if errors.Is(err, store.ErrPartitionNotFound) {
			slog.Debug("search_partition_missing",
				slog.String("modality", string(m)),
				slog.String("partition", p.Key()))
			return nil, nil
		}
		return hits, err
	})
	if err != nil {
		warnUnavailable(ragerrors.SourceUnavailable(string(m)+":"+p.Key(), err))
		return nil
	}
	return hits
}

func warnUnavailable(err error) {
	slog.Warn("search_source_unavailable", ragerrors.LogAttrs(err)...)
}

// rerank scores the candidates in one batch and orders them by
// descending rerank score. Equal scores keep fused order. On reranker
// failure the fused order is returned.
func (r *Retriever) rerank(ctx context.Context, query string, fused []*FusedResult) []Result {
	results := make([]Result, len(fused))
	for i, f := range fused {
		results[i] = toResult(f)
	}
	if len(fused) == 0 {
		return results
	}

	documents := make([]string, len(fused))
	for i, f := range fused {
		documents[i] = f.Payload.Text
	}

	start := time.Now()
	reranked, err := r.reranker.Rerank(ctx, query, documents, 0)
	if err != nil {
		slog.Warn("rerank_failed_using_fused_order",
			slog.String("error", err.Error()),
			slog.Int("candidates", len(documents)))
		return results
	}

	type scored struct {
		index int
		score float64
	}
	scores := make([]scored, 0, len(reranked))
	used := make([]bool, len(results))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= len(results) || used[rr.Index] {
			continue
		}
		used[rr.Index] = true
		scores = append(scores, scored{index: rr.Index, score: rr.Score})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].index < scores[j].index
	})

	ordered := make([]Result, 0, len(results))
	for _, s := range scores {
		res := results[s.index]
		res.RerankScore = s.score
		ordered = append(ordered, res)
	}
	// Candidates the reranker did not score keep fused order at the tail.
	for i, res := range results {
		if !used[i] {
			ordered = append(ordered, res)
		}
	}

	slog.Debug("rerank_completed",
		slog.Int("candidates", len(documents)),
		slog.Duration("latency", time.Since(start)))
	return ordered
}

func toResult(f *FusedResult) Result {
	return Result{
		ID:           f.ID,
		DocumentID:   f.Payload.DocumentID,
		VectorScore:  f.VectorScore,
		KeywordScore: f.KeywordScore,
		RRFScore:     f.RRFScore,
		Text:         f.Payload.Text,
		Source: Source{
			Filename:   f.Payload.Filename,
			ChunkIndex: f.Payload.ChunkIndex,
			MIME:       f.Payload.MIME,
			Space:      f.Space,
		},
		Origin: f.Origin,
	}
}

// Close releases the reranker.
func (r *Retriever) Close() error {
	return r.reranker.Close()
}
