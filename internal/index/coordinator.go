// Package index writes documents into the vector and keyword stores and
// checks that the two stay consistent.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bg073/jarvis-rag/internal/acl"
	"github.com/bg073/jarvis-rag/internal/chunk"
	"github.com/bg073/jarvis-rag/internal/embed"
	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/store"
	"github.com/bg073/jarvis-rag/internal/telemetry"
)

// DefaultTenant is used when a request names no tenant.
const DefaultTenant = "default"

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// PartialJournal records documents left without keyword records.
type PartialJournal interface {
	RecordPartial(ctx context.Context, p telemetry.PartialEntry) error
	PendingPartials(ctx context.Context, partition string) ([]telemetry.PartialEntry, error)
	MarkRepaired(ctx context.Context, documentID string) error
}

// CoordinatorConfig contains the Coordinator's collaborators.
type CoordinatorConfig struct {
	Model       *embed.Model
	Vectors     store.VectorStore
	Keywords    store.KeywordStore
	Provisioner *store.Provisioner

	// Extractor defaults to chunk.DefaultExtractor.
	Extractor chunk.Extractor

	// Inferer defaults to acl.NewKeywordInferer().
	Inferer acl.RoleInferer

	// Journal is optional; without it partial writes are only logged.
	Journal PartialJournal

	ChunkSize     int
	ChunkOverlap  int
	DefaultTenant string

	// NewID mints document ids. Defaults to uuid.NewString.
	NewID func() string
}

// IngestRequest is one document to index.
type IngestRequest struct {
	Filename   string
	Data       []byte
	TenantID   string
	UploaderID string
	Space      string
	Tags       []string
	ProjectID  string
	SubDB      string
}

// Route returns the request's partition route.
func (r IngestRequest) Route() partition.Route {
	return partition.Route{Space: r.Space, ProjectID: r.ProjectID, SubDB: r.SubDB}
}

// IngestResult reports what ProcessAndIndex wrote.
type IngestResult struct {
	DocumentID   string   `json:"document_id,omitempty"`
	Partition    string   `json:"partition"`
	Filename     string   `json:"filename"`
	MIME         string   `json:"mime,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Chunks       int      `json:"chunks"`
	VectorPoints int      `json:"vector_points"`
	KeywordDocs  int      `json:"keyword_docs"`
	Skipped      bool     `json:"skipped"`
}

// Readiness reports whether a partition's two structures exist.
type Readiness struct {
	Partition    string `json:"partition"`
	VectorReady  bool   `json:"vector_ready"`
	KeywordReady bool   `json:"keyword_ready"`
	Error        string `json:"error,omitempty"`
}

// Ready reports whether both structures are usable.
func (r Readiness) Ready() bool {
	return r.VectorReady && r.KeywordReady
}

// Coordinator owns the write path: extract, infer roles, chunk, embed,
// then vector upsert followed by keyword upsert.
type Coordinator struct {
	model       *embed.Model
	vectors     store.VectorStore
	keywords    store.KeywordStore
	provisioner *store.Provisioner
	extractor   chunk.Extractor
	inferer     acl.RoleInferer
	journal     PartialJournal

	windowSize    int
	overlap       int
	defaultTenant string
	newID         func() string

	mu          sync.Mutex
	provisioned map[string]struct{}
}

// NewCoordinator validates cfg and applies defaults.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("%w: embedding model is required", ErrNilDependency)
	}
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if cfg.Keywords == nil {
		return nil, fmt.Errorf("%w: keyword store is required", ErrNilDependency)
	}
	if cfg.Provisioner == nil {
		cfg.Provisioner = store.NewProvisioner(0, 0)
	}
	if cfg.Extractor == nil {
		cfg.Extractor = chunk.DefaultExtractor{}
	}
	if cfg.Inferer == nil {
		cfg.Inferer = acl.NewKeywordInferer()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultWindowSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = chunk.DefaultOverlap
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = DefaultTenant
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Coordinator{
		model:         cfg.Model,
		vectors:       cfg.Vectors,
		keywords:      cfg.Keywords,
		provisioner:   cfg.Provisioner,
		extractor:     cfg.Extractor,
		inferer:       cfg.Inferer,
		journal:       cfg.Journal,
		windowSize:    cfg.ChunkSize,
		overlap:       cfg.ChunkOverlap,
		defaultTenant: cfg.DefaultTenant,
		newID:         cfg.NewID,
		provisioned:   make(map[string]struct{}),
	}, nil
}

// ProcessAndIndex indexes one document. The vector write happens first;
// if the keyword write then fails, the document is journaled as partial
// and an ERR_506_PARTIAL_INDEX error is returned with the vectors left in
// place.
func (c *Coordinator) ProcessAndIndex(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()

	p, err := partition.Resolve(req.Route())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, ragerrors.ValidationError("filename is required", nil)
	}
	tenant := strings.TrimSpace(req.TenantID)
	if tenant == "" {
		tenant = c.defaultTenant
	}

	if err := c.EnsurePartition(ctx, p); err != nil {
		return nil, err
	}

	text, mime, err := c.extractor.Extract(req.Filename, req.Data)
	if err != nil {
		slog.Warn("extraction_failed",
			slog.String("filename", req.Filename),
			slog.String("error", err.Error()))
		return nil, err
	}

	result := &IngestResult{Partition: p.Key(), Filename: req.Filename, MIME: mime}
	if strings.TrimSpace(text) == "" {
		result.Skipped = true
		slog.Info("ingest_skipped_empty",
			slog.String("filename", req.Filename),
			slog.String("partition", p.Key()))
		return result, nil
	}

	env := acl.BuildEnvelope(tenant, req.UploaderID, c.inferer.InferRoles(text))
	doc := chunk.Document{
		ID:         c.newID(),
		Filename:   req.Filename,
		MIME:       mime,
		TenantID:   env.TenantID,
		UploaderID: env.UploaderID,
		Space:      p.Space,
		ProjectID:  p.ProjectID,
		SubDB:      p.SubDB,
		Tags:       normalizeTags(req.Tags),
	}
	chunks := chunk.Build(doc, text, env.Roles, c.windowSize, c.overlap)
	result.DocumentID = doc.ID
	result.Roles = env.Roles
	result.Chunks = len(chunks)

	slog.Info("ingest_started",
		slog.String("document_id", doc.ID),
		slog.String("filename", doc.Filename),
		slog.String("partition", p.Key()),
		slog.Int("chunks", len(chunks)),
		slog.String("roles", strings.Join(env.Roles, ",")))

	vectors, err := c.embedChunks(ctx, doc.ID, chunks)
	if err != nil {
		return nil, err
	}

	points := make([]store.Record, len(chunks))
	for i, ch := range chunks {
		points[i] = store.Record{ID: ch.ID, Vector: vectors[i], Payload: chunkPayload(doc, ch)}
	}
	if err := c.vectors.Upsert(ctx, p.VectorName(), points); err != nil {
		slog.Error("vector_upsert_failed",
			slog.String("document_id", doc.ID),
			slog.String("partition", p.VectorName()),
			slog.String("error", err.Error()))
		return nil, ragerrors.New(ragerrors.ErrCodeIndexFailed, "vector upsert failed", err).
			WithDetail("document_id", doc.ID)
	}
	result.VectorPoints = len(points)
	slog.Debug("vector_upsert_done", slog.String("document_id", doc.ID), slog.Int("points", len(points)))

	docs := make([]store.Record, 0, len(chunks)+1)
	docs = append(docs, sentinelRecord(doc, env.Roles, text))
	for _, pt := range points {
		docs = append(docs, store.Record{ID: pt.ID, Payload: pt.Payload})
	}
	if err := c.keywords.Upsert(ctx, p.KeywordName(), docs); err != nil {
		return nil, c.partial(ctx, doc, p, len(chunks), err)
	}
	result.KeywordDocs = len(docs)

	if r, ok := c.keywords.(store.Refresher); ok {
		if err := r.Refresh(ctx, p.KeywordName()); err != nil {
			slog.Warn("keyword_refresh_failed",
				slog.String("partition", p.KeywordName()),
				slog.String("error", err.Error()))
		}
	}

	slog.Info("ingest_completed",
		slog.String("document_id", doc.ID),
		slog.String("partition", p.Key()),
		slog.Int("vector_points", result.VectorPoints),
		slog.Int("keyword_docs", result.KeywordDocs),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (c *Coordinator) embedChunks(ctx context.Context, docID string, chunks []*chunk.Chunk) ([][]float32, error) {
	embedder, err := c.model.Get(ctx)
	if err != nil {
		slog.Error("embedding_failed", slog.String("document_id", docID), slog.String("error", err.Error()))
		return nil, ragerrors.EmbeddingFailure(docID, err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	if err != nil {
		slog.Error("embedding_failed",
			slog.String("document_id", docID),
			slog.Int("chunks", len(texts)),
			slog.String("error", err.Error()))
		return nil, ragerrors.EmbeddingFailure(docID, err)
	}
	return vectors, nil
}

func (c *Coordinator) partial(ctx context.Context, doc chunk.Document, p partition.Partition, chunks int, cause error) error {
	slog.Error("partial_index_inconsistency",
		slog.String("document_id", doc.ID),
		slog.String("partition", p.Key()),
		slog.Int("vector_points", chunks),
		slog.String("error", cause.Error()))

	if c.journal != nil {
		entry := telemetry.PartialEntry{
			DocumentID: doc.ID,
			Partition:  p.Key(),
			Filename:   doc.Filename,
			Chunks:     chunks,
			Error:      cause.Error(),
		}
		if err := c.journal.RecordPartial(ctx, entry); err != nil {
			slog.Error("partial_journal_failed",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()))
		}
	}
	return ragerrors.PartialIndex(doc.ID, p.Key(), cause)
}

func chunkPayload(doc chunk.Document, ch *chunk.Chunk) store.Payload {
	return store.Payload{
		DocumentID: doc.ID,
		ChunkID:    ch.ID,
		ChunkIndex: ch.Index,
		Filename:   doc.Filename,
		MIME:       doc.MIME,
		TenantID:   doc.TenantID,
		UploaderID: doc.UploaderID,
		Space:      doc.Space,
		ProjectID:  doc.ProjectID,
		SubDB:      doc.SubDB,
		Roles:      ch.Roles,
		Tags:       doc.Tags,
		Text:       ch.Text,
	}
}

func sentinelRecord(doc chunk.Document, roles []string, text string) store.Record {
	return store.Record{
		ID: chunk.FullDocumentID(doc.ID),
		Payload: store.Payload{
			DocumentID: doc.ID,
			ChunkIndex: chunk.SentinelIndex,
			Filename:   doc.Filename,
			MIME:       doc.MIME,
			TenantID:   doc.TenantID,
			UploaderID: doc.UploaderID,
			Space:      doc.Space,
			ProjectID:  doc.ProjectID,
			SubDB:      doc.SubDB,
			Roles:      roles,
			Tags:       doc.Tags,
			Text:       text,
		},
	}
}

// normalizeTags trims, drops empties and de-duplicates, keeping order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// EnsurePartition creates both structures of p, retrying each through the
// provisioner. Success is memoized per partition.
func (c *Coordinator) EnsurePartition(ctx context.Context, p partition.Partition) error {
	if c.isProvisioned(p.Key()) {
		return nil
	}
	r := c.provision(ctx, p)
	if !r.Ready() {
		return ragerrors.ProvisioningError(p.Key(), errors.New(r.Error))
	}
	return nil
}

func (c *Coordinator) isProvisioned(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.provisioned[key]
	return ok
}

// provision ensures vector and keyword structures concurrently and
// reports each one's outcome.
func (c *Coordinator) provision(ctx context.Context, p partition.Partition) Readiness {
	r := Readiness{Partition: p.Key()}
	var vecErr, kwErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecErr = c.ensureVector(gctx, p)
		return nil
	})
	g.Go(func() error {
		kwErr = c.provisioner.Ensure(gctx, p.KeywordName(), func(ctx context.Context) error {
			return c.keywords.EnsurePartition(ctx, p.KeywordName())
		})
		return nil
	})
	_ = g.Wait()

	r.VectorReady = vecErr == nil
	r.KeywordReady = kwErr == nil
	if err := errors.Join(vecErr, kwErr); err != nil {
		r.Error = err.Error()
		slog.Warn("partition_not_ready",
			slog.String("partition", p.Key()),
			slog.Bool("vector_ready", r.VectorReady),
			slog.Bool("keyword_ready", r.KeywordReady),
			slog.String("error", r.Error))
		return r
	}

	c.mu.Lock()
	c.provisioned[p.Key()] = struct{}{}
	c.mu.Unlock()
	slog.Debug("partition_ready", slog.String("partition", p.Key()))
	return r
}

func (c *Coordinator) ensureVector(ctx context.Context, p partition.Partition) error {
	embedder, err := c.model.Get(ctx)
	if err != nil {
		return ragerrors.ProvisioningError(p.VectorName(), err)
	}
	dims := embedder.Dimensions()
	return c.provisioner.Ensure(ctx, p.VectorName(), func(ctx context.Context) error {
		err := c.vectors.EnsurePartition(ctx, p.VectorName(), dims)
		var mismatch store.ErrDimensionMismatch
		if errors.As(err, &mismatch) {
			return ragerrors.Permanent(err)
		}
		return err
	})
}

// Ready resolves route and provisions it if needed. Only routing errors
// are returned; provisioning failures are reported in the Readiness.
func (c *Coordinator) Ready(ctx context.Context, route partition.Route) (Readiness, error) {
	p, err := partition.Resolve(route)
	if err != nil {
		return Readiness{}, err
	}
	if c.isProvisioned(p.Key()) {
		return Readiness{Partition: p.Key(), VectorReady: true, KeywordReady: true}, nil
	}
	return c.provision(ctx, p), nil
}

// EnsureDefaults provisions each space at startup. A failing space is
// logged and reported not ready; the others continue.
func (c *Coordinator) EnsureDefaults(ctx context.Context, spaces []string) []Readiness {
	out := make([]Readiness, 0, len(spaces))
	for _, space := range spaces {
		r, err := c.Ready(ctx, partition.Route{Space: space})
		if err != nil {
			slog.Warn("default_space_invalid", slog.String("space", space), slog.String("error", err.Error()))
			out = append(out, Readiness{Partition: space, Error: err.Error()})
			continue
		}
		out = append(out, r)
	}

	ready := 0
	for _, r := range out {
		if r.Ready() {
			ready++
		}
	}
	slog.Info("default_partitions_provisioned", slog.Int("ready", ready), slog.Int("total", len(out)))
	return out
}

// IndexedCounts are per-filename record counts in each store.
type IndexedCounts struct {
	Vector  int `json:"vector"`
	Keyword int `json:"keyword"`
}

// CountByFilename counts the records for filename in route's partition.
// The keyword count includes each document's sentinel.
func (c *Coordinator) CountByFilename(ctx context.Context, route partition.Route, filename string) (IndexedCounts, error) {
	p, err := partition.Resolve(route)
	if err != nil {
		return IndexedCounts{}, err
	}
	f := store.Filter{Filename: filename}

	var counts IndexedCounts
	if counts.Vector, err = c.vectors.Count(ctx, p.VectorName(), f); err != nil {
		slog.Warn("vector_count_failed", slog.String("partition", p.VectorName()), slog.String("error", err.Error()))
		counts.Vector = 0
	}
	if counts.Keyword, err = c.keywords.Count(ctx, p.KeywordName(), f); err != nil {
		slog.Warn("keyword_count_failed", slog.String("partition", p.KeywordName()), slog.String("error", err.Error()))
		counts.Keyword = 0
	}
	return counts, nil
}
