package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// TextTokenizerName is the name of the registered text tokenizer.
	TextTokenizerName = "jarvis_text_tokenizer"

	// TextStopFilterName is the name of the registered stop word filter.
	TextStopFilterName = "jarvis_stop"

	// TextAnalyzerName is the analyzer applied to the text field.
	TextAnalyzerName = "jarvis_text"

	bleveExt = ".bleve"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TextStopFilterName, textStopFilterConstructor)
}

// BleveStore implements KeywordStore with one Bleve index per partition.
type BleveStore struct {
	mu      sync.RWMutex
	dir     string
	indexes map[string]bleve.Index
	closed  bool
}

var _ KeywordStore = (*BleveStore)(nil)

// NewBleveStore opens every index under dir. An empty dir keeps indexes
// in memory.
func NewBleveStore(dir string) (*BleveStore, error) {
	s := &BleveStore{dir: dir, indexes: make(map[string]bleve.Index)}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create keyword dir: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+bleveExt))
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), bleveExt)
		idx, err := openBleve(path)
		if err != nil {
			return nil, fmt.Errorf("open keyword index %s: %w", name, err)
		}
		s.indexes[name] = idx
	}
	return s, nil
}

// validateIndexIntegrity checks that a Bleve index directory has a
// readable index_meta.json.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// openBleve opens path, creating it when absent. A corrupt index is
// cleared and recreated empty; reconcile cannot restore it, so the loss
// is logged at error level.
func openBleve(path string) (bleve.Index, error) {
	im, err := newIndexMapping()
	if err != nil {
		return nil, err
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Error("keyword_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w", path, err)
		}
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}
	return idx, nil
}

// newIndexMapping analyzes text with the registered text analyzer and
// indexes filter fields as exact keywords. The full payload is stored
// but not indexed.
func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer(TextAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     TextTokenizerName,
		"token_filters": []string{TextStopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = TextAnalyzerName
	text.Store = false
	doc.AddFieldMappingsAt("text", text)

	for _, field := range []string{"tenant_id", "space", "filename", "document_id", "roles", "tags"} {
		kw := bleve.NewKeywordFieldMapping()
		kw.Store = false
		kw.IncludeInAll = false
		doc.AddFieldMappingsAt(field, kw)
	}

	payload := bleve.NewTextFieldMapping()
	payload.Index = false
	payload.Store = true
	payload.IncludeInAll = false
	payload.IncludeTermVectors = false
	doc.AddFieldMappingsAt("payload", payload)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = TextAnalyzerName
	return im, nil
}

func (s *BleveStore) index(name string) (bleve.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	idx, ok := s.indexes[name]
	if !ok {
		return nil, notFound(name)
	}
	return idx, nil
}

// EnsurePartition creates the index for name if absent.
func (s *BleveStore) EnsurePartition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.indexes[name]; ok {
		return nil
	}

	var idx bleve.Index
	var err error
	if s.dir == "" {
		var im *mapping.IndexMappingImpl
		if im, err = newIndexMapping(); err == nil {
			idx, err = bleve.NewMemOnly(im)
		}
	} else {
		idx, err = openBleve(filepath.Join(s.dir, name+bleveExt))
	}
	if err != nil {
		return err
	}
	s.indexes[name] = idx
	return nil
}

// Upsert indexes records in one batch.
func (s *BleveStore) Upsert(_ context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	idx, err := s.index(name)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, r := range records {
		doc, err := bleveDocument(r.Payload)
		if err != nil {
			return err
		}
		if err := batch.Index(r.ID, doc); err != nil {
			return fmt.Errorf("failed to index document %s: %w", r.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func bleveDocument(p Payload) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return map[string]any{
		"text":        p.Text,
		"tenant_id":   p.TenantID,
		"space":       p.Space,
		"filename":    p.Filename,
		"document_id": p.DocumentID,
		"roles":       p.Roles,
		"tags":        p.Tags,
		"payload":     string(raw),
	}, nil
}

// filterQueries turns a Filter into Bleve clauses. Every clause carries a
// zero boost so it restricts matches without adding to the text score.
func filterQueries(f Filter) []query.Query {
	var clauses []query.Query
	term := func(field, value string) query.Query {
		q := bleve.NewTermQuery(value)
		q.SetField(field)
		q.SetBoost(0)
		return q
	}
	anyTerm := func(field string, values []string) query.Query {
		qs := make([]query.Query, len(values))
		for i, v := range values {
			qs[i] = term(field, v)
		}
		q := bleve.NewDisjunctionQuery(qs...)
		q.SetBoost(0)
		return q
	}

	if f.TenantID != "" {
		clauses = append(clauses, term("tenant_id", f.TenantID))
	}
	if f.Space != "" {
		clauses = append(clauses, term("space", f.Space))
	}
	if f.Filename != "" {
		clauses = append(clauses, term("filename", f.Filename))
	}
	if len(f.Roles) > 0 {
		clauses = append(clauses, anyTerm("roles", f.Roles))
	}
	if len(f.Tags) > 0 {
		clauses = append(clauses, anyTerm("tags", f.Tags))
	}
	return clauses
}

// Search runs a BM25 match on text constrained by filter.
func (s *BleveStore) Search(ctx context.Context, name string, q string, filter Filter, limit int) ([]Hit, error) {
	idx, err := s.index(name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q) == "" || limit <= 0 {
		return []Hit{}, nil
	}

	match := bleve.NewMatchQuery(q)
	match.SetField("text")
	clauses := append([]query.Query{match}, filterQueries(filter)...)

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(clauses...), limit, 0, false)
	req.Fields = []string{"payload"}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		var payload Payload
		if raw, ok := h.Fields["payload"].(string); ok {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return nil, fmt.Errorf("decode payload %s: %w", h.ID, err)
			}
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Payload: payload})
	}
	return hits, nil
}

// Count returns the number of records matching filter.
func (s *BleveStore) Count(ctx context.Context, name string, filter Filter) (int, error) {
	idx, err := s.index(name)
	if err != nil {
		return 0, err
	}

	clauses := filterQueries(filter)
	if len(clauses) == 0 {
		n, err := idx.DocCount()
		return int(n), err
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(clauses...), 0, 0, false)
	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return int(result.Total), nil
}

// Exists reports whether name has been provisioned.
func (s *BleveStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := s.index(name)
	if err == ErrClosed {
		return false, err
	}
	return err == nil, nil
}

// IDs returns every record id in name, sorted.
func (s *BleveStore) IDs(ctx context.Context, name string) ([]string, error) {
	idx, err := s.index(name)
	if err != nil {
		return nil, err
	}

	docCount, err := idx.DocCount()
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(docCount), 0, false)
	req.Fields = []string{}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping fails only after Close.
func (s *BleveStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close closes every index.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for name, idx := range s.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	s.indexes = nil
	return firstErr
}

func textTokenizerConstructor(_ map[string]any, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveTextTokenizer{}, nil
}

// bleveTextTokenizer applies Tokenize, so Bleve and SQLite agree on terms.
type bleveTextTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveTextTokenizer) Tokenize(input []byte) analysis.TokenStream {
	lower := strings.ToLower(string(input))
	tokens := Tokenize(lower)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for pos, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(lower) {
			offset = end
		}
	}
	return result
}

func textStopFilterConstructor(_ map[string]any, _ *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{stopWords: defaultStopWordMap}, nil
}

type bleveStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
