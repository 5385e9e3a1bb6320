package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"
)

const hnswExt = ".hnsw"

// HNSWConfig tunes the embedded vector graphs.
type HNSWConfig struct {
	// Dir holds one graph file pair per partition. Empty keeps everything
	// in memory.
	Dir string

	// M is max connections per layer (default: 16)
	M int

	// EfSearch is query-time search width (default: 20)
	EfSearch int
}

// HNSWStore implements VectorStore with one coder/hnsw cosine graph per
// partition. Payloads live beside the graph and are persisted with gob.
type HNSWStore struct {
	mu     sync.RWMutex
	config HNSWConfig
	parts  map[string]*hnswPartition
	closed bool
}

type hnswPartition struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	// ID mapping (string <-> uint64). Replaced records keep their old
	// graph node; it is orphaned by dropping it from keyMap.
	idMap    map[string]uint64
	keyMap   map[uint64]string
	payloads map[string]Payload
	nextKey  uint64
}

// hnswMetadata stores ID mappings and payloads for persistence.
type hnswMetadata struct {
	Dims     int
	IDMap    map[string]uint64
	NextKey  uint64
	Payloads map[string]Payload
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore opens the store, loading every partition found in cfg.Dir.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	s := &HNSWStore{config: cfg, parts: make(map[string]*hnswPartition)}
	if cfg.Dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(cfg.Dir, "*"+hnswExt+".meta"))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), hnswExt+".meta")
		p, err := s.loadPartition(strings.TrimSuffix(f, ".meta"))
		if err != nil {
			return nil, fmt.Errorf("load partition %s: %w", name, err)
		}
		s.parts[name] = p
		slog.Debug("hnsw_partition_loaded", slog.String("partition", name), slog.Int("records", len(p.idMap)))
	}
	return s, nil
}

func (s *HNSWStore) newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25
	return graph
}

func (s *HNSWStore) partition(name string) (*hnswPartition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	p, ok := s.parts[name]
	if !ok {
		return nil, notFound(name)
	}
	return p, nil
}

// EnsurePartition creates an empty graph for name if absent.
func (s *HNSWStore) EnsurePartition(_ context.Context, name string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if p, ok := s.parts[name]; ok {
		if p.dims != dims {
			return ErrDimensionMismatch{Partition: name, Expected: p.dims, Got: dims}
		}
		return nil
	}

	p := &hnswPartition{
		graph:    s.newGraph(),
		dims:     dims,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]Payload),
	}
	if err := s.save(name, p); err != nil {
		return err
	}
	s.parts[name] = p
	return nil
}

// Upsert inserts records and persists the partition.
func (s *HNSWStore) Upsert(_ context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	p, err := s.partition(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range records {
		if len(r.Vector) != p.dims {
			return ErrDimensionMismatch{Partition: name, Expected: p.dims, Got: len(r.Vector)}
		}
	}

	for _, r := range records {
		if existingKey, exists := p.idMap[r.ID]; exists {
			delete(p.keyMap, existingKey)
		}

		key := p.nextKey
		p.nextKey++

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		normalizeVectorInPlace(vec)

		p.graph.Add(hnsw.MakeNode(key, vec))
		p.idMap[r.ID] = key
		p.keyMap[key] = r.ID
		p.payloads[r.ID] = r.Payload
	}

	return s.save(name, p)
}

// Search oversamples the graph and post-filters, doubling the candidate
// count until limit hits pass the filter or the graph is exhausted.
func (s *HNSWStore) Search(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]Hit, error) {
	p, err := s.partition(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Hit{}, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(vector) != p.dims {
		return nil, ErrDimensionMismatch{Partition: name, Expected: p.dims, Got: len(vector)}
	}
	total := p.graph.Len()
	if total == 0 {
		return []Hit{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeVectorInPlace(query)

	k := limit * 4
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hits := make([]Hit, 0, limit)
		for _, node := range p.graph.Search(query, k) {
			id, ok := p.keyMap[node.Key]
			if !ok {
				continue
			}
			payload := p.payloads[id]
			if !filter.Match(payload) {
				continue
			}
			hits = append(hits, Hit{
				ID:      id,
				Score:   distanceToScore(p.graph.Distance(query, node.Value)),
				Payload: payload,
			})
			if len(hits) == limit {
				break
			}
		}

		if len(hits) >= limit || k >= total {
			return hits, nil
		}
		k *= 2
	}
}

// Fetch returns payloads for ids.
func (s *HNSWStore) Fetch(_ context.Context, name string, ids []string) ([]Record, error) {
	p, err := s.partition(name)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if payload, ok := p.payloads[id]; ok {
			out = append(out, Record{ID: id, Payload: payload})
		}
	}
	return out, nil
}

// Count returns the number of records matching filter.
func (s *HNSWStore) Count(_ context.Context, name string, filter Filter) (int, error) {
	p, err := s.partition(name)
	if err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, payload := range p.payloads {
		if filter.Match(payload) {
			n++
		}
	}
	return n, nil
}

// Exists reports whether name has been provisioned.
func (s *HNSWStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := s.partition(name)
	if err == nil {
		return true, nil
	}
	if err == ErrClosed {
		return false, err
	}
	return false, nil
}

// IDs returns all record ids in name, sorted.
func (s *HNSWStore) IDs(_ context.Context, name string) ([]string, error) {
	p, err := s.partition(name)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.idMap))
	for id := range p.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// HNSWStats reports graph size including lazily deleted nodes.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns statistics for one partition.
func (s *HNSWStore) Stats(name string) (HNSWStats, error) {
	p, err := s.partition(name)
	if err != nil {
		return HNSWStats{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	nodes := p.graph.Len()
	return HNSWStats{ValidIDs: len(p.idMap), GraphNodes: nodes, Orphans: nodes - len(p.idMap)}, nil
}

// Ping fails only after Close.
func (s *HNSWStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.parts = nil
	return nil
}

// save writes the graph and metadata with temp file + rename. The caller
// holds p.mu or owns p exclusively.
func (s *HNSWStore) save(name string, p *hnswPartition) error {
	if s.config.Dir == "" {
		return nil
	}
	base := filepath.Join(s.config.Dir, name+hnswExt)

	if p.graph.Len() > 0 {
		if err := writeAtomic(base, func(f *os.File) error { return p.graph.Export(f) }); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
	}

	meta := hnswMetadata{Dims: p.dims, IDMap: p.idMap, NextKey: p.nextKey, Payloads: p.payloads}
	if err := writeAtomic(base+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func (s *HNSWStore) loadPartition(path string) (*hnswPartition, error) {
	mf, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = mf.Close() }()

	var meta hnswMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}

	graph := s.newGraph()
	if len(meta.IDMap) > 0 {
		gf, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open index file: %w", err)
		}
		defer func() { _ = gf.Close() }()

		// coder/hnsw Import requires io.ByteReader
		if err := graph.Import(bufio.NewReader(gf)); err != nil {
			return nil, fmt.Errorf("import graph: %w", err)
		}
	}

	p := &hnswPartition{
		graph:    graph,
		dims:     meta.Dims,
		idMap:    meta.IDMap,
		keyMap:   make(map[uint64]string, len(meta.IDMap)),
		payloads: meta.Payloads,
		nextKey:  meta.NextKey,
	}
	if p.idMap == nil {
		p.idMap = make(map[string]uint64)
	}
	if p.payloads == nil {
		p.payloads = make(map[string]Payload)
	}
	for id, key := range p.idMap {
		p.keyMap[key] = id
	}
	return p, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance (0 identical, 2 opposite) to
// cosine similarity.
func distanceToScore(distance float32) float64 {
	return 1.0 - float64(distance)
}
