package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QdrantConfig configures the Qdrant REST client.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// QdrantStore implements VectorStore against the Qdrant HTTP API. Each
// partition is a collection; point ids are UUIDv5 of the record id, which
// is kept in the payload as chunk_id.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ VectorStore = (*QdrantStore)(nil)

// NewQdrantStore creates a client. It does not contact the server.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// PointID maps a record id onto a Qdrant point id.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("jarvis-rag:"+recordID)).String()
}

type qdrantError struct {
	Status int
	Body   string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.Status, e.Body)
}

// do sends body as JSON and decodes the "result" member into out.
func (s *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &qdrantError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(envelope.Result, out)
}

func collectionPath(name string, suffix string) string {
	return "/collections/" + url.PathEscape(name) + suffix
}

func (s *QdrantStore) mapNotFound(name string, err error) error {
	if qe, ok := err.(*qdrantError); ok && qe.Status == http.StatusNotFound {
		return notFound(name)
	}
	return err
}

// EnsurePartition creates a cosine collection of size dims if absent.
func (s *QdrantStore) EnsurePartition(ctx context.Context, name string, dims int) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dims, "distance": "Cosine"},
	}
	err = s.do(ctx, http.MethodPut, collectionPath(name, ""), body, nil)
	if qe, ok := err.(*qdrantError); ok && qe.Status == http.StatusConflict {
		return nil
	}
	return err
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload Payload   `json:"payload"`
}

// Upsert writes points and waits for them to be indexed.
func (s *QdrantStore) Upsert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		p := r.Payload
		p.Roles = nonNil(p.Roles)
		p.Tags = nonNil(p.Tags)
		if p.ChunkID == "" {
			p.ChunkID = r.ID
		}
		points[i] = qdrantPoint{ID: PointID(r.ID), Vector: r.Vector, Payload: p}
	}
	err := s.do(ctx, http.MethodPut, collectionPath(name, "/points?wait=true"), map[string]any{"points": points}, nil)
	return s.mapNotFound(name, err)
}

type qdrantCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

func qdrantFilter(f Filter) map[string]any {
	var must []qdrantCondition
	if f.TenantID != "" {
		must = append(must, qdrantCondition{Key: "tenant_id", Match: map[string]any{"value": f.TenantID}})
	}
	if f.Space != "" {
		must = append(must, qdrantCondition{Key: "space", Match: map[string]any{"value": f.Space}})
	}
	if f.Filename != "" {
		must = append(must, qdrantCondition{Key: "filename", Match: map[string]any{"value": f.Filename}})
	}
	if len(f.Roles) > 0 {
		must = append(must, qdrantCondition{Key: "roles", Match: map[string]any{"any": f.Roles}})
	}
	if len(f.Tags) > 0 {
		must = append(must, qdrantCondition{Key: "tags", Match: map[string]any{"any": f.Tags}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

type qdrantScored struct {
	ID      any     `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// Search runs a filtered nearest-neighbour query.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]Hit, error) {
	if limit <= 0 {
		return []Hit{}, nil
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	var scored []qdrantScored
	if err := s.do(ctx, http.MethodPost, collectionPath(name, "/points/search"), body, &scored); err != nil {
		return nil, s.mapNotFound(name, err)
	}

	hits := make([]Hit, len(scored))
	for i, p := range scored {
		hits[i] = Hit{ID: p.Payload.ChunkID, Score: p.Score, Payload: p.Payload}
	}
	return hits, nil
}

// Fetch retrieves payloads by record id.
func (s *QdrantStore) Fetch(ctx context.Context, name string, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = PointID(id)
	}

	var points []qdrantScored
	body := map[string]any{"ids": pointIDs, "with_payload": true}
	if err := s.do(ctx, http.MethodPost, collectionPath(name, "/points"), body, &points); err != nil {
		return nil, s.mapNotFound(name, err)
	}

	out := make([]Record, len(points))
	for i, p := range points {
		out[i] = Record{ID: p.Payload.ChunkID, Payload: p.Payload}
	}
	return out, nil
}

// Count returns the exact number of points matching filter.
func (s *QdrantStore) Count(ctx context.Context, name string, filter Filter) (int, error) {
	body := map[string]any{"exact": true}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := s.do(ctx, http.MethodPost, collectionPath(name, "/points/count"), body, &result); err != nil {
		return 0, s.mapNotFound(name, err)
	}
	return result.Count, nil
}

// Exists reports whether the collection exists.
func (s *QdrantStore) Exists(ctx context.Context, name string) (bool, error) {
	err := s.do(ctx, http.MethodGet, collectionPath(name, ""), nil, nil)
	if err == nil {
		return true, nil
	}
	if qe, ok := err.(*qdrantError); ok && qe.Status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// IDs scrolls the whole collection and returns record ids, sorted.
func (s *QdrantStore) IDs(ctx context.Context, name string) ([]string, error) {
	var ids []string
	var offset any

	for {
		body := map[string]any{
			"limit":        256,
			"with_payload": []string{"chunk_id"},
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}

		var page struct {
			Points []struct {
				Payload struct {
					ChunkID string `json:"chunk_id"`
				} `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		}
		if err := s.do(ctx, http.MethodPost, collectionPath(name, "/points/scroll"), body, &page); err != nil {
			return nil, s.mapNotFound(name, err)
		}
		for _, p := range page.Points {
			ids = append(ids, p.Payload.ChunkID)
		}
		if page.NextPageOffset == nil {
			break
		}
		offset = page.NextPageOffset
	}

	sort.Strings(ids)
	return ids, nil
}

// Ping lists collections to check the server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/collections", nil, nil)
}

// Close releases idle connections.
func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
