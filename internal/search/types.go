// Package search answers hybrid queries. Each requested space is searched
// by vector similarity and by keyword relevance concurrently; the ranked
// lists are fused with Reciprocal Rank Fusion and the head of the fused
// list is reranked by a cross-encoder.
package search

import (
	"strings"

	"github.com/bg073/jarvis-rag/internal/acl"
	"github.com/bg073/jarvis-rag/internal/partition"
)

// Query defaults.
const (
	DefaultTopK       = 20
	DefaultPerSourceK = 50
	DefaultTenant     = "default"

	// MinRerankCandidates is the floor on the rerank window.
	MinRerankCandidates = 50
)

// Modality names a retrieval source type.
type Modality string

const (
	ModalityVector  Modality = "vector"
	ModalityKeyword Modality = "bm25"
)

// Query is one retrieval request.
type Query struct {
	Text string `json:"query"`

	// TenantID defaults to DefaultTenant.
	TenantID string `json:"tenant_id"`

	// Roles are the caller's acting roles. A chunk is visible when it
	// shares at least one role. Defaults to the baseline role.
	Roles []string `json:"user_roles"`

	// Spaces are partition keys: a flat space or
	// "projects/{project_id}/{subdb}". Defaults to ["documents"].
	Spaces []string `json:"spaces"`

	// Tags restrict results to chunks carrying any of them.
	Tags []string `json:"tags"`

	TopK       int `json:"top_k"`
	PerSourceK int `json:"per_source_k"`
}

// Source is where a result came from.
type Source struct {
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	MIME       string `json:"mime,omitempty"`
	Space      string `json:"space"`
}

// Result is one ranked item.
type Result struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`

	// VectorScore and KeywordScore are the raw scores of the modalities
	// that returned this item; nil when a modality did not.
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
	RRFScore     float64  `json:"rrf_score"`
	RerankScore  float64  `json:"rerank_score"`

	Text   string `json:"text"`
	Source Source `json:"source"`

	// Origin is "vector:{space}" or "bm25:{space}" of the first list that
	// produced the item.
	Origin string `json:"origin"`
}

// RerankWindow is the number of fused candidates sent to the reranker.
func RerankWindow(topK int) int {
	return max(3*topK, MinRerankCandidates)
}

// normalizeQuery applies defaults and resolves the space list. Spaces
// are lower-cased and de-duplicated in request order.
func normalizeQuery(q Query, defaultTenant string, defaultTopK, defaultPerSourceK int) (Query, []partition.Partition, error) {
	q.Text = strings.TrimSpace(q.Text)
	q.TenantID = strings.TrimSpace(q.TenantID)
	if q.TenantID == "" {
		q.TenantID = defaultTenant
	}
	q.Roles = acl.NormalizeCallerRoles(q.Roles)
	q.Tags = normalizeTags(q.Tags)
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.PerSourceK <= 0 {
		q.PerSourceK = defaultPerSourceK
	}

	spaces := q.Spaces
	if len(spaces) == 0 {
		spaces = []string{partition.DefaultSpace}
	}

	seen := make(map[string]struct{}, len(spaces))
	parts := make([]partition.Partition, 0, len(spaces))
	keys := make([]string, 0, len(spaces))
	for _, s := range spaces {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		p, err := partition.ParseKey(s)
		if err != nil {
			return q, nil, err
		}
		if _, dup := seen[p.Key()]; dup {
			continue
		}
		seen[p.Key()] = struct{}{}
		parts = append(parts, p)
		keys = append(keys, p.Key())
	}
	if len(parts) == 0 {
		p, _ := partition.Flat(partition.DefaultSpace)
		parts = append(parts, p)
		keys = append(keys, p.Key())
	}
	q.Spaces = keys
	return q, parts, nil
}

func normalizeTags(tags []string) []string {
	var out []string
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
