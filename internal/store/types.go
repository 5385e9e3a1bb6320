package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bg073/jarvis-rag/internal/chunk"
)

// Payload is the metadata stored with every record in both stores.
type Payload struct {
	DocumentID string   `json:"document_id"`
	ChunkID    string   `json:"chunk_id,omitempty"`
	ChunkIndex int      `json:"chunk_index"`
	Filename   string   `json:"filename"`
	MIME       string   `json:"mime,omitempty"`
	TenantID   string   `json:"tenant_id"`
	UploaderID string   `json:"uploader_id,omitempty"`
	Space      string   `json:"space"`
	ProjectID  string   `json:"project_id,omitempty"`
	SubDB      string   `json:"subdb,omitempty"`
	Roles      []string `json:"roles"`
	Tags       []string `json:"tags"`
	Text       string   `json:"text"`
}

// IsSentinel reports whether p describes a full-document record.
func (p Payload) IsSentinel() bool {
	return p.ChunkIndex == chunk.SentinelIndex
}

// Record is one indexed unit. Vector is nil for keyword-only records.
type Record struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a search result from either store.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts searches and counts.
//
// TenantID and Space match exactly. Roles and Tags match when the record
// carries any of the listed values; an empty list places no constraint.
// Filename is only used by counting.
type Filter struct {
	TenantID string
	Space    string
	Roles    []string
	Tags     []string
	Filename string
}

// Match reports whether p satisfies f.
func (f Filter) Match(p Payload) bool {
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if f.Space != "" && p.Space != f.Space {
		return false
	}
	if f.Filename != "" && p.Filename != f.Filename {
		return false
	}
	if len(f.Roles) > 0 && !anyOf(p.Roles, f.Roles) {
		return false
	}
	if len(f.Tags) > 0 && !anyOf(p.Tags, f.Tags) {
		return false
	}
	return true
}

func anyOf(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// VectorStore holds dense vectors, one collection per partition.
type VectorStore interface {
	// EnsurePartition creates the collection if absent. Idempotent.
	EnsurePartition(ctx context.Context, name string, dims int) error

	// Upsert writes records, replacing any with the same ID.
	Upsert(ctx context.Context, name string, records []Record) error

	// Search returns up to limit hits ordered by descending similarity.
	Search(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]Hit, error)

	// Fetch returns the stored payloads of ids. Unknown ids are skipped.
	Fetch(ctx context.Context, name string, ids []string) ([]Record, error)

	Count(ctx context.Context, name string, filter Filter) (int, error)
	Exists(ctx context.Context, name string) (bool, error)
	IDs(ctx context.Context, name string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// KeywordStore holds analyzed text, one index per partition.
type KeywordStore interface {
	// EnsurePartition creates the index if absent. Idempotent.
	EnsurePartition(ctx context.Context, name string) error

	// Upsert writes records in one batch, replacing any with the same ID.
	Upsert(ctx context.Context, name string, records []Record) error

	// Search returns up to limit hits ordered by descending relevance.
	Search(ctx context.Context, name string, query string, filter Filter, limit int) ([]Hit, error)

	Count(ctx context.Context, name string, filter Filter) (int, error)
	Exists(ctx context.Context, name string) (bool, error)
	IDs(ctx context.Context, name string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Refresher is implemented by keyword backends whose writes become
// visible to search only after an explicit refresh.
type Refresher interface {
	Refresh(ctx context.Context, name string) error
}

// ErrPartitionNotFound is returned for operations on a partition that was
// never provisioned.
var ErrPartitionNotFound = errors.New("partition not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store is closed")

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Partition string
	Expected  int
	Got       int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: expected %d, got %d", e.Partition, e.Expected, e.Got)
}
