package chunk

import (
	"fmt"
	"strings"
)

// Window defaults, in characters.
const (
	DefaultWindowSize = 1000
	DefaultOverlap    = 150
)

// SentinelIndex marks the full-document record in the keyword store.
const SentinelIndex = -1

// Document is one logical upload. It is immutable once minted; re-ingesting
// the same file produces a new Document with a new ID.
type Document struct {
	ID         string
	Filename   string
	MIME       string
	TenantID   string
	UploaderID string
	Space      string
	ProjectID  string
	SubDB      string
	Tags       []string
}

// Chunk is one window of a Document's text. Roles are inferred once for
// the whole document and copied onto every chunk.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Roles      []string
}

// ID returns the deterministic chunk id for a document and index.
func ID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}

// FullDocumentID returns the record id of a document's sentinel record.
func FullDocumentID(documentID string) string {
	return documentID + fullSuffix
}

const fullSuffix = "_full"

// IsFullDocumentID reports whether id names a sentinel record.
func IsFullDocumentID(id string) bool {
	return strings.HasSuffix(id, fullSuffix)
}

// DocumentIDOf recovers the document id from a chunk or sentinel id.
func DocumentIDOf(id string) string {
	if IsFullDocumentID(id) {
		return strings.TrimSuffix(id, fullSuffix)
	}
	if i := strings.LastIndexByte(id, '_'); i > 0 {
		return id[:i]
	}
	return id
}

// Build splits text into chunks of doc. It returns nil for blank text.
func Build(doc Document, text string, roles []string, windowSize, overlap int) []*Chunk {
	windows := Split(text, windowSize, overlap)
	if len(windows) == 0 {
		return nil
	}

	chunks := make([]*Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = &Chunk{
			ID:         ID(doc.ID, i),
			DocumentID: doc.ID,
			Index:      i,
			Text:       w,
			Roles:      roles,
		}
	}
	return chunks
}
