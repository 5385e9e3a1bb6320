package store

import (
	"github.com/bg073/jarvis-rag/internal/chunk"
)

func chunkRecord(docID string, idx int, text string, vec []float32, mutate func(*Payload)) Record {
	p := Payload{
		DocumentID: docID,
		ChunkID:    chunk.ID(docID, idx),
		ChunkIndex: idx,
		Filename:   docID + ".txt",
		MIME:       "text/plain",
		TenantID:   "acme",
		UploaderID: "u-1",
		Space:      "documents",
		Roles:      []string{"employee"},
		Tags:       []string{},
		Text:       text,
	}
	if mutate != nil {
		mutate(&p)
	}
	return Record{ID: p.ChunkID, Vector: vec, Payload: p}
}

func sentinelRecord(docID, text string) Record {
	return Record{
		ID: chunk.FullDocumentID(docID),
		Payload: Payload{
			DocumentID: docID,
			ChunkIndex: chunk.SentinelIndex,
			Filename:   docID + ".txt",
			TenantID:   "acme",
			Space:      "documents",
			Roles:      []string{"employee"},
			Text:       text,
		},
	}
}
