package store

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bg073/jarvis-rag/internal/config"
)

// Backend names accepted in configuration.
const (
	VectorBackendHNSW    = "hnsw"
	VectorBackendQdrant  = "qdrant"
	KeywordBackendBleve  = "bleve"
	KeywordBackendSQLite = "sqlite"
)

// NewVectorStore opens the configured vector backend. dataDir "" keeps
// embedded backends in memory.
func NewVectorStore(cfg config.StoresConfig, dataDir string) (VectorStore, error) {
	switch cfg.VectorBackend {
	case VectorBackendHNSW, "":
		dir := ""
		if dataDir != "" {
			dir = filepath.Join(dataDir, "vectors")
		}
		return NewHNSWStore(HNSWConfig{Dir: dir})
	case VectorBackendQdrant:
		return NewQdrantStore(QdrantConfig{
			URL:     cfg.QdrantURL,
			APIKey:  cfg.QdrantAPIKey,
			Timeout: config.Duration(cfg.QdrantTimeout, 10*time.Second),
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, qdrant)", cfg.VectorBackend)
	}
}

// NewKeywordStore opens the configured keyword backend.
func NewKeywordStore(cfg config.StoresConfig, dataDir string) (KeywordStore, error) {
	dir := ""
	if dataDir != "" {
		dir = filepath.Join(dataDir, "keyword")
	}
	switch cfg.KeywordBackend {
	case KeywordBackendBleve, "":
		return NewBleveStore(dir)
	case KeywordBackendSQLite:
		return NewSQLiteStore(dir)
	default:
		return nil, fmt.Errorf("unknown keyword backend: %s (valid options: bleve, sqlite)", cfg.KeywordBackend)
	}
}
