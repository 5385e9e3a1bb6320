package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Version       int              `yaml:"version" json:"version"`
	DataDir       string           `yaml:"data_dir" json:"data_dir"`
	DefaultTenant string           `yaml:"default_tenant" json:"default_tenant"`
	Chunk         ChunkConfig      `yaml:"chunk" json:"chunk"`
	Embeddings    EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Stores        StoresConfig     `yaml:"stores" json:"stores"`
	Provision     ProvisionConfig  `yaml:"provision" json:"provision"`
	Search        SearchConfig     `yaml:"search" json:"search"`
	Ingest        IngestConfig     `yaml:"ingest" json:"ingest"`
	Server        ServerConfig     `yaml:"server" json:"server"`
	Watch         WatchConfig      `yaml:"watch" json:"watch"`
}

// ChunkConfig configures the character window chunker.
type ChunkConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	// CacheSize is the LRU size for query embeddings. 0 disables caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// RequestsPerSecond paces calls to the embedding server. 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// StoresConfig selects and configures the two index backends.
type StoresConfig struct {
	// VectorBackend is "hnsw" (embedded) or "qdrant".
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`
	// KeywordBackend is "bleve" (embedded) or "sqlite" (FTS5).
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`
	QdrantURL      string `yaml:"qdrant_url" json:"qdrant_url"`
	QdrantAPIKey   string `yaml:"qdrant_api_key" json:"-"`
	QdrantTimeout  string `yaml:"qdrant_timeout" json:"qdrant_timeout"`
}

// ProvisionConfig bounds partition creation and startup readiness.
type ProvisionConfig struct {
	Attempts             int      `yaml:"attempts" json:"attempts"`
	Backoff              string   `yaml:"backoff" json:"backoff"`
	VectorReadyAttempts  int      `yaml:"vector_ready_attempts" json:"vector_ready_attempts"`
	VectorReadyInterval  string   `yaml:"vector_ready_interval" json:"vector_ready_interval"`
	KeywordReadyAttempts int      `yaml:"keyword_ready_attempts" json:"keyword_ready_attempts"`
	KeywordReadyInterval string   `yaml:"keyword_ready_interval" json:"keyword_ready_interval"`
	DefaultSpaces        []string `yaml:"default_spaces" json:"default_spaces"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	TopK          int            `yaml:"top_k" json:"top_k"`
	PerSourceK    int            `yaml:"per_source_k" json:"per_source_k"`
	SourceTimeout string         `yaml:"source_timeout" json:"source_timeout"`
	QueryTimeout  string         `yaml:"query_timeout" json:"query_timeout"`
	Reranker      RerankerConfig `yaml:"reranker" json:"reranker"`
}

// RerankerConfig configures the cross-encoder.
type RerankerConfig struct {
	// Provider is "http", "lexical", or "none".
	Provider string `yaml:"provider" json:"provider"`
	URL      string `yaml:"url" json:"url"`
	Model    string `yaml:"model" json:"model"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// IngestConfig configures the background ingestion queue and upload limits.
type IngestConfig struct {
	Workers          int     `yaml:"workers" json:"workers"`
	StatusCapacity   int     `yaml:"status_capacity" json:"status_capacity"`
	MaxUploadMB      int     `yaml:"max_upload_mb" json:"max_upload_mb"`
	UploadsPerSecond float64 `yaml:"uploads_per_second" json:"uploads_per_second"`
	UploadBurst      int     `yaml:"upload_burst" json:"upload_burst"`
}

// ServerConfig configures the HTTP surface and logging.
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr" json:"http_addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
}

// WatchConfig configures the inbox directory watcher.
type WatchConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Dir        string   `yaml:"dir" json:"dir"`
	Space      string   `yaml:"space" json:"space"`
	TenantID   string   `yaml:"tenant_id" json:"tenant_id"`
	UploaderID string   `yaml:"uploader_id" json:"uploader_id"`
	Tags       []string `yaml:"tags" json:"tags"`
	Debounce   string   `yaml:"debounce" json:"debounce"`
}

// DefaultSpaces are provisioned at startup.
var DefaultSpaces = []string{"documents", "employees", "decisions", "memory", "projects"}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}

	return &Config{
		Version:       1,
		DataDir:       defaultDataDir(),
		DefaultTenant: "default",
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 150,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "bge-m3",
			Dimensions: 1024,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			Timeout:    "60s",
			CacheSize:  1000,
		},
		Stores: StoresConfig{
			VectorBackend:  "hnsw",
			KeywordBackend: "bleve",
			QdrantURL:      "http://localhost:6333",
			QdrantTimeout:  "10s",
		},
		Provision: ProvisionConfig{
			Attempts:             10,
			Backoff:              "2s",
			VectorReadyAttempts:  15,
			VectorReadyInterval:  "2s",
			KeywordReadyAttempts: 30,
			KeywordReadyInterval: "1s",
			DefaultSpaces:        append([]string(nil), DefaultSpaces...),
		},
		Search: SearchConfig{
			TopK:          20,
			PerSourceK:    50,
			SourceTimeout: "10s",
			QueryTimeout:  "30s",
			Reranker: RerankerConfig{
				Provider: "lexical",
				URL:      "http://localhost:9659",
				Model:    "BAAI/bge-reranker-large",
				Timeout:  "30s",
			},
		},
		Ingest: IngestConfig{
			Workers:          workers,
			StatusCapacity:   1024,
			MaxUploadMB:      50,
			UploadsPerSecond: 5,
			UploadBurst:      10,
		},
		Server: ServerConfig{
			HTTPAddr:  ":8000",
			LogLevel:  "info",
			LogFormat: "auto",
		},
		Watch: WatchConfig{
			Space:      "documents",
			TenantID:   "default",
			UploaderID: "inbox",
			Debounce:   "500ms",
		},
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// defaultDataDir returns ~/.jarvis-rag/data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".jarvis-rag", "data")
	}
	return filepath.Join(home, ".jarvis-rag", "data")
}

// ConfigFileNames are searched in the working directory when no path is given.
var ConfigFileNames = []string{"jarvis-rag.yaml", "jarvis-rag.yml"}

// Load builds the configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. YAML file (explicit path, or jarvis-rag.yaml in dir)
//  3. .env in dir (never overrides variables already set)
//  4. Environment variables
func Load(dir, path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			if fileExists(candidate) {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	envPath := filepath.Join(dir, ".env")
	if fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Watch.Dir = expandHome(cfg.Watch.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML overlays the file onto c. Keys absent from the file keep their
// current values.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variables (highest precedence).
// Names match the deployment's existing .env files.
func (c *Config) applyEnvOverrides() {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("JARVIS_DATA_DIR", &c.DataDir)
	setString("DEFAULT_TENANT", &c.DefaultTenant)
	setInt("CHUNK_SIZE_TOKENS", &c.Chunk.Size)
	setInt("CHUNK_OVERLAP_TOKENS", &c.Chunk.Overlap)

	setString("EMBED_PROVIDER", &c.Embeddings.Provider)
	setString("EMBEDDING_MODEL", &c.Embeddings.Model)
	setInt("EMBEDDING_DIM", &c.Embeddings.Dimensions)
	setString("OLLAMA_HOST", &c.Embeddings.OllamaHost)

	setString("VECTOR_BACKEND", &c.Stores.VectorBackend)
	setString("KEYWORD_BACKEND", &c.Stores.KeywordBackend)
	setString("QDRANT_URL", &c.Stores.QdrantURL)
	setString("QDRANT_API_KEY", &c.Stores.QdrantAPIKey)
	if v := os.Getenv("QDRANT_TIMEOUT"); v != "" {
		// bare numbers are seconds
		if n, err := strconv.Atoi(v); err == nil {
			c.Stores.QdrantTimeout = (time.Duration(n) * time.Second).String()
		} else {
			c.Stores.QdrantTimeout = v
		}
	}

	setString("RERANKER_PROVIDER", &c.Search.Reranker.Provider)
	setString("RERANKER_URL", &c.Search.Reranker.URL)
	setString("RERANKER_MODEL", &c.Search.Reranker.Model)

	setString("JARVIS_HTTP_ADDR", &c.Server.HTTPAddr)
	setString("JARVIS_LOG_LEVEL", &c.Server.LogLevel)
	setInt("JARVIS_INGEST_WORKERS", &c.Ingest.Workers)
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 {
		return fmt.Errorf("chunk.overlap must be non-negative, got %d", c.Chunk.Overlap)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	if err := oneOf("embeddings.provider", c.Embeddings.Provider, "ollama", "static"); err != nil {
		return err
	}
	if err := oneOf("stores.vector_backend", c.Stores.VectorBackend, "hnsw", "qdrant"); err != nil {
		return err
	}
	if err := oneOf("stores.keyword_backend", c.Stores.KeywordBackend, "bleve", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("search.reranker.provider", c.Search.Reranker.Provider, "http", "lexical", "none"); err != nil {
		return err
	}
	if err := oneOf("server.log_level", c.Server.LogLevel, "debug", "info", "warn", "error"); err != nil {
		return err
	}

	if c.Search.TopK <= 0 || c.Search.PerSourceK <= 0 {
		return fmt.Errorf("search.top_k and search.per_source_k must be positive")
	}
	if c.Provision.Attempts <= 0 {
		return fmt.Errorf("provision.attempts must be positive, got %d", c.Provision.Attempts)
	}
	if c.Watch.Enabled && c.Watch.Dir == "" {
		return fmt.Errorf("watch.dir is required when watch.enabled is true")
	}

	for name, v := range map[string]string{
		"embeddings.timeout":               c.Embeddings.Timeout,
		"stores.qdrant_timeout":            c.Stores.QdrantTimeout,
		"provision.backoff":                c.Provision.Backoff,
		"provision.vector_ready_interval":  c.Provision.VectorReadyInterval,
		"provision.keyword_ready_interval": c.Provision.KeywordReadyInterval,
		"search.source_timeout":            c.Search.SourceTimeout,
		"search.query_timeout":             c.Search.QueryTimeout,
		"search.reranker.timeout":          c.Search.Reranker.Timeout,
		"watch.debounce":                   c.Watch.Debounce,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// Duration parses s, returning fallback when s is empty or invalid.
// Validate has already rejected invalid values for loaded configs.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
