// Package api exposes ingestion and retrieval over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bg073/jarvis-rag/internal/async"
	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/search"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Indexer is the synchronous write path and partition probe.
type Indexer interface {
	ProcessAndIndex(ctx context.Context, req index.IngestRequest) (*index.IngestResult, error)
	Ready(ctx context.Context, route partition.Route) (index.Readiness, error)
	CountByFilename(ctx context.Context, route partition.Route, filename string) (index.IndexedCounts, error)
}

// TaskQueue accepts background ingestions.
type TaskQueue interface {
	Submit(req index.IngestRequest) (string, error)
	Get(id string) (async.TaskSnapshot, bool)
	Stats() async.Stats
}

// Searcher answers hybrid queries.
type Searcher interface {
	Retrieve(ctx context.Context, q search.Query) ([]search.Result, error)
}

// Config configures a Server.
type Config struct {
	Indexer  Indexer
	Queue    TaskQueue
	Searcher Searcher

	DefaultTenant string

	// MaxUploadBytes bounds one multipart upload. Defaults to 50MB.
	MaxUploadBytes int64

	// UploadsPerSecond and UploadBurst throttle both upload routes.
	// Zero disables throttling.
	UploadsPerSecond float64
	UploadBurst      int

	// QueryTimeout bounds one /query call. Zero means no limit.
	QueryTimeout time.Duration

	Version string
}

// Server is the HTTP surface.
type Server struct {
	indexer  Indexer
	queue    TaskQueue
	searcher Searcher
	limiter  *rate.Limiter

	defaultTenant  string
	maxUploadBytes int64
	queryTimeout   time.Duration
	version        string
	started        time.Time
}

// NewServer validates cfg and applies defaults.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("%w: indexer is required", ErrNilDependency)
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("%w: queue is required", ErrNilDependency)
	}
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("%w: searcher is required", ErrNilDependency)
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = index.DefaultTenant
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		indexer:        cfg.Indexer,
		queue:          cfg.Queue,
		searcher:       cfg.Searcher,
		defaultTenant:  cfg.DefaultTenant,
		maxUploadBytes: cfg.MaxUploadBytes,
		queryTimeout:   cfg.QueryTimeout,
		version:        cfg.Version,
		started:        time.Now(),
	}
	if cfg.UploadsPerSecond > 0 {
		burst := cfg.UploadBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.UploadsPerSecond), burst)
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), logRequests())

	r.POST("/upload", s.throttle(), s.handleUpload)
	r.POST("/upload_sync", s.throttle(), s.handleUploadSync)
	r.POST("/query", s.handleQuery)
	r.GET("/ready", s.handleReady)
	r.GET("/health", s.handleHealth)
	r.GET("/tasks/:id", s.handleTask)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http_server_started", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("http_server_stopped")
	return nil
}

// throttle rejects uploads beyond the configured rate with 429.
func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			writeError(c, ragerrors.New(ragerrors.ErrCodeRateLimited, "too many uploads", nil).
				WithSuggestion("retry after a short delay"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// requestIDMiddleware propagates X-Request-ID, generating one if absent.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("requestID", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http_request",
			slog.String("request_id", c.GetString("requestID")),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

// uploadForm reads the multipart upload into an IngestRequest.
func (s *Server) uploadForm(c *gin.Context) (index.IngestRequest, error) {
	tooLarge := ragerrors.New(ragerrors.ErrCodeFileTooLarge,
		fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes), nil)
	if c.Request.ContentLength > s.maxUploadBytes {
		return index.IngestRequest{}, tooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return index.IngestRequest{}, tooLarge
		}
		return index.IngestRequest{}, ragerrors.ValidationError("invalid multipart form", err)
	}

	header, err := c.FormFile("file")
	if err != nil {
		return index.IngestRequest{}, ragerrors.ValidationError("form field \"file\" is required", err)
	}
	file, err := header.Open()
	if err != nil {
		return index.IngestRequest{}, ragerrors.ValidationError("open upload", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return index.IngestRequest{}, ragerrors.ValidationError("read upload", err)
	}

	req := index.IngestRequest{
		Filename:   header.Filename,
		Data:       data,
		TenantID:   formValue(c, "tenant_id", s.defaultTenant),
		UploaderID: formValue(c, "uploader_id", "anonymous"),
		Space:      formValue(c, "space", partition.DefaultSpace),
		Tags:       splitTags(c.PostForm("tags")),
		ProjectID:  strings.TrimSpace(c.PostForm("project_id")),
		SubDB:      strings.TrimSpace(c.PostForm("project_subdb")),
	}
	if _, err := partition.Resolve(req.Route()); err != nil {
		return index.IngestRequest{}, err
	}
	return req, nil
}

func formValue(c *gin.Context, key, fallback string) string {
	if v := strings.TrimSpace(c.PostForm(key)); v != "" {
		return v
	}
	return fallback
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
