package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bg073/jarvis-rag/internal/async"
	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/search"
	"github.com/bg073/jarvis-rag/pkg/version"
)

// DefaultMaxFileBytes bounds a file read by the ingest tool.
const DefaultMaxFileBytes int64 = 50 << 20

// Readier probes and provisions partitions.
type Readier interface {
	Ready(ctx context.Context, route partition.Route) (index.Readiness, error)
}

// TaskQueue accepts background ingestions.
type TaskQueue interface {
	Submit(req index.IngestRequest) (string, error)
	Get(id string) (async.TaskSnapshot, bool)
}

// Searcher answers hybrid queries.
type Searcher interface {
	Retrieve(ctx context.Context, q search.Query) ([]search.Result, error)
}

// Config configures a Server.
type Config struct {
	Readier  Readier
	Queue    TaskQueue
	Searcher Searcher

	DefaultTenant string
	MaxFileBytes  int64
	Logger        *slog.Logger
}

// Server is the MCP tool surface.
type Server struct {
	mcp      *mcp.Server
	readier  Readier
	queue    TaskQueue
	searcher Searcher
	logger   *slog.Logger

	defaultTenant string
	maxFileBytes  int64
}

// NewServer creates an MCP server with all tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Readier == nil {
		return nil, errors.New("partition readier is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("task queue is required")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tenant := cfg.DefaultTenant
	if tenant == "" {
		tenant = index.DefaultTenant
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	s := &Server{
		readier:       cfg.Readier,
		queue:         cfg.Queue,
		searcher:      cfg.Searcher,
		logger:        logger,
		defaultTenant: tenant,
		maxFileBytes:  maxBytes,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "jarvis-rag",
		Version: version.Version,
	}, nil)
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ToolNames lists the registered tools.
func (s *Server) ToolNames() []string {
	return []string{"ingest", "query", "partition_ready", "task_status"}
}

func (s *Server) registerTools() error {
	ingestSchema, err := inputSchema[IngestInput]()
	if err != nil {
		return err
	}
	readySchema, err := inputSchema[ReadyInput]()
	if err != nil {
		return err
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest",
		Description: "Queue a document for indexing. Pass a local path, or inline text with a filename. Returns a task id to poll with task_status.",
		InputSchema: ingestSchema,
	}, s.handleIngest)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query",
		Description: "Hybrid search over indexed documents. Combines semantic and keyword retrieval, then reranks. Results are filtered by tenant, caller roles and tags.",
	}, s.handleQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "partition_ready",
		Description: "Provision a partition if needed and report whether its vector and keyword structures exist.",
		InputSchema: readySchema,
	}, s.handleReady)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "task_status",
		Description: "Report the state of an ingestion task returned by the ingest tool.",
	}, s.handleTask)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(s.ToolNames())))
	return nil
}

func (s *Server) handleIngest(_ context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	req, err := s.ingestRequest(input)
	if err != nil {
		return nil, IngestOutput{}, MapError(err)
	}

	id, err := s.queue.Submit(req)
	if err != nil {
		return nil, IngestOutput{}, MapError(err)
	}
	s.logger.Info("mcp_ingest_accepted",
		slog.String("task_id", id),
		slog.String("filename", req.Filename))
	return nil, IngestOutput{Status: "accepted", TaskID: id, Filename: req.Filename}, nil
}

func (s *Server) ingestRequest(input IngestInput) (index.IngestRequest, error) {
	path := strings.TrimSpace(input.Path)
	if path != "" && input.Text != "" {
		return index.IngestRequest{}, NewInvalidParamsError("path and text are mutually exclusive")
	}

	req := index.IngestRequest{
		Filename:   strings.TrimSpace(input.Filename),
		TenantID:   orDefault(input.TenantID, s.defaultTenant),
		UploaderID: orDefault(input.UploaderID, "mcp"),
		Space:      orDefault(input.Space, partition.DefaultSpace),
		ProjectID:  strings.TrimSpace(input.ProjectID),
		SubDB:      strings.TrimSpace(input.SubDB),
		Tags:       input.Tags,
	}

	switch {
	case path != "":
		data, err := s.readFile(path)
		if err != nil {
			return index.IngestRequest{}, err
		}
		req.Data = data
		if req.Filename == "" {
			req.Filename = filepath.Base(path)
		}
	case input.Text != "":
		if req.Filename == "" {
			return index.IngestRequest{}, NewInvalidParamsError("filename is required with inline text")
		}
		req.Data = []byte(input.Text)
	default:
		return index.IngestRequest{}, NewInvalidParamsError("one of path or text is required")
	}

	if _, err := partition.Resolve(req.Route()); err != nil {
		return index.IngestRequest{}, err
	}
	return req, nil
}

func (s *Server) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ragerrors.New(ragerrors.ErrCodeFileNotFound, "file not found: "+path, err)
		}
		return nil, ragerrors.Wrap(ragerrors.ErrCodeInvalidInput, err)
	}
	if info.IsDir() {
		return nil, NewInvalidParamsError("path is a directory: " + path)
	}
	if info.Size() > s.maxFileBytes {
		return nil, ragerrors.New(ragerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s is %d bytes, limit %d", path, info.Size(), s.maxFileBytes), nil)
	}
	return os.ReadFile(path)
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	start := time.Now()
	requestID := uuid.NewString()[:8]
	results, err := s.searcher.Retrieve(ctx, input.query())
	if err != nil {
		s.logger.Error("mcp_query_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, QueryOutput{}, MapError(err)
	}
	if results == nil {
		results = []search.Result{}
	}

	s.logger.Info("mcp_query_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(results)))
	return nil, QueryOutput{Results: results}, nil
}

func (s *Server) handleReady(ctx context.Context, _ *mcp.CallToolRequest, input ReadyInput) (
	*mcp.CallToolResult,
	ReadyOutput,
	error,
) {
	readiness, err := s.readier.Ready(ctx, partition.Route{
		Space:     input.Space,
		ProjectID: input.ProjectID,
		SubDB:     input.SubDB,
	})
	if err != nil {
		return nil, ReadyOutput{}, MapError(err)
	}
	return nil, ReadyOutput{Readiness: readiness, Ready: readiness.Ready()}, nil
}

func (s *Server) handleTask(_ context.Context, _ *mcp.CallToolRequest, input TaskInput) (
	*mcp.CallToolResult,
	async.TaskSnapshot,
	error,
) {
	id := strings.TrimSpace(input.TaskID)
	if id == "" {
		return nil, async.TaskSnapshot{}, NewInvalidParamsError("task_id is required")
	}
	snap, ok := s.queue.Get(id)
	if !ok {
		return nil, async.TaskSnapshot{}, NewInvalidParamsError("unknown task " + id)
	}
	return nil, snap, nil
}

// Run serves the tools over stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
