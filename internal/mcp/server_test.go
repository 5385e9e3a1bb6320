package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/async"
	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/search"
)

type fakeQueue struct {
	mu        sync.Mutex
	submitted []index.IngestRequest
	tasks     map[string]async.TaskSnapshot
	err       error
}

func (q *fakeQueue) Submit(req index.IngestRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.submitted = append(q.submitted, req)
	return "task-1", nil
}

func (q *fakeQueue) Get(id string) (async.TaskSnapshot, bool) {
	snap, ok := q.tasks[id]
	return snap, ok
}

type fakeSearcher struct {
	got     search.Query
	results []search.Result
	err     error
}

func (s *fakeSearcher) Retrieve(_ context.Context, q search.Query) ([]search.Result, error) {
	s.got = q
	return s.results, s.err
}

type fakeReadier struct {
	got partition.Route
}

func (r *fakeReadier) Ready(_ context.Context, route partition.Route) (index.Readiness, error) {
	r.got = route
	p, err := partition.Resolve(route)
	if err != nil {
		return index.Readiness{}, err
	}
	return index.Readiness{Partition: p.Key(), VectorReady: true, KeywordReady: true}, nil
}

type fixture struct {
	server   *Server
	queue    *fakeQueue
	searcher *fakeSearcher
	readier  *fakeReadier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:    &fakeQueue{tasks: map[string]async.TaskSnapshot{}},
		searcher: &fakeSearcher{},
		readier:  &fakeReadier{},
	}
	s, err := NewServer(Config{
		Readier:      f.readier,
		Queue:        f.queue,
		Searcher:     f.searcher,
		MaxFileBytes: 64,
	})
	require.NoError(t, err)
	f.server = s
	return f
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{Queue: &fakeQueue{}, Searcher: &fakeSearcher{}})
	assert.Error(t, err)

	_, err = NewServer(Config{Readier: &fakeReadier{}, Searcher: &fakeSearcher{}})
	assert.Error(t, err)

	_, err = NewServer(Config{Readier: &fakeReadier{}, Queue: &fakeQueue{}})
	assert.Error(t, err)
}

func TestNewServer_RegistersTools(t *testing.T) {
	f := newFixture(t)
	assert.NotNil(t, f.server.MCPServer())
	assert.ElementsMatch(t, []string{"ingest", "query", "partition_ready", "task_status"}, f.server.ToolNames())
}

func TestInputSchema_ListsLegalSubDBs(t *testing.T) {
	ingest, err := inputSchema[IngestInput]()
	require.NoError(t, err)
	ready, err := inputSchema[ReadyInput]()
	require.NoError(t, err)

	for name, desc := range map[string]string{
		"ingest":          ingest.Properties["subdb"].Description,
		"partition_ready": ready.Properties["subdb"].Description,
	} {
		for _, subdb := range partition.SubDBs {
			assert.Contains(t, desc, subdb, name)
		}
	}
}

func TestInputSchema_WithoutSubDBIsUnchanged(t *testing.T) {
	schema, err := inputSchema[TaskInput]()
	require.NoError(t, err)
	assert.Contains(t, schema.Properties, "task_id")
	assert.NotContains(t, schema.Properties, "subdb")
}

func TestIngest_InlineTextAppliesDefaults(t *testing.T) {
	// Given: inline text with only a filename
	f := newFixture(t)

	// When: ingesting
	_, out, err := f.server.handleIngest(context.Background(), nil, IngestInput{
		Text:     "Quarterly planning notes.",
		Filename: "notes.txt",
		Tags:     []string{"planning"},
	})

	// Then: the request is queued with default routing
	require.NoError(t, err)
	assert.Equal(t, "accepted", out.Status)
	assert.Equal(t, "task-1", out.TaskID)
	require.Len(t, f.queue.submitted, 1)
	req := f.queue.submitted[0]
	assert.Equal(t, index.DefaultTenant, req.TenantID)
	assert.Equal(t, "mcp", req.UploaderID)
	assert.Equal(t, partition.DefaultSpace, req.Space)
	assert.Equal(t, []string{"planning"}, req.Tags)
	assert.Equal(t, []byte("Quarterly planning notes."), req.Data)
}

func TestIngest_PathReadsFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "memo.md")
	require.NoError(t, os.WriteFile(path, []byte("# Memo\nShip it."), 0o644))

	_, out, err := f.server.handleIngest(context.Background(), nil, IngestInput{
		Path:      path,
		Space:     "projects",
		ProjectID: "apollo",
		SubDB:     "memory",
	})

	require.NoError(t, err)
	assert.Equal(t, "memo.md", out.Filename)
	require.Len(t, f.queue.submitted, 1)
	assert.Equal(t, "apollo", f.queue.submitted[0].ProjectID)
	assert.Equal(t, "# Memo\nShip it.", string(f.queue.submitted[0].Data))
}

func TestIngest_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, make([]byte, 128), 0o644))

	tests := []struct {
		name  string
		input IngestInput
		code  int
	}{
		{"nothing", IngestInput{}, ErrCodeInvalidParams},
		{"both", IngestInput{Path: big, Text: "x", Filename: "x.txt"}, ErrCodeInvalidParams},
		{"text without filename", IngestInput{Text: "x"}, ErrCodeInvalidParams},
		{"missing file", IngestInput{Path: filepath.Join(dir, "nope.txt")}, ErrCodeFileNotFound},
		{"directory", IngestInput{Path: dir}, ErrCodeInvalidParams},
		{"too large", IngestInput{Path: big}, ErrCodeFileTooLarge},
		{"invalid subdb", IngestInput{Text: "x", Filename: "x.txt", ProjectID: "apollo", SubDB: "secrets"}, ErrCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.server.handleIngest(context.Background(), nil, tt.input)
			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, tt.code, mcpErr.Code)
		})
	}
	assert.Empty(t, f.queue.submitted)
}

func TestIngest_QueueFullMapsToBusy(t *testing.T) {
	f := newFixture(t)
	f.queue.err = ragerrors.New(ragerrors.ErrCodeRateLimited, "ingestion backlog is full", nil)

	_, _, err := f.server.handleIngest(context.Background(), nil, IngestInput{Text: "x", Filename: "x.txt"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeBusy, mcpErr.Code)
}

func TestQuery_PassesFieldsThrough(t *testing.T) {
	// Given: a searcher returning one result
	f := newFixture(t)
	f.searcher.results = []search.Result{{ID: "c1", Text: "Travel policy"}}

	// When: querying with every field set
	_, out, err := f.server.handleQuery(context.Background(), nil, QueryInput{
		Query:      "travel",
		TenantID:   "acme",
		UserRoles:  []string{"hr"},
		Spaces:     []string{"projects/apollo/documents"},
		Tags:       []string{"policy"},
		TopK:       3,
		PerSourceK: 10,
	})

	// Then: the query reaches the searcher unchanged
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "c1", out.Results[0].ID)
	assert.Equal(t, search.Query{
		Text:       "travel",
		TenantID:   "acme",
		Roles:      []string{"hr"},
		Spaces:     []string{"projects/apollo/documents"},
		Tags:       []string{"policy"},
		TopK:       3,
		PerSourceK: 10,
	}, f.searcher.got)
}

func TestQuery_EmptyResultsAreNotNil(t *testing.T) {
	f := newFixture(t)

	_, out, err := f.server.handleQuery(context.Background(), nil, QueryInput{Query: "anything"})

	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestQuery_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.server.handleQuery(context.Background(), nil, QueryInput{Query: "   "})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	f.searcher.err = ragerrors.SourceUnavailable("all", errors.New("down"))
	_, _, err = f.server.handleQuery(context.Background(), nil, QueryInput{Query: "travel"})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodePartitionUnavailable, mcpErr.Code)
}

func TestPartitionReady(t *testing.T) {
	f := newFixture(t)

	_, out, err := f.server.handleReady(context.Background(), nil, ReadyInput{Space: "projects", ProjectID: "apollo", SubDB: "main_progress"})

	require.NoError(t, err)
	assert.True(t, out.Ready)
	assert.Equal(t, "projects/apollo/main_progress", out.Partition)
	assert.Equal(t, partition.Route{Space: "projects", ProjectID: "apollo", SubDB: "main_progress"}, f.readier.got)
}

func TestTaskStatus(t *testing.T) {
	f := newFixture(t)
	f.queue.tasks["t-1"] = async.TaskSnapshot{ID: "t-1", State: async.StateDone, Chunks: 4}

	_, snap, err := f.server.handleTask(context.Background(), nil, TaskInput{TaskID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Chunks)

	_, _, err = f.server.handleTask(context.Background(), nil, TaskInput{TaskID: "missing"})
	assert.Error(t, err)

	_, _, err = f.server.handleTask(context.Background(), nil, TaskInput{})
	assert.Error(t, err)
}
