package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/search"
)

type uploadResponse struct {
	Status   string `json:"status"`
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
}

type uploadSyncResponse struct {
	Status     string              `json:"status"`
	DocumentID string              `json:"document_id,omitempty"`
	Partition  string              `json:"partition"`
	Chunks     int                 `json:"chunks"`
	Indexed    index.IndexedCounts `json:"indexed"`
}

type queryResponse struct {
	Results []search.Result `json:"results"`
}

// handleUpload validates routing and queues the document. Ingestion
// outcomes are reported through /tasks/{id}.
func (s *Server) handleUpload(c *gin.Context) {
	req, err := s.uploadForm(c)
	if err != nil {
		writeError(c, err)
		return
	}

	id, err := s.queue.Submit(req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, uploadResponse{Status: "accepted", TaskID: id, Filename: req.Filename})
}

// handleUploadSync indexes the document before responding and reports
// the per-filename record counts in both stores.
func (s *Server) handleUploadSync(c *gin.Context) {
	req, err := s.uploadForm(c)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.indexer.ProcessAndIndex(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	counts, err := s.indexer.CountByFilename(c.Request.Context(), req.Route(), req.Filename)
	if err != nil {
		writeError(c, err)
		return
	}

	status := "indexed"
	if res.Skipped {
		status = "skipped"
	}
	writeJSON(c, http.StatusOK, uploadSyncResponse{
		Status:     status,
		DocumentID: res.DocumentID,
		Partition:  res.Partition,
		Chunks:     res.Chunks,
		Indexed:    counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var q search.Query
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
	if err := c.ShouldBindJSON(&q); err != nil {
		writeError(c, ragerrors.ValidationError("invalid JSON body", err))
		return
	}

	ctx := c.Request.Context()
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	results, err := s.searcher.Retrieve(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(c, http.StatusOK, queryResponse{Results: results})
}

// handleReady provisions the partition if needed and reports whether
// both of its structures exist. Not-ready partitions answer 503.
func (s *Server) handleReady(c *gin.Context) {
	route := partition.Route{
		Space:     c.Query("space"),
		ProjectID: c.Query("project_id"),
		SubDB:     firstNonEmpty(c.Query("subdb"), c.Query("project_subdb")),
	}

	readiness, err := s.indexer.Ready(c.Request.Context(), route)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !readiness.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(c, status, struct {
		index.Readiness
		Ready bool `json:"ready"`
	}{readiness, readiness.Ready()})
}

func (s *Server) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"queue":   s.queue.Stats(),
	})
}

func (s *Server) handleTask(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	snap, ok := s.queue.Get(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, map[string]any{
			"error": map[string]string{
				"code":    "TASK_NOT_FOUND",
				"message": "unknown task " + id,
			},
		})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
