package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

// DefaultMaxFileSize is the largest file Runner will read (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// Ingester is the part of Coordinator the Runner needs.
type Ingester interface {
	ProcessAndIndex(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// RunnerConfig configures a bulk ingestion run.
type RunnerConfig struct {
	// Root is a file or a directory walked recursively.
	Root string

	// Template supplies tenant, uploader, space and tags for every file.
	// Its Filename and Data are ignored.
	Template IngestRequest

	// MaxFileSize defaults to DefaultMaxFileSize.
	MaxFileSize int64

	// Progress, when set, is called after each file.
	Progress func(RunnerProgress)
}

// RunnerProgress is reported after each file.
type RunnerProgress struct {
	Current int
	Total   int
	Path    string
	Err     error
}

// RunnerResult contains the outcome of a bulk ingestion.
type RunnerResult struct {
	Files    int           `json:"files"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`

	Documents []*IngestResult `json:"documents"`
}

// Runner ingests every regular file under a path, one at a time.
type Runner struct {
	ingester Ingester
}

// NewRunner creates a Runner.
func NewRunner(ingester Ingester) (*Runner, error) {
	if ingester == nil {
		return nil, fmt.Errorf("%w: ingester is required", ErrNilDependency)
	}
	return &Runner{ingester: ingester}, nil
}

// Run ingests cfg.Root. Per-file failures are counted and logged; only
// routing errors, which would fail every file, abort the run.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	paths, err := collectFiles(cfg.Root)
	if err != nil {
		return nil, err
	}

	result := &RunnerResult{Files: len(paths), Documents: []*IngestResult{}}
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc, err := r.ingestFile(ctx, path, maxSize, cfg.Template)
		switch {
		case errors.Is(err, ragerrors.ErrInvalidRouting):
			return result, err
		case err != nil:
			result.Failed++
			slog.Warn("bulk_ingest_file_failed", slog.String("path", path), slog.String("error", err.Error()))
		case doc == nil || doc.Skipped:
			result.Skipped++
		default:
			result.Indexed++
			result.Chunks += doc.Chunks
			result.Documents = append(result.Documents, doc)
		}

		if cfg.Progress != nil {
			cfg.Progress(RunnerProgress{Current: i + 1, Total: len(paths), Path: path, Err: err})
		}
	}

	result.Duration = time.Since(start)
	slog.Info("bulk_ingest_completed",
		slog.String("root", cfg.Root),
		slog.Int("files", result.Files),
		slog.Int("indexed", result.Indexed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// ingestFile returns a nil result for files skipped before ingestion.
func (r *Runner) ingestFile(ctx context.Context, path string, maxSize int64, tmpl IngestRequest) (*IngestResult, error) {
	// Lstat so symlinks are never followed
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		slog.Debug("skipping symlink", slog.String("path", path))
		return nil, nil
	}
	if info.Size() > maxSize {
		slog.Warn("skipping oversized file",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("max", maxSize))
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	req := tmpl
	req.Filename = filepath.Base(path)
	req.Data = data
	return r.ingester.ProcessAndIndex(ctx, req)
}

// collectFiles lists regular, non-hidden files under root in lexical order.
func collectFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeFileNotFound, fmt.Sprintf("cannot read %s", root), err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
