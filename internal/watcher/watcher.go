package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
)

// Operation is the coalesced kind of an inbox event.
type Operation int

const (
	// OpWrite covers create, write and rename-into events.
	OpWrite Operation = iota
	// OpRemove covers remove and rename-away events.
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change in the inbox.
type FileEvent struct {
	// Path is the absolute path of the file.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Submitter queues a document for background ingestion.
type Submitter interface {
	Submit(req index.IngestRequest) (string, error)
}

// Defaults.
const (
	DefaultDebounce     = 500 * time.Millisecond
	DefaultMaxFileBytes = int64(50 << 20)
)

// DefaultIgnorePatterns skip editor swap files and partial downloads.
var DefaultIgnorePatterns = []string{".*", "~$*", "*~", "*.tmp", "*.part", "*.crdownload", "*.swp"}

// Options configures an Inbox.
type Options struct {
	Dir string

	// Routing applied to every file dropped into Dir.
	Space      string
	ProjectID  string
	SubDB      string
	TenantID   string
	UploaderID string
	Tags       []string

	// Debounce is the quiet period before a batch is submitted.
	Debounce time.Duration

	// IgnorePatterns are filepath.Match globs tested against base names.
	// Defaults to DefaultIgnorePatterns.
	IgnorePatterns []string

	MaxFileBytes int64

	// ScanExisting submits files already present when Run starts.
	ScanExisting bool
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Space == "" {
		o.Space = partition.DefaultSpace
	}
	if o.TenantID == "" {
		o.TenantID = index.DefaultTenant
	}
	if o.UploaderID == "" {
		o.UploaderID = "inbox"
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = DefaultIgnorePatterns
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = DefaultMaxFileBytes
	}
	return o
}

// Stats counts inbox outcomes.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

// Inbox watches a directory and submits every file that settles in it.
type Inbox struct {
	submitter Submitter
	opts      Options
	dir       string
	debouncer *Debouncer

	submitted atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

// NewInbox validates the routing and prepares the inbox directory.
func NewInbox(submitter Submitter, opts Options) (*Inbox, error) {
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("inbox directory is required")
	}
	opts = opts.WithDefaults()

	route := partition.Route{Space: opts.Space, ProjectID: opts.ProjectID, SubDB: opts.SubDB}
	if _, err := partition.Resolve(route); err != nil {
		return nil, err
	}
	for _, p := range opts.IgnorePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve inbox path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}

	return &Inbox{
		submitter: submitter,
		opts:      opts,
		dir:       dir,
		debouncer: NewDebouncer(opts.Debounce),
	}, nil
}

// Dir returns the absolute inbox path.
func (w *Inbox) Dir() string {
	return w.dir
}

// Stats returns a snapshot of the outcome counters.
func (w *Inbox) Stats() Stats {
	return Stats{
		Submitted: w.submitted.Load(),
		Skipped:   w.skipped.Load(),
		Failed:    w.failed.Load(),
	}
}

// Run watches the inbox until ctx is canceled. Pending events that have
// not settled when ctx ends are dropped.
func (w *Inbox) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	defer w.debouncer.Stop()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	slog.Info("inbox_watching",
		slog.String("dir", w.dir),
		slog.String("space", w.opts.Space),
		slog.String("tenant_id", w.opts.TenantID))

	if w.opts.ScanExisting {
		w.scanExisting()
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("inbox_stopped", slog.String("dir", w.dir))
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("inbox_watch_error", slog.String("error", err.Error()))
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return nil
			}
			w.process(batch)
		}
	}
}

func (w *Inbox) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Warn("inbox_scan_failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !w.ignored(e.Name()) {
			w.debouncer.Add(FileEvent{
				Path:      filepath.Join(w.dir, e.Name()),
				Operation: OpWrite,
				Timestamp: time.Now(),
			})
		}
	}
}

func (w *Inbox) handleEvent(event fsnotify.Event) {
	if w.ignored(filepath.Base(event.Name)) {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: event.Name, Operation: op, Timestamp: time.Now()})
}

func (w *Inbox) ignored(name string) bool {
	for _, p := range w.opts.IgnorePatterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (w *Inbox) process(batch []FileEvent) {
	for _, e := range batch {
		if e.Operation != OpWrite {
			continue
		}
		w.submit(e.Path)
	}
}

func (w *Inbox) submit(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		w.skipped.Add(1)
		return
	}
	if info.Size() > w.opts.MaxFileBytes {
		w.skipped.Add(1)
		slog.Warn("inbox_file_too_large",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("limit", w.opts.MaxFileBytes))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.failed.Add(1)
		slog.Warn("inbox_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	id, err := w.submitter.Submit(index.IngestRequest{
		Filename:   filepath.Base(path),
		Data:       data,
		TenantID:   w.opts.TenantID,
		UploaderID: w.opts.UploaderID,
		Space:      w.opts.Space,
		ProjectID:  w.opts.ProjectID,
		SubDB:      w.opts.SubDB,
		Tags:       w.opts.Tags,
	})
	if err != nil {
		w.failed.Add(1)
		slog.Warn("inbox_submit_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	w.submitted.Add(1)
	slog.Info("inbox_submitted", slog.String("path", path), slog.String("task_id", id))
}
