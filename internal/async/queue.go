package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/telemetry"
)

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("ingestion queue closed")

// EventRecorder persists task outcomes.
type EventRecorder interface {
	RecordIngest(ctx context.Context, e telemetry.IngestEvent) error
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Workers is the number of concurrent ingestions. Defaults to
	// NumCPU/2, minimum 1.
	Workers int

	// Backlog bounds tasks waiting for a worker. Defaults to 64*Workers.
	Backlog int

	// StatusCapacity bounds retained task snapshots.
	StatusCapacity int

	// Journal is optional.
	Journal EventRecorder

	// TaskTimeout bounds a single ingestion. Zero means no limit.
	TaskTimeout time.Duration
}

// Stats summarizes queue activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Running   int   `json:"running"`
	Waiting   int   `json:"waiting"`
	Submitted int64 `json:"submitted"`
	Done      int64 `json:"done"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

type job struct {
	id  string
	req index.IngestRequest
}

// Queue runs ingestion requests in the background. Submit returns as soon
// as the request is validated and queued; outcomes are visible through
// Get, the logs and the journal.
type Queue struct {
	ingester index.Ingester
	journal  EventRecorder
	timeout  time.Duration

	pool   *ants.Pool
	jobs   chan job
	status *StatusTable

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	dispatch sync.WaitGroup

	// ctx is cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue starts the worker pool.
func NewQueue(ingester index.Ingester, cfg QueueConfig) (*Queue, error) {
	if ingester == nil {
		return nil, fmt.Errorf("%w: ingester is required", index.ErrNilDependency)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() / 2
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 64 * cfg.Workers
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ingester: ingester,
		journal:  cfg.Journal,
		timeout:  cfg.TaskTimeout,
		pool:     pool,
		jobs:     make(chan job, cfg.Backlog),
		status:   NewStatusTable(cfg.StatusCapacity),
		ctx:      ctx,
		cancel:   cancel,
	}

	q.dispatch.Add(1)
	go q.dispatchLoop()
	return q, nil
}

// Submit validates the request's routing and queues it. The returned id
// identifies the task in Get.
func (q *Queue) Submit(req index.IngestRequest) (string, error) {
	p, err := partition.Resolve(req.Route())
	if err != nil {
		return "", err
	}
	if req.Filename == "" {
		return "", ragerrors.ValidationError("filename is required", nil)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	j := job{id: uuid.NewString(), req: req}
	q.status.Put(TaskSnapshot{
		ID:        j.id,
		Filename:  req.Filename,
		Partition: p.Key(),
		State:     StateQueued,
		QueuedAt:  time.Now().UTC(),
	})

	q.inflight.Add(1)
	select {
	case q.jobs <- j:
	default:
		q.inflight.Done()
		q.status.Discard(j.id)
		slog.Warn("ingest_rejected",
			slog.String("filename", req.Filename),
			slog.String("partition", p.Key()),
			slog.String("reason", "backlog full"))
		return "", ragerrors.New(ragerrors.ErrCodeRateLimited, "ingestion backlog full", nil).
			WithSuggestion("retry the upload later")
	}

	slog.Info("ingest_queued",
		slog.String("task_id", j.id),
		slog.String("filename", req.Filename),
		slog.String("partition", p.Key()))
	return j.id, nil
}

// dispatchLoop hands queued jobs to the pool. Pool.Submit blocks while
// every worker is busy, which keeps the backlog in the channel.
func (q *Queue) dispatchLoop() {
	defer q.dispatch.Done()
	for j := range q.jobs {
		j := j
		if err := q.pool.Submit(func() { q.run(j) }); err != nil {
			q.finish(j, nil, fmt.Errorf("submit to pool: %w", err))
		}
	}
}

func (q *Queue) run(j job) {
	started := time.Now().UTC()
	q.status.Update(j.id, func(s *TaskSnapshot) {
		s.State = StateRunning
		s.StartedAt = &started
	})

	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	result, err := q.ingester.ProcessAndIndex(ctx, j.req)
	q.finish(j, result, err)
}

func (q *Queue) finish(j job, result *index.IngestResult, err error) {
	defer q.inflight.Done()

	finished := time.Now().UTC()
	state := StateDone
	journalStatus := telemetry.StatusDone
	switch {
	case err != nil:
		state = StateFailed
		journalStatus = telemetry.StatusFailed
		if errors.Is(err, ragerrors.ErrPartialIndex) {
			journalStatus = telemetry.StatusPartial
		}
	case result != nil && result.Skipped:
		state = StateSkipped
		journalStatus = telemetry.StatusSkipped
	}

	var snap TaskSnapshot
	q.status.Update(j.id, func(s *TaskSnapshot) {
		s.State = state
		s.FinishedAt = &finished
		if result != nil {
			s.DocumentID = result.DocumentID
			s.Chunks = result.Chunks
		}
		if err != nil {
			s.ErrorCode = ragerrors.GetCode(err)
			s.Error = err.Error()
		}
		snap = *s
	})

	if err != nil {
		attrs := append([]any{slog.String("task_id", j.id), slog.String("filename", j.req.Filename)},
			ragerrors.LogAttrs(err)...)
		slog.Error("ingest_task_failed", attrs...)
	} else {
		slog.Info("ingest_task_finished",
			slog.String("task_id", j.id),
			slog.String("state", string(state)),
			slog.Int("chunks", snap.Chunks))
	}

	if q.journal == nil {
		return
	}
	event := telemetry.IngestEvent{
		TaskID:     j.id,
		DocumentID: snap.DocumentID,
		Filename:   j.req.Filename,
		Partition:  snap.Partition,
		Status:     journalStatus,
		Chunks:     snap.Chunks,
		CreatedAt:  finished,
	}
	if err != nil {
		event.Error = err.Error()
	}
	// The queue context may already be cancelled during shutdown.
	jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if jerr := q.journal.RecordIngest(jctx, event); jerr != nil {
		slog.Warn("ingest_journal_failed", slog.String("task_id", j.id), slog.String("error", jerr.Error()))
	}
}

// Get returns the status of a task.
func (q *Queue) Get(id string) (TaskSnapshot, bool) {
	return q.status.Get(id)
}

// Stats returns current pool usage and lifetime transition counts.
func (q *Queue) Stats() Stats {
	counts := q.status.Transitions()
	return Stats{
		Workers:   q.pool.Cap(),
		Running:   q.pool.Running(),
		Waiting:   len(q.jobs),
		Submitted: counts[StateQueued],
		Done:      counts[StateDone],
		Skipped:   counts[StateSkipped],
		Failed:    counts[StateFailed],
	}
}

// Wait blocks until every submitted task has finished or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and drains the backlog. If ctx expires
// first, running ingestions are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	err := q.Wait(ctx)
	if err != nil {
		q.cancel()
		_ = q.Wait(context.Background())
	}
	q.dispatch.Wait()
	q.cancel()
	q.pool.Release()
	return err
}
