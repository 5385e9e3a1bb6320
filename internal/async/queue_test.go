package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/telemetry"
)

// fakeIngester returns a scripted result per filename.
type fakeIngester struct {
	mu      sync.Mutex
	results map[string]*index.IngestResult
	errs    map[string]error
	block   chan struct{}
	calls   atomic.Int32
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{
		results: make(map[string]*index.IngestResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeIngester) ProcessAndIndex(ctx context.Context, req index.IngestRequest) (*index.IngestResult, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[req.Filename]; err != nil {
		return nil, err
	}
	if r := f.results[req.Filename]; r != nil {
		return r, nil
	}
	return &index.IngestResult{DocumentID: "doc-" + req.Filename, Filename: req.Filename, Chunks: 2}, nil
}

type recordingJournal struct {
	mu     sync.Mutex
	events []telemetry.IngestEvent
}

func (r *recordingJournal) RecordIngest(_ context.Context, e telemetry.IngestEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingJournal) byFile() map[string]telemetry.IngestEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]telemetry.IngestEvent, len(r.events))
	for _, e := range r.events {
		out[e.Filename] = e
	}
	return out
}

func waitForState(t *testing.T, q *Queue, id string, want TaskState) TaskSnapshot {
	t.Helper()
	var snap TaskSnapshot
	require.Eventually(t, func() bool {
		s, ok := q.Get(id)
		snap = s
		return ok && s.State == want
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestNewQueue_RequiresIngester(t *testing.T) {
	_, err := NewQueue(nil, QueueConfig{})
	assert.ErrorIs(t, err, index.ErrNilDependency)
}

func TestQueue_SubmitRunsInBackground(t *testing.T) {
	// Given a queue with a journal
	ing := newFakeIngester()
	journal := &recordingJournal{}
	q, err := NewQueue(ing, QueueConfig{Workers: 2, Journal: journal})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	// When a document is submitted
	id, err := q.Submit(index.IngestRequest{Filename: "a.txt", Data: []byte("hello")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Then the task completes with the ingester's result
	snap := waitForState(t, q, id, StateDone)
	assert.Equal(t, "doc-a.txt", snap.DocumentID)
	assert.Equal(t, 2, snap.Chunks)
	assert.Equal(t, "documents", snap.Partition)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.FinishedAt)

	// And the outcome is journaled
	require.Eventually(t, func() bool { return len(journal.byFile()) == 1 }, time.Second, 5*time.Millisecond)
	ev := journal.byFile()["a.txt"]
	assert.Equal(t, id, ev.TaskID)
	assert.Equal(t, telemetry.StatusDone, ev.Status)
}

func TestQueue_InvalidRoutingRejectedSynchronously(t *testing.T) {
	ing := newFakeIngester()
	q, err := NewQueue(ing, QueueConfig{Workers: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	_, err = q.Submit(index.IngestRequest{Filename: "a.txt", Space: "projects", ProjectID: "p1", SubDB: "bogus"})

	assert.ErrorIs(t, err, ragerrors.ErrInvalidRouting)
	assert.Zero(t, ing.calls.Load())
}

func TestQueue_MissingFilenameRejected(t *testing.T) {
	q, err := NewQueue(newFakeIngester(), QueueConfig{Workers: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	_, err = q.Submit(index.IngestRequest{})
	assert.True(t, ragerrors.IsValidation(err))
}

func TestQueue_OutcomeStates(t *testing.T) {
	// Given an ingester that skips one file, fails one, and partially indexes one
	ing := newFakeIngester()
	ing.results["blank.txt"] = &index.IngestResult{Filename: "blank.txt", Skipped: true}
	ing.errs["bad.txt"] = ragerrors.EmbeddingFailure("d1", errors.New("model down"))
	ing.errs["half.txt"] = ragerrors.PartialIndex("d2", "documents", errors.New("bleve closed"))
	journal := &recordingJournal{}

	q, err := NewQueue(ing, QueueConfig{Workers: 2, Journal: journal})
	require.NoError(t, err)

	// When all three are submitted and the queue drains
	ids := map[string]string{}
	for _, name := range []string{"blank.txt", "bad.txt", "half.txt"} {
		id, err := q.Submit(index.IngestRequest{Filename: name})
		require.NoError(t, err)
		ids[name] = id
	}
	require.NoError(t, q.Close(context.Background()))

	// Then each task reports its state and error code
	blank, _ := q.Get(ids["blank.txt"])
	assert.Equal(t, StateSkipped, blank.State)

	bad, _ := q.Get(ids["bad.txt"])
	assert.Equal(t, StateFailed, bad.State)
	assert.Equal(t, ragerrors.ErrCodeEmbeddingFailed, bad.ErrorCode)

	half, _ := q.Get(ids["half.txt"])
	assert.Equal(t, StateFailed, half.State)
	assert.Equal(t, ragerrors.ErrCodePartialIndex, half.ErrorCode)

	// And the journal distinguishes partial writes
	events := journal.byFile()
	assert.Equal(t, telemetry.StatusSkipped, events["blank.txt"].Status)
	assert.Equal(t, telemetry.StatusFailed, events["bad.txt"].Status)
	assert.Equal(t, telemetry.StatusPartial, events["half.txt"].Status)

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.Submitted)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestQueue_BacklogFull(t *testing.T) {
	// Given one worker blocked on its task and a backlog of one
	ing := newFakeIngester()
	ing.block = make(chan struct{})
	q, err := NewQueue(ing, QueueConfig{Workers: 1, Backlog: 1})
	require.NoError(t, err)

	first, err := q.Submit(index.IngestRequest{Filename: "1.txt"})
	require.NoError(t, err)
	waitForState(t, q, first, StateRunning)

	// When the dispatcher holds a second job and the backlog a third
	_, err = q.Submit(index.IngestRequest{Filename: "2.txt"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(q.jobs) == 0 }, time.Second, 5*time.Millisecond)
	_, err = q.Submit(index.IngestRequest{Filename: "3.txt"})
	require.NoError(t, err)

	// Then a fourth is refused with a rate-limit error
	id, err := q.Submit(index.IngestRequest{Filename: "4.txt"})
	assert.Equal(t, ragerrors.ErrCodeRateLimited, ragerrors.GetCode(err))
	assert.Empty(t, id)

	// And the refused task leaves nothing in the status table
	assert.Equal(t, 3, q.status.Len())
	assert.Equal(t, int64(3), q.Stats().Submitted)

	close(ing.block)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(3), ing.calls.Load())
}

func TestQueue_CloseCancelsOnDeadline(t *testing.T) {
	// Given a task that never finishes on its own
	ing := newFakeIngester()
	ing.block = make(chan struct{})
	q, err := NewQueue(ing, QueueConfig{Workers: 1})
	require.NoError(t, err)
	id, err := q.Submit(index.IngestRequest{Filename: "slow.txt"})
	require.NoError(t, err)
	waitForState(t, q, id, StateRunning)

	// When Close runs out of time
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = q.Close(ctx)

	// Then the running task is cancelled and marked failed
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	snap, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateFailed, snap.State)

	_, err = q.Submit(index.IngestRequest{Filename: "late.txt"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}
