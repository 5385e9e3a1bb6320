// Package async runs document ingestion in the background.
package async

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TaskState is where a task is in its lifecycle.
type TaskState string

const (
	StateQueued  TaskState = "queued"
	StateRunning TaskState = "running"
	StateDone    TaskState = "done"
	StateSkipped TaskState = "skipped"
	StateFailed  TaskState = "failed"
)

// Terminal reports whether no further transitions will happen.
func (s TaskState) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// TaskSnapshot is an immutable copy of a task's status.
type TaskSnapshot struct {
	ID         string     `json:"task_id"`
	Filename   string     `json:"filename"`
	Partition  string     `json:"partition"`
	State      TaskState  `json:"state"`
	DocumentID string     `json:"document_id,omitempty"`
	Chunks     int        `json:"chunks"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ElapsedSeconds is the run time so far, or the total for finished tasks.
func (s TaskSnapshot) ElapsedSeconds() float64 {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	return end.Sub(*s.StartedAt).Seconds()
}

// StatusTable keeps the most recent task snapshots. The oldest entries
// are evicted once capacity is reached.
type StatusTable struct {
	mu     sync.Mutex
	tasks  *lru.Cache[string, TaskSnapshot]
	counts map[TaskState]int64
}

// NewStatusTable creates a table holding at most capacity tasks.
func NewStatusTable(capacity int) *StatusTable {
	if capacity <= 0 {
		capacity = 1024
	}
	cache, _ := lru.New[string, TaskSnapshot](capacity)
	return &StatusTable{tasks: cache, counts: make(map[TaskState]int64)}
}

// Put inserts or replaces a snapshot.
func (t *StatusTable) Put(s TaskSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks.Add(s.ID, s)
	t.counts[s.State]++
}

// Update applies fn to the stored snapshot. It returns false if the task
// has been evicted or never existed.
func (t *StatusTable) Update(id string, fn func(*TaskSnapshot)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.tasks.Peek(id)
	if !ok {
		return false
	}
	before := s.State
	fn(&s)
	t.tasks.Add(id, s)
	if s.State != before {
		t.counts[s.State]++
	}
	return true
}

// Discard drops a snapshot that never left its first state, along with
// its transition count. It reports whether the task was present.
func (t *StatusTable) Discard(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.tasks.Peek(id)
	if !ok {
		return false
	}
	t.tasks.Remove(id)
	if t.counts[s.State] > 0 {
		t.counts[s.State]--
	}
	return true
}

// Get returns a snapshot by task id.
func (t *StatusTable) Get(id string) (TaskSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks.Get(id)
}

// Len is the number of retained snapshots.
func (t *StatusTable) Len() int {
	return t.tasks.Len()
}

// Transitions returns how many tasks have entered each state since start.
func (t *StatusTable) Transitions() map[TaskState]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[TaskState]int64, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
