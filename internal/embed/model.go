package embed

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Constructor builds an Embedder. It runs at most once per Model.
type Constructor func(ctx context.Context) (Embedder, error)

// Model owns the process-wide embedder. The first Get pays for
// construction; later callers share the result, including a construction
// error, which is never retried.
type Model struct {
	construct Constructor

	once     sync.Once
	mu       sync.Mutex
	embedder Embedder
	err      error
}

// NewModel returns a Model that builds its embedder with construct.
func NewModel(construct Constructor) *Model {
	return &Model{construct: construct}
}

// StaticModel wraps an already built embedder.
func StaticModel(e Embedder) *Model {
	m := &Model{}
	m.once.Do(func() { m.embedder = e })
	return m
}

// Get returns the shared embedder, constructing it on first use.
func (m *Model) Get(ctx context.Context) (Embedder, error) {
	m.once.Do(func() {
		start := time.Now()
		e, err := m.construct(ctx)
		m.mu.Lock()
		m.embedder, m.err = e, err
		m.mu.Unlock()
		if m.err != nil {
			slog.Error("embedder_init_failed", slog.String("error", m.err.Error()))
			return
		}
		slog.Info("embedder_ready",
			slog.String("model", m.embedder.ModelName()),
			slog.Int("dimensions", m.embedder.Dimensions()),
			slog.Duration("init_time", time.Since(start)))
	})
	return m.embedder, m.err
}

// Close releases the embedder if it was built.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.embedder == nil {
		return nil
	}
	return m.embedder.Close()
}
