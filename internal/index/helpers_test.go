package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/embed"
	"github.com/bg073/jarvis-rag/internal/store"
	"github.com/bg073/jarvis-rag/internal/telemetry"
)

// flakyKeywords wraps a keyword store and fails on demand.
type flakyKeywords struct {
	store.KeywordStore

	mu         sync.Mutex
	failUpsert bool
	failEnsure bool
}

func (f *flakyKeywords) setFailUpsert(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpsert = v
}

func (f *flakyKeywords) Upsert(ctx context.Context, name string, records []store.Record) error {
	f.mu.Lock()
	fail := f.failUpsert
	f.mu.Unlock()
	if fail {
		return errors.New("keyword backend unavailable")
	}
	return f.KeywordStore.Upsert(ctx, name, records)
}

func (f *flakyKeywords) EnsurePartition(ctx context.Context, name string) error {
	if f.failEnsure {
		return errors.New("keyword backend refused connection")
	}
	return f.KeywordStore.EnsurePartition(ctx, name)
}

// failingEmbedder always fails EmbedBatch.
type failingEmbedder struct{ *embed.StaticEmbedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model server returned 500")
}

type fixture struct {
	coord    *Coordinator
	vectors  *store.HNSWStore
	keywords *flakyKeywords
	journal  *telemetry.Journal
	ids      int
}

func newFixture(t *testing.T, opts ...func(*CoordinatorConfig)) *fixture {
	t.Helper()

	vectors, err := store.NewHNSWStore(store.HNSWConfig{})
	require.NoError(t, err)
	bleveStore, err := store.NewBleveStore("")
	require.NoError(t, err)
	journal, err := telemetry.OpenJournal("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vectors.Close()
		_ = bleveStore.Close()
		_ = journal.Close()
	})

	f := &fixture{vectors: vectors, keywords: &flakyKeywords{KeywordStore: bleveStore}, journal: journal}
	cfg := CoordinatorConfig{
		Model:        embed.StaticModel(embed.NewStaticEmbedder(64)),
		Vectors:      vectors,
		Keywords:     f.keywords,
		Provisioner:  store.NewProvisioner(2, time.Millisecond),
		Journal:      journal,
		ChunkSize:    40,
		ChunkOverlap: 10,
		NewID: func() string {
			f.ids++
			return fmt.Sprintf("doc%d", f.ids)
		},
	}
	for _, o := range opts {
		o(&cfg)
	}

	f.coord, err = NewCoordinator(cfg)
	require.NoError(t, err)
	return f
}
