package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/search"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "Checking partitions...")
	w.Status("", "indented")

	assert.Equal(t, "🔍 Checking partitions...\n   indented\n", buf.String())
}

func TestWriter_Results(t *testing.T) {
	// Given: two results, one found only by keyword search
	buf := &bytes.Buffer{}
	w := New(buf)
	vs := 0.82
	ks := 3.1
	results := []search.Result{
		{
			Text:         "Travel   policy\nfor visitors.",
			Source:       search.Source{Filename: "travel.txt", ChunkIndex: 0},
			Origin:       "vector:documents",
			VectorScore:  &vs,
			KeywordScore: &ks,
			RRFScore:     0.0328,
			RerankScore:  1,
		},
		{
			Text:         "Expense rules.",
			Source:       search.Source{Filename: "expenses.md", ChunkIndex: 2},
			Origin:       "bm25:documents",
			KeywordScore: &ks,
		},
	}

	// When: rendering
	w.Results("travel", results)

	// Then: each result shows its source, scores and flattened text
	out := buf.String()
	assert.Contains(t, out, "2 results for \"travel\"")
	assert.Contains(t, out, "1. travel.txt #0  [vector:documents]")
	assert.Contains(t, out, "vector 0.820  bm25 3.100")
	assert.Contains(t, out, "Travel policy for visitors.")
	assert.Contains(t, out, "2. expenses.md #2  [bm25:documents]")
}

func TestWriter_Results_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Results("nothing", nil)
	assert.Equal(t, "No results for \"nothing\"\n", buf.String())
}

func TestSnippet_Truncates(t *testing.T) {
	long := strings.Repeat("a", snippetRunes+10)
	got := snippet(long)
	assert.Equal(t, snippetRunes+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestWriter_Readiness(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Readiness([]index.Readiness{
		{Partition: "documents", VectorReady: true, KeywordReady: true},
		{Partition: "memory", VectorReady: true},
		{Partition: "Bad Space", Error: "invalid space"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "✅ documents")
	assert.Contains(t, lines[1], "memory: vector=true keyword=false")
	assert.Contains(t, lines[2], "❌ Bad Space: invalid space")
}

func TestWriter_RunSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).RunSummary(&index.RunnerResult{Files: 4, Indexed: 2, Skipped: 1, Failed: 1, Chunks: 9, Duration: 1500 * time.Millisecond})

	out := buf.String()
	assert.Contains(t, out, "Indexed 2 of 4 files (9 chunks) in 1.5s")
	assert.Contains(t, out, "1 skipped")
	assert.Contains(t, out, "1 failed")
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(0, 0, "ignored")
	assert.Empty(t, buf.String())

	w.Progress(2, 2, "done")
	assert.Contains(t, buf.String(), "100% done")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", renderProgressBar(5, 10, 10))
	assert.Equal(t, "██████████", renderProgressBar(20, 10, 10))
	assert.Equal(t, "░░░░░░░░░░", renderProgressBar(1, 0, 10))
}

func TestWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).JSON(map[string]int{"chunks": 3}))
	assert.Equal(t, "{\n  \"chunks\": 3\n}\n", buf.String())
}
