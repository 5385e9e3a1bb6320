// Package output renders CLI results for humans, or as JSON for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/search"
)

// snippetRunes bounds the text shown per result.
const snippetRunes = 240

// Writer provides formatted output for the CLI.
type Writer struct {
	out io.Writer
}

// New creates a Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Status("✅", fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status("⚠️ ", fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status("❌", fmt.Sprintf(format, args...))
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Results prints ranked query results.
func (w *Writer) Results(query string, results []search.Result) {
	if len(results) == 0 {
		_, _ = fmt.Fprintf(w.out, "No results for %q\n", query)
		return
	}

	_, _ = fmt.Fprintf(w.out, "%d result", len(results))
	if len(results) != 1 {
		_, _ = fmt.Fprint(w.out, "s")
	}
	_, _ = fmt.Fprintf(w.out, " for %q\n\n", query)

	for i, r := range results {
		_, _ = fmt.Fprintf(w.out, "%d. %s #%d  [%s]\n", i+1, r.Source.Filename, r.Source.ChunkIndex, r.Origin)
		_, _ = fmt.Fprintf(w.out, "   rerank %.3f  rrf %.4f%s%s\n",
			r.RerankScore, r.RRFScore,
			optionalScore("vector", r.VectorScore),
			optionalScore("bm25", r.KeywordScore))
		_, _ = fmt.Fprintf(w.out, "   %s\n\n", snippet(r.Text))
	}
}

// Readiness prints one line per partition.
func (w *Writer) Readiness(rs []index.Readiness) {
	for _, r := range rs {
		switch {
		case r.Ready():
			w.Status("✅", r.Partition)
		case r.Error != "":
			w.Status("❌", fmt.Sprintf("%s: %s", r.Partition, r.Error))
		default:
			w.Status("⚠️ ", fmt.Sprintf("%s: vector=%t keyword=%t", r.Partition, r.VectorReady, r.KeywordReady))
		}
	}
}

// RunSummary prints the outcome of a bulk ingestion.
func (w *Writer) RunSummary(res *index.RunnerResult) {
	w.Successf("Indexed %d of %d files (%d chunks) in %s",
		res.Indexed, res.Files, res.Chunks, res.Duration.Round(time.Millisecond))
	if res.Skipped > 0 {
		w.Status("", fmt.Sprintf("%d skipped (no extractable text)", res.Skipped))
	}
	if res.Failed > 0 {
		w.Warningf("%d failed, see the log for details", res.Failed)
	}
}

// Progress prints an in-place progress bar.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", renderProgressBar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(max(current*width/total, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func optionalScore(name string, v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("  %s %.3f", name, *v)
}

// snippet flattens whitespace and truncates to snippetRunes.
func snippet(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= snippetRunes {
		return flat
	}
	return string(runes[:snippetRunes]) + "…"
}
