package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())
	assert.Equal(t, "UNKNOWN", CheckStatus(9).String())
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail", CheckResult{Status: StatusFail, Required: false}, false},
		{"required warn", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestCheckResult_JSONUsesStatusNames(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "disk_space", Status: StatusWarn})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"WARN"`)
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	tests := []struct {
		name    string
		results []CheckResult
		want    string
	}{
		{"empty", nil, "ready"},
		{"all pass", []CheckResult{{Status: StatusPass, Required: true}}, "ready"},
		{"warning", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings"},
		{"optional failure", []CheckResult{{Status: StatusFail, Required: false}}, "ready_with_warnings"},
		{"critical", []CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checker.SummaryStatus(tt.results))
			assert.Equal(t, tt.want == "failed", checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_CheckWritePermissions(t *testing.T) {
	t.Run("creates and writes the data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")

		result := New().CheckWritePermissions(dir)

		assert.Equal(t, StatusPass, result.Status)
		assert.DirExists(t, dir)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "probe file must be removed")
	})

	t.Run("read-only dir fails", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		dir := t.TempDir()
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

		result := New().CheckWritePermissions(dir)

		assert.Equal(t, StatusFail, result.Status)
		assert.True(t, result.IsCritical())
	})
}

func TestChecker_CheckService(t *testing.T) {
	ctx := context.Background()
	checker := New()

	t.Run("reachable", func(t *testing.T) {
		result := checker.CheckService(ctx, Service{
			Name: "embedder", Target: "http://localhost:11434", Required: true,
			Ping: func(context.Context) error { return nil },
		})
		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, "http://localhost:11434 OK")
	})

	t.Run("required and unreachable fails", func(t *testing.T) {
		result := checker.CheckService(ctx, Service{
			Name: "embedder", Target: "ollama", Required: true,
			Ping: func(context.Context) error { return errors.New("connection refused") },
		})
		assert.Equal(t, StatusFail, result.Status)
		assert.Equal(t, "connection refused", result.Details)
	})

	t.Run("optional and unreachable warns", func(t *testing.T) {
		result := checker.CheckService(ctx, Service{
			Name: "reranker", Target: "http://localhost:9659",
			Ping: func(context.Context) error { return errors.New("refused") },
		})
		assert.Equal(t, StatusWarn, result.Status)
		assert.False(t, result.IsCritical())
	})

	t.Run("ping is bounded by the timeout", func(t *testing.T) {
		start := time.Now()
		result := checker.CheckService(ctx, Service{
			Name: "qdrant", Target: "qdrant", Required: true, Timeout: 20 * time.Millisecond,
			Ping: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		})
		assert.Equal(t, StatusFail, result.Status)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestChecker_RunAll(t *testing.T) {
	// Given: a checker with one service
	pinged := false
	checker := New(WithServices(Service{
		Name: "embedder", Target: "static",
		Ping: func(context.Context) error { pinged = true; return nil },
	}))

	// When: running all checks
	results := checker.RunAll(context.Background(), t.TempDir())

	// Then: host checks run first, then services
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"write_permissions", "disk_space", "file_descriptors", "embedder"}, names)
	assert.True(t, pinged)
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: a verbose checker writing to a buffer
	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf), WithVerbose(true))

	// When: printing mixed results
	checker.PrintResults([]CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "10 GB free", Required: true},
		{Name: "reranker", Status: StatusWarn, Message: "unreachable", Details: "refused"},
	})

	// Then: each check, the details and the summary are shown
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 10 GB free")
	assert.Contains(t, out, "[WARN] reranker: unreachable")
	assert.Contains(t, out, "refused")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")
	assert.Contains(t, out, "  - reranker: unreachable")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "500.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2<<30))
}
