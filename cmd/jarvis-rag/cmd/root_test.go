package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a self-contained config: embedded stores under a
// temp data dir, hash embeddings and the lexical reranker.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jarvis-rag.yaml")
	cfg := `version: 1
data_dir: ` + filepath.Join(dir, "data") + `
embeddings:
  provider: static
  dimensions: 64
  cache_size: 0
chunk:
  size: 200
  overlap: 20
provision:
  attempts: 1
  backoff: 10ms
  vector_ready_attempts: 1
  keyword_ready_attempts: 1
search:
  reranker:
    provider: lexical
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestRootCmd_HelpListsCommands(t *testing.T) {
	// When: asking for help
	out, err := run(t, "--help")

	// Then: every subcommand is listed
	require.NoError(t, err)
	for _, name := range []string{"init", "serve", "mcp", "ingest", "query", "ready", "reconcile", "doctor", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := run(t, "--version")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "jarvis-rag version "))
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	_, err := run(t, "frobnicate")
	assert.Error(t, err)
}

func TestQueryCmd_RequiresText(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "query")
	assert.Error(t, err)
}

func TestIngestThenQuery(t *testing.T) {
	// Given: a directory with one policy document
	cfg := writeConfig(t)
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "travel.txt"),
		[]byte("The travel reimbursement policy covers flights, hotels and meals for business trips."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "garden.txt"),
		[]byte("Office plants are watered every Tuesday by the facilities team."), 0o644))

	// When: ingesting the directory
	out, err := run(t, "--config", cfg, "ingest", docs, "--json")
	require.NoError(t, err)

	// Then: both files are indexed
	var res index.RunnerResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Indexed)
	assert.Zero(t, res.Failed)
	assert.Positive(t, res.Chunks)

	// When: querying for a term from one document
	out, err = run(t, "--config", cfg, "query", "reimbursement", "--json")
	require.NoError(t, err)

	// Then: that document ranks first
	var body struct {
		Results []struct {
			Text   string `json:"text"`
			Source struct {
				Filename string `json:"filename"`
			} `json:"source"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.NotEmpty(t, body.Results)
	assert.Equal(t, "travel.txt", body.Results[0].Source.Filename)
}

func TestQueryCmd_EmptyIndexReturnsEmptyList(t *testing.T) {
	// Given: a fresh data dir
	cfg := writeConfig(t)

	// When: querying before anything is ingested
	out, err := run(t, "--config", cfg, "query", "anything", "--json")

	// Then: the result list is empty, not null
	require.NoError(t, err)
	assert.Contains(t, out, `"results": []`)
}

func TestReadyCmd(t *testing.T) {
	cfg := writeConfig(t)

	t.Run("single project partition", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "ready", "--space", "projects", "--project", "apollo", "--subdb", "main_progress", "--json")
		require.NoError(t, err)

		var rs []index.Readiness
		require.NoError(t, json.Unmarshal([]byte(out), &rs))
		require.Len(t, rs, 1)
		assert.Equal(t, "projects/apollo/main_progress", rs[0].Partition)
		assert.True(t, rs[0].Ready())
	})

	t.Run("all default spaces", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "ready", "--all", "--json")
		require.NoError(t, err)

		var rs []index.Readiness
		require.NoError(t, json.Unmarshal([]byte(out), &rs))
		assert.Len(t, rs, 5)
	})

	t.Run("invalid subdb", func(t *testing.T) {
		_, err := run(t, "--config", cfg, "ready", "--space", "projects", "--project", "apollo", "--subdb", "secrets")
		assert.Error(t, err)
	})
}

func TestSubDBFlagHelp_ListsLegalValues(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"ingest", "ready"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err)

		flag := sub.Flags().Lookup("subdb")
		require.NotNil(t, flag, name)
		for _, subdb := range partition.SubDBs {
			assert.Contains(t, flag.Usage, subdb, name)
		}
	}
}

func TestReconcileCmd_NothingPending(t *testing.T) {
	// Given: a provisioned but empty documents space
	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "ready", "--space", "documents")
	require.NoError(t, err)

	// When: reconciling with a check of the documents space
	out, err := run(t, "--config", cfg, "reconcile", "--check", "documents", "--json")

	// Then: nothing is pending and the partition is consistent
	require.NoError(t, err)
	var body struct {
		Reconcile index.ReconcileResult `json:"reconcile"`
		Checks    []index.CheckResult   `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Zero(t, body.Reconcile.Pending)
	require.Len(t, body.Checks, 1)
	assert.Empty(t, body.Checks[0].Inconsistencies)
}

func TestInitCmd(t *testing.T) {
	// Given: an empty directory
	dir := t.TempDir()
	path := filepath.Join(dir, "jarvis-rag.yaml")

	// When: running init
	_, err := run(t, "init", dir)

	// Then: the template is written
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vector_backend: hnsw")

	// When: running init again over a customised file
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	_, err = run(t, "init", dir)
	require.NoError(t, err)

	// Then: the file is preserved
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))

	// When: forcing
	_, err = run(t, "init", dir, "--force")
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vector_backend: hnsw")
}

func TestDoctorCmd_StaticConfigHasNoServices(t *testing.T) {
	// Given: a config with hash embeddings and embedded stores
	cfg := writeConfig(t)

	// When: running doctor
	out, _ := run(t, "--config", cfg, "doctor", "--json")

	// Then: only host checks run, whatever their outcome
	var body struct {
		Checks []struct {
			Name string `json:"name"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	names := make([]string, 0, len(body.Checks))
	for _, c := range body.Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"write_permissions", "disk_space", "file_descriptors"}, names)
}
