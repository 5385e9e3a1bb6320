package mcp

import (
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/partition"
	"github.com/bg073/jarvis-rag/internal/search"
)

// IngestInput defines the input schema for the ingest tool.
type IngestInput struct {
	Path       string   `json:"path,omitempty" jsonschema:"local file to ingest; mutually exclusive with text"`
	Text       string   `json:"text,omitempty" jsonschema:"inline document text; requires filename"`
	Filename   string   `json:"filename,omitempty" jsonschema:"document filename; defaults to the base name of path"`
	TenantID   string   `json:"tenant_id,omitempty" jsonschema:"tenant that owns the document"`
	UploaderID string   `json:"uploader_id,omitempty" jsonschema:"who submitted the document"`
	Space      string   `json:"space,omitempty" jsonschema:"flat space, default documents"`
	ProjectID  string   `json:"project_id,omitempty" jsonschema:"project id for project-scoped routing"`
	SubDB      string   `json:"subdb,omitempty" jsonschema:"project sub-database"`
	Tags       []string `json:"tags,omitempty" jsonschema:"tags attached to every chunk"`
}

// IngestOutput defines the output schema for the ingest tool.
type IngestOutput struct {
	Status   string `json:"status"`
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
}

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Query      string   `json:"query" jsonschema:"the question to search for"`
	TenantID   string   `json:"tenant_id,omitempty" jsonschema:"tenant to search, default tenant when empty"`
	UserRoles  []string `json:"user_roles,omitempty" jsonschema:"caller roles used for access filtering"`
	Spaces     []string `json:"spaces,omitempty" jsonschema:"partition keys: a space or projects/{id}/{subdb}"`
	Tags       []string `json:"tags,omitempty" jsonschema:"only return chunks carrying one of these tags"`
	TopK       int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 20"`
	PerSourceK int      `json:"per_source_k,omitempty" jsonschema:"candidates taken from each store, default 50"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	Results []search.Result `json:"results"`
}

// ReadyInput defines the input schema for the partition_ready tool.
type ReadyInput struct {
	Space     string `json:"space,omitempty" jsonschema:"flat space, default documents"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"project id for project-scoped routing"`
	SubDB     string `json:"subdb,omitempty" jsonschema:"project sub-database"`
}

// ReadyOutput defines the output schema for the partition_ready tool.
type ReadyOutput struct {
	index.Readiness
	Ready bool `json:"ready"`
}

// TaskInput defines the input schema for the task_status tool.
type TaskInput struct {
	TaskID string `json:"task_id" jsonschema:"id returned by the ingest tool"`
}

func (in QueryInput) query() search.Query {
	return search.Query{
		Text:       in.Query,
		TenantID:   in.TenantID,
		Roles:      in.UserRoles,
		Spaces:     in.Spaces,
		Tags:       in.Tags,
		TopK:       in.TopK,
		PerSourceK: in.PerSourceK,
	}
}

// inputSchema infers the schema for T and spells out the legal values of
// its subdb property, if it has one.
func inputSchema[T any]() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer input schema: %w", err)
	}
	if prop, ok := schema.Properties["subdb"]; ok {
		prop.Description = "project sub-database: " + strings.Join(partition.SubDBs, ", ")
	}
	return schema, nil
}
