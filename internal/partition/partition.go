// Package partition maps a (space, project, subdb) route onto the names of
// the vector and keyword structures that hold its records.
package partition

import (
	"fmt"
	"regexp"
	"strings"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

// ProjectsSpace is the only space that supports hierarchical routing.
const ProjectsSpace = "projects"

// DefaultSpace is used when a route names no space.
const DefaultSpace = "documents"

// SubDBs lists the legal project sub-databases.
var SubDBs = []string{"documents", "main_progress", "employees", "key_decisions", "memory"}

// DefaultSpaces are provisioned at startup.
var DefaultSpaces = []string{"documents", "employees", "decisions", "memory", "projects"}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Route is the caller-supplied routing triple.
type Route struct {
	Space     string
	ProjectID string
	SubDB     string
}

// Partition is a validated route. The zero value is not valid; use
// Resolve or Flat.
type Partition struct {
	Space     string
	ProjectID string
	SubDB     string
}

// ValidSubDB reports whether s is a legal project sub-database.
func ValidSubDB(s string) bool {
	for _, v := range SubDBs {
		if v == s {
			return true
		}
	}
	return false
}

// Resolve validates a route. Space "projects" with both a project id and
// a subdb routes hierarchically; anything else routes to the flat space.
// An unknown subdb, or a project route missing one of its parts, fails
// with InvalidRouting.
func Resolve(r Route) (Partition, error) {
	space := normalize(r.Space)
	if space == "" {
		space = DefaultSpace
	}
	if !namePattern.MatchString(space) {
		return Partition{}, ragerrors.InvalidRouting(fmt.Sprintf("invalid space %q", r.Space))
	}

	project := normalize(r.ProjectID)
	subdb := normalize(r.SubDB)

	if subdb != "" && !ValidSubDB(subdb) {
		return Partition{}, ragerrors.InvalidRouting(
			fmt.Sprintf("invalid subdb %q (valid: %s)", r.SubDB, strings.Join(SubDBs, ", ")))
	}

	if space != ProjectsSpace || (project == "" && subdb == "") {
		return Partition{Space: space}, nil
	}

	if project == "" {
		return Partition{}, ragerrors.InvalidRouting("project_subdb given without project_id")
	}
	if subdb == "" {
		return Partition{}, ragerrors.InvalidRouting(
			fmt.Sprintf("project %q requires project_subdb (valid: %s)", project, strings.Join(SubDBs, ", ")))
	}
	if !namePattern.MatchString(project) {
		return Partition{}, ragerrors.InvalidRouting(fmt.Sprintf("invalid project_id %q", r.ProjectID))
	}

	return Partition{Space: space, ProjectID: project, SubDB: subdb}, nil
}

// Flat returns the partition for a plain space, validating the name.
func Flat(space string) (Partition, error) {
	return Resolve(Route{Space: space})
}

// ParseKey is the inverse of Key. It accepts "space" and
// "projects/{project_id}/{subdb}".
func ParseKey(key string) (Partition, error) {
	parts := strings.Split(key, "/")
	switch len(parts) {
	case 1:
		return Flat(parts[0])
	case 3:
		if normalize(parts[0]) != ProjectsSpace {
			return Partition{}, ragerrors.InvalidRouting(fmt.Sprintf("invalid partition key %q", key))
		}
		return Resolve(Route{Space: parts[0], ProjectID: parts[1], SubDB: parts[2]})
	default:
		return Partition{}, ragerrors.InvalidRouting(fmt.Sprintf("invalid partition key %q", key))
	}
}

// IsProject reports whether p routes to a project sub-database.
func (p Partition) IsProject() bool {
	return p.ProjectID != "" && p.SubDB != ""
}

// Key is the human-readable partition key used in logs, origin tags and
// query space lists.
func (p Partition) Key() string {
	if p.IsProject() {
		return p.Space + "/" + p.ProjectID + "/" + p.SubDB
	}
	return p.Space
}

func (p Partition) suffix() string {
	if p.IsProject() {
		return "projects_" + p.ProjectID + "_" + p.SubDB
	}
	return p.Space
}

// VectorName is the vector collection for p.
func (p Partition) VectorName() string {
	return "rag_chunks_" + p.suffix()
}

// KeywordName is the keyword index for p.
func (p Partition) KeywordName() string {
	return "rag_docs_" + p.suffix()
}

func (p Partition) String() string {
	return p.Key()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
