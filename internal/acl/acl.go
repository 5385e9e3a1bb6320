// Package acl infers access roles from document text and builds the ACL
// envelope attached to every indexed record.
package acl

import (
	"sort"
	"strings"
)

// BaselineRole is carried by every caller and every unrestricted document.
const BaselineRole = "employee"

// RoleInferer assigns access roles to a document's text. Implementations
// must never return an empty set.
type RoleInferer interface {
	InferRoles(text string) []string
}

// SensitiveKeywords maps a restricted role to phrases that imply it.
var SensitiveKeywords = map[string][]string{
	"hr":          {"salary", "performance review", "disciplinary", "benefits"},
	"finance":     {"invoice", "revenue", "forecast", "p&l", "budget"},
	"engineering": {"architecture", "design doc", "runbook", "incident"},
	"legal":       {"nda", "contract", "agreement", "confidential"},
}

// KeywordInferer is the default RoleInferer: case-insensitive substring
// match against SensitiveKeywords, plus DefaultRoles and the baseline role.
type KeywordInferer struct {
	Keywords     map[string][]string
	DefaultRoles []string
}

// NewKeywordInferer returns an inferer over SensitiveKeywords.
func NewKeywordInferer() *KeywordInferer {
	return &KeywordInferer{Keywords: SensitiveKeywords}
}

// InferRoles returns the sorted role set for text. It always contains
// BaselineRole.
func (k *KeywordInferer) InferRoles(text string) []string {
	lower := strings.ToLower(text)
	roles := map[string]struct{}{BaselineRole: {}}
	for _, r := range k.DefaultRoles {
		roles[r] = struct{}{}
	}
	for role, phrases := range k.Keywords {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				roles[role] = struct{}{}
				break
			}
		}
	}
	return sortedKeys(roles)
}

// AccessRoles turns inferred roles into the roles stored on records.
// A document with any restricted role is visible only to those roles, so
// the baseline role is dropped. An empty input yields the baseline role.
func AccessRoles(inferred []string) []string {
	set := make(map[string]struct{}, len(inferred))
	for _, r := range inferred {
		r = strings.TrimSpace(strings.ToLower(r))
		if r != "" {
			set[r] = struct{}{}
		}
	}
	if len(set) > 1 {
		delete(set, BaselineRole)
	}
	if len(set) == 0 {
		return []string{BaselineRole}
	}
	return sortedKeys(set)
}

// Envelope is the ACL metadata copied onto every record of a document.
type Envelope struct {
	TenantID   string   `json:"tenant_id"`
	UploaderID string   `json:"uploader_id"`
	Roles      []string `json:"roles"`
}

// BuildEnvelope applies AccessRoles to the inferred roles.
func BuildEnvelope(tenantID, uploaderID string, inferred []string) Envelope {
	return Envelope{
		TenantID:   tenantID,
		UploaderID: uploaderID,
		Roles:      AccessRoles(inferred),
	}
}

// NormalizeCallerRoles lower-cases and de-duplicates a caller's acting
// roles, defaulting to the baseline role.
func NormalizeCallerRoles(roles []string) []string {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(strings.ToLower(r))
		if r != "" {
			set[r] = struct{}{}
		}
	}
	if len(set) == 0 {
		return []string{BaselineRole}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
