// Package namespace scopes persisted project memory to a
// (tenant, agent, project) identity. Identifiers are normalized so they are
// safe to splice into filesystem path templates, and strict isolation means a
// context build never reads another project's slice.
package namespace

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var invalidRuns = regexp.MustCompile(`[^a-z0-9._-]+`)

// Normalize lowercases and trims an identifier and collapses every run of
// characters outside [a-z0-9._-] to a single dash. Empty input yields the
// fallback.
func Normalize(value, fallback string) string {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	if cleaned == "" {
		return fallback
	}
	return invalidRuns.ReplaceAllString(cleaned, "-")
}

// Namespace is the resolved (tenant, agent, project) identity.
type Namespace struct {
	TenantID  string
	AgentID   string
	ProjectID string
}

// Defaults are the configured fallback identifiers.
type Defaults struct {
	TenantID  string
	AgentID   string
	ProjectID string
}

// Resolve normalizes raw identifiers against configured defaults. Raw values
// usually come from the persisted run status; defaults from config.
func Resolve(tenantID, agentID, projectID string, def Defaults) Namespace {
	if def.TenantID == "" {
		def.TenantID = "default"
	}
	if def.AgentID == "" {
		def.AgentID = "main"
	}
	if def.ProjectID == "" {
		def.ProjectID = "default"
	}
	return Namespace{
		TenantID:  Normalize(tenantID, def.TenantID),
		AgentID:   Normalize(agentID, def.AgentID),
		ProjectID: Normalize(projectID, def.ProjectID),
	}
}

// FormatTemplate substitutes {tenant_id}, {agent_id}, {project_id} and
// {date} placeholders in a path template. Unknown placeholders are left
// untouched so a bad template degrades to a path that simply never exists.
func (ns Namespace) FormatTemplate(template, date string) string {
	if strings.TrimSpace(date) == "" {
		date = time.Now().Format("2006-01-02")
	}
	r := strings.NewReplacer(
		"{tenant_id}", ns.TenantID,
		"{agent_id}", ns.AgentID,
		"{project_id}", ns.ProjectID,
		"{date}", date,
	)
	return r.Replace(template)
}

// ResolvePath joins a formatted template under the memory root. Relative
// roots are resolved against the repo path.
func (ns Namespace) ResolvePath(repo, root, template, date string) string {
	base := root
	if !filepath.IsAbs(base) {
		base = filepath.Join(repo, base)
	}
	return filepath.Join(base, ns.FormatTemplate(template, date))
}
