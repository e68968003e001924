// Package config provides configuration management for clawdev.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (CLAWDEV_*)
// 3. Project config (.clawdev/config.yaml in the repo)
// 4. Home config (~/.clawdev/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/clawdev/internal/namespace"
)

// Config holds all clawdev configuration.
type Config struct {
	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Supervisor settings for the control loop.
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`

	// AutoPR settings for the delivery collaborator.
	AutoPR AutoPRConfig `yaml:"autopr" json:"autopr"`

	// SecondBrain settings for the context assembler.
	SecondBrain SecondBrainConfig `yaml:"second_brain" json:"second_brain"`

	// MemoryNamespace settings for strict memory isolation.
	MemoryNamespace MemoryNamespaceConfig `yaml:"memory_namespace" json:"memory_namespace"`
}

// SupervisorConfig holds loop-level settings.
type SupervisorConfig struct {
	// DefaultScope is the git pathspec used for diff/risk summaries.
	DefaultScope string `yaml:"default_scope" json:"default_scope"`
	// QARetries is the verification retry count (0 = no retry).
	QARetries *int `yaml:"qa_retries" json:"qa_retries"`
	// QARetrySleep is seconds slept between verification retries.
	QARetrySleep *int `yaml:"qa_retry_sleep" json:"qa_retry_sleep"`
	// AddDirs are extra writable directories granted to the agent sandbox.
	AddDirs []string `yaml:"add_dirs" json:"add_dirs"`
	// CodexCommand is the external coding-agent CLI. Default: "codex".
	CodexCommand string `yaml:"codex_command" json:"codex_command"`
	// SyncCommand is the host-sync collaborator CLI. Default: "sync-to-skill".
	SyncCommand string `yaml:"sync_command" json:"sync_command"`
	// WorkspaceTestCommand is the optional secondary test entry point,
	// resolved relative to the repo. Default: "./run_tests.sh".
	WorkspaceTestCommand string `yaml:"workspace_test_command" json:"workspace_test_command"`
}

// AutoPRConfig holds delivery automation settings.
type AutoPRConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Required bool   `yaml:"required" json:"required"`
	Mode     string `yaml:"mode" json:"mode"`
	Base     string `yaml:"base" json:"base"`
	// Command is the delivery collaborator CLI. Default: "autopr".
	Command       string `yaml:"command" json:"command"`
	BranchPrefix  string `yaml:"branch_prefix" json:"branch_prefix"`
	CommitMessage string `yaml:"commit_message" json:"commit_message"`
	Title         string `yaml:"title" json:"title"`
	BodyFile      string `yaml:"body_file" json:"body_file"`
	AutoMerge     bool   `yaml:"auto_merge" json:"auto_merge"`
}

// SecondBrainConfig holds context-assembly settings.
type SecondBrainConfig struct {
	Enabled             bool   `yaml:"enabled" json:"enabled"`
	Root                string `yaml:"root" json:"root"`
	MemoryTemplate      string `yaml:"memory_template" json:"memory_template"`
	DailyIndexTemplate  string `yaml:"daily_index_template" json:"daily_index_template"`
	SessionGlobTemplate string `yaml:"session_glob_template" json:"session_glob_template"`
	IncludeMemory       *bool  `yaml:"include_memory_md" json:"include_memory_md"`
	MaxChars            int    `yaml:"max_chars" json:"max_chars"`
	MaxSessions         int    `yaml:"max_sessions" json:"max_sessions"`
	MaxLinesPerFile     int    `yaml:"max_lines_per_file" json:"max_lines_per_file"`
}

// IncludeMemoryMD reports whether the global memory excerpt is included.
// Defaults to true when unset.
func (c SecondBrainConfig) IncludeMemoryMD() bool {
	return c.IncludeMemory == nil || *c.IncludeMemory
}

// MemoryNamespaceConfig holds namespace isolation settings.
type MemoryNamespaceConfig struct {
	Enabled              *bool  `yaml:"enabled" json:"enabled"`
	Root                 string `yaml:"root" json:"root"`
	TenantID             string `yaml:"tenant_id" json:"tenant_id"`
	DefaultAgentID       string `yaml:"default_agent_id" json:"default_agent_id"`
	DefaultProjectID     string `yaml:"default_project_id" json:"default_project_id"`
	StrictIsolation      *bool  `yaml:"strict_isolation" json:"strict_isolation"`
	GlobalMemoryTemplate string `yaml:"global_memory_template" json:"global_memory_template"`
	DailyIndexTemplate   string `yaml:"daily_index_template" json:"daily_index_template"`
	SessionGlobTemplate  string `yaml:"session_glob_template" json:"session_glob_template"`
}

// IsEnabled reports whether namespacing is on. Defaults to true when unset.
func (c MemoryNamespaceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Strict reports whether strict isolation is on. Defaults to true when unset.
func (c MemoryNamespaceConfig) Strict() bool {
	return c.StrictIsolation == nil || *c.StrictIsolation
}

// Defaults returns the namespace fallback identifiers, normalized.
func (c MemoryNamespaceConfig) Defaults() namespace.Defaults {
	return namespace.Defaults{
		TenantID:  namespace.Normalize(c.TenantID, "default"),
		AgentID:   namespace.Normalize(c.DefaultAgentID, "main"),
		ProjectID: namespace.Normalize(c.DefaultProjectID, "default"),
	}
}

// Default config values.
const (
	DefaultScope        = "."
	DefaultQARetries    = 1
	DefaultQARetrySleep = 5
	MinBrainChars       = 400
	MinBrainLines       = 8
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			DefaultScope:         DefaultScope,
			CodexCommand:         "codex",
			SyncCommand:          "sync-to-skill",
			WorkspaceTestCommand: "./run_tests.sh",
		},
		AutoPR: AutoPRConfig{
			Mode:          "dev",
			Base:          "master",
			Command:       "autopr",
			BranchPrefix:  "autodev",
			CommitMessage: "chore: automated supervisor delivery",
			Title:         "chore: automated supervisor delivery",
			BodyFile:      filepath.Join("agent", "RESULT.md"),
		},
		SecondBrain: SecondBrainConfig{
			Root:                ".",
			MemoryTemplate:      "MEMORY.md",
			DailyIndexTemplate:  "90_Memory/{date}/_DAILY_INDEX.md",
			SessionGlobTemplate: "90_Memory/{date}/session_*.md",
			MaxChars:            1800,
			MaxSessions:         1,
			MaxLinesPerFile:     40,
		},
		MemoryNamespace: MemoryNamespaceConfig{
			Root:                 "..",
			TenantID:             "default",
			DefaultAgentID:       "main",
			DefaultProjectID:     "default",
			GlobalMemoryTemplate: "brain/tenants/{tenant_id}/global/MEMORY.md",
			DailyIndexTemplate:   "brain/tenants/{tenant_id}/agents/{agent_id}/projects/{project_id}/daily/{date}/_DAILY_INDEX.md",
			SessionGlobTemplate:  "brain/tenants/{tenant_id}/agents/{agent_id}/projects/{project_id}/sessions/session_*.md",
		},
	}
}

// Load loads configuration with proper precedence for a repository.
// Priority: env > project > home > defaults. Flag overrides are applied by
// the command layer after Load.
func Load(repo string) (*Config, error) {
	cfg := Default()

	if homeCfg, _ := loadFromPath(homeConfigPath()); homeCfg != nil {
		cfg = merge(cfg, homeCfg)
	}
	if projCfg, _ := loadFromPath(projectConfigPath(repo)); projCfg != nil {
		cfg = merge(cfg, projCfg)
	}
	cfg = applyEnv(cfg)
	cfg.normalize()

	return cfg, nil
}

// normalize clamps budgets and sanitizes enum-like fields in place.
func (c *Config) normalize() {
	if c.SecondBrain.MaxChars < MinBrainChars {
		c.SecondBrain.MaxChars = MinBrainChars
	}
	if c.SecondBrain.MaxSessions < 1 {
		c.SecondBrain.MaxSessions = 1
	}
	if c.SecondBrain.MaxLinesPerFile < MinBrainLines {
		c.SecondBrain.MaxLinesPerFile = MinBrainLines
	}
	switch c.AutoPR.Mode {
	case "dev", "staging", "prod":
	default:
		c.AutoPR.Mode = "dev"
	}
	// Auto-merge is only ever honored in dev mode.
	if c.AutoPR.Mode != "dev" {
		c.AutoPR.AutoMerge = false
	}
	if strings.TrimSpace(c.Supervisor.DefaultScope) == "" {
		c.Supervisor.DefaultScope = DefaultScope
	}
}

// QARetries returns the configured verification retry count.
func (c *Config) QARetries() int {
	if c.Supervisor.QARetries == nil {
		return DefaultQARetries
	}
	if *c.Supervisor.QARetries < 0 {
		return 0
	}
	return *c.Supervisor.QARetries
}

// QARetrySleep returns the configured sleep (seconds) between retries.
func (c *Config) QARetrySleep() int {
	if c.Supervisor.QARetrySleep == nil {
		return DefaultQARetrySleep
	}
	if *c.Supervisor.QARetrySleep < 0 {
		return 0
	}
	return *c.Supervisor.QARetrySleep
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".clawdev", "config.yaml")
}

// projectConfigPath returns the repo-local config path, honoring the
// CLAWDEV_CONFIG override.
func projectConfigPath(repo string) string {
	if override := strings.TrimSpace(os.Getenv("CLAWDEV_CONFIG")); override != "" {
		return override
	}
	return filepath.Join(repo, ".clawdev", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("CLAWDEV_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("CLAWDEV_SCOPE"); v != "" {
		cfg.Supervisor.DefaultScope = v
	}
	if v := os.Getenv("CLAWDEV_CODEX_COMMAND"); v != "" {
		cfg.Supervisor.CodexCommand = v
	}
	if v := os.Getenv("CLAWDEV_SYNC_COMMAND"); v != "" {
		cfg.Supervisor.SyncCommand = v
	}
	if v := os.Getenv("CLAWDEV_AUTOPR_COMMAND"); v != "" {
		cfg.AutoPR.Command = v
	}
	if v := os.Getenv("CLAWDEV_QA_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Supervisor.QARetries = &n
		}
	}
	if v := os.Getenv("CLAWDEV_QA_RETRY_SLEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Supervisor.QARetrySleep = &n
		}
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

func mergeBoolPtr(dst **bool, src *bool) {
	if src != nil {
		*dst = src
	}
}

func mergeIntPtr(dst **int, src *int) {
	if src != nil {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.Verbose {
		dst.Verbose = true
	}
	mergeSupervisor(&dst.Supervisor, &src.Supervisor)
	mergeAutoPR(&dst.AutoPR, &src.AutoPR)
	mergeSecondBrain(&dst.SecondBrain, &src.SecondBrain)
	mergeMemoryNamespace(&dst.MemoryNamespace, &src.MemoryNamespace)
	return dst
}

func mergeSupervisor(dst, src *SupervisorConfig) {
	mergeStr(&dst.DefaultScope, src.DefaultScope)
	mergeIntPtr(&dst.QARetries, src.QARetries)
	mergeIntPtr(&dst.QARetrySleep, src.QARetrySleep)
	if len(src.AddDirs) > 0 {
		dst.AddDirs = src.AddDirs
	}
	mergeStr(&dst.CodexCommand, src.CodexCommand)
	mergeStr(&dst.SyncCommand, src.SyncCommand)
	mergeStr(&dst.WorkspaceTestCommand, src.WorkspaceTestCommand)
}

func mergeAutoPR(dst, src *AutoPRConfig) {
	if src.Enabled {
		dst.Enabled = true
	}
	if src.Required {
		dst.Required = true
	}
	if src.AutoMerge {
		dst.AutoMerge = true
	}
	mergeStr(&dst.Mode, src.Mode)
	mergeStr(&dst.Base, src.Base)
	mergeStr(&dst.Command, src.Command)
	mergeStr(&dst.BranchPrefix, src.BranchPrefix)
	mergeStr(&dst.CommitMessage, src.CommitMessage)
	mergeStr(&dst.Title, src.Title)
	mergeStr(&dst.BodyFile, src.BodyFile)
}

func mergeSecondBrain(dst, src *SecondBrainConfig) {
	if src.Enabled {
		dst.Enabled = true
	}
	mergeStr(&dst.Root, src.Root)
	mergeStr(&dst.MemoryTemplate, src.MemoryTemplate)
	mergeStr(&dst.DailyIndexTemplate, src.DailyIndexTemplate)
	mergeStr(&dst.SessionGlobTemplate, src.SessionGlobTemplate)
	mergeBoolPtr(&dst.IncludeMemory, src.IncludeMemory)
	mergeInt(&dst.MaxChars, src.MaxChars)
	mergeInt(&dst.MaxSessions, src.MaxSessions)
	mergeInt(&dst.MaxLinesPerFile, src.MaxLinesPerFile)
}

func mergeMemoryNamespace(dst, src *MemoryNamespaceConfig) {
	mergeBoolPtr(&dst.Enabled, src.Enabled)
	mergeBoolPtr(&dst.StrictIsolation, src.StrictIsolation)
	mergeStr(&dst.Root, src.Root)
	mergeStr(&dst.TenantID, src.TenantID)
	mergeStr(&dst.DefaultAgentID, src.DefaultAgentID)
	mergeStr(&dst.DefaultProjectID, src.DefaultProjectID)
	mergeStr(&dst.GlobalMemoryTemplate, src.GlobalMemoryTemplate)
	mergeStr(&dst.DailyIndexTemplate, src.DailyIndexTemplate)
	mergeStr(&dst.SessionGlobTemplate, src.SessionGlobTemplate)
}
