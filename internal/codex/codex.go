// Package codex drives the external coding-agent CLI. The supervisor never
// parses agent output; the contract is file-based (agent/PLAN.md,
// agent/STATUS.json, agent/RESULT.md) and the only signals back are the exit
// code and file mtimes.
package codex

import (
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/clawdev/internal/blueprint"
	"github.com/openclaw/clawdev/internal/namespace"
	"github.com/openclaw/clawdev/internal/run"
)

// Exit codes surfaced to the supervisor state machine.
const (
	ExitOK       = run.ExitOK
	ExitTimeout  = run.ExitTimeout
	ExitNotFound = run.ExitNotFound
)

// ResumeLabel is the last_cmd value recorded for warm resumes.
const ResumeLabel = "codex exec resume --last"

// Invoker invokes one agent CLI session per repository.
type Invoker struct {
	// Repo is the working directory of the agent session.
	Repo string
	// Command is the agent binary, normally "codex".
	Command string
	// Timeout bounds a single exec or resume call.
	Timeout time.Duration
	// FullAuto passes --full-auto so the agent skips approval prompts.
	FullAuto bool
	// AddDirs grants extra writable directories to the agent sandbox.
	AddDirs []string
}

// BuildPrompt renders the compact instruction block for one step. The prompt
// forces file-based outputs to keep token usage low and makes the namespace
// boundary explicit so the agent does not mix memory across projects.
func BuildPrompt(step *blueprint.Step, digest string, ns namespace.Namespace) string {
	var b strings.Builder
	b.WriteString("Operate in-repo with minimal tokens. ")
	b.WriteString("First write a concrete 3-6 step plan to agent/PLAN.md, then execute immediately. ")
	b.WriteString("Follow agent/POLICY.md + agent/TASK.md + agent/COMMANDS.env. ")
	b.WriteString("Update agent/STATUS.json after each step; update HOT every run and WARM on milestones. ")
	b.WriteString("Never paste long logs, only tail summaries to files. ")
	b.WriteString("If human decision needed, write DECISIONS.md and set STATUS=blocked. ")
	b.WriteString("Gate: QA_CMD pass (fallback TEST_CMD). On pass, write RESULT.md and set STATUS=done. ")
	if step != nil {
		fmt.Fprintf(&b, "Current step: %s - %s. ", step.Name, step.Objective)
	}
	fmt.Fprintf(&b,
		"Namespace isolation is strict by default. "+
			"Use only memory under tenant=%s, agent=%s, project=%s. "+
			"Do not mix decisions from other projects unless explicitly imported.\n",
		ns.TenantID, ns.AgentID, ns.ProjectID)
	if strings.TrimSpace(digest) != "" {
		b.WriteString("Second-brain context (authoritative, compact, read-only):\n")
		b.WriteString(digest)
		b.WriteString("\n")
	}
	return b.String()
}

// forceWritePrompt is the second-chance prompt used when the agent burns a
// whole call inspecting without writing anything.
func forceWritePrompt() string {
	return "Use the shell to overwrite agent/PLAN.md with a concrete numbered plan (3-6 steps) " +
		"that matches agent/TASK.md. " +
		"After writing PLAN.md, update agent/HOT.md and agent/STATUS.json " +
		"(state=running, last_action='wrote plan'), then exit. " +
		"Do not print large logs."
}

func (iv Invoker) execArgs() []string {
	args := []string{"exec"}
	if iv.FullAuto {
		args = append(args, "--full-auto")
	}
	for _, dir := range iv.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	return args
}

// Start launches a cold agent session for the step.
func (iv Invoker) Start(step *blueprint.Step, digest string, ns namespace.Namespace) int {
	args := append(iv.execArgs(), BuildPrompt(step, digest, ns))
	return run.Code(iv.Repo, iv.Timeout, iv.Command, args...)
}

// Resume continues the most recent agent session for this repo.
func (iv Invoker) Resume(step *blueprint.Step, digest string, ns namespace.Namespace) int {
	args := []string{"exec", "resume", "--last", BuildPrompt(step, digest, ns)}
	return run.Code(iv.Repo, iv.Timeout, iv.Command, args...)
}

// ForceWrite escalates with the plan-forcing prompt after a call produced no
// file changes.
func (iv Invoker) ForceWrite() int {
	args := append(iv.execArgs(), forceWritePrompt())
	return run.Code(iv.Repo, iv.Timeout, iv.Command, args...)
}

// StartLabel is the last_cmd value recorded for cold starts.
func (iv Invoker) StartLabel() string {
	if iv.FullAuto {
		return "codex exec --full-auto"
	}
	return "codex exec"
}
