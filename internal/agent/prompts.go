package agent

import (
	"fmt"
	"strings"

	"github.com/orchardbot/orchard/pkg/models"
)

// DecompositionPrompt asks an agent to break a work item into 3-8
// independently executable subtasks and return them as a JSON array.
func DecompositionPrompt(title, description, attachmentsInfo string) string {
	var b strings.Builder
	b.WriteString("You are a software architect. Decompose the following task ")
	b.WriteString("into 3-8 independently executable subtasks for parallel coding agents.\n\n")
	fmt.Fprintf(&b, "TASK TITLE: %s\n\n", title)
	fmt.Fprintf(&b, "TASK DESCRIPTION:\n%s\n\n", description)
	if attachmentsInfo != "" {
		fmt.Fprintf(&b, "ATTACHMENTS INFO:\n%s\n\n", attachmentsInfo)
	}
	b.WriteString(`Return ONLY a JSON array of subtask objects. Each object must have these fields:
- "id": a short unique slug (e.g. "setup-auth")
- "title": concise subtask title
- "description": a complete, standalone prompt for a coding agent - include ALL context needed so the agent can work without seeing other subtasks
- "dependencies": list of other subtask titles this depends on (empty list if none)
- "estimated_files": list of file paths this subtask will likely touch
- "priority": integer (1 = highest). Same priority means tasks can run in parallel.

Rules:
- Make each subtask independently implementable in its own git branch
- Minimise file overlap between subtasks to avoid merge conflicts
- Include concrete file paths and clear acceptance criteria in each description
- Specify dependencies between subtasks by title
- Always include a final integration/testing subtask that depends on all others
- Return ONLY the JSON array, no markdown fences, no explanation`)
	return b.String()
}

// DecompositionFixPrompt asks an agent to repair malformed decomposition
// output. Used once per malformed response before giving up.
func DecompositionFixPrompt(raw string) string {
	return "The following text was supposed to be a JSON array of subtask objects " +
		"but it has syntax errors. Fix it and return ONLY the corrected JSON array, " +
		"nothing else:\n\n" + raw
}

// ExecutionPrompt builds the working prompt for one subtask agent.
func ExecutionPrompt(parentTitle string, st *models.Subtask) string {
	files := strings.Join(st.EstimatedFiles, ", ")
	if files == "" {
		files = "Determine from the description."
	}
	return fmt.Sprintf(`You are one of several coding agents working on a larger task.

## Parent Task
**%s**

## Your Subtask: %s

%s

## Target Files
%s

## Instructions
- Only implement what is described above.
- Commit your changes with a message prefixed with [%s].
- Do NOT push to remote.
`, parentTitle, st.Title, st.Description, files, st.Title)
}

// ReplanPrompt asks an agent to decide how to recover from a failed
// subtask: retry with new instructions, bridge with new subtasks, or
// cancel the failed task's dependents.
func ReplanPrompt(parentTitle string, failed *models.Subtask, pendingTitles []string) string {
	pending := strings.Join(pendingTitles, ", ")
	if pending == "" {
		pending = "none"
	}
	errText := failed.Error
	if errText == "" {
		errText = "unknown"
	}
	return fmt.Sprintf(`A subtask in an automated code orchestration failed.

Failed task: %s
Error: %s
Pending tasks: %s

Original parent task: %s

Decide ONE of:
1. RETRY - provide modified instructions for the failed task
2. BRIDGE - provide 1-2 new bridging subtasks that work around the failure
3. CANCEL - cancel all downstream dependents of the failed task

Return ONLY a JSON object (no markdown fences) with:
- "action": "retry" | "bridge" | "cancel"
- "modified_instructions": string (only for retry)
- "new_tasks": array of subtask objects (only for bridge). Each object needs: "id", "title", "description", "dependencies", "estimated_files", "priority"
- "reason": brief explanation`, failed.Title, errText, pending, parentTitle)
}

// ReviewPrompt asks an agent inside a merged inspection worktree to look
// for critical problems only, returning a JSON verdict.
func ReviewPrompt(parentTitle string, completed []*models.Subtask) string {
	var summaries strings.Builder
	for _, st := range completed {
		fmt.Fprintf(&summaries, "- %s: branch=%s, files=%s\n",
			st.Title, st.Branch, strings.Join(st.EstimatedFiles, ", "))
	}
	return fmt.Sprintf(`You are a senior code reviewer. You are inside a git worktree that contains the merged output of several coding agents.

## Parent Task
%s

## Completed Subtasks
%s
## Your Job
1. Use `+"`git log --oneline`"+` and `+"`git diff HEAD~%d`"+` to inspect what the agents changed.
2. Look for VERY CRITICAL problems ONLY:
   - Broken imports or syntax errors that prevent the project from running
   - Security vulnerabilities (credentials leaked, SQL injection, etc.)
   - Completely missing implementations (function stubs left empty when they should have been filled)
   - Logic that is the exact opposite of what was requested
3. Do NOT flag style issues, minor bugs, missing tests, or improvements. Those are not critical.

## Output
Return ONLY a JSON object (no markdown fences):
{"critical": false} if no very critical problems were found.
OR
{"critical": true, "issues": [{"title": "short-slug", "description": "Complete standalone prompt for a coding agent to fix this issue. Include file paths and exact problem.", "estimated_files": ["path/to/file"], "priority": 1}]}
Remember: only VERY CRITICAL issues. When in doubt, it is fine.`,
		parentTitle, summaries.String(), len(completed))
}

// ConflictResolutionPrompt asks an agent to clear all merge conflict
// markers in the current worktree and stage the result.
func ConflictResolutionPrompt() string {
	return "Resolve ALL git merge conflict markers in this repository. " +
		"Look at every file with conflict markers (<<<<<<< ======= >>>>>>>) " +
		"and produce a clean resolution that preserves the intent of both sides. " +
		"Stage the resolved files with git add."
}
