package orchestrate

import "strings"

// Task-assignment wire format, embedded in an orchestrator's free-text reply:
//
//	@worker:<name>
//	<task description>
//	@end
//
// Blocks repeat; a missing @end is tolerated, with the next @worker: line or
// end of text closing the block.
const (
	workerTag = "@worker:"
	endTag    = "@end"
)

// OutcomeKind tags the result of parsing an orchestrator reply.
type OutcomeKind int

const (
	// HandledDirectly means the reply contained no assignment blocks: the
	// orchestrator chose to answer the goal itself. Not an error.
	HandledDirectly OutcomeKind = iota
	// Delegated means at least one assignment resolved to a known worker.
	Delegated
	// Malformed means assignment blocks were present but none survived
	// resolution. Callers treat it like HandledDirectly but can surface
	// the reason.
	Malformed
)

// Assignment targets one worker with one task.
type Assignment struct {
	Worker string
	Task   string
}

// Outcome is the parse result as an explicit tagged variant, so the
// no-delegation case is a named state rather than an empty-slice convention.
type Outcome struct {
	Kind        OutcomeKind
	Assignments []Assignment
	Reason      string
}

// ParseAssignments extracts worker assignments from an orchestrator reply.
// Name tokens resolve against known workers case-insensitively, falling back
// to substring containment in either direction. Unresolved tokens and empty
// tasks are dropped; assignments come back in document order.
func ParseAssignments(reply string, workers []string) Outcome {
	lines := strings.Split(reply, "\n")

	sawBlock := false
	var assignments []Assignment
	var current string // resolved worker for the open block, "" if none/unresolved
	var open bool
	var body []string

	flush := func() {
		if open && current != "" {
			task := strings.TrimSpace(strings.Join(body, "\n"))
			if task != "" {
				assignments = append(assignments, Assignment{Worker: current, Task: task})
			}
		}
		open = false
		current = ""
		body = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, workerTag):
			flush()
			sawBlock = true
			open = true
			current = resolveWorker(trimmed[len(workerTag):], workers)
		case trimmed == endTag || strings.HasPrefix(trimmed, endTag+" "):
			flush()
		case open:
			body = append(body, line)
		}
	}
	flush()

	if !sawBlock {
		return Outcome{Kind: HandledDirectly}
	}
	if len(assignments) == 0 {
		return Outcome{Kind: Malformed, Reason: "assignment blocks present but none resolved to a known worker with a non-empty task"}
	}
	return Outcome{Kind: Delegated, Assignments: assignments}
}

// resolveWorker maps a name token to a known worker, or "" when unresolvable.
func resolveWorker(token string, workers []string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return ""
	}
	for _, w := range workers {
		if strings.ToLower(w) == t {
			return w
		}
	}
	for _, w := range workers {
		lw := strings.ToLower(w)
		if strings.Contains(lw, t) || strings.Contains(t, lw) {
			return w
		}
	}
	return ""
}
