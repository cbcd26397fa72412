package orchestrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/overseer/internal/group"
)

// WorkerInfo is what the orchestrator is told about each worker.
type WorkerInfo struct {
	Name  string
	Model string
}

func describeWorkers(workers []WorkerInfo) string {
	var sb strings.Builder
	for _, w := range workers {
		sb.WriteString("- ")
		sb.WriteString(w.Name)
		if w.Model != "" {
			fmt.Fprintf(&sb, " (model: %s)", w.Model)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// planningPrompt builds the first-iteration planning prompt.
func planningPrompt(goal, systemPrompt string, workers []WorkerInfo) string {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("You are the orchestrator of a team of worker sessions.\n\n")
	sb.WriteString("Goal:\n")
	sb.WriteString(goal)
	sb.WriteString("\n\nAvailable workers:\n")
	sb.WriteString(describeWorkers(workers))
	sb.WriteString("\nDelegate sub-tasks using one block per worker:\n")
	sb.WriteString("@worker:<name>\n<task description>\n@end\n\n")
	sb.WriteString("If the goal needs no delegation, answer it directly with no @worker blocks.")
	return sb.String()
}

// replanPrompt builds the planning prompt for iterations after the first,
// folding in the previous round's evaluation feedback.
func replanPrompt(goal, systemPrompt string, workers []WorkerInfo, iteration int, feedback string) string {
	var sb strings.Builder
	sb.WriteString(planningPrompt(goal, systemPrompt, workers))
	fmt.Fprintf(&sb, "\n\nThis is iteration %d. The previous round did not fully satisfy the goal.\n", iteration)
	if feedback != "" {
		sb.WriteString("Evaluation feedback from the previous round:\n")
		sb.WriteString(feedback)
		sb.WriteString("\n")
	}
	sb.WriteString("Adjust the plan to address the feedback.")
	return sb.String()
}

// soloPrompt builds the first-round prompt for an orchestrator with no
// workers: it does the work itself instead of delegating.
func soloPrompt(goal, systemPrompt string) string {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Work toward the following goal. You have no workers to delegate to; do the work yourself.\n\n")
	sb.WriteString("Goal:\n")
	sb.WriteString(goal)
	fmt.Fprintf(&sb, "\n\nWhen the goal is fully met, end your reply with %s alone on its own line. Otherwise state what still remains.",
		SentinelComplete)
	return sb.String()
}

// soloReplanPrompt builds the solo prompt for rounds after the first.
func soloReplanPrompt(goal, systemPrompt string, iteration int, feedback string) string {
	var sb strings.Builder
	sb.WriteString(soloPrompt(goal, systemPrompt))
	fmt.Fprintf(&sb, "\n\nThis is iteration %d. The goal is not yet met.\n", iteration)
	if feedback != "" {
		sb.WriteString(feedback)
		sb.WriteString("\n")
	}
	sb.WriteString("Continue from where you left off.")
	return sb.String()
}

// workerPrompt prefixes a task with the original user request for context.
func workerPrompt(originalRequest, task string) string {
	return fmt.Sprintf("Original request: %s\n\nYour task:\n%s", originalRequest, task)
}

// memberPrompt prefixes a broadcast/sequential prompt with a per-recipient
// context line.
func memberPrompt(recipient string, peers []string, prompt string) string {
	others := "no one else"
	if len(peers) > 0 {
		others = strings.Join(peers, ", ")
	}
	return fmt.Sprintf("[You are %s. Also in this group: %s.]\n%s", recipient, others, prompt)
}

func describeResults(results []WorkerResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.OK {
			fmt.Fprintf(&sb, "[%s] (%.1fs)\n%s\n\n", r.Worker, r.Elapsed.Seconds(), r.Response)
		} else {
			fmt.Fprintf(&sb, "[%s] FAILED: %s\n\n", r.Worker, r.Err)
		}
	}
	return sb.String()
}

// synthesisPrompt asks the orchestrator to combine worker results. When a
// dedicated evaluator exists the synthesis is scored separately; otherwise
// the orchestrator self-evaluates in the same reply using the sentinels.
func synthesisPrompt(goal string, results []WorkerResult, selfEvaluate bool) string {
	var sb strings.Builder
	sb.WriteString("Combine the following worker results into a single coherent answer.\n\n")
	sb.WriteString("Goal:\n")
	sb.WriteString(goal)
	sb.WriteString("\n\nWorker results:\n")
	sb.WriteString(describeResults(results))
	if selfEvaluate {
		fmt.Fprintf(&sb, "Then judge the combined answer against the goal. If the goal is fully met, end your reply with %s. If another round is needed, end with %s and state what must improve.",
			SentinelGroupComplete, SentinelNeedsIteration)
	}
	return sb.String()
}

// evaluationPrompt asks the dedicated evaluator to score a synthesis.
func evaluationPrompt(goal, synthesis, override string) string {
	if override != "" {
		return fmt.Sprintf("%s\n\nGoal:\n%s\n\nAnswer to evaluate:\n%s", override, goal, synthesis)
	}
	return fmt.Sprintf(
		"Evaluate how well the following answer satisfies the goal.\n\nGoal:\n%s\n\nAnswer:\n%s\n\nReply with a line \"Score: <0.0-1.0>\" and a short rationale. If the answer fully satisfies the goal, include %s.",
		goal, synthesis, SentinelGroupComplete)
}

// completionSummary renders the human-readable terminal summary.
func completionSummary(rs *group.ReflectionState) string {
	dur := time.Duration(0)
	if rs.CompletedAt != nil {
		dur = rs.CompletedAt.Sub(rs.StartedAt).Round(time.Second)
	}
	var outcome string
	switch {
	case rs.GoalMet:
		outcome = "goal met"
	case rs.IsStalled:
		outcome = fmt.Sprintf("stalled (last similarity %.2f)", rs.LastSimilarity)
	default:
		outcome = "iteration limit reached without completion"
	}
	return fmt.Sprintf("Reflection finished: %s\nGoal: %s\nIterations: %d/%d\nDuration: %s",
		outcome, rs.Goal, rs.CurrentIteration, rs.MaxIterations, dur)
}
