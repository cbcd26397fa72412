package group

import "time"

// Mode defines how a prompt is delivered to a group's members.
type Mode string

const (
	ModeBroadcast           Mode = "broadcast"
	ModeSequential          Mode = "sequential"
	ModeOrchestrator        Mode = "orchestrator"
	ModeOrchestratorReflect Mode = "orchestrator_reflect"
)

// Role is a member's duty within a group.
type Role string

const (
	RoleWorker       Role = "worker"
	RoleOrchestrator Role = "orchestrator"
	RoleEvaluator    Role = "evaluator"
)

// FinishReason identifies which terminal condition ended a reflection run.
type FinishReason string

const (
	FinishGoalMet        FinishReason = "goal_met"
	FinishStalled        FinishReason = "stalled"
	FinishIterationLimit FinishReason = "iteration_limit"
)

// Group is a named set of sessions sharing a delivery mode.
// Reflection is meaningful only when Mode is ModeOrchestratorReflect.
type Group struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	IsMultiAgent       bool             `json:"isMultiAgent"`
	Mode               Mode             `json:"mode"`
	OrchestratorPrompt string           `json:"orchestratorPrompt,omitempty"`
	Reflection         *ReflectionState `json:"reflectionState,omitempty"`
	SortOrder          int              `json:"sortOrder"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// MemberMeta records a session's role and model preference within a group.
// It outlives the owning group: role and preferred model are the durable
// evidence that a session was deliberately placed on a team, and the
// reconciliation guard reads them after the group itself is gone.
type MemberMeta struct {
	SessionName    string `json:"sessionName"`
	GroupID        string `json:"groupId"`
	Role           Role   `json:"role"`
	PreferredModel string `json:"preferredModel,omitempty"`
	Pinned         bool   `json:"pinned"`
	SortOrder      int    `json:"sortOrder"`
}

// EvaluationEntry is one iteration's recorded score.
type EvaluationEntry struct {
	Score          float64   `json:"score"`
	Rationale      string    `json:"rationale"`
	EvaluatorModel string    `json:"evaluatorModel"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReflectionState is the live record of an iterative orchestrator run.
type ReflectionState struct {
	Goal              string            `json:"goal"`
	EvalPrompt        string            `json:"evalPrompt,omitempty"`
	MaxIterations     int               `json:"maxIterations"`
	CurrentIteration  int               `json:"currentIteration"`
	IsActive          bool              `json:"isActive"`
	IsPaused          bool              `json:"isPaused"`
	GoalMet           bool              `json:"goalMet"`
	IsStalled         bool              `json:"isStalled"`
	ConsecutiveStalls int               `json:"consecutiveStalls"`
	LastSimilarity    float64           `json:"lastSimilarity"`
	History           []EvaluationEntry `json:"evaluationHistory"`
	StartedAt         time.Time         `json:"startedAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
}

// Finish marks the state terminal for exactly one reason. All terminal
// bookkeeping goes through here so the exclusivity invariant
// (inactive implies exactly one of goal met / stalled / limit reached)
// cannot drift across call sites.
func (rs *ReflectionState) Finish(reason FinishReason) {
	rs.IsActive = false
	rs.IsPaused = false
	rs.GoalMet = false
	rs.IsStalled = false
	now := time.Now()
	rs.CompletedAt = &now

	switch reason {
	case FinishGoalMet:
		rs.GoalMet = true
	case FinishStalled:
		rs.IsStalled = true
	case FinishIterationLimit:
		// Terminal purely by CurrentIteration >= MaxIterations.
		if rs.CurrentIteration < rs.MaxIterations {
			rs.CurrentIteration = rs.MaxIterations
		}
	}
}

// Clone returns a deep copy. Snapshots cross goroutine boundaries — the run
// loop keeps mutating its own working state while readers marshal the stored
// copy — so nothing may alias.
func (rs *ReflectionState) Clone() *ReflectionState {
	cp := *rs
	if rs.History != nil {
		cp.History = append([]EvaluationEntry(nil), rs.History...)
	}
	if rs.CompletedAt != nil {
		t := *rs.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Terminal reports whether the run has ended.
func (rs *ReflectionState) Terminal() bool {
	return !rs.IsActive && (rs.GoalMet || rs.IsStalled || rs.CurrentIteration >= rs.MaxIterations)
}

// Outcome names the terminal condition, or "active" if still running.
func (rs *ReflectionState) Outcome() string {
	switch {
	case rs.IsActive:
		return "active"
	case rs.GoalMet:
		return string(FinishGoalMet)
	case rs.IsStalled:
		return string(FinishStalled)
	default:
		return string(FinishIterationLimit)
	}
}
