package orchestrate

import (
	"fmt"

	"go.uber.org/zap"
)

// Phase is the reflection state machine's current position.
type Phase string

const (
	PhasePlanning          Phase = "planning"
	PhaseDispatching       Phase = "dispatching"
	PhaseWaitingForWorkers Phase = "waiting_for_workers"
	PhaseEvaluating        Phase = "evaluating"
	PhaseComplete          Phase = "complete"
	PhaseStalled           Phase = "stalled"
	PhaseMaxIterations     Phase = "max_iterations_reached"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseStalled, PhaseMaxIterations:
		return true
	}
	return false
}

// Event drives the state machine between phases.
type Event string

const (
	// EventPlanRequested starts a planning round (initial entry or loop-back).
	EventPlanRequested Event = "plan_requested"
	// EventDelegated fires when the plan parsed into worker assignments.
	EventDelegated Event = "delegated"
	// EventWorkersDispatched fires once all sends are in flight.
	EventWorkersDispatched Event = "workers_dispatched"
	// EventResultsCollected fires when every worker result is in.
	EventResultsCollected Event = "results_collected"
	// EventGoalMet ends the run successfully: empty plan, completion
	// sentinel, or an evaluator score above the completion threshold.
	EventGoalMet Event = "goal_met"
	// EventStallConfirmed ends the run after a second consecutive stall.
	EventStallConfirmed Event = "stall_confirmed"
	// EventIterationLimit ends the run at the iteration budget.
	EventIterationLimit Event = "iteration_limit"
)

// advance is the pure transition function: it maps (phase, event) to the next
// phase or rejects the combination. Every legal edge is enumerated so an
// invariant regression fails loudly instead of producing an impossible state.
func advance(p Phase, ev Event) (Phase, error) {
	switch ev {
	case EventPlanRequested:
		switch p {
		case "", PhasePlanning, PhaseEvaluating:
			return PhasePlanning, nil
		}
	case EventDelegated:
		if p == PhasePlanning {
			return PhaseDispatching, nil
		}
	case EventWorkersDispatched:
		if p == PhaseDispatching {
			return PhaseWaitingForWorkers, nil
		}
	case EventResultsCollected:
		if p == PhaseWaitingForWorkers {
			return PhaseEvaluating, nil
		}
	case EventGoalMet:
		switch p {
		case PhasePlanning, PhaseEvaluating:
			return PhaseComplete, nil
		}
	case EventStallConfirmed:
		// Reachable from any live phase: repeated-output stalls surface in
		// Evaluating, while the transient-error budget can run out anywhere.
		if !p.Terminal() {
			return PhaseStalled, nil
		}
	case EventIterationLimit:
		// Delegated rounds hit the budget in Evaluating; solo rounds never
		// leave Planning.
		switch p {
		case PhasePlanning, PhaseEvaluating:
			return PhaseMaxIterations, nil
		}
	}
	return p, fmt.Errorf("illegal transition: %s on %s", ev, p)
}

// PhaseObserver receives phase-change notifications for a group. Observers
// must not block; slow consumers should hand off internally.
type PhaseObserver interface {
	PhaseChanged(groupID string, phase Phase, detail string)
}

// PhaseNotifier fans a phase change out to all registered observers.
type PhaseNotifier struct {
	observers []PhaseObserver
	logger    *zap.Logger
}

// NewPhaseNotifier creates a notifier.
func NewPhaseNotifier(logger *zap.Logger) *PhaseNotifier {
	return &PhaseNotifier{logger: logger}
}

// Attach registers an observer. Not safe for concurrent use with notify;
// attach everything during wiring.
func (n *PhaseNotifier) Attach(obs PhaseObserver) {
	n.observers = append(n.observers, obs)
}

func (n *PhaseNotifier) notify(groupID string, phase Phase, detail string) {
	n.logger.Debug("phase changed",
		zap.String("group", groupID),
		zap.String("phase", string(phase)),
		zap.String("detail", detail))
	for _, obs := range n.observers {
		obs.PhaseChanged(groupID, phase, detail)
	}
}
