package orchestrate

import "testing"

func TestAdvanceHappyPath(t *testing.T) {
	steps := []struct {
		ev   Event
		want Phase
	}{
		{EventPlanRequested, PhasePlanning},
		{EventDelegated, PhaseDispatching},
		{EventWorkersDispatched, PhaseWaitingForWorkers},
		{EventResultsCollected, PhaseEvaluating},
		{EventPlanRequested, PhasePlanning}, // loop back for another round
		{EventDelegated, PhaseDispatching},
		{EventWorkersDispatched, PhaseWaitingForWorkers},
		{EventResultsCollected, PhaseEvaluating},
		{EventGoalMet, PhaseComplete},
	}

	p := Phase("")
	for i, s := range steps {
		next, err := advance(p, s.ev)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if next != s.want {
			t.Fatalf("step %d: got %v, want %v", i, next, s.want)
		}
		p = next
	}
	if !p.Terminal() {
		t.Error("complete should be terminal")
	}
}

func TestAdvanceDirectAnswer(t *testing.T) {
	p, err := advance("", EventPlanRequested)
	if err != nil {
		t.Fatal(err)
	}
	p, err = advance(p, EventGoalMet)
	if err != nil {
		t.Fatal(err)
	}
	if p != PhaseComplete {
		t.Errorf("got %v, want complete", p)
	}
}

func TestAdvanceStallFromAnyLivePhase(t *testing.T) {
	for _, p := range []Phase{PhasePlanning, PhaseDispatching, PhaseWaitingForWorkers, PhaseEvaluating} {
		next, err := advance(p, EventStallConfirmed)
		if err != nil {
			t.Errorf("stall from %v: %v", p, err)
			continue
		}
		if next != PhaseStalled {
			t.Errorf("stall from %v = %v, want stalled", p, next)
		}
	}
}

func TestAdvanceRejectsIllegal(t *testing.T) {
	cases := []struct {
		p  Phase
		ev Event
	}{
		{"", EventDelegated},
		{PhasePlanning, EventResultsCollected},
		{PhaseWaitingForWorkers, EventGoalMet},
		{PhaseComplete, EventPlanRequested},
		{PhaseStalled, EventStallConfirmed},
		{PhaseDispatching, EventIterationLimit},
	}
	for _, c := range cases {
		if _, err := advance(c.p, c.ev); err == nil {
			t.Errorf("advance(%q, %q) should fail", c.p, c.ev)
		}
	}
}

func TestPhaseTerminal(t *testing.T) {
	terminal := []Phase{PhaseComplete, PhaseStalled, PhaseMaxIterations}
	for _, p := range terminal {
		if !p.Terminal() {
			t.Errorf("%v should be terminal", p)
		}
	}
	live := []Phase{"", PhasePlanning, PhaseDispatching, PhaseWaitingForWorkers, PhaseEvaluating}
	for _, p := range live {
		if p.Terminal() {
			t.Errorf("%v should not be terminal", p)
		}
	}
}
