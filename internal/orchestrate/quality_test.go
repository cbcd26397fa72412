package orchestrate

import "testing"

func TestQualityTrackerTrend(t *testing.T) {
	q := NewQualityTracker()

	if got := q.Record(0.5, "first pass", ""); got != TrendStable {
		t.Errorf("first record = %v, want stable", got)
	}
	if got := q.Record(0.55, "minor change", ""); got != TrendStable {
		t.Errorf("within band = %v, want stable", got)
	}
	if got := q.Record(0.8, "big improvement", ""); got != TrendImproving {
		t.Errorf("large rise = %v, want improving", got)
	}
	if got := q.Record(0.4, "regression", ""); got != TrendDegrading {
		t.Errorf("large drop = %v, want degrading", got)
	}

	if len(q.History()) != 4 {
		t.Fatalf("got %d history entries, want 4", len(q.History()))
	}
}

func TestQualityTrackerHint(t *testing.T) {
	q := NewQualityTracker()
	q.Record(0.9, "good", "")

	if hint := q.PendingHint(); hint != "" {
		t.Errorf("got hint %q before degradation, want none", hint)
	}

	q.Record(0.3, "bad", "")
	hint := q.PendingHint()
	if hint == "" {
		t.Fatal("expected a hint after degradation")
	}
	// Reading clears it.
	if again := q.PendingHint(); again != "" {
		t.Errorf("got hint %q on second read, want none", again)
	}
}
