package orchestrate

import (
	"fmt"
	"time"

	"github.com/nidhogg/overseer/internal/group"
)

// Trend classifies how the latest evaluation score compares to the previous
// one.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// trendDelta is how far a score must move to leave the Stable band.
const trendDelta = 0.1

// QualityTracker records per-iteration evaluation scores and classifies the
// trend. A degrading trend surfaces a pending-adjustment hint; it never
// forces an action by itself.
type QualityTracker struct {
	history []group.EvaluationEntry
	hint    string
}

// NewQualityTracker creates an empty tracker.
func NewQualityTracker() *QualityTracker {
	return &QualityTracker{}
}

// Record appends an evaluation entry and returns the trend relative to the
// previous entry. The first entry is always Stable.
func (q *QualityTracker) Record(score float64, rationale, evaluatorModel string) Trend {
	entry := group.EvaluationEntry{
		Score:          score,
		Rationale:      rationale,
		EvaluatorModel: evaluatorModel,
		Timestamp:      time.Now(),
	}

	trend := TrendStable
	if n := len(q.history); n > 0 {
		prev := q.history[n-1].Score
		switch {
		case score > prev+trendDelta:
			trend = TrendImproving
		case score < prev-trendDelta:
			trend = TrendDegrading
		}
	}
	q.history = append(q.history, entry)

	if trend == TrendDegrading {
		q.hint = fmt.Sprintf(
			"quality dropped from %.2f to %.2f; consider assigning a stronger model to underperforming workers",
			q.history[len(q.history)-2].Score, score)
	}
	return trend
}

// History returns the recorded entries in order.
func (q *QualityTracker) History() []group.EvaluationEntry {
	return q.history
}

// PendingHint returns the latest adjustment suggestion, or "" when none is
// outstanding. Reading it clears it.
func (q *QualityTracker) PendingHint() string {
	h := q.hint
	q.hint = ""
	return h
}
