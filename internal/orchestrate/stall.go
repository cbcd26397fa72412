package orchestrate

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// stallWindow is how many recent response hashes are kept for exact
	// repetition checks.
	stallWindow = 5
	// stallSimilarity is the Jaccard threshold above which successive
	// responses count as non-progressing.
	stallSimilarity = 0.9
)

// StallDetector decides whether successive orchestrator outputs are making
// progress. An exact repeat of any response in the recent window, or a
// near-identical token set versus the immediately preceding response, is a
// stall.
type StallDetector struct {
	hashes  []uint64
	prev    string
	hasPrev bool
	lastSim float64
}

// NewStallDetector creates a detector with an empty window.
func NewStallDetector() *StallDetector {
	return &StallDetector{}
}

// Check records the text and reports whether it is a stall, along with the
// similarity that produced the verdict.
func (d *StallDetector) Check(text string) (bool, float64) {
	h := xxhash.Sum64String(text)

	repeated := false
	for _, seen := range d.hashes {
		if seen == h {
			repeated = true
			break
		}
	}

	var sim float64
	if repeated {
		sim = 1.0
	} else if d.hasPrev {
		sim = jaccard(d.prev, text)
	}

	d.hashes = append(d.hashes, h)
	if len(d.hashes) > stallWindow {
		d.hashes = d.hashes[len(d.hashes)-stallWindow:]
	}
	d.prev = text
	d.hasPrev = true
	d.lastSim = sim

	return repeated || sim > stallSimilarity, sim
}

// LastSimilarity returns the similarity computed by the most recent Check.
func (d *StallDetector) LastSimilarity() float64 {
	return d.lastSim
}

// jaccard computes |intersection| / |union| over whitespace token sets.
// Symmetric, bounded to [0,1]; identical texts score 1.0.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	union := len(setB)
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}
