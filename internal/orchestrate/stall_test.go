package orchestrate

import "testing"

func TestStallDetectorExactRepeat(t *testing.T) {
	d := NewStallDetector()

	stalled, sim := d.Check("first response about apples")
	if stalled {
		t.Fatal("first check should never stall")
	}
	if sim != 0 {
		t.Errorf("got similarity %v on first check, want 0", sim)
	}

	stalled, sim = d.Check("completely different second response")
	if stalled {
		t.Fatal("distinct responses should not stall")
	}

	// Verbatim repeat of an earlier response within the window.
	stalled, sim = d.Check("first response about apples")
	if !stalled {
		t.Fatal("verbatim repeat should stall")
	}
	if sim != 1.0 {
		t.Errorf("got similarity %v on repeat, want 1.0", sim)
	}
}

func TestStallDetectorWindowEviction(t *testing.T) {
	d := NewStallDetector()
	d.Check("response zero zero zero")
	for i := 0; i < stallWindow; i++ {
		d.Check(distinctText(i))
	}

	// The original hash has been evicted, and the token overlap with the
	// previous filler is low, so this is not a stall.
	stalled, _ := d.Check("response zero zero zero")
	if stalled {
		t.Error("repeat outside the window should not stall")
	}
}

func TestStallDetectorNearIdentical(t *testing.T) {
	d := NewStallDetector()
	base := "a1 a2 a3 a4 a5 a6 a7 a8 a9 a10 a11 a12 a13 a14 a15 a16 a17 a18 a19 a20"
	d.Check(base + " tail")
	// One token changed out of twenty-one: Jaccard 20/22, above the
	// threshold, while the hash differs.
	stalled, sim := d.Check(base + " changed")
	if !stalled {
		t.Fatalf("near-identical response should stall (similarity %v)", sim)
	}
	if sim >= 1.0 || sim <= stallSimilarity {
		t.Errorf("got similarity %v, want in (%v, 1.0)", sim, stallSimilarity)
	}
}

func TestStallDetectorProgress(t *testing.T) {
	d := NewStallDetector()
	d.Check("draft one covers the introduction and the outline")
	stalled, sim := d.Check("final version adds benchmarks plus a conclusion section")
	if stalled {
		t.Errorf("progressing responses should not stall (similarity %v)", sim)
	}
}

func TestJaccardBounds(t *testing.T) {
	if got := jaccard("", ""); got != 0 {
		t.Errorf("jaccard of empty texts = %v, want 0", got)
	}
	if got := jaccard("a b c", "a b c"); got != 1.0 {
		t.Errorf("jaccard of identical texts = %v, want 1.0", got)
	}
	if got := jaccard("a b", "c d"); got != 0 {
		t.Errorf("jaccard of disjoint texts = %v, want 0", got)
	}
	if got, want := jaccard("a b c d", "c d e f"), 1.0/3.0; got != want {
		t.Errorf("jaccard = %v, want %v", got, want)
	}
}

func distinctText(i int) string {
	words := []string{"oak", "elm", "fir", "ash", "yew", "pine", "birch"}
	return "filler " + words[i%len(words)] + " content block"
}
