package orchestrate

import "testing"

func TestParseAssignmentsDelegated(t *testing.T) {
	reply := `Here is the plan.

@worker:alice
Research the topic and list sources.
@end

@worker:bob
Draft the summary.
@end

Back to you soon.`

	out := ParseAssignments(reply, []string{"alice", "bob"})
	if out.Kind != Delegated {
		t.Fatalf("got kind %v, want Delegated", out.Kind)
	}
	if len(out.Assignments) != 2 {
		t.Fatalf("got %d assignments, want 2", len(out.Assignments))
	}
	if out.Assignments[0].Worker != "alice" {
		t.Errorf("got worker %q first, want %q", out.Assignments[0].Worker, "alice")
	}
	if out.Assignments[0].Task != "Research the topic and list sources." {
		t.Errorf("got task %q", out.Assignments[0].Task)
	}
	if out.Assignments[1].Worker != "bob" {
		t.Errorf("got worker %q second, want %q", out.Assignments[1].Worker, "bob")
	}
}

func TestParseAssignmentsDirectAnswer(t *testing.T) {
	out := ParseAssignments("The answer is 42. No delegation needed.", []string{"alice"})
	if out.Kind != HandledDirectly {
		t.Fatalf("got kind %v, want HandledDirectly", out.Kind)
	}
	if len(out.Assignments) != 0 {
		t.Errorf("got %d assignments, want 0", len(out.Assignments))
	}
}

func TestParseAssignmentsMalformed(t *testing.T) {
	// Blocks present but the name never resolves and a second block is empty.
	reply := "@worker:charlie\ndo something\n@end\n@worker:alice\n@end"
	out := ParseAssignments(reply, []string{"alice", "bob"})
	if out.Kind != Malformed {
		t.Fatalf("got kind %v, want Malformed", out.Kind)
	}
	if out.Reason == "" {
		t.Error("expected a reason on malformed outcome")
	}
}

func TestParseAssignmentsMissingEnd(t *testing.T) {
	// A new @worker: line or end of text closes an unterminated block.
	reply := "@worker:alice\nfirst task\n@worker:bob\nsecond task"
	out := ParseAssignments(reply, []string{"alice", "bob"})
	if out.Kind != Delegated {
		t.Fatalf("got kind %v, want Delegated", out.Kind)
	}
	if len(out.Assignments) != 2 {
		t.Fatalf("got %d assignments, want 2", len(out.Assignments))
	}
	if out.Assignments[0].Task != "first task" {
		t.Errorf("got task %q, want %q", out.Assignments[0].Task, "first task")
	}
}

func TestParseAssignmentsDropsEmptyTask(t *testing.T) {
	reply := "@worker:alice\n\n@end\n@worker:bob\nreal task\n@end"
	out := ParseAssignments(reply, []string{"alice", "bob"})
	if out.Kind != Delegated {
		t.Fatalf("got kind %v, want Delegated", out.Kind)
	}
	if len(out.Assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(out.Assignments))
	}
	if out.Assignments[0].Worker != "bob" {
		t.Errorf("got worker %q, want %q", out.Assignments[0].Worker, "bob")
	}
}

func TestResolveWorker(t *testing.T) {
	workers := []string{"research-agent", "Writer"}

	cases := []struct {
		token string
		want  string
	}{
		{"research-agent", "research-agent"},
		{"WRITER", "Writer"},
		{"research", "research-agent"},   // token contained in worker name
		{"the Writer session", "Writer"}, // worker name contained in token
		{"unknown", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := resolveWorker(c.token, workers); got != c.want {
			t.Errorf("resolveWorker(%q) = %q, want %q", c.token, got, c.want)
		}
	}
}
