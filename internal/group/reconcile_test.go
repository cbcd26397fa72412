package group

import (
	"testing"

	"go.uber.org/zap"
)

func TestReconcileAttachesUnknownSessions(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	guard := NewReconciliationGuard(r, zap.NewNop())

	def := guard.Reconcile([]string{"s1", "s2"})
	if def.Name != DefaultGroupName {
		t.Fatalf("got default group %q", def.Name)
	}

	members := r.MembersOf(def.ID)
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	for _, m := range members {
		if m.Role != RoleWorker {
			t.Errorf("got role %s for swept session, want worker", m.Role)
		}
	}
}

func TestReconcileReusesDefaultGroup(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	guard := NewReconciliationGuard(r, zap.NewNop())

	first := guard.Reconcile([]string{"s1"})
	second := guard.Reconcile([]string{"s2"})
	if first.ID != second.ID {
		t.Error("repeated reconciles should share one default group")
	}
	if len(r.List()) != 1 {
		t.Errorf("got %d groups, want 1", len(r.List()))
	}
}

func TestReconcileLeavesExistingMembersAlone(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	g := r.Create("team", ModeOrchestrator, true)
	r.AddMember(g.ID, "worker", RoleWorker)
	guard := NewReconciliationGuard(r, zap.NewNop())

	guard.Reconcile([]string{"worker"})

	m, _ := r.Member("worker")
	if m.GroupID != g.ID {
		t.Errorf("got group %s, want original membership untouched", m.GroupID)
	}
}

func TestReconcileRehomesOrphanedWorkers(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	g := r.Create("team", ModeBroadcast, false)
	r.AddMember(g.ID, "plain", RoleWorker)
	r.Delete(g.ID)
	guard := NewReconciliationGuard(r, zap.NewNop())

	def := guard.Reconcile(nil)

	m, _ := r.Member("plain")
	if m.GroupID != def.ID {
		t.Errorf("got group %s, want orphan re-homed to default", m.GroupID)
	}
}

func TestReconcileNeverReassignsProtectedMembers(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	g := r.Create("team", ModeOrchestratorReflect, true)
	r.AddMember(g.ID, "lead", RoleOrchestrator)
	r.AddMember(g.ID, "judge", RoleEvaluator)
	r.AddMember(g.ID, "specialist", RoleWorker)
	r.SetPreferredModel("specialist", "opus")
	r.Delete(g.ID)
	guard := NewReconciliationGuard(r, zap.NewNop())

	def := guard.Reconcile(nil)

	for _, name := range []string{"lead", "judge", "specialist"} {
		m, ok := r.Member(name)
		if !ok {
			t.Fatalf("%s metadata should survive", name)
		}
		if m.GroupID == def.ID {
			t.Errorf("%s was reassigned despite its team marker", name)
		}
	}
	lead, _ := r.Member("lead")
	if lead.Role != RoleOrchestrator {
		t.Errorf("got role %s, want orchestrator preserved", lead.Role)
	}
}

func TestProtected(t *testing.T) {
	cases := []struct {
		m    MemberMeta
		want bool
	}{
		{MemberMeta{Role: RoleOrchestrator}, true},
		{MemberMeta{Role: RoleEvaluator}, true},
		{MemberMeta{Role: RoleWorker, PreferredModel: "opus"}, true},
		{MemberMeta{Role: RoleWorker}, false},
	}
	for _, c := range cases {
		if got := Protected(&c.m); got != c.want {
			t.Errorf("Protected(%+v) = %v, want %v", c.m, got, c.want)
		}
	}
}
