package e2e

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nidhogg/overseer/internal/group"
	"github.com/nidhogg/overseer/internal/store"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}
	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		infraErr = err
		os.Exit(m.Run())
	}
	defer pgCleanup()

	testStore, err = store.New(pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg store: %v\n", err)
		os.Exit(1)
	}
	defer testStore.Close()

	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		infraErr = err
		os.Exit(m.Run())
	}
	defer redisCleanup()
	testRedisURL = redisURL

	os.Exit(m.Run())
}

func skipIfNoInfra(t *testing.T) {
	t.Helper()
	if infraErr != nil {
		t.Skipf("container infrastructure unavailable: %v", infraErr)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	skipIfNoInfra(t)
	ctx := context.Background()

	src := group.NewRegistry(testLogger)
	src.SetPersister(testStore)

	g := src.Create("round-trip", group.ModeOrchestratorReflect, true)
	g.OrchestratorPrompt = "be concise"
	src.AddMember(g.ID, "lead", group.RoleOrchestrator)
	src.AddMember(g.ID, "judge", group.RoleEvaluator)
	src.AddMember(g.ID, "w1", group.RoleWorker)
	src.SetPreferredModel("w1", "sonnet")

	now := time.Now()
	rs := &group.ReflectionState{
		Goal:             "ship the report",
		MaxIterations:    5,
		CurrentIteration: 3,
		GoalMet:          true,
		LastSimilarity:   0.42,
		History: []group.EvaluationEntry{
			{Score: 0.5, Rationale: "first pass", Timestamp: now},
			{Score: 0.95, Rationale: "done", Timestamp: now},
		},
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := src.SaveReflection(g.ID, rs); err != nil {
		t.Fatal(err)
	}

	// Reload into a fresh registry, as the server does at startup.
	dst := group.NewRegistry(testLogger)
	if err := testStore.LoadInto(ctx, dst); err != nil {
		t.Fatal(err)
	}

	loaded, ok := dst.Get(g.ID)
	if !ok {
		t.Fatal("group not restored")
	}
	if loaded.Name != "round-trip" || loaded.Mode != group.ModeOrchestratorReflect {
		t.Errorf("got %+v", loaded)
	}
	if loaded.OrchestratorPrompt != "be concise" {
		t.Errorf("got prompt %q", loaded.OrchestratorPrompt)
	}
	if loaded.Reflection == nil {
		t.Fatal("reflection state not restored")
	}
	if !loaded.Reflection.GoalMet || loaded.Reflection.CurrentIteration != 3 {
		t.Errorf("got reflection %+v", loaded.Reflection)
	}
	if len(loaded.Reflection.History) != 2 || loaded.Reflection.History[1].Score != 0.95 {
		t.Errorf("got history %+v", loaded.Reflection.History)
	}

	members := dst.MembersOf(g.ID)
	if len(members) != 3 {
		t.Fatalf("got %d members, want 3", len(members))
	}
	w1, _ := dst.Member("w1")
	if w1.PreferredModel != "sonnet" {
		t.Errorf("got model %q", w1.PreferredModel)
	}

	testStore.DeleteGroup(ctx, g.ID)
	for _, m := range members {
		testStore.DeleteMember(ctx, m.SessionName)
	}
}

func TestSaveGroupIsLastWriterWins(t *testing.T) {
	skipIfNoInfra(t)
	ctx := context.Background()

	g := &group.Group{ID: "11111111-1111-1111-1111-111111111111", Name: "v1",
		Mode: group.ModeBroadcast, CreatedAt: time.Now()}
	if err := testStore.SaveGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	g.Name = "v2"
	g.Mode = group.ModeSequential
	if err := testStore.SaveGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	defer testStore.DeleteGroup(ctx, g.ID)

	groups, err := testStore.LoadGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var found *group.Group
	for _, lg := range groups {
		if lg.ID == g.ID {
			found = lg
		}
	}
	if found == nil {
		t.Fatal("group not found")
	}
	if found.Name != "v2" || found.Mode != group.ModeSequential {
		t.Errorf("got %+v, want the second snapshot", found)
	}
}

func TestMemberRowsSurviveGroupDeletion(t *testing.T) {
	skipIfNoInfra(t)
	ctx := context.Background()

	g := &group.Group{ID: "22222222-2222-2222-2222-222222222222", Name: "doomed",
		Mode: group.ModeOrchestrator, CreatedAt: time.Now()}
	if err := testStore.SaveGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	m := &group.MemberMeta{SessionName: "survivor", GroupID: g.ID,
		Role: group.RoleOrchestrator, PreferredModel: "opus"}
	if err := testStore.SaveMember(ctx, m); err != nil {
		t.Fatal(err)
	}
	defer testStore.DeleteMember(ctx, m.SessionName)

	if err := testStore.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatal(err)
	}

	members, err := testStore.LoadMembers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var found *group.MemberMeta
	for _, lm := range members {
		if lm.SessionName == "survivor" {
			found = lm
		}
	}
	if found == nil {
		t.Fatal("member row should survive group deletion")
	}
	if found.Role != group.RoleOrchestrator || found.PreferredModel != "opus" {
		t.Errorf("got %+v, want team markers intact", found)
	}
}
