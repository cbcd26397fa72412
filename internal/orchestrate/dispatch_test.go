package orchestrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/overseer/internal/group"
	"go.uber.org/zap"
)

func TestDispatchUnknownGroup(t *testing.T) {
	fake := newFakeSessions()
	registry := group.NewRegistry(zap.NewNop())
	d := NewDispatcher(fake, registry, NewPhaseNotifier(zap.NewNop()), Options{}, zap.NewNop())

	if _, err := d.Dispatch(context.Background(), "nope", "hi", nil); err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestDispatchEmptyGroup(t *testing.T) {
	fake := newFakeSessions()
	registry := group.NewRegistry(zap.NewNop())
	g := registry.Create("empty", group.ModeBroadcast, false)
	d := NewDispatcher(fake, registry, NewPhaseNotifier(zap.NewNop()), Options{}, zap.NewNop())

	if _, err := d.Dispatch(context.Background(), g.ID, "hi", nil); err == nil {
		t.Fatal("expected error for group with no members")
	}
}

func TestBroadcastQueuesBusyMembers(t *testing.T) {
	fake, d, g := reflectFixture(t, group.ModeBroadcast, false, "alice", "bob")
	fake.busy["bob"] = true
	fake.reply("orch", "ok")
	fake.reply("alice", "ok")

	if _, err := d.Dispatch(context.Background(), g.ID, "announcement", nil); err != nil {
		t.Fatal(err)
	}

	if len(fake.promptsFor("alice")) != 1 {
		t.Error("idle member should receive the broadcast directly")
	}
	if len(fake.promptsFor("bob")) != 0 {
		t.Error("busy member should not be sent to directly")
	}
	fake.mu.Lock()
	queued := fake.queued["bob"]
	fake.mu.Unlock()
	if len(queued) != 1 {
		t.Fatalf("got %d queued messages for busy member, want 1", len(queued))
	}
	if !strings.Contains(queued[0], "announcement") {
		t.Errorf("queued text %q should carry the prompt", queued[0])
	}
}

func TestBroadcastAnnotatesRecipients(t *testing.T) {
	fake, d, g := reflectFixture(t, group.ModeBroadcast, false, "alice", "bob")
	fake.reply("orch", "ok")
	fake.reply("alice", "ok")
	fake.reply("bob", "ok")

	if _, err := d.Dispatch(context.Background(), g.ID, "hello team", nil); err != nil {
		t.Fatal(err)
	}

	got := fake.promptsFor("alice")[0]
	if !strings.Contains(got, "You are alice") || !strings.Contains(got, "bob") {
		t.Errorf("member prompt %q should name the recipient and peers", got)
	}
}

func TestSequentialContinuesPastFailure(t *testing.T) {
	fake, d, g := reflectFixture(t, group.ModeSequential, false, "alice", "bob")
	fake.reply("orch", "ok")
	fake.fail("alice", errors.New("boom"))
	fake.reply("bob", "ok")

	if _, err := d.Dispatch(context.Background(), g.ID, "in order", nil); err != nil {
		t.Fatal(err)
	}
	if len(fake.promptsFor("bob")) != 1 {
		t.Error("a member failure must not stop the sequence")
	}
}

func TestSequentialStopsOnCancellation(t *testing.T) {
	fake, d, g := reflectFixture(t, group.ModeSequential, false, "alice", "bob")
	fake.blocked["orch"] = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := d.Dispatch(ctx, g.ID, "in order", nil); err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(fake.promptsFor("bob")) != 0 {
		t.Error("cancellation must stop the sequence")
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.DefaultMaxIterations != 5 {
		t.Errorf("got max iterations %d, want 5", o.DefaultMaxIterations)
	}
	if o.WorkerTimeout != 10*time.Minute {
		t.Errorf("got worker timeout %v, want 10m", o.WorkerTimeout)
	}
	if o.NeedsIterationScore != 0.4 {
		t.Errorf("got needs-iteration score %v, want 0.4", o.NeedsIterationScore)
	}
	if o.MaxConsecutiveStalls != 2 {
		t.Errorf("got stall limit %d, want 2", o.MaxConsecutiveStalls)
	}
}
