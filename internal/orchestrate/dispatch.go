package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/overseer/internal/group"
	"go.uber.org/zap"
)

// SessionAPI is what the orchestration core needs from the session directory:
// send a prompt to a named session and await its final text, plus the busy
// bookkeeping for queued delivery.
type SessionAPI interface {
	Send(ctx context.Context, name, text string) (string, error)
	IsBusy(name string) bool
	Enqueue(name, text string) error
	Has(name string) bool
}

// WorkerResult captures one worker's outcome for a dispatched assignment.
type WorkerResult struct {
	Worker   string        `json:"worker"`
	Response string        `json:"response,omitempty"`
	OK       bool          `json:"ok"`
	Err      string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Options are the orchestration tunables. Zero values fall back to defaults.
type Options struct {
	DefaultMaxIterations int
	WorkerTimeout        time.Duration
	// NeedsIterationScore is recorded when a self-evaluating orchestrator
	// signals continuation; the historical default is 0.4.
	NeedsIterationScore float64
	// CompletionScore is the evaluator score at or above which the run
	// completes.
	CompletionScore      float64
	MaxConsecutiveStalls int
	MaxTransientErrors   int
	RetryBackoff         time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultMaxIterations <= 0 {
		o.DefaultMaxIterations = 5
	}
	if o.WorkerTimeout <= 0 {
		o.WorkerTimeout = 10 * time.Minute
	}
	if o.NeedsIterationScore <= 0 {
		o.NeedsIterationScore = 0.4
	}
	if o.CompletionScore <= 0 {
		o.CompletionScore = 0.9
	}
	if o.MaxConsecutiveStalls <= 0 {
		o.MaxConsecutiveStalls = 2
	}
	if o.MaxTransientErrors <= 0 {
		o.MaxTransientErrors = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	return o
}

// Result is what a dispatch hands back to the caller.
type Result struct {
	Text       string                 `json:"text,omitempty"`
	Reflection *group.ReflectionState `json:"reflection,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
}

// RunOverrides carries per-dispatch overrides for reflect runs.
type RunOverrides struct {
	MaxIterations int
	EvalPrompt    string
}

// Dispatcher routes a user prompt to a group according to its delivery mode.
type Dispatcher struct {
	sessions SessionAPI
	registry *group.Registry
	notifier *PhaseNotifier
	opts     Options
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sessions SessionAPI, registry *group.Registry, notifier *PhaseNotifier, opts Options, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		registry: registry,
		notifier: notifier,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Dispatch delivers a prompt to a group in its configured mode. Reflect runs
// block until the loop terminates; the caller owns cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, groupID, prompt string, over *RunOverrides) (*Result, error) {
	g, ok := d.registry.Get(groupID)
	if !ok {
		return nil, fmt.Errorf("group %s not found", groupID)
	}
	members := d.registry.MembersOf(groupID)
	if len(members) == 0 {
		return nil, fmt.Errorf("group %s has no members", groupID)
	}

	switch g.Mode {
	case group.ModeBroadcast:
		d.broadcast(ctx, g, members, prompt)
		return &Result{}, nil
	case group.ModeSequential:
		return &Result{}, d.sequential(ctx, g, members, prompt)
	case group.ModeOrchestrator:
		c := newController(d, g)
		return c.RunOnce(ctx, prompt)
	case group.ModeOrchestratorReflect:
		c := newController(d, g)
		return c.Run(ctx, prompt, over)
	default:
		return nil, fmt.Errorf("group %s: unknown mode %q", groupID, g.Mode)
	}
}

// broadcast sends the prompt to every member concurrently. Busy members get
// the message queued; individual failures are logged, never escalated.
func (d *Dispatcher) broadcast(ctx context.Context, g *group.Group, members []*group.MemberMeta, prompt string) {
	var wg sync.WaitGroup
	for _, m := range members {
		text := memberPrompt(m.SessionName, peerNames(members, m.SessionName), prompt)
		if d.sessions.IsBusy(m.SessionName) {
			if err := d.sessions.Enqueue(m.SessionName, text); err != nil {
				d.logger.Warn("broadcast enqueue failed",
					zap.String("group", g.ID),
					zap.String("session", m.SessionName),
					zap.Error(err))
			}
			continue
		}
		wg.Add(1)
		go func(name, text string) {
			defer wg.Done()
			if _, err := d.sessions.Send(ctx, name, text); err != nil {
				d.logger.Warn("broadcast send failed",
					zap.String("group", g.ID),
					zap.String("session", name),
					zap.Error(err))
			}
		}(m.SessionName, text)
	}
	wg.Wait()
}

// sequential sends the prompt to members one at a time, awaiting each before
// the next. Per-member failures are logged and the loop continues; only
// cancellation stops it.
func (d *Dispatcher) sequential(ctx context.Context, g *group.Group, members []*group.MemberMeta, prompt string) error {
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := memberPrompt(m.SessionName, peerNames(members, m.SessionName), prompt)
		if _, err := d.sessions.Send(ctx, m.SessionName, text); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("sequential send failed",
				zap.String("group", g.ID),
				zap.String("session", m.SessionName),
				zap.Error(err))
		}
	}
	return nil
}

func peerNames(members []*group.MemberMeta, exclude string) []string {
	var out []string
	for _, m := range members {
		if m.SessionName != exclude {
			out = append(out, m.SessionName)
		}
	}
	return out
}
