package orchestrate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/overseer/internal/group"
	"go.uber.org/zap"
)

// pauseProbe is how often a paused run re-checks the pause flag.
const pauseProbe = 200 * time.Millisecond

// Controller drives the iterative plan → dispatch → collect → evaluate loop
// for one group. A controller instance belongs to a single run; no two
// iterations of the same group ever execute concurrently.
type Controller struct {
	sessions SessionAPI
	registry *group.Registry
	notifier *PhaseNotifier
	opts     Options
	logger   *zap.Logger

	g            *group.Group
	orchestrator *group.MemberMeta
	evaluator    *group.MemberMeta
	workers      []*group.MemberMeta
}

func newController(d *Dispatcher, g *group.Group) *Controller {
	c := &Controller{
		sessions: d.sessions,
		registry: d.registry,
		notifier: d.notifier,
		opts:     d.opts,
		logger:   d.logger,
		g:        g,
	}
	for _, m := range d.registry.MembersOf(g.ID) {
		switch m.Role {
		case group.RoleOrchestrator:
			c.orchestrator = m
		case group.RoleEvaluator:
			c.evaluator = m
		default:
			c.workers = append(c.workers, m)
		}
	}
	return c
}

func (c *Controller) workerNames() []string {
	out := make([]string, len(c.workers))
	for i, w := range c.workers {
		out[i] = w.SessionName
	}
	return out
}

func (c *Controller) workerInfos() []WorkerInfo {
	out := make([]WorkerInfo, len(c.workers))
	for i, w := range c.workers {
		out[i] = WorkerInfo{Name: w.SessionName, Model: w.PreferredModel}
	}
	return out
}

// RunOnce executes a single planning → dispatch → collect → synthesize pass
// with no evaluation loop and no durable reflection state.
func (c *Controller) RunOnce(ctx context.Context, prompt string) (*Result, error) {
	if c.orchestrator == nil {
		return nil, fmt.Errorf("group %s has no orchestrator", c.g.ID)
	}

	reply, err := c.sessions.Send(ctx, c.orchestrator.SessionName,
		planningPrompt(prompt, c.g.OrchestratorPrompt, c.workerInfos()))
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	outcome := ParseAssignments(reply, c.workerNames())
	if outcome.Kind != Delegated {
		if outcome.Kind == Malformed {
			c.logger.Warn("orchestrator reply malformed; treating as direct answer",
				zap.String("group", c.g.ID), zap.String("reason", outcome.Reason))
		}
		return &Result{Text: StripSentinels(reply)}, nil
	}

	results := c.collectWorkers(ctx, prompt, outcome.Assignments)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	synthesis, err := c.sessions.Send(ctx, c.orchestrator.SessionName,
		synthesisPrompt(prompt, results, false))
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	return &Result{Text: StripSentinels(synthesis)}, nil
}

// Run executes the full reflection loop until a terminal condition fires.
// A cancelled run propagates the context error and leaves the persisted
// state active so it can be resumed; every other exit records exactly one
// terminal condition.
func (c *Controller) Run(ctx context.Context, goal string, over *RunOverrides) (*Result, error) {
	if c.orchestrator == nil {
		return nil, fmt.Errorf("group %s has no orchestrator", c.g.ID)
	}

	rs := c.resumeOrStart(goal, over)
	detector := NewStallDetector()
	tracker := NewQualityTracker()
	for _, e := range rs.History {
		tracker.history = append(tracker.history, e)
	}

	phase := Phase("")
	transientErrors := 0
	var synthesis string

	for rs.IsActive {
		if err := c.awaitUnpaused(ctx); err != nil {
			c.persist(rs)
			return nil, err
		}

		text, err := c.iterate(ctx, rs, &phase, detector, tracker)
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation propagates; the state stays resumable.
				c.persist(rs)
				return nil, err
			}
			transientErrors++
			if rs.CurrentIteration > 0 {
				rs.CurrentIteration-- // retry the failed round, don't skip it
			}
			c.logger.Warn("iteration failed",
				zap.String("group", c.g.ID),
				zap.Int("consecutive_errors", transientErrors),
				zap.Error(err))
			if transientErrors >= c.opts.MaxTransientErrors {
				rs.Finish(group.FinishStalled)
				phase, _ = advance(phase, EventStallConfirmed)
				c.notifier.notify(c.g.ID, phase, "error budget exhausted: "+err.Error())
				c.persist(rs)
				break
			}
			c.persist(rs)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.RetryBackoff):
			}
			continue
		}
		transientErrors = 0
		synthesis = text
		c.persist(rs)
	}

	summary := completionSummary(rs)
	if phase.Terminal() {
		c.notifier.notify(c.g.ID, phase, summary)
	}
	c.logger.Info("reflection finished",
		zap.String("group", c.g.ID),
		zap.String("outcome", rs.Outcome()),
		zap.Int("iterations", rs.CurrentIteration))
	return &Result{Text: synthesis, Reflection: rs, Summary: summary}, nil
}

// resumeOrStart continues an active run left behind by a cancellation, or
// begins a fresh one. The working state is a copy of the stored one; all
// reads of the live flags go through the registry.
func (c *Controller) resumeOrStart(goal string, over *RunOverrides) *group.ReflectionState {
	if prior, ok := c.registry.ReflectionSnapshot(c.g.ID); ok && prior.IsActive {
		c.logger.Info("resuming reflection run",
			zap.String("group", c.g.ID),
			zap.Int("iteration", prior.CurrentIteration))
		return prior
	}
	rs := &group.ReflectionState{
		Goal:          goal,
		MaxIterations: c.opts.DefaultMaxIterations,
		IsActive:      true,
		StartedAt:     time.Now(),
	}
	if over != nil {
		if over.MaxIterations > 0 {
			rs.MaxIterations = over.MaxIterations
		}
		rs.EvalPrompt = over.EvalPrompt
	}
	c.persist(rs)
	return rs
}

// awaitUnpaused blocks while the stored pause flag is set. The flag lives on
// the registry's copy of the state, not on the loop's working copy, because
// it is written by the API surface from other goroutines.
func (c *Controller) awaitUnpaused(ctx context.Context) error {
	for c.pausedNow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pauseProbe):
		}
	}
	return nil
}

func (c *Controller) pausedNow() bool {
	snap, ok := c.registry.ReflectionSnapshot(c.g.ID)
	return ok && snap.IsPaused
}

func (c *Controller) persist(rs *group.ReflectionState) {
	if err := c.registry.SaveReflection(c.g.ID, rs); err != nil {
		c.logger.Warn("persist reflection failed", zap.String("group", c.g.ID), zap.Error(err))
	}
}

// iterate runs one full round of the loop. It returns the synthesis text for
// the round, having advanced the state machine and recorded evaluation and
// stall bookkeeping. Any error is a transient iteration failure unless the
// context was cancelled.
func (c *Controller) iterate(ctx context.Context, rs *group.ReflectionState, phase *Phase, detector *StallDetector, tracker *QualityTracker) (string, error) {
	rs.CurrentIteration++

	if err := c.step(phase, EventPlanRequested, fmt.Sprintf("iteration %d of %d", rs.CurrentIteration, rs.MaxIterations)); err != nil {
		return "", err
	}

	if len(c.workers) == 0 {
		return c.iterateSolo(ctx, rs, phase, detector, tracker)
	}

	// 1. Plan.
	var prompt string
	if rs.CurrentIteration == 1 {
		prompt = planningPrompt(rs.Goal, c.g.OrchestratorPrompt, c.workerInfos())
	} else {
		prompt = replanPrompt(rs.Goal, c.g.OrchestratorPrompt, c.workerInfos(), rs.CurrentIteration, c.lastFeedback(rs, tracker))
	}
	reply, err := c.sessions.Send(ctx, c.orchestrator.SessionName, prompt)
	if err != nil {
		return "", fmt.Errorf("planning: %w", err)
	}

	// 2. Parse. An empty plan means the orchestrator answered the goal
	// directly; that completes the run, it is not an error.
	outcome := ParseAssignments(reply, c.workerNames())
	if outcome.Kind != Delegated {
		if outcome.Kind == Malformed {
			c.logger.Warn("plan reply malformed; treating as direct answer",
				zap.String("group", c.g.ID), zap.String("reason", outcome.Reason))
		}
		rs.Finish(group.FinishGoalMet)
		if err := c.step(phase, EventGoalMet, "orchestrator answered directly"); err != nil {
			return "", err
		}
		return StripSentinels(reply), nil
	}

	// 3. Dispatch and collect.
	if err := c.step(phase, EventDelegated, fmt.Sprintf("%d assignments", len(outcome.Assignments))); err != nil {
		return "", err
	}
	if err := c.step(phase, EventWorkersDispatched, ""); err != nil {
		return "", err
	}
	results := c.collectWorkers(ctx, rs.Goal, outcome.Assignments)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.step(phase, EventResultsCollected, fmt.Sprintf("%d results", len(results))); err != nil {
		return "", err
	}

	// 4. Evaluate.
	var synthesis string
	var complete bool
	if c.evaluator != nil {
		synthesis, complete, err = c.evaluateExternal(ctx, rs, tracker, results)
	} else {
		synthesis, complete, err = c.evaluateSelf(ctx, rs, tracker, results)
	}
	if err != nil {
		return "", err
	}
	rs.History = tracker.History()
	if complete {
		rs.Finish(group.FinishGoalMet)
		if err := c.step(phase, EventGoalMet, "evaluation confirmed completion"); err != nil {
			return "", err
		}
		return synthesis, nil
	}

	// 5/6. Stall check and iteration budget.
	if err := c.closeRound(rs, phase, detector, synthesis); err != nil {
		return "", err
	}
	return synthesis, nil
}

// iterateSolo runs one round for a group whose orchestrator has no workers to
// delegate to: the session works the goal itself and signals completion by
// placing the single-agent sentinel alone on its own line.
func (c *Controller) iterateSolo(ctx context.Context, rs *group.ReflectionState, phase *Phase, detector *StallDetector, tracker *QualityTracker) (string, error) {
	var prompt string
	if rs.CurrentIteration == 1 {
		prompt = soloPrompt(rs.Goal, c.g.OrchestratorPrompt)
	} else {
		prompt = soloReplanPrompt(rs.Goal, c.g.OrchestratorPrompt, rs.CurrentIteration, c.lastFeedback(rs, tracker))
	}
	reply, err := c.sessions.Send(ctx, c.orchestrator.SessionName, prompt)
	if err != nil {
		return "", fmt.Errorf("solo round: %w", err)
	}

	text := StripSentinels(reply)
	if HasReflectionComplete(reply) {
		tracker.Record(1.0, "completion sentinel emitted", c.orchestrator.PreferredModel)
		rs.History = tracker.History()
		rs.Finish(group.FinishGoalMet)
		if err := c.step(phase, EventGoalMet, "session signalled completion"); err != nil {
			return "", err
		}
		return text, nil
	}
	tracker.Record(c.opts.NeedsIterationScore, "no completion sentinel", c.orchestrator.PreferredModel)
	rs.History = tracker.History()

	if err := c.closeRound(rs, phase, detector, text); err != nil {
		return "", err
	}
	return text, nil
}

// closeRound applies the end-of-round bookkeeping shared by the delegated and
// solo paths. A verbatim repeat confirms the stall outright; a near-identical
// round only arms the warning counter, and termination needs a second
// consecutive one. The iteration budget applies only if the round left the
// run active.
func (c *Controller) closeRound(rs *group.ReflectionState, phase *Phase, detector *StallDetector, text string) error {
	stalled, sim := detector.Check(text)
	rs.LastSimilarity = sim
	if stalled {
		if sim >= 0.999 {
			rs.ConsecutiveStalls = c.opts.MaxConsecutiveStalls
		} else {
			rs.ConsecutiveStalls++
		}
		c.logger.Warn("stall detected",
			zap.String("group", c.g.ID),
			zap.Float64("similarity", sim),
			zap.Int("consecutive", rs.ConsecutiveStalls))
		if rs.ConsecutiveStalls >= c.opts.MaxConsecutiveStalls {
			rs.Finish(group.FinishStalled)
			return c.step(phase, EventStallConfirmed, fmt.Sprintf("similarity %.2f", sim))
		}
	} else {
		rs.ConsecutiveStalls = 0
	}

	if rs.IsActive && rs.CurrentIteration >= rs.MaxIterations {
		rs.Finish(group.FinishIterationLimit)
		return c.step(phase, EventIterationLimit, "")
	}
	return nil
}

func (c *Controller) step(phase *Phase, ev Event, detail string) error {
	next, err := advance(*phase, ev)
	if err != nil {
		return err
	}
	*phase = next
	c.notifier.notify(c.g.ID, next, detail)
	return nil
}

// collectWorkers fans assignments out concurrently, each under its own
// timeout derived from the run's context, and gathers one result per
// dispatched assignment. A worker whose session vanished between planning
// and dispatch is logged and skipped; every other failure is captured, not
// escalated.
func (c *Controller) collectWorkers(ctx context.Context, goal string, assignments []Assignment) []WorkerResult {
	slots := make([]*WorkerResult, len(assignments))
	done := make(chan int, len(assignments))
	dispatched := 0

	for i, a := range assignments {
		if !c.sessions.Has(a.Worker) {
			c.logger.Warn("worker session vanished; skipping assignment",
				zap.String("group", c.g.ID), zap.String("worker", a.Worker))
			continue
		}
		dispatched++
		go func(i int, a Assignment) {
			wctx, cancel := context.WithTimeout(ctx, c.opts.WorkerTimeout)
			defer cancel()

			start := time.Now()
			reply, err := c.sessions.Send(wctx, a.Worker, workerPrompt(goal, a.Task))
			r := &WorkerResult{Worker: a.Worker, Elapsed: time.Since(start)}
			if err != nil {
				r.Err = err.Error()
			} else {
				r.OK = true
				r.Response = reply
			}
			slots[i] = r
			done <- i
		}(i, a)
	}

	for n := 0; n < dispatched; n++ {
		<-done
	}

	results := make([]WorkerResult, 0, dispatched)
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// evaluateExternal synthesizes via the orchestrator, then has the dedicated
// evaluator score the synthesis.
func (c *Controller) evaluateExternal(ctx context.Context, rs *group.ReflectionState, tracker *QualityTracker, results []WorkerResult) (string, bool, error) {
	synthesis, err := c.sessions.Send(ctx, c.orchestrator.SessionName,
		synthesisPrompt(rs.Goal, results, false))
	if err != nil {
		return "", false, fmt.Errorf("synthesis: %w", err)
	}

	evalReply, err := c.sessions.Send(ctx, c.evaluator.SessionName,
		evaluationPrompt(rs.Goal, synthesis, rs.EvalPrompt))
	if err != nil {
		return "", false, fmt.Errorf("evaluation: %w", err)
	}

	score, scored := parseScore(evalReply)
	complete := (scored && score >= c.opts.CompletionScore) || HasGroupComplete(evalReply)
	if !scored {
		if complete {
			score = 1.0
		} else {
			score = c.opts.NeedsIterationScore
		}
	}
	trend := tracker.Record(score, StripSentinels(evalReply), c.evaluator.PreferredModel)
	c.logger.Info("evaluation recorded",
		zap.String("group", c.g.ID),
		zap.Float64("score", score),
		zap.String("trend", string(trend)))
	return StripSentinels(synthesis), complete, nil
}

// evaluateSelf has the orchestrator synthesize and judge in one reply,
// scanning it for the completion and continuation sentinels. A continuation
// (explicit or implied by the absence of the completion sentinel) is
// recorded at the fixed needs-iteration score.
func (c *Controller) evaluateSelf(ctx context.Context, rs *group.ReflectionState, tracker *QualityTracker, results []WorkerResult) (string, bool, error) {
	synthesis, err := c.sessions.Send(ctx, c.orchestrator.SessionName,
		synthesisPrompt(rs.Goal, results, true))
	if err != nil {
		return "", false, fmt.Errorf("synthesis: %w", err)
	}

	if HasGroupComplete(synthesis) {
		tracker.Record(1.0, "completion sentinel emitted", c.orchestrator.PreferredModel)
		return StripSentinels(synthesis), true, nil
	}

	rationale := "continuation signalled"
	if !HasNeedsIteration(synthesis) {
		rationale = "no completion sentinel"
	}
	trend := tracker.Record(c.opts.NeedsIterationScore, rationale, c.orchestrator.PreferredModel)
	c.logger.Debug("self-evaluation recorded",
		zap.String("group", c.g.ID),
		zap.String("trend", string(trend)))
	return StripSentinels(synthesis), false, nil
}

// lastFeedback builds the re-planning feedback from the latest evaluation
// rationale plus any pending quality hint.
func (c *Controller) lastFeedback(rs *group.ReflectionState, tracker *QualityTracker) string {
	var parts []string
	if n := len(rs.History); n > 0 {
		last := rs.History[n-1]
		parts = append(parts, fmt.Sprintf("score %.2f: %s", last.Score, last.Rationale))
	}
	if hint := tracker.PendingHint(); hint != "" {
		parts = append(parts, hint)
	}
	return strings.Join(parts, "\n")
}

var scoreRe = regexp.MustCompile(`(?i)score\s*[:=]?\s*([01](?:\.\d+)?)`)

// parseScore extracts an evaluator's numeric score, clamped to [0,1].
func parseScore(text string) (float64, bool) {
	m := scoreRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, true
}
