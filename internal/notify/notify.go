// Package notify posts reflection outcomes to external chat channels. The
// orchestration core only sees the PhaseObserver interface; everything here
// is fire-and-forget.
package notify

import (
	"context"
	"time"

	"github.com/nidhogg/overseer/internal/orchestrate"
	"go.uber.org/zap"
)

// Target posts a text message somewhere.
type Target interface {
	Name() string
	Post(ctx context.Context, text string) error
}

// OutcomeNotifier forwards terminal phase changes to the configured targets.
// Non-terminal phases are ignored; running commentary belongs on the phase
// bus, not in a chat channel.
type OutcomeNotifier struct {
	targets []Target
	logger  *zap.Logger
}

// NewOutcomeNotifier creates a notifier over the given targets.
func NewOutcomeNotifier(logger *zap.Logger, targets ...Target) *OutcomeNotifier {
	return &OutcomeNotifier{targets: targets, logger: logger}
}

// PhaseChanged implements orchestrate.PhaseObserver.
func (n *OutcomeNotifier) PhaseChanged(groupID string, phase orchestrate.Phase, detail string) {
	if !phase.Terminal() || detail == "" {
		return
	}
	for _, t := range n.targets {
		go func(t Target) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := t.Post(ctx, detail); err != nil {
				n.logger.Warn("outcome notification failed",
					zap.String("target", t.Name()),
					zap.String("group", groupID),
					zap.Error(err))
			}
		}(t)
	}
}
