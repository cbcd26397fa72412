package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/overseer/internal/orchestrate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PhaseEvent is one phase change of one group's run, as published to
// observers.
type PhaseEvent struct {
	GroupID   string    `json:"group_id"`
	Phase     string    `json:"phase"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const streamPrefix = "overseer:group:"

// PhaseBus publishes phase-change events to Redis Streams, one stream per
// group, so UI observers on other processes can follow a run live. It
// implements orchestrate.PhaseObserver.
type PhaseBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a Redis-backed phase bus.
func New(redisURL string, logger *zap.Logger) (*PhaseBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &PhaseBus{rdb: rdb, logger: logger}, nil
}

// PhaseChanged implements orchestrate.PhaseObserver. Publishing is
// best-effort; a broken stream never interferes with the run itself.
func (b *PhaseBus) PhaseChanged(groupID string, phase orchestrate.Phase, detail string) {
	ev := PhaseEvent{
		GroupID:   groupID,
		Phase:     string(phase),
		Detail:    detail,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + groupID,
		MaxLen: 1024,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		b.logger.Warn("publish phase event failed",
			zap.String("group", groupID),
			zap.Error(err))
	}
}

// Subscribe listens for phase events on a group's stream. Returns a channel
// that emits events; cancel the context to stop.
func (b *PhaseBus) Subscribe(ctx context.Context, groupID string) <-chan *PhaseEvent {
	ch := make(chan *PhaseEvent, 16)
	stream := streamPrefix + groupID

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev PhaseEvent
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *PhaseBus) Close() error {
	return b.rdb.Close()
}
