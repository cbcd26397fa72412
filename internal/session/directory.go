package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Runner executes one prompt against a named session and returns the final
// reply text. The concrete transport (CLI process, remote bridge) lives
// outside the orchestration core and is injected here.
type Runner interface {
	Run(ctx context.Context, sessionName, prompt string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, sessionName, prompt string) (string, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, sessionName, prompt string) (string, error) {
	return f(ctx, sessionName, prompt)
}

type entry struct {
	busy    bool
	idle    chan struct{} // closed when the session goes idle; nil when nobody waits
	pending []string      // queued texts, delivered in order once idle
}

// Directory holds the named sessions and enforces one in-flight prompt per
// session. It is the only component that touches busy flags; everything
// upstream works through Send/IsBusy/Enqueue.
type Directory struct {
	mu       sync.Mutex
	runner   Runner
	sessions map[string]*entry
	logger   *zap.Logger
}

// NewDirectory creates a directory backed by the given runner.
func NewDirectory(runner Runner, logger *zap.Logger) *Directory {
	return &Directory{
		runner:   runner,
		sessions: make(map[string]*entry),
		logger:   logger,
	}
}

// Register adds a session. Registering an existing name is a no-op.
func (d *Directory) Register(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[name]; !ok {
		d.sessions[name] = &entry{}
	}
}

// Remove drops a session. In-flight work is allowed to finish; its completion
// path tolerates the missing entry.
func (d *Directory) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, name)
}

// Names returns all registered session names, sorted.
func (d *Directory) Names() []string {
	d.mu.Lock()
	out := make([]string, 0, len(d.sessions))
	for name := range d.sessions {
		out = append(out, name)
	}
	d.mu.Unlock()
	sort.Strings(out)
	return out
}

// Has reports whether a session is registered.
func (d *Directory) Has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[name]
	return ok
}

// IsBusy reports whether a session has a prompt in flight.
func (d *Directory) IsBusy(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.sessions[name]
	return ok && e.busy
}

// Send delivers a prompt to a session and awaits its final reply. If the
// session is busy the call waits for it to become idle; at most one prompt is
// in flight per session at any time.
func (d *Directory) Send(ctx context.Context, name, text string) (string, error) {
	if err := d.acquire(ctx, name); err != nil {
		return "", err
	}

	reply, err := d.runner.Run(ctx, name, text)

	// The busy flag must read false before any waiter resumes: a resumed
	// continuation may immediately issue the next Send, and a stale flag
	// would make it fail spuriously. release orders flag-clear before the
	// idle signal on success and error paths alike.
	d.release(name)

	if err != nil {
		return "", fmt.Errorf("session %s: %w", name, err)
	}
	return reply, nil
}

// Enqueue queues text for delivery once the session goes idle. If the session
// is already idle the text is dispatched immediately in the background.
func (d *Directory) Enqueue(name, text string) error {
	d.mu.Lock()
	e, ok := d.sessions[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("session %s not found", name)
	}
	if e.busy {
		e.pending = append(e.pending, text)
		d.mu.Unlock()
		d.logger.Debug("message queued for busy session", zap.String("session", name))
		return nil
	}
	d.mu.Unlock()

	go d.deliver(name, text)
	return nil
}

// acquire waits for the session to be idle and claims it.
func (d *Directory) acquire(ctx context.Context, name string) error {
	for {
		d.mu.Lock()
		e, ok := d.sessions[name]
		if !ok {
			d.mu.Unlock()
			return fmt.Errorf("session %s not found", name)
		}
		if !e.busy {
			e.busy = true
			d.mu.Unlock()
			return nil
		}
		if e.idle == nil {
			e.idle = make(chan struct{})
		}
		idle := e.idle
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// release clears the busy flag, then wakes waiters, then starts delivery of
// any queued texts. The flag-before-signal order is the point.
func (d *Directory) release(name string) {
	d.mu.Lock()
	e, ok := d.sessions[name]
	var idle chan struct{}
	var queued []string
	if ok {
		e.busy = false
		idle = e.idle
		e.idle = nil
		queued = e.pending
		e.pending = nil
	}
	d.mu.Unlock()

	if idle != nil {
		close(idle)
	}
	if len(queued) > 0 {
		go func() {
			for _, text := range queued {
				d.deliver(name, text)
			}
		}()
	}
}

func (d *Directory) deliver(name, text string) {
	if _, err := d.Send(context.Background(), name, text); err != nil {
		d.logger.Warn("queued delivery failed", zap.String("session", name), zap.Error(err))
	}
}
