// Package poller schedules refresh cycles on an interval and on demand.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// State is the scheduler state.
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Cycle is one refresh. Errors are logged and do not stop the poller.
type Cycle func(ctx context.Context) error

// Poller runs a Cycle immediately on Start, then every interval and on
// Trigger. Cycles never overlap; triggers arriving while a cycle runs are
// coalesced into one re-run.
type Poller struct {
	name     string
	interval time.Duration
	cycle    Cycle

	state   atomic.Int32
	runs    atomic.Int64
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// New creates a Poller in the idle state.
func New(name string, interval time.Duration, cycle Cycle) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		name:     name,
		interval: interval,
		cycle:    cycle,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name returns the poller name.
func (p *Poller) Name() string {
	return p.name
}

// State returns the current state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Runs returns how many cycles have completed.
func (p *Poller) Runs() int64 {
	return p.runs.Load()
}

// Start launches the loop. The first cycle runs immediately. Calling Start
// more than once, or after Stop, does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		select {
		case <-p.stop:
			close(p.done)
			return
		default:
		}
		ctx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.state.Store(int32(StateScheduled))
		go p.loop(ctx)
	})
}

// Trigger requests an immediate cycle. It never blocks.
func (p *Poller) Trigger() {
	if p.State() == StateStopped {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
		// A re-run is already pending.
	}
}

// Stop cancels the running cycle, if any, and waits for the loop to exit.
// No cycle starts after Stop returns. Stop is idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.stop)
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	p.startOnce.Do(func() { close(p.done) })
	<-p.done
	p.state.Store(int32(StateStopped))
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	defer p.state.Store(int32(StateStopped))

	lg := zctx.From(ctx).With(zap.String("poller", p.name))
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.state.Store(int32(StateRunning))
		p.run(ctx, lg)
		p.state.Store(int32(StateScheduled))

		timer.Reset(p.interval)
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.trigger:
			timer.Stop()
		}
	}
}

func (p *Poller) run(ctx context.Context, lg *zap.Logger) {
	defer p.runs.Add(1)
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error("Cycle panicked", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	start := time.Now()
	if err := p.cycle(ctx); err != nil && ctx.Err() == nil {
		lg.Warn("Cycle failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	lg.Debug("Cycle done", zap.Duration("took", time.Since(start)))
}
