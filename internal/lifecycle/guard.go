// Package lifecycle serializes starting and stopping of the heater session.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/groutine"
)

var (
	ErrAlreadyRunning = errors.New("lifecycle: already running")
	ErrStartAborted   = errors.New("lifecycle: start aborted by stop")
)

// Runner is one startable unit, normally a *session.Session.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Lost() <-chan struct{}
}

// Factory builds a fresh Runner for every Start.
type Factory func() Runner

// Phase is the guard's view of the runner.
type Phase int32

const (
	Idle Phase = iota
	Starting
	Running
	Stopping
)

var phaseNames = [...]string{"idle", "starting", "running", "stopping"}

func (p Phase) String() string {
	if p < Idle || p > Stopping {
		return fmt.Sprintf("phase(%d)", int32(p))
	}
	return phaseNames[p]
}

// Options configures reconnects after link loss. MaxAttempts zero disables them.
type Options struct {
	MaxAttempts int
	MaxBackoff  time.Duration
	Logger      *logrus.Logger
}

// Guard owns at most one Runner and makes Start, Stop and Restart safe to call
// from any goroutine.
type Guard struct {
	opts   Options
	logger *logrus.Logger
	// backoffUnit is the first reconnect delay; doubled per attempt
	backoffUnit time.Duration

	mu          sync.Mutex
	phase       Phase
	changed     chan struct{}
	factory     Factory
	runner      Runner
	startCancel context.CancelFunc
	startDone   chan struct{}
	superCancel context.CancelFunc
	superGroup  *groutine.Group
}

// New creates an idle guard.
func New(factory Factory, opts Options) *Guard {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Guard{
		opts:        opts,
		logger:      logger,
		backoffUnit: time.Second,
		changed:     make(chan struct{}),
		factory:     factory,
	}
}

// Phase returns the current phase.
func (g *Guard) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Changed returns a channel closed on the next phase change.
func (g *Guard) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// setPhase must be called with mu held. It wakes every waiter.
func (g *Guard) setPhase(p Phase) {
	if g.phase == p {
		return
	}
	g.phase = p
	close(g.changed)
	g.changed = make(chan struct{})
	g.logger.WithField("phase", p.String()).Debug("Lifecycle phase changed")
}

// Start builds a runner and starts it. A Start arriving during a Stop waits
// for the stop to finish first.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	for g.phase == Stopping {
		changed := g.changed
		g.mu.Unlock()
		g.logger.Debug("Start waiting for stop to complete")
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		g.mu.Lock()
	}
	if g.phase != Idle {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}

	runner := g.factory()
	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.runner = runner
	g.startCancel = cancel
	g.startDone = done
	g.setPhase(Starting)
	g.mu.Unlock()

	err := runner.Start(startCtx)
	cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	defer close(done)
	g.startCancel = nil

	if g.phase == Stopping {
		// the concurrent Stop tears down whatever was established
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStartAborted, err)
		}
		return ErrStartAborted
	}
	if err != nil {
		g.runner = nil
		g.setPhase(Idle)
		return err
	}

	superCtx, superCancel := context.WithCancel(context.WithoutCancel(ctx))
	g.superCancel = superCancel
	g.superGroup = &groutine.Group{}
	g.superGroup.Go(superCtx, "lifecycle-supervisor", func(ctx context.Context) {
		g.supervise(ctx, runner)
	})
	g.setPhase(Running)
	return nil
}

// Stop tears the runner down. It is a no-op when idle or when another Stop is
// already in progress. The stopping phase is always cleared, even when the
// teardown fails.
func (g *Guard) Stop(ctx context.Context) error {
	g.mu.Lock()
	prev := g.phase
	if prev == Idle || prev == Stopping {
		g.mu.Unlock()
		return nil
	}
	runner := g.runner
	startCancel, startDone := g.startCancel, g.startDone
	superCancel, superGroup := g.superCancel, g.superGroup
	g.setPhase(Stopping)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.runner = nil
		g.superCancel = nil
		g.superGroup = nil
		g.setPhase(Idle)
		g.mu.Unlock()
	}()

	if prev == Starting {
		g.logger.Debug("Cancelling in-flight start")
		startCancel()
		<-startDone
	}
	if superCancel != nil {
		superCancel()
		superGroup.Wait()
	}
	return runner.Stop(ctx)
}

// Restart stops the current runner, swaps the factory and starts again.
// A failed teardown is logged and does not prevent the new start.
func (g *Guard) Restart(ctx context.Context, factory Factory) error {
	if err := g.Stop(ctx); err != nil {
		g.logger.WithField("error", err).Warn("Teardown before restart reported errors")
	}
	g.mu.Lock()
	if factory != nil {
		g.factory = factory
	}
	g.mu.Unlock()
	g.logger.Info("Restarting heater session")
	return g.Start(ctx)
}

// supervise watches for link loss and reconnects the same runner with
// exponential backoff while attempts remain.
func (g *Guard) supervise(ctx context.Context, r Runner) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.Lost():
		}

		for {
			if attempt >= g.opts.MaxAttempts {
				g.logger.WithField("attempts", attempt).Warn("Heater connection lost, not reconnecting")
				g.release(r)
				return
			}
			delay := backoffDelay(attempt, g.backoffUnit, g.opts.MaxBackoff)
			attempt++
			g.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).Info("Reconnecting to heater")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if err := r.Start(ctx); err != nil {
				g.logger.WithFields(logrus.Fields{
					"attempt": attempt,
					"error":   err,
				}).Warn("Reconnect failed")
				continue
			}
			attempt = 0
			break
		}
	}
}

// release drops a runner that went away on its own.
func (g *Guard) release(r Runner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runner != r || g.phase != Running {
		return
	}
	g.runner = nil
	g.superCancel = nil
	g.superGroup = nil
	g.setPhase(Idle)
}

// backoffDelay returns unit*2^attempt capped at max.
func backoffDelay(attempt int, unit, max time.Duration) time.Duration {
	if attempt >= 30 {
		return max
	}
	delay := unit << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
