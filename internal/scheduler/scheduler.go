// Package scheduler drives the countdown of the active position. One
// goroutine waits to be armed; while armed it runs
//  1. a ticker at the configured interval that refreshes the countdown, and
//  2. a single-shot timer set for the position's end time that settles it
//     without waiting for the next tick.
//
// Both call PositionManager.Tick, which settles at most once.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/invest/internal/config"
	"github.com/evetabi/invest/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ticker interface: the part of PositionManager the scheduler needs
// ──────────────────────────────────────────────────────────────────────────────

// Ticker is implemented by service.PositionManager.
type Ticker interface {
	Tick(ctx context.Context) (*domain.HistoryRecord, error)
	HasActive() bool
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the countdown loop. Call Start(ctx) once from main(); cancel
// the context to shut it down.
type Scheduler struct {
	mgr      Ticker
	interval time.Duration
	logger   *slog.Logger
	arm      chan domain.Position
	done     chan struct{} // closed when the countdown loop exits
}

// NewScheduler creates a Scheduler.
func NewScheduler(mgr Ticker, cfg *config.Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		mgr:      mgr,
		interval: cfg.Invest.TickInterval,
		logger:   logger,
		arm:      make(chan domain.Position, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the countdown goroutine and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go s.countdownLoop(ctx)
	s.logger.Info("scheduler started", "tick_interval", s.interval)
}

// Done is closed once the countdown loop has returned, so no tick is in
// flight and the store can be closed.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Arm hands a position to the countdown loop. It never blocks; if an earlier
// arm is still queued it is replaced.
func (s *Scheduler) Arm(p domain.Position) {
	for {
		select {
		case s.arm <- p:
			return
		default:
		}
		select {
		case <-s.arm:
		default:
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// countdownLoop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) countdownLoop(ctx context.Context) {
	defer close(s.done)
	defer s.recoverAndLog("countdownLoop")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("countdownLoop: shutting down")
			return
		case p := <-s.arm:
			if s.runCountdown(ctx, p) {
				return
			}
		}
	}
}

// runCountdown ticks p until it settles. It reports true when ctx was
// cancelled.
func (s *Scheduler) runCountdown(ctx context.Context, p domain.Position) bool {
	s.logger.Debug("countdown armed", "position_id", p.ID, "end_time", p.EndTime)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	timer := time.NewTimer(untilEnd(p))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("countdownLoop: shutting down with position armed", "position_id", p.ID)
			return true

		case next := <-s.arm:
			p = next
			timer.Reset(untilEnd(p))
			s.logger.Debug("countdown re-armed", "position_id", p.ID, "end_time", p.EndTime)

		case <-ticker.C:
			if s.tick(ctx) {
				return false
			}

		case <-timer.C:
			if s.tick(ctx) {
				return false
			}
		}
	}
}

// tick advances the manager once and reports whether the countdown is over.
func (s *Scheduler) tick(ctx context.Context) (done bool) {
	defer s.recoverAndLog("tick")

	rec, err := s.mgr.Tick(ctx)
	if err != nil {
		s.logger.Error("countdown tick failed", "err", err)
		return false
	}
	if rec != nil {
		s.logger.Info("countdown finished", "record_id", rec.ID)
		return true
	}
	return !s.mgr.HasActive()
}

func untilEnd(p domain.Position) time.Duration {
	d := time.Until(p.EndTime)
	if d < 0 {
		return 0
	}
	return d
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred to catch unexpected panics and log them.
func (s *Scheduler) recoverAndLog(where string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler", "where", where, "panic", r)
	}
}
