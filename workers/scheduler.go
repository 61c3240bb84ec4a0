// Package workers runs the periodic battle jobs.
package workers

import (
	"context"
	"fmt"
	"time"

	"lane-battle/config"
	"lane-battle/logging"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Ticker pushes live state to connected players.
type Ticker interface {
	Tick(ctx context.Context) int
}

// Sweeper resolves expired forfeit timers.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Scheduler owns the gocron jobs. Every job runs in singleton mode, so a
// slow run is skipped rather than overlapped.
type Scheduler struct {
	sched gocron.Scheduler
	ctx   context.Context
}

func NewScheduler(ctx context.Context, cfg config.BattleConfig, broadcast Ticker, forfeits Sweeper, deadlines *DeadlineSweeper) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, ctx: ctx}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context)
	}{
		{"broadcast", cfg.BroadcastInterval, func(ctx context.Context) { broadcast.Tick(ctx) }},
		{"forfeit-watchdog", cfg.WatchdogInterval, func(ctx context.Context) { forfeits.Sweep(ctx) }},
		{"deadline-sweep", cfg.SweepInterval, func(ctx context.Context) {
			if _, err := deadlines.Run(ctx); err != nil {
				logging.Error("deadline sweep failed", zap.Error(err))
			}
		}},
		{"overdue-reconcile", cfg.ReconcileInterval, func(ctx context.Context) {
			if _, err := deadlines.Reconcile(ctx); err != nil {
				logging.Error("overdue reconcile failed", zap.Error(err))
			}
		}},
	}
	for _, j := range jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(s.guard(j.name, j.interval, j.run)),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}
	return s, nil
}

// guard bounds each run by a timeout and keeps a panicking run from taking
// down the scheduler.
func (s *Scheduler) guard(name string, interval time.Duration, run func(ctx context.Context)) func() {
	timeout := interval * 5
	if timeout < time.Second {
		timeout = time.Second
	}
	return func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		run(ctx)
	}
}

func (s *Scheduler) Start() {
	s.sched.Start()
	logging.Info("battle scheduler started", zap.Int("jobs", len(s.sched.Jobs())))
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
