package worker

import (
	"context"
	"time"

	"mlm-network/internal/commission"
	"mlm-network/internal/lease"
	"mlm-network/internal/logging"
)

const (
	JobDailyTick          = "daily_tick"
	JobInvestmentMaturity = "investment_maturity"
)

type DailyTicker interface {
	OnDailyTick(ctx context.Context, now time.Time) (commission.DailyReport, error)
}

type Maturer interface {
	MatureDue(ctx context.Context, asOf time.Time) (int, error)
}

// Scheduler runs the daily income batch and the investment maturity batch on
// every tick. Both batches only pay what is still owed, so ticking more often
// than daily is safe and shortens the delay after midnight.
type Scheduler struct {
	Engine      DailyTicker
	Investments Maturer
	Locker      lease.Locker
	Interval    time.Duration

	log *logging.Logger
	now func() time.Time
}

func NewScheduler(engine DailyTicker, investments Maturer, locker lease.Locker, interval time.Duration, log *logging.Logger) *Scheduler {
	return &Scheduler{
		Engine:      engine,
		Investments: investments,
		Locker:      locker,
		Interval:    interval,
		log:         log.Named("worker"),
		now:         time.Now,
	}
}

// Start runs a cycle immediately, then one per Interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	s.log.Info("background scheduler started", logging.String("interval", s.Interval.String()))

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("background scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

func (s *Scheduler) RunCycle(ctx context.Context) {
	now := s.now()

	s.runJob(ctx, JobDailyTick, func(ctx context.Context) error {
		_, err := s.Engine.OnDailyTick(ctx, now)
		return err
	})
	s.runJob(ctx, JobInvestmentMaturity, func(ctx context.Context) error {
		_, err := s.Investments.MatureDue(ctx, now)
		return err
	})
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(ctx context.Context) error) {
	log := s.log.With(logging.String("job", name))

	release, ok, err := s.Locker.Acquire(ctx, name, s.Interval)
	if err != nil {
		log.Error("acquiring job lease failed", logging.Error(err))
		return
	}
	if !ok {
		log.Debug("job lease held elsewhere, skipping")
		return
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warn("releasing job lease failed", logging.Error(err))
		}
	}()

	if err := fn(ctx); err != nil {
		log.Error("job finished with errors", logging.Error(err))
		return
	}
	log.Debug("job finished")
}
