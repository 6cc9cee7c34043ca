// Package sweeper runs the points expiration sweeps once a day.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"restaurant-loyalty/backend/internal/config"
)

// Sweeper is the part of the loyalty engine the scheduler drives.
type Sweeper interface {
	SweepExpiredGrants(ctx context.Context, asOf time.Time) (int64, error)
	SweepInactiveAccounts(ctx context.Context, asOf time.Time) (int64, error)
}

type Config struct {
	Sweeper  Sweeper
	Policy   string
	RunHour  int
	Location *time.Location
	Logger   *zap.Logger
}

// Scheduler triggers the configured sweeps at RunHour:00 every day.
type Scheduler struct {
	sweeper  Sweeper
	policy   string
	runHour  int
	location *time.Location
	log      *zap.Logger
	now      func() time.Time
}

func NewScheduler(cfg Config) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := cfg.Policy
	if policy == "" {
		policy = config.PolicyGrant
	}
	return &Scheduler{
		sweeper:  cfg.Sweeper,
		policy:   policy,
		runHour:  clampHour(cfg.RunHour),
		location: loc,
		log:      logger,
		now:      time.Now,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.sweeper == nil {
		return
	}
	for {
		now := s.now().In(s.location)
		next := s.nextRun(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx, s.now())
		}
	}
}

// RunOnce runs the sweeps selected by the policy. Failures are logged; affected grants are
// retried on the next run.
func (s *Scheduler) RunOnce(ctx context.Context, asOf time.Time) {
	if s.policy == config.PolicyGrant || s.policy == config.PolicyBoth {
		n, err := s.sweeper.SweepExpiredGrants(ctx, asOf)
		if err != nil {
			s.log.Error("expired grant sweep failed", zap.Time("asOf", asOf), zap.Int64("voided", n), zap.Error(err))
		} else {
			s.log.Info("expired grant sweep", zap.Time("asOf", asOf), zap.Int64("voided", n))
		}
	}
	if s.policy == config.PolicyInactivity || s.policy == config.PolicyBoth {
		n, err := s.sweeper.SweepInactiveAccounts(ctx, asOf)
		if err != nil {
			s.log.Error("inactive account sweep failed", zap.Time("asOf", asOf), zap.Int64("voided", n), zap.Error(err))
		} else {
			s.log.Info("inactive account sweep", zap.Time("asOf", asOf), zap.Int64("voided", n))
		}
	}
}

func (s *Scheduler) nextRun(after time.Time) time.Time {
	target := time.Date(after.Year(), after.Month(), after.Day(), s.runHour, 0, 0, 0, s.location)
	if !target.After(after) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

func clampHour(hour int) int {
	if hour < 0 {
		return 0
	}
	if hour > 23 {
		return 23
	}
	return hour
}
