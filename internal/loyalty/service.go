// Package loyalty is the points and referral engine. Every mutation of a user's ledger
// runs under that user's lock and inside one database transaction.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"restaurant-loyalty/backend/internal/lock"
)

const (
	defPointsUnit       = 1000
	defReferralReward   = 5
	defGrantTTLMonths   = 12
	defInactivityMonths = 12
	defLockTimeout      = 5 * time.Second
)

type Config struct {
	PointsUnit       int64 // currency units per point
	ReferralReward   int64 // points granted to the referrer
	GrantTTLMonths   int
	InactivityMonths int
	LockTimeout      time.Duration
}

func (c *Config) check() {
	if c.PointsUnit < 1 {
		c.PointsUnit = defPointsUnit
	}
	if c.ReferralReward < 1 {
		c.ReferralReward = defReferralReward
	}
	if c.GrantTTLMonths < 1 {
		c.GrantTTLMonths = defGrantTTLMonths
	}
	if c.InactivityMonths < 1 {
		c.InactivityMonths = defInactivityMonths
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = defLockTimeout
	}
}

type Service struct {
	db      *gorm.DB
	locker  lock.Locker
	cfg     Config
	now     func() time.Time
	log     *zap.Logger
	metrics *Metrics
}

type Option func(*Service)

// WithClock overrides the time source. Returned times are converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = func() time.Time { return now().UTC() } }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(db *gorm.DB, locker lock.Locker, cfg Config, opts ...Option) *Service {
	cfg.check()
	s := &Service{
		db:     db,
		locker: locker,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func userLockKey(userID uint) string {
	return fmt.Sprintf("loyalty:user:%d", userID)
}

// withUserLock runs fn in a transaction while holding userID's ledger lock.
func (s *Service) withUserLock(ctx context.Context, userID uint, fn func(tx *gorm.DB) error) error {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	release, err := s.locker.Lock(lctx, userLockKey(userID))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.conflict()
			return fmt.Errorf("%w: user %d", ErrConcurrencyConflict, userID)
		}
		return err
	}
	defer release()
	return s.db.WithContext(ctx).Transaction(fn)
}
