package loyalty

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"restaurant-loyalty/backend/internal/models"
)

const (
	policyGrant      = "grant"
	policyInactivity = "inactivity"
)

// SweepExpiredGrants voids the unused remainder of every grant whose expiry is at or before
// asOf and returns how many grants it voided. Running it again for the same asOf is a no-op.
// A failure for one user does not stop the others; the failed users are picked up by the
// next run.
func (s *Service) SweepExpiredGrants(ctx context.Context, asOf time.Time) (int64, error) {
	asOf = asOf.UTC()
	var userIDs []uint
	err := s.db.WithContext(ctx).Model(&models.PointGrant{}).
		Where("voided = ? AND expires_at <= ? AND consumed_amount < amount", false, asOf).
		Distinct().Pluck("user_id", &userIDs).Error
	if err != nil {
		s.log.Error("SweepExpiredGrants list users err", zap.Time("asOf", asOf), zap.Error(err))
		return 0, err
	}

	scope := func(q *gorm.DB) *gorm.DB { return q.Where("expires_at <= ?", asOf) }
	return s.sweep(ctx, policyGrant, asOf, userIDs, scope, nil)
}

// SweepInactiveAccounts zeroes the balance of users with no points activity for the
// configured inactivity window before asOf. It is the account-level alternative to
// SweepExpiredGrants.
func (s *Service) SweepInactiveAccounts(ctx context.Context, asOf time.Time) (int64, error) {
	asOf = asOf.UTC()
	cutoff := asOf.AddDate(0, -s.cfg.InactivityMonths, 0)
	var userIDs []uint
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("(last_activity_at < ?) OR (last_activity_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Where("id IN (?)", s.db.Model(&models.PointGrant{}).
			Select("user_id").
			Where("voided = ? AND consumed_amount < amount", false)).
		Pluck("id", &userIDs).Error
	if err != nil {
		s.log.Error("SweepInactiveAccounts list users err", zap.Time("asOf", asOf), zap.Error(err))
		return 0, err
	}

	stillInactive := func(u *models.User) bool {
		if u.LastActivityAt != nil {
			return u.LastActivityAt.Before(cutoff)
		}
		return u.CreatedAt.Before(cutoff)
	}
	return s.sweep(ctx, policyInactivity, asOf, userIDs, nil, stillInactive)
}

func (s *Service) sweep(ctx context.Context, policy string, asOf time.Time, userIDs []uint,
	scope func(*gorm.DB) *gorm.DB, eligible func(*models.User) bool) (int64, error) {
	var total int64
	var errs error
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return total, multierr.Append(errs, err)
		}
		n, err := s.voidUserGrants(ctx, policy, id, asOf, scope, eligible)
		total += n
		if err != nil {
			s.log.Warn("sweep user err",
				zap.String("policy", policy),
				zap.Uint("userID", id),
				zap.Time("asOf", asOf),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
		}
	}
	s.log.Info("sweep done",
		zap.String("policy", policy),
		zap.Time("asOf", asOf),
		zap.Int("users", len(userIDs)),
		zap.Int64("voided", total),
		zap.Int("failed", len(multierr.Errors(errs))),
	)
	return total, errs
}

func (s *Service) voidUserGrants(ctx context.Context, policy string, userID uint, asOf time.Time,
	scope func(*gorm.DB) *gorm.DB, eligible func(*models.User) bool) (int64, error) {
	var voided, points int64
	err := s.withUserLock(ctx, userID, func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if eligible != nil && !eligible(u) {
			return nil
		}

		pending := func() *gorm.DB {
			q := tx.Model(&models.PointGrant{}).
				Where("user_id = ? AND voided = ? AND consumed_amount < amount", userID, false)
			if scope != nil {
				q = scope(q)
			}
			return q
		}
		if err := pending().Select("COALESCE(SUM(amount - consumed_amount), 0)").Scan(&points).Error; err != nil {
			return err
		}
		res := pending().UpdateColumns(map[string]interface{}{
			"voided":        true,
			"voided_at":     asOf,
			"voided_amount": gorm.Expr("amount - consumed_amount"),
		})
		if res.Error != nil {
			return res.Error
		}
		voided = res.RowsAffected
		_, err = syncBalance(tx, userID, s.now(), false)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.expire(policy, points)
	return voided, nil
}
