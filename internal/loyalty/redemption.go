package loyalty

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"restaurant-loyalty/backend/internal/models"
)

// RedeemPoints debits points from the user's live grants, soonest-expiring first. Either the
// whole amount is debited or nothing is. A non-empty reference makes the call idempotent.
func (s *Service) RedeemPoints(ctx context.Context, userID uint, points int64, reference string) (*models.PointConsumption, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, points)
	}
	var refPtr *string
	if reference != "" {
		refPtr = &reference
	}

	var consumption *models.PointConsumption
	replayed := false
	err := s.withUserLock(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockUser(tx, userID); err != nil {
			return err
		}
		if refPtr != nil {
			var existing models.PointConsumption
			err := tx.Preload("Allocations").Where("reference = ?", reference).First(&existing).Error
			if err == nil {
				if existing.UserID != userID || existing.Amount != points {
					return fmt.Errorf("%w: %q", ErrReferenceConflict, reference)
				}
				consumption = &existing
				replayed = true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		now := s.now()
		var grants []models.PointGrant
		if err := liveGrants(tx, userID, now).Order("expires_at ASC, id ASC").Find(&grants).Error; err != nil {
			return err
		}
		var available int64
		for i := range grants {
			available += grants[i].Remaining()
		}
		if points > available {
			return &InsufficientPointsError{Requested: points, Available: available}
		}

		c := &models.PointConsumption{UserID: userID, Amount: points, Reference: refPtr, CreatedAt: now}
		left := points
		for i := range grants {
			if left == 0 {
				break
			}
			g := &grants[i]
			take := min(left, g.Remaining())
			res := tx.Model(&models.PointGrant{}).
				Where("id = ? AND voided = ? AND consumed_amount + ? <= amount", g.ID, false, take).
				UpdateColumn("consumed_amount", gorm.Expr("consumed_amount + ?", take))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("%w: grant %d changed during redemption", ErrConcurrencyConflict, g.ID)
			}
			c.Allocations = append(c.Allocations, models.ConsumptionAllocation{GrantID: g.ID, Amount: take})
			left -= take
		}
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if _, err := syncBalance(tx, userID, now, true); err != nil {
			return err
		}
		consumption = c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			s.metrics.reject()
			s.log.Info("RedeemPoints insufficient", zap.Uint("userID", userID), zap.Int64("points", points), zap.Error(err))
		} else {
			s.log.Error("RedeemPoints err", zap.Uint("userID", userID), zap.Int64("points", points), zap.String("reference", reference), zap.Error(err))
		}
		return nil, err
	}
	if !replayed {
		s.metrics.redeem(points)
	}
	return consumption, nil
}
