package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"restaurant-loyalty/backend/internal/models"
)

// PointsFor converts an order total into whole points, discarding the remainder.
func (s *Service) PointsFor(total decimal.Decimal) int64 {
	return total.Div(decimal.NewFromInt(s.cfg.PointsUnit)).Floor().IntPart()
}

// AccruePoints credits the points earned by a completed order. It is keyed by order id: a
// repeated call returns the grant created by the first one. Orders worth less than one point
// create nothing and return a nil grant.
func (s *Service) AccruePoints(ctx context.Context, userID, orderID uint) (*models.PointGrant, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %d not found", ErrInvalidOrderState, orderID)
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: order %d does not belong to user %d", ErrInvalidOrderState, orderID, userID)
	}
	if !order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrInvalidOrderState, orderID, order.Status)
	}
	if order.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("%w: order %d has negative total", ErrInvalidOrderState, orderID)
	}

	points := s.PointsFor(order.TotalAmount)
	if points == 0 {
		s.log.Debug("AccruePoints order below one point",
			zap.Uint("userID", userID),
			zap.Uint("orderID", orderID),
			zap.String("total", order.TotalAmount.String()),
		)
		return nil, nil
	}

	ref := orderReference(orderID)
	var grant *models.PointGrant
	created := false
	err := s.withUserLock(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockUser(tx, userID); err != nil {
			return err
		}
		existing, err := grantByReference(tx, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			grant = existing
			return nil
		}
		now := s.now()
		grant, err = s.insertGrant(tx, userID, points, models.SourceOrder, &ref, nil, now)
		if err != nil {
			return err
		}
		created = true
		_, err = syncBalance(tx, userID, now, true)
		return err
	})
	if err != nil {
		s.log.Error("AccruePoints err",
			zap.Uint("userID", userID),
			zap.Uint("orderID", orderID),
			zap.Int64("points", points),
			zap.Error(err),
		)
		return nil, err
	}
	if created {
		s.metrics.grant(models.SourceOrder, points)
		s.log.Info("AccruePoints granted",
			zap.Uint("userID", userID),
			zap.Uint("orderID", orderID),
			zap.Uint("grantID", grant.ID),
			zap.Int64("points", points),
		)
	}
	return grant, nil
}

// GrantManual credits a staff adjustment.
func (s *Service) GrantManual(ctx context.Context, userID uint, amount int64, note string) (*models.PointGrant, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	var notePtr *string
	if note != "" {
		notePtr = &note
	}
	var grant *models.PointGrant
	err := s.withUserLock(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockUser(tx, userID); err != nil {
			return err
		}
		now := s.now()
		var err error
		grant, err = s.insertGrant(tx, userID, amount, models.SourceManual, nil, notePtr, now)
		if err != nil {
			return err
		}
		_, err = syncBalance(tx, userID, now, false)
		return err
	})
	if err != nil {
		s.log.Error("GrantManual err", zap.Uint("userID", userID), zap.Int64("amount", amount), zap.Error(err))
		return nil, err
	}
	s.metrics.grant(models.SourceManual, amount)
	return grant, nil
}
