package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"restaurant-loyalty/backend/internal/models"
)

// RegisterReferral links newUserID to the owner of referrerCode. A user can be referred only
// once; registering again returns the existing referral.
func (s *Service) RegisterReferral(ctx context.Context, referrerCode string, newUserID uint) (*models.Referral, error) {
	code := strings.TrimSpace(referrerCode)
	if code == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidReferralCode)
	}
	var referrer models.User
	if err := s.db.WithContext(ctx).Where("referral_code = ?", code).First(&referrer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReferralCode, code)
		}
		return nil, err
	}
	if referrer.ID == newUserID {
		return nil, fmt.Errorf("%w: self referral", ErrInvalidReferralCode)
	}

	var referral models.Referral
	err := s.withUserLock(ctx, newUserID, func(tx *gorm.DB) error {
		if _, err := lockUser(tx, newUserID); err != nil {
			return err
		}
		err := tx.Where("referred_id = ?", newUserID).First(&referral).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		referral = models.Referral{ReferrerID: referrer.ID, ReferredID: newUserID, CreatedAt: s.now()}
		if err := tx.Create(&referral).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", newUserID).UpdateColumn("referrer_id", referrer.ID).Error
	})
	if err != nil {
		s.log.Error("RegisterReferral err", zap.String("code", code), zap.Uint("newUserID", newUserID), zap.Error(err))
		return nil, err
	}
	return &referral, nil
}

// CheckAndGrantReferralReward pays the referrer of referredUserID once the referred user has a
// completed order. It returns the reward grant, or nil when there is nothing to pay: no
// referral, or the reward was already paid. The reward fires at most once per referral.
func (s *Service) CheckAndGrantReferralReward(ctx context.Context, referredUserID uint) (*models.PointGrant, error) {
	db := s.db.WithContext(ctx)
	var referral models.Referral
	err := db.Where("referred_id = ? AND reward_granted = ?", referredUserID, false).First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var completed int64
	if err := db.Model(&models.Order{}).
		Where("user_id = ? AND status IN ?", referredUserID, models.TerminalOrderStatuses).
		Count(&completed).Error; err != nil {
		return nil, err
	}
	if completed == 0 {
		return nil, fmt.Errorf("%w: user %d has no completed order", ErrInvalidOrderState, referredUserID)
	}

	var grant *models.PointGrant
	err = s.withUserLock(ctx, referral.ReferrerID, func(tx *gorm.DB) error {
		if _, err := lockUser(tx, referral.ReferrerID); err != nil {
			return err
		}
		now := s.now()
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND reward_granted = ?", referral.ID, false).
			UpdateColumns(map[string]interface{}{"reward_granted": true, "reward_granted_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		ref := referralReference(referral.ID)
		var err error
		grant, err = s.insertGrant(tx, referral.ReferrerID, s.cfg.ReferralReward, models.SourceReferral, &ref, nil, now)
		if err != nil {
			return err
		}
		_, err = syncBalance(tx, referral.ReferrerID, now, false)
		return err
	})
	if err != nil {
		s.log.Error("CheckAndGrantReferralReward err",
			zap.Uint("referralID", referral.ID),
			zap.Uint("referrerID", referral.ReferrerID),
			zap.Uint("referredID", referredUserID),
			zap.Error(err),
		)
		return nil, err
	}
	if grant != nil {
		s.metrics.grant(models.SourceReferral, grant.Amount)
		s.log.Info("referral reward granted",
			zap.Uint("referralID", referral.ID),
			zap.Uint("referrerID", referral.ReferrerID),
			zap.Uint("referredID", referredUserID),
			zap.Int64("points", grant.Amount),
		)
	}
	return grant, nil
}
