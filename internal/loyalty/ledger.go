package loyalty

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"restaurant-loyalty/backend/internal/models"
)

func orderReference(orderID uint) string {
	return fmt.Sprintf("order:%d", orderID)
}

func referralReference(referralID uint) string {
	return fmt.Sprintf("referral:%d", referralID)
}

// lockUser loads the user row with FOR UPDATE where the dialect supports it.
func lockUser(tx *gorm.DB, userID uint) (*models.User, error) {
	var u models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return nil, err
	}
	return &u, nil
}

// liveGrants scopes to grants that still count towards the balance at now.
func liveGrants(db *gorm.DB, userID uint, now time.Time) *gorm.DB {
	return db.Model(&models.PointGrant{}).
		Where("user_id = ? AND voided = ? AND expires_at > ? AND consumed_amount < amount", userID, false, now)
}

func availablePoints(db *gorm.DB, userID uint, now time.Time) (int64, error) {
	var total int64
	err := liveGrants(db, userID, now).
		Select("COALESCE(SUM(amount - consumed_amount), 0)").
		Scan(&total).Error
	return total, err
}

// syncBalance recomputes the cached users.points_balance from the ledger. touch also
// records now as the user's last activity.
func syncBalance(tx *gorm.DB, userID uint, now time.Time, touch bool) (int64, error) {
	bal, err := availablePoints(tx, userID, now)
	if err != nil {
		return 0, err
	}
	updates := map[string]interface{}{"points_balance": bal}
	if touch {
		updates["last_activity_at"] = now
	}
	if err := tx.Model(&models.User{}).Where("id = ?", userID).UpdateColumns(updates).Error; err != nil {
		return 0, err
	}
	return bal, nil
}

func grantByReference(tx *gorm.DB, ref string) (*models.PointGrant, error) {
	var g models.PointGrant
	err := tx.Where("reference = ?", ref).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Service) insertGrant(tx *gorm.DB, userID uint, amount int64, source models.GrantSource, ref, note *string, now time.Time) (*models.PointGrant, error) {
	g := &models.PointGrant{
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		Reference: ref,
		Note:      note,
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, s.cfg.GrantTTLMonths, 0),
	}
	if err := tx.Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}
