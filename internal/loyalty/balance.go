package loyalty

import (
	"context"
	"sort"
	"time"

	"restaurant-loyalty/backend/internal/models"
)

const (
	defHistoryLimit = 50
	maxHistoryLimit = 500
)

type EntryKind string

const (
	EntryCredit EntryKind = "credit"
	EntryDebit  EntryKind = "debit"
	EntryExpire EntryKind = "expire"
)

// HistoryEntry is one line of a user's points statement. Change is signed.
type HistoryEntry struct {
	Kind          EntryKind          `json:"kind"`
	Change        int64              `json:"change"`
	Source        models.GrantSource `json:"source,omitempty"`
	GrantID       *uint              `json:"grant_id,omitempty"`
	ConsumptionID *uint              `json:"consumption_id,omitempty"`
	Reference     *string            `json:"reference,omitempty"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
	At            time.Time          `json:"at"`
}

type Stats struct {
	PointsIssued      int64 `json:"points_issued"`
	PointsRedeemed    int64 `json:"points_redeemed"`
	PointsExpired     int64 `json:"points_expired"`
	Referrals         int64 `json:"referrals"`
	PendingReferrals  int64 `json:"pending_referrals"`
	RewardedReferrals int64 `json:"rewarded_referrals"`
}

// GetBalance returns the points the user can spend now.
func (s *Service) GetBalance(ctx context.Context, userID uint) (int64, error) {
	return availablePoints(s.db.WithContext(ctx), userID, s.now())
}

// GetHistory returns the user's ledger entries, newest first.
func (s *Service) GetHistory(ctx context.Context, userID uint, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	db := s.db.WithContext(ctx)

	var grants []models.PointGrant
	if err := db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit).Find(&grants).Error; err != nil {
		return nil, err
	}
	var voided []models.PointGrant
	if err := db.Where("user_id = ? AND voided = ? AND voided_amount > 0", userID, true).
		Order("voided_at DESC, id DESC").Limit(limit).Find(&voided).Error; err != nil {
		return nil, err
	}
	var consumptions []models.PointConsumption
	if err := db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit).Find(&consumptions).Error; err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(grants)+len(voided)+len(consumptions))
	for i := range grants {
		g := &grants[i]
		entries = append(entries, HistoryEntry{
			Kind:      EntryCredit,
			Change:    g.Amount,
			Source:    g.Source,
			GrantID:   &g.ID,
			Reference: g.Reference,
			ExpiresAt: &g.ExpiresAt,
			At:        g.CreatedAt,
		})
	}
	for i := range voided {
		g := &voided[i]
		entries = append(entries, HistoryEntry{
			Kind:    EntryExpire,
			Change:  -g.VoidedAmount,
			Source:  g.Source,
			GrantID: &g.ID,
			At:      *g.VoidedAt,
		})
	}
	for i := range consumptions {
		c := &consumptions[i]
		entries = append(entries, HistoryEntry{
			Kind:          EntryDebit,
			Change:        -c.Amount,
			ConsumptionID: &c.ID,
			Reference:     c.Reference,
			At:            c.CreatedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Stats aggregates ledger totals across all users.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	var st Stats
	if err := db.Model(&models.PointGrant{}).Select("COALESCE(SUM(amount), 0)").Scan(&st.PointsIssued).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.PointConsumption{}).Select("COALESCE(SUM(amount), 0)").Scan(&st.PointsRedeemed).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.PointGrant{}).Select("COALESCE(SUM(voided_amount), 0)").Scan(&st.PointsExpired).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Referral{}).Count(&st.Referrals).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Referral{}).Where("reward_granted = ?", false).Count(&st.PendingReferrals).Error; err != nil {
		return nil, err
	}
	st.RewardedReferrals = st.Referrals - st.PendingReferrals
	return &st, nil
}
