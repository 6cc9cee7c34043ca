package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleManager  Role = "manager"
)

type User struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Role           Role       `json:"role" gorm:"not null;default:customer"`
	ReferralCode   string     `json:"referral_code" gorm:"uniqueIndex;not null"`
	ReferrerID     *uint      `json:"referrer_id" gorm:"index"`
	PointsBalance  int64      `json:"points_balance" gorm:"not null;default:0"`
	LastActivityAt *time.Time `json:"last_activity_at" gorm:"index"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the order has reached a state that earns points.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderPaid
}

// TerminalOrderStatuses lists the statuses accepted by Terminal, for use in queries.
var TerminalOrderStatuses = []OrderStatus{OrderCompleted, OrderPaid}

type Order struct {
	ID          uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      uint            `json:"user_id" gorm:"index;not null"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric(18,2);not null"`
	Status      OrderStatus     `json:"status" gorm:"index;not null"`
	CompletedAt *time.Time      `json:"completed_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type GrantSource string

const (
	SourceOrder    GrantSource = "order"
	SourceReferral GrantSource = "referral"
	SourceManual   GrantSource = "manual"
)

// PointGrant is a credit entry. Rows are never deleted; only ConsumedAmount and the
// void fields change after insert.
type PointGrant struct {
	ID             uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         uint        `json:"user_id" gorm:"index:idx_grant_user_expiry,priority:1;not null"`
	Amount         int64       `json:"amount" gorm:"not null"`
	Source         GrantSource `json:"source" gorm:"not null"`
	Reference      *string     `json:"reference" gorm:"uniqueIndex"`
	ConsumedAmount int64       `json:"consumed_amount" gorm:"not null;default:0"`
	Voided         bool        `json:"voided" gorm:"not null;default:false"`
	VoidedAmount   int64       `json:"voided_amount" gorm:"not null;default:0"`
	VoidedAt       *time.Time  `json:"voided_at"`
	Note           *string     `json:"note"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at" gorm:"index:idx_grant_user_expiry,priority:2;not null"`
}

// Remaining is the part of the grant that has been neither consumed nor voided.
func (g *PointGrant) Remaining() int64 {
	if g.Voided {
		return 0
	}
	return g.Amount - g.ConsumedAmount
}

// Usable reports whether the grant still counts towards the balance at now.
func (g *PointGrant) Usable(now time.Time) bool {
	return !g.Voided && now.Before(g.ExpiresAt) && g.ConsumedAmount < g.Amount
}

type PointConsumption struct {
	ID          uint                    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      uint                    `json:"user_id" gorm:"index;not null"`
	Amount      int64                   `json:"amount" gorm:"not null"`
	Reference   *string                 `json:"reference" gorm:"uniqueIndex"`
	CreatedAt   time.Time               `json:"created_at"`
	Allocations []ConsumptionAllocation `json:"allocations" gorm:"foreignKey:ConsumptionID"`
}

type ConsumptionAllocation struct {
	ID            uint  `json:"id" gorm:"primaryKey;autoIncrement"`
	ConsumptionID uint  `json:"consumption_id" gorm:"index;not null"`
	GrantID       uint  `json:"grant_id" gorm:"index;not null"`
	Amount        int64 `json:"amount" gorm:"not null"`
}

type Referral struct {
	ID              uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ReferrerID      uint       `json:"referrer_id" gorm:"index;not null"`
	ReferredID      uint       `json:"referred_id" gorm:"uniqueIndex;not null"`
	RewardGranted   bool       `json:"reward_granted" gorm:"index;not null;default:false"`
	RewardGrantedAt *time.Time `json:"reward_granted_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{
		&User{}, &Order{}, &PointGrant{}, &PointConsumption{}, &ConsumptionAllocation{}, &Referral{},
	}
}
