package loyalty

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"restaurant-loyalty/backend/internal/lock"
	"restaurant-loyalty/backend/internal/models"
	"restaurant-loyalty/backend/internal/store"
)

var (
	ctx = context.Background()
	t0  = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db      *gorm.DB
	svc     *Service
	clock   *fakeClock
	metrics *Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.InitDB(dsn)
	require.NoError(t, err)
	clock := &fakeClock{t: t0}
	m := NewMetrics(prometheus.NewRegistry())
	svc := New(db, lock.NewMemory(), Config{}, WithClock(clock.Now), WithMetrics(m))
	return &fixture{db: db, svc: svc, clock: clock, metrics: m}
}

func (f *fixture) user(t *testing.T, code string) *models.User {
	t.Helper()
	u := &models.User{Name: code, Role: models.RoleCustomer, ReferralCode: code, CreatedAt: f.clock.Now()}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) order(t *testing.T, userID uint, total string, status models.OrderStatus) *models.Order {
	t.Helper()
	o := &models.Order{UserID: userID, TotalAmount: decimal.RequireFromString(total), Status: status}
	require.NoError(t, f.db.Create(o).Error)
	return o
}

func (f *fixture) grants(t *testing.T, userID uint) []models.PointGrant {
	t.Helper()
	var gs []models.PointGrant
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("id").Find(&gs).Error)
	return gs
}

func (f *fixture) cachedBalance(t *testing.T, userID uint) int64 {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.First(&u, userID).Error)
	return u.PointsBalance
}

// ledgerBalance sums live grants in Go, independently of the SQL aggregate.
func (f *fixture) ledgerBalance(t *testing.T, userID uint) int64 {
	t.Helper()
	now := f.clock.Now()
	var sum int64
	for _, g := range f.grants(t, userID) {
		if !g.Voided && now.Before(g.ExpiresAt) {
			sum += g.Amount - g.ConsumedAmount
		}
	}
	return sum
}

func (f *fixture) requireBalance(t *testing.T, userID uint, want int64) {
	t.Helper()
	got, err := f.svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, want, f.ledgerBalance(t, userID))
}
