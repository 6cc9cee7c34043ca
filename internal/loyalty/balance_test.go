package loyalty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"restaurant-loyalty/backend/internal/models"
)

func TestBalanceMatchesLedgerThroughLifecycle(t *testing.T) {
	f := setup(t)
	u := f.user(t, "B1")
	check := func() {
		t.Helper()
		bal, err := f.svc.GetBalance(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, f.ledgerBalance(t, u.ID), bal)
		require.Equal(t, bal, f.cachedBalance(t, u.ID))
		require.GreaterOrEqual(t, bal, int64(0))
	}

	o := f.order(t, u.ID, "12500", models.OrderCompleted)
	_, err := f.svc.AccruePoints(ctx, u.ID, o.ID)
	require.NoError(t, err)
	check()

	f.clock.Advance(90 * 24 * time.Hour)
	_, err = f.svc.GrantManual(ctx, u.ID, 7, "")
	require.NoError(t, err)
	check()

	_, err = f.svc.RedeemPoints(ctx, u.ID, 15, "")
	require.NoError(t, err)
	check()

	f.clock.Set(t0.AddDate(0, 12, 0))
	_, err = f.svc.SweepExpiredGrants(ctx, f.clock.Now())
	require.NoError(t, err)
	check()

	for _, g := range f.grants(t, u.ID) {
		require.LessOrEqual(t, g.ConsumedAmount, g.Amount)
	}
}

func TestGetHistoryNewestFirst(t *testing.T) {
	f := setup(t)
	u := f.user(t, "H1")

	o := f.order(t, u.ID, "3000", models.OrderCompleted)
	_, err := f.svc.AccruePoints(ctx, u.ID, o.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.svc.RedeemPoints(ctx, u.ID, 2, "pay-1")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.svc.GrantManual(ctx, u.ID, 4, "")
	require.NoError(t, err)
	_, err = f.svc.SweepExpiredGrants(ctx, t0.AddDate(0, 12, 0))
	require.NoError(t, err)

	h, err := f.svc.GetHistory(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, h, 4)

	require.Equal(t, EntryExpire, h[0].Kind)
	require.Equal(t, int64(-1), h[0].Change)
	require.Equal(t, EntryCredit, h[1].Kind)
	require.Equal(t, models.SourceManual, h[1].Source)
	require.Equal(t, EntryDebit, h[2].Kind)
	require.Equal(t, int64(-2), h[2].Change)
	require.Equal(t, "pay-1", *h[2].Reference)
	require.Equal(t, EntryCredit, h[3].Kind)
	require.Equal(t, "order:1", *h[3].Reference)

	limited, err := f.svc.GetHistory(ctx, u.ID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, h[:2], limited)
}

func TestStats(t *testing.T) {
	f := setup(t)
	a := f.user(t, "ST1")
	b := f.user(t, "ST2")
	c := f.user(t, "ST3")

	_, err := f.svc.RegisterReferral(ctx, a.ReferralCode, b.ID)
	require.NoError(t, err)
	_, err = f.svc.RegisterReferral(ctx, a.ReferralCode, c.ID)
	require.NoError(t, err)
	o := f.order(t, b.ID, "4000", models.OrderCompleted)
	_, err = f.svc.AccruePoints(ctx, b.ID, o.ID)
	require.NoError(t, err)
	_, err = f.svc.CheckAndGrantReferralReward(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.svc.RedeemPoints(ctx, b.ID, 1, "")
	require.NoError(t, err)
	_, err = f.svc.SweepExpiredGrants(ctx, t0.AddDate(1, 0, 0))
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, &Stats{
		PointsIssued:      9,
		PointsRedeemed:    1,
		PointsExpired:     8,
		Referrals:         2,
		PendingReferrals:  1,
		RewardedReferrals: 1,
	}, st)
}
