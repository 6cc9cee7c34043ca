package loyalty

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"restaurant-loyalty/backend/internal/models"
)

func TestAccrualRounding(t *testing.T) {
	f := setup(t)
	u := f.user(t, "R1")

	cases := []struct {
		total string
		want  int64
	}{
		{"2999", 2},
		{"3000", 3},
		{"5000.75", 5},
	}
	for _, c := range cases {
		o := f.order(t, u.ID, c.total, models.OrderCompleted)
		g, err := f.svc.AccruePoints(ctx, u.ID, o.ID)
		require.NoError(t, err)
		require.NotNil(t, g)
		require.Equal(t, c.want, g.Amount, c.total)
		require.Equal(t, models.SourceOrder, g.Source)
		require.Equal(t, g.CreatedAt.AddDate(0, 12, 0), g.ExpiresAt)
	}

	small := f.order(t, u.ID, "999", models.OrderPaid)
	g, err := f.svc.AccruePoints(ctx, u.ID, small.ID)
	require.NoError(t, err)
	require.Nil(t, g)
	require.Len(t, f.grants(t, u.ID), 3)

	f.requireBalance(t, u.ID, 10)
	require.Equal(t, int64(10), f.cachedBalance(t, u.ID))
	require.Equal(t, float64(10), testutil.ToFloat64(f.metrics.granted.WithLabelValues("order")))
}

func TestPointsFor(t *testing.T) {
	f := setup(t)
	require.Equal(t, int64(0), f.svc.PointsFor(decimal.Zero))
	require.Equal(t, int64(1), f.svc.PointsFor(decimal.RequireFromString("1000")))
	require.Equal(t, int64(12), f.svc.PointsFor(decimal.RequireFromString("12999.99")))
}

func TestAccrualIdempotentPerOrder(t *testing.T) {
	f := setup(t)
	u := f.user(t, "I1")
	o := f.order(t, u.ID, "3000", models.OrderCompleted)

	first, err := f.svc.AccruePoints(ctx, u.ID, o.ID)
	require.NoError(t, err)
	second, err := f.svc.AccruePoints(ctx, u.ID, o.ID)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, f.grants(t, u.ID), 1)
	f.requireBalance(t, u.ID, 3)
	require.Equal(t, float64(3), testutil.ToFloat64(f.metrics.granted.WithLabelValues("order")))
}

func TestAccrualInvalidOrderState(t *testing.T) {
	f := setup(t)
	u := f.user(t, "S1")
	other := f.user(t, "S2")

	pending := f.order(t, u.ID, "5000", models.OrderPending)
	_, err := f.svc.AccruePoints(ctx, u.ID, pending.ID)
	require.ErrorIs(t, err, ErrInvalidOrderState)

	cancelled := f.order(t, u.ID, "5000", models.OrderCancelled)
	_, err = f.svc.AccruePoints(ctx, u.ID, cancelled.ID)
	require.ErrorIs(t, err, ErrInvalidOrderState)

	_, err = f.svc.AccruePoints(ctx, u.ID, 9999)
	require.ErrorIs(t, err, ErrInvalidOrderState)

	done := f.order(t, u.ID, "5000", models.OrderCompleted)
	_, err = f.svc.AccruePoints(ctx, other.ID, done.ID)
	require.ErrorIs(t, err, ErrInvalidOrderState)

	require.Empty(t, f.grants(t, u.ID))
	require.Empty(t, f.grants(t, other.ID))
}

func TestGrantManual(t *testing.T) {
	f := setup(t)
	u := f.user(t, "M1")

	_, err := f.svc.GrantManual(ctx, u.ID, 0, "")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.GrantManual(ctx, 4242, 10, "")
	require.ErrorIs(t, err, ErrUserNotFound)

	g, err := f.svc.GrantManual(ctx, u.ID, 25, "apology for late delivery")
	require.NoError(t, err)
	require.Equal(t, models.SourceManual, g.Source)
	require.Nil(t, g.Reference)
	require.Equal(t, "apology for late delivery", *g.Note)
	f.requireBalance(t, u.ID, 25)
	require.Equal(t, int64(25), f.cachedBalance(t, u.ID))
}
