package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"restaurant-loyalty/backend/internal/config"
)

type stubSweeper struct {
	grantCalls      []time.Time
	inactivityCalls []time.Time
	err             error
}

func (s *stubSweeper) SweepExpiredGrants(ctx context.Context, asOf time.Time) (int64, error) {
	s.grantCalls = append(s.grantCalls, asOf)
	return 2, s.err
}

func (s *stubSweeper) SweepInactiveAccounts(ctx context.Context, asOf time.Time) (int64, error) {
	s.inactivityCalls = append(s.inactivityCalls, asOf)
	return 1, s.err
}

func TestNextRun(t *testing.T) {
	s := NewScheduler(Config{Sweeper: &stubSweeper{}, RunHour: 3})

	before := time.Date(2026, 3, 1, 1, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), s.nextRun(before))

	at := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), s.nextRun(at))

	after := time.Date(2026, 12, 31, 22, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2027, 1, 1, 3, 0, 0, 0, time.UTC), s.nextRun(after))
}

func TestClampHour(t *testing.T) {
	require.Equal(t, 0, clampHour(-4))
	require.Equal(t, 23, clampHour(40))
	require.Equal(t, 7, clampHour(7))
}

func TestRunOncePolicies(t *testing.T) {
	asOf := time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC)

	grant := &stubSweeper{}
	NewScheduler(Config{Sweeper: grant}).RunOnce(context.Background(), asOf)
	require.Equal(t, []time.Time{asOf}, grant.grantCalls)
	require.Empty(t, grant.inactivityCalls)

	inactive := &stubSweeper{}
	NewScheduler(Config{Sweeper: inactive, Policy: config.PolicyInactivity}).RunOnce(context.Background(), asOf)
	require.Empty(t, inactive.grantCalls)
	require.Len(t, inactive.inactivityCalls, 1)

	both := &stubSweeper{err: errors.New("db down")}
	NewScheduler(Config{Sweeper: both, Policy: config.PolicyBoth}).RunOnce(context.Background(), asOf)
	require.Len(t, both.grantCalls, 1)
	require.Len(t, both.inactivityCalls, 1)
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewScheduler(Config{Sweeper: &stubSweeper{}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
