package loyalty

import (
	"github.com/prometheus/client_golang/prometheus"

	"restaurant-loyalty/backend/internal/models"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	granted         *prometheus.CounterVec
	redeemed        prometheus.Counter
	rejected        prometheus.Counter
	expired         *prometheus.CounterVec
	referralRewards prometheus.Counter
	conflicts       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		granted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "points_granted_total",
			Help:      "Points credited, by grant source.",
		}, []string{"source"}),
		redeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "points_redeemed_total",
			Help:      "Points debited by redemptions.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "redemptions_rejected_total",
			Help:      "Redemptions refused for insufficient points.",
		}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "points_expired_total",
			Help:      "Points voided by the sweeper, by policy.",
		}, []string{"policy"}),
		referralRewards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "referral_rewards_total",
			Help:      "Referral rewards granted.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "lock_conflicts_total",
			Help:      "Ledger operations that could not obtain the user lock in time.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.granted, m.redeemed, m.rejected, m.expired, m.referralRewards, m.conflicts)
	}
	return m
}

func (m *Metrics) grant(source models.GrantSource, points int64) {
	if m == nil {
		return
	}
	m.granted.WithLabelValues(string(source)).Add(float64(points))
	if source == models.SourceReferral {
		m.referralRewards.Inc()
	}
}

func (m *Metrics) redeem(points int64) {
	if m == nil {
		return
	}
	m.redeemed.Add(float64(points))
}

func (m *Metrics) reject() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) expire(policy string, points int64) {
	if m == nil || points == 0 {
		return
	}
	m.expired.WithLabelValues(policy).Add(float64(points))
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
