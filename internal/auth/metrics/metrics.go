package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the session lifecycle. A nil *Metrics records nothing.
type Metrics struct {
	Logins          *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	RefreshReplays  *prometheus.CounterVec
	Revocations     *prometheus.CounterVec
	Authentications *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_auth_logins_total",
			Help: "Login attempts by guard and outcome",
		}, []string{"guard", "outcome"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_auth_refreshes_total",
			Help: "Refresh attempts by guard and outcome",
		}, []string{"guard", "outcome"}),
		RefreshReplays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_auth_refresh_replays_total",
			Help: "Refresh tokens presented after rotation",
		}, []string{"guard"}),
		Revocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_auth_revocations_total",
			Help: "Sessions revoked by logout or revoke",
		}, []string{"guard"}),
		Authentications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_auth_authentications_total",
			Help: "Bearer token authentications by guard and outcome",
		}, []string{"guard", "outcome"}),
	}
}

func (m *Metrics) IncLogin(guard string, ok bool) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(guard, outcome(ok)).Inc()
}

func (m *Metrics) IncRefresh(guard string, ok bool) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(guard, outcome(ok)).Inc()
}

func (m *Metrics) IncRefreshReplay(guard string) {
	if m == nil {
		return
	}
	m.RefreshReplays.WithLabelValues(guard).Inc()
}

func (m *Metrics) IncRevocation(guard string) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(guard).Inc()
}

func (m *Metrics) IncAuthentication(guard string, ok bool) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(guard, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
