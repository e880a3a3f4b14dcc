package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auth"

// Metrics holds the service counters. All methods are safe on a nil receiver
// so components can be built without metrics in tests.
type Metrics struct {
	registry         *prometheus.Registry
	otpSent          *prometheus.CounterVec
	otpVerified      *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	tokensIssued     prometheus.Counter
	refreshReplays   prometheus.Counter
	dispatchFailures *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		otpSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "otp_sent_total", Help: "OTP challenges issued.",
		}, []string{"purpose"}),
		otpVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "otp_verifications_total", Help: "OTP verification attempts by outcome.",
		}, []string{"purpose", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total", Help: "Requests rejected by a rate limit.",
		}, []string{"scope"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_pairs_issued_total", Help: "Access/refresh token pairs issued.",
		}),
		refreshReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_replays_total", Help: "Refresh tokens presented after revocation.",
		}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "otp_dispatch_failures_total", Help: "OTP deliveries that failed.",
		}, []string{"channel"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.otpSent, m.otpVerified, m.rateLimited, m.tokensIssued, m.refreshReplays, m.dispatchFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OtpSent(purpose string) {
	if m == nil {
		return
	}
	m.otpSent.WithLabelValues(purpose).Inc()
}

func (m *Metrics) OtpVerified(purpose, outcome string) {
	if m == nil {
		return
	}
	m.otpVerified.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) TokenPairIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

func (m *Metrics) RefreshReplay() {
	if m == nil {
		return
	}
	m.refreshReplays.Inc()
}

func (m *Metrics) DispatchFailed(channel string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(channel).Inc()
}
