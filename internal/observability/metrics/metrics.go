package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "clinicbot"

// BookingMetrics tracks conversation turns and flow transitions.
type BookingMetrics struct {
	turnsTotal       *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "turns_total",
			Help:      "Inbound turns by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking flow step transitions",
		}, []string{"from", "to"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "turn_latency_seconds",
			Help:      "Latency of a full inbound turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.transitionsTotal, m.turnLatency)
	return m
}

func (m *BookingMetrics) ObserveTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// HTTPClientMetrics tracks outbound calls made by the resilient client.
type HTTPClientMetrics struct {
	requestsTotal *prometheus.CounterVec
	attempts      *prometheus.HistogramVec
}

func NewHTTPClientMetrics(reg prometheus.Registerer) *HTTPClientMetrics {
	m := &HTTPClientMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "httpclient",
			Name:      "requests_total",
			Help:      "Outbound requests by target and final outcome",
		}, []string{"target", "outcome"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "httpclient",
			Name:      "attempts",
			Help:      "Attempts spent per outbound request",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"target"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.attempts)
	return m
}

func (m *HTTPClientMetrics) ObserveRequest(target, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(target, outcome).Inc()
	m.attempts.WithLabelValues(target).Observe(float64(attempts))
}

// RateLimitMetrics counts limiter admissions and denials per scope.
type RateLimitMetrics struct {
	decisionsTotal *prometheus.CounterVec
}

func NewRateLimitMetrics(reg prometheus.Registerer) *RateLimitMetrics {
	m := &RateLimitMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions by scope",
		}, []string{"scope", "allowed"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisionsTotal)
	return m
}

func (m *RateLimitMetrics) ObserveDecision(scope string, allowed bool) {
	if m == nil {
		return
	}
	label := "false"
	if allowed {
		label = "true"
	}
	m.decisionsTotal.WithLabelValues(scope, label).Inc()
}
