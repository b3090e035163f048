package api

import (
	"path"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics bundles Prometheus collectors for outgoing backend requests.
type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, baseURL string) *metrics {
	labels := prometheus.Labels{"base_url": baseURL}

	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_widget_api_requests_total",
				Help:        "Total count of requests sent to the support backend.",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "chat_widget_api_request_duration_seconds",
				Help:        "Histogram of backend request durations.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "chat_widget_api_inflight_requests",
			Help:        "Number of backend requests currently in flight.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.requests, m.duration, m.inFlight)
	return m
}

func (m *metrics) observe(method, p, status string, seconds float64) {
	labels := []string{method, sanitizePath(p), status}
	m.requests.WithLabelValues(labels...).Inc()
	m.duration.WithLabelValues(labels...).Observe(seconds)
}

// sanitizePath reduces cardinality by replacing the access token and numeric
// chat ids with placeholders.
func sanitizePath(p string) string {
	clean := path.Clean(p)
	if clean == "" || clean == "." {
		return "/"
	}

	segments := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	for i, seg := range segments {
		switch {
		case i == 0 && seg != "message" && seg != "":
			segments[i] = ":token"
		case i == 1 && segments[0] == "message":
			segments[i] = ":chat"
		}
	}
	if len(segments) > 3 {
		segments = append(segments[:3], "...")
	}

	return "/" + strings.Join(segments, "/")
}
