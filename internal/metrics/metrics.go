package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gateway's Prometheus collectors. A fresh registry is
// created per process so hot reloads never re-register collectors.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UpstreamErrors  *prometheus.CounterVec
	RateLimited     prometheus.Counter
	InFlight        prometheus.Gauge
	TLSHandshakeErr prometheus.Counter
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_requests_total",
			Help: "Requests handled, labeled by route kind, method and status.",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelgate_request_duration_seconds",
			Help:    "Request latency in seconds, labeled by route kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_upstream_errors_total",
			Help: "Forward attempts that failed, labeled by upstream.",
		}, []string{"upstream"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelgate_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pixelgate_inflight_requests",
			Help: "Requests currently being served.",
		}),
		TLSHandshakeErr: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelgate_tls_handshake_errors_total",
			Help: "TLS handshakes that failed before an HTTP request existed.",
		}),
	}
}

// Handler exposes the registry on the admin listener.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveRequest(route, method string, status int, d time.Duration) {
	r.RequestsTotal.WithLabelValues(route, method, statusText(status)).Inc()
	r.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func statusText(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
