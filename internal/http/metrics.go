package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP and repository load collectors.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	requestDur     *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	loadsTotal     *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repochat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "endpoint", "status"}),
		requestDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repochat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"method", "endpoint", "status"}),
		activeRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "repochat",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Requests currently being served.",
		}),
		// Labels: outcome (loaded, fetch_failed, no_files, rate_limited, error)
		loadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repochat",
			Subsystem: "repository",
			Name:      "loads_total",
			Help:      "Repository load requests by outcome.",
		}, []string{"outcome"}),
	}
}

// Middleware records request count and duration. The route pattern, not the
// raw URI, is used as the endpoint label.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			err := next(c)
			if err != nil {
				// let the error handler write the status before it is read
				c.Error(err)
			}

			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			method := c.Request().Method
			m.requestsTotal.WithLabelValues(method, endpoint, status).Inc()
			m.requestDur.WithLabelValues(method, endpoint, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

func (m *Metrics) load(outcome string) {
	m.loadsTotal.WithLabelValues(outcome).Inc()
}
