package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every Record method is safe on a nil *Metrics so
// components can be constructed without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionChecksTotal    *prometheus.CounterVec
	SessionCheckDuration  *prometheus.HistogramVec
	ProviderFallbackTotal *prometheus.CounterVec
	TokenRefreshTotal     *prometheus.CounterVec
	LoginsTotal           *prometheus.CounterVec
	LogoutsTotal          *prometheus.CounterVec

	// Organization metrics
	OrganizationClearedTotal *prometheus.CounterVec
	OrganizationCacheTotal   *prometheus.CounterVec

	// Upstream API metrics
	UpstreamRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		SessionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_session_checks_total",
				Help: "Session checks by provider and result (authenticated, anonymous, error)",
			},
			[]string{"provider", "result"},
		),
		SessionCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_session_check_duration_seconds",
				Help:    "Session check duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		ProviderFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_provider_fallback_total",
				Help: "Times a configured provider was unavailable and mock was used instead",
			},
			[]string{"requested"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_refresh_total",
				Help: "Token refresh attempts by provider and status",
			},
			[]string{"provider", "status"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_logins_total",
				Help: "Login attempts by provider and status",
			},
			[]string{"provider", "status"},
		),
		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_logouts_total",
				Help: "Logouts by provider and status",
			},
			[]string{"provider", "status"},
		),

		OrganizationClearedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_organization_cleared_total",
				Help: "Selected organization clears by reason",
			},
			[]string{"reason"},
		),
		OrganizationCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_organization_cache_total",
				Help: "Organization list cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_upstream_requests_total",
				Help: "Requests made to the admin REST API",
			},
			[]string{"method", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SessionChecksTotal,
		m.SessionCheckDuration,
		m.ProviderFallbackTotal,
		m.TokenRefreshTotal,
		m.LoginsTotal,
		m.LogoutsTotal,
		m.OrganizationClearedTotal,
		m.OrganizationCacheTotal,
		m.UpstreamRequestsTotal,
	)

	return m
}

// RecordSessionCheck counts a session check outcome.
func (m *Metrics) RecordSessionCheck(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionChecksTotal.WithLabelValues(provider, result).Inc()
	m.SessionCheckDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordFallback counts a fallback from requested to mock.
func (m *Metrics) RecordFallback(requested string) {
	if m == nil {
		return
	}
	m.ProviderFallbackTotal.WithLabelValues(requested).Inc()
}

// RecordTokenRefresh counts a refresh attempt.
func (m *Metrics) RecordTokenRefresh(provider string, err error) {
	if m == nil {
		return
	}
	m.TokenRefreshTotal.WithLabelValues(provider, statusLabel(err)).Inc()
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(provider string, err error) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(provider, statusLabel(err)).Inc()
}

// RecordLogout counts a logout.
func (m *Metrics) RecordLogout(provider string, err error) {
	if m == nil {
		return
	}
	m.LogoutsTotal.WithLabelValues(provider, statusLabel(err)).Inc()
}

// RecordOrganizationCleared counts a cleared selection.
func (m *Metrics) RecordOrganizationCleared(reason string) {
	if m == nil {
		return
	}
	m.OrganizationClearedTotal.WithLabelValues(reason).Inc()
}

// RecordOrganizationCache counts a cache hit or miss.
func (m *Metrics) RecordOrganizationCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.OrganizationCacheTotal.WithLabelValues(result).Inc()
}

// RecordUpstream counts a request to the admin API.
func (m *Metrics) RecordUpstream(method string, status int) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics. Requests are
// labelled by their gorilla/mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
