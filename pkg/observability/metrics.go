package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/fieldperm/pkg/orgs"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission engine metrics
	RoleAssignmentsTotal    *prometheus.CounterVec
	PermissionRemovalsTotal *prometheus.CounterVec
	PlansTotal              *prometheus.CounterVec
	PlanStepsApplied        *prometheus.HistogramVec
	OwnerFloorRejections    *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Drift scan metrics
	DriftDetected    *prometheus.GaugeVec
	ScanDuration     prometheus.Histogram
	ScanErrorsTotal  prometheus.Counter
	ResourcesScanned prometheus.Gauge

	registry *prometheus.Registry
}

var (
	_ rbac.Recorder      = (*Metrics)(nil)
	_ rbac.CacheRecorder = (*Metrics)(nil)
	_ orgs.Recorder      = (*Metrics)(nil)
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldperm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldperm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RoleAssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldperm_role_assignments_total",
				Help: "Total number of role assignments",
			},
			[]string{"role", "resource_type", "status"},
		),
		PermissionRemovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldperm_permission_removals_total",
				Help: "Total number of permission removals",
			},
			[]string{"resource_type", "status"},
		),
		PlansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldperm_plans_total",
				Help: "Total number of applied propagation plans",
			},
			[]string{"operation", "status"},
		),
		PlanStepsApplied: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldperm_plan_steps_applied",
				Help:    "Number of steps applied per propagation plan",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"operation"},
		),
		OwnerFloorRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldperm_owner_floor_rejections_total",
				Help: "Operations rejected because they would remove the last owner",
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldperm_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldperm_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DriftDetected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fieldperm_drift_detected",
				Help: "Permission sets that are not exactly a role bundle, by resource type, as of the last scan",
			},
			[]string{"resource_type"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fieldperm_scan_duration_seconds",
				Help:    "Drift scan duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ScanErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldperm_scan_errors_total",
				Help: "Total number of failed drift scans",
			},
		),
		ResourcesScanned: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldperm_resources_scanned",
				Help: "Resources examined by the last drift scan",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RoleAssignmentsTotal,
		m.PermissionRemovalsTotal,
		m.PlansTotal,
		m.PlanStepsApplied,
		m.OwnerFloorRejections,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DriftDetected,
		m.ScanDuration,
		m.ScanErrorsTotal,
		m.ResourcesScanned,
	)

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRoleAssignment implements rbac.Recorder
func (m *Metrics) RecordRoleAssignment(role rbac.RoleName, rt rbac.ResourceType, err error) {
	m.RoleAssignmentsTotal.WithLabelValues(string(role), string(rt), status(err)).Inc()
}

// RecordPermissionRemoval implements rbac.Recorder
func (m *Metrics) RecordPermissionRemoval(rt rbac.ResourceType, err error) {
	m.PermissionRemovalsTotal.WithLabelValues(string(rt), status(err)).Inc()
}

// RecordCacheHit implements rbac.CacheRecorder
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss implements rbac.CacheRecorder
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordPlan implements orgs.Recorder
func (m *Metrics) RecordPlan(operation string, applied int, err error) {
	m.PlansTotal.WithLabelValues(operation, status(err)).Inc()
	m.PlanStepsApplied.WithLabelValues(operation).Observe(float64(applied))
}

// RecordOwnerFloorRejection implements orgs.Recorder
func (m *Metrics) RecordOwnerFloorRejection(operation string) {
	m.OwnerFloorRejections.WithLabelValues(operation).Inc()
}

// RecordScan records the outcome of one drift scan
func (m *Metrics) RecordScan(drift []rbac.Drift, resources int, duration time.Duration, err error) {
	m.ScanDuration.Observe(duration.Seconds())
	if err != nil {
		m.ScanErrorsTotal.Inc()
		return
	}

	m.ResourcesScanned.Set(float64(resources))
	counts := make(map[rbac.ResourceType]int)
	for _, rt := range rbac.ResourceTypes() {
		counts[rt] = 0
	}
	for _, d := range drift {
		counts[d.Resource.Type]++
	}
	for rt, n := range counts {
		m.DriftDetected.WithLabelValues(string(rt)).Set(float64(n))
	}
}

// Handler returns the Prometheus scrape handler for the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
