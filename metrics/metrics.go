// Package metrics holds the Prometheus collectors for HTTP traffic,
// database access and reconciliation.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const routeLabelKey ctxKey = "metrics_route"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_reconcile_runs_total",
		Help: "Reconciliation runs by trigger and final status.",
	}, []string{"trigger", "status"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_reconcile_duration_seconds",
		Help:    "Wall time of reconciliation runs.",
		Buckets: prometheus.DefBuckets,
	})

	eventsChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_events_total",
		Help: "Occurrence records changed by reconciliation.",
	}, []string{"action"})

	taskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_reconcile_task_failures_total",
		Help: "Per-task reconciliation failures by step.",
	}, []string{"op"})

	expansions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_expansions_total",
		Help: "Recurrence expansions by outcome (ok, truncated, invalid).",
	}, []string{"outcome"})
)

// Middleware records request metrics and stores the route label for
// downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), routeLabelKey, r.URL.Path)))

			// chi fills the route pattern while routing, so read it afterwards.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDB records database latency. Use as defer metrics.ObserveDB(ctx, "op")().
func ObserveDB(ctx context.Context, operation string) func() {
	start := time.Now()
	return func() {
		dbLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
	}
}

// ObserveRun records a finished reconciliation run.
func ObserveRun(trigger, status string, d time.Duration) {
	reconcileRuns.WithLabelValues(trigger, status).Inc()
	reconcileDuration.Observe(d.Seconds())
}

func EventsCreated(n int)  { eventsChanged.WithLabelValues("created").Add(float64(n)) }
func EventsArchived(n int) { eventsChanged.WithLabelValues("archived").Add(float64(n)) }
func EventsPurged(n int)   { eventsChanged.WithLabelValues("purged").Add(float64(n)) }

func TaskFailure(op string) { taskFailures.WithLabelValues(op).Inc() }

// Expansion counts one expansion outcome: "ok", "truncated" or "invalid".
func Expansion(outcome string) { expansions.WithLabelValues(outcome).Inc() }

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	return "background"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
