/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Metrics:    Prometheus request counters (when enabled)
  5. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /health                   Liveness + database ping
  /metrics                  Prometheus scrape endpoint (when enabled)
  /api/events/*             Reconciliation trigger, records, completion
  /api/calendar.ics         iCalendar feed
  /api/schedules/*          Schedule management and preview
  /api/tasks/*              Task management
  /api/goals/*, /api/habits/*
  /api/reconciliation/runs  Run history
  /api/scenarios/*          Demo scenarios (dev only)

RATE LIMITING:
  The reconciliation trigger is limited per client IP; everything else is
  unthrottled.

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/lifeplan/planner/config"
	"github.com/lifeplan/planner/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg *config.Config) *chi.Mux {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.Metrics.Enabled {
		r.Use(metrics.Middleware())
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.Health)
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	generate := http.HandlerFunc(h.GenerateEvents)
	var trigger http.Handler = generate
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		limiter := NewIPRateLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst, 10*time.Minute)
		trigger = limiter.Middleware()(generate)
	}

	r.Route("/api", func(r chi.Router) {
		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Method(http.MethodGet, "/generate", trigger)
			r.Method(http.MethodPost, "/generate", trigger)
			r.Post("/purge", h.PurgeEvents)
			r.Get("/{id}", h.GetEvent)
			r.Post("/{id}/complete", h.CompleteEvent)
			r.Post("/{id}/reopen", h.ReopenEvent)
		})
		r.Get("/calendar.ics", h.CalendarFeed)

		// Schedule routes
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/", h.CreateSchedule)
			r.Get("/{id}", h.GetSchedule)
			r.Put("/{id}", h.UpdateSchedule)
			r.Delete("/{id}", h.DeleteSchedule)
			r.Get("/{id}/occurrences", h.ScheduleOccurrences)
		})

		// Task routes
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
			r.Get("/{id}", h.GetTask)
			r.Put("/{id}", h.UpdateTask)
			r.Delete("/{id}", h.DeleteTask)
		})

		// Goal and habit routes
		r.Route("/goals", func(r chi.Router) {
			r.Get("/", h.ListGoals)
			r.Post("/", h.CreateGoal)
			r.Get("/{id}", h.GetGoal)
		})
		r.Route("/habits", func(r chi.Router) {
			r.Get("/", h.ListHabits)
			r.Post("/", h.CreateHabit)
			r.Get("/{id}/logs", h.HabitLogs)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListReconciliationRuns)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
