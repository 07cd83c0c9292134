package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relay-core/internal/device"
)

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Long-lived sockets are not rate limited.
		r.Get("/ws", s.handleWebSocket)
		if s.devicePush != nil {
			r.Handle("/devices/connect", s.devicePush)
		}

		r.Group(func(r chi.Router) {
			if s.secCfg.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(newIPRateLimiter(s.secCfg.RateLimit)))
			}

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Get("/state", s.handleGetDeviceState)
					r.Get("/history", s.handleGetDeviceHistory)
					r.Post("/switches/{switchId}/toggle", s.handleToggle)
				})
			})

			r.Post("/toggle/bulk", s.handleBulkToggle)

			r.Get("/commands/{id}", s.handleGetCommand)
			r.Get("/conflicts", s.handleListConflicts)

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", s.handleListSchedules)
				r.Post("/", s.handleCreateSchedule)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSchedule)
					r.Put("/", s.handleUpdateSchedule)
					r.Delete("/", s.handleDeleteSchedule)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status with per-dependency results.
// Any failing dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	online := 0
	devices := s.registry.List()
	for i := range devices {
		if devices[i].Status == device.StatusOnline {
			online++
		}
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"checks":         checks,
		"devices":        len(devices),
		"devices_online": online,
		"queued":         s.dispatcher.QueueLen(),
		"observers":      s.fanout.Count(),
		"ws_clients":     s.hub.ClientCount(),
	})
}
