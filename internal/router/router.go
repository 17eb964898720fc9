// Package router attaches handlers and middleware to the echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/day-claim-calendar/internal/app"
	"github.com/iliyamo/day-claim-calendar/internal/config"
	"github.com/iliyamo/day-claim-calendar/internal/handler"
	"github.com/iliyamo/day-claim-calendar/internal/middleware"
	"github.com/iliyamo/day-claim-calendar/internal/session"
)

// RegisterRoutes registers routes that need no session: health checks used
// by load balancers and monitoring.  backend is pinged on every readiness
// check.
func RegisterRoutes(e *echo.Echo, state *app.State, backend handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(state, backend))
}

// Deps are the collaborators of the visitor-facing routes.  Redis may be nil,
// in which case rate limiting and caching are skipped.
type Deps struct {
	Sessions     *session.Manager
	Signer       *session.Signer
	SecureCookie bool
	Redis        *redis.Client
	RateLimit    config.RateLimitConfig
	Cache        config.CacheConfig
}

// RegisterCalendar registers the calendar pages, the live-update stream,
// the mutating form posts and the JSON API.
func RegisterCalendar(e *echo.Echo, h *handler.CalendarHandler, d Deps) {
	// Every visitor route runs with a session attached.
	g := e.Group("", middleware.Sessions(d.Sessions, d.Signer, d.SecureCookie))

	g.GET("/", h.Page)
	g.GET("/fragments/grid", h.Grid)
	g.GET("/fragments/modal", h.Modal)
	g.GET("/fragments/toasts", h.Toasts)
	g.GET("/days/:date", h.OpenDay)
	g.GET("/export", h.ExportExcel)
	g.GET("/print", h.Print)
	g.GET("/events", h.Events)

	// Navigation and writes are rate limited per ip, session and route.
	// Booking writes also share one budget per session.
	limited := g.Group("", middleware.NewTokenBucket(d.RateLimit, d.Redis))
	writes := middleware.NewWriteLimit(d.RateLimit, d.Redis)
	limited.POST("/month/prev", h.PrevMonth)
	limited.POST("/month/next", h.NextMonth)
	limited.POST("/modal/close", h.CloseModal)
	limited.POST("/bookings", h.Submit, writes)
	limited.POST("/bookings/:id/delete", h.Remove, writes)
	limited.POST("/notifications/:id/dismiss", h.Dismiss)

	// The JSON API is session-free and cached per bookings snapshot.
	api := e.Group("/api", middleware.NewRedisCache(d.Cache, d.Redis, h.State.Fingerprint))
	api.GET("/bookings", h.ListBookings)
	api.GET("/calendar", h.MonthGrid)
}
