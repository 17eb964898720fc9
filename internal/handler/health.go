package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/day-claim-calendar/internal/app"
)

// Health is a simple health-check endpoint used by load balancers and
// monitoring systems to verify that the process is running.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Pinger checks that the bookings backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports 503 until the first bookings snapshot has arrived and while
// the backend does not answer a ping, so an instance is not sent traffic it
// would render empty or fail to write.
func Ready(state *app.State, backend Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !state.Loaded() {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "bookings not loaded"})
		}
		if err := backend.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "bookings backend unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "version": state.Version()})
	}
}
