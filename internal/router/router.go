package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/middleware"
)

// Handlers bundles everything the route table needs.
type Handlers struct {
	Booking *handler.BookingHandler
	Payment *handler.PaymentHandler
	Refund  *handler.RefundHandler
	Session *handler.SessionHandler
}

// Register wires the full route table onto the Echo instance.
//
// Three access tiers exist.  Public routes carry no middleware at all;
// in particular the gateway notification endpoint must stay reachable
// without a bearer token, the payload is authenticated by its own MD5
// signature instead.  Customer routes require a valid token of either
// role and sit behind the Redis token bucket because reservation
// traffic spikes when a session goes on sale.  Owner routes require
// the OWNER role.
func Register(e *echo.Echo, h Handlers, jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	// Public browse and the gateway callback.
	e.GET("/v1/sessions/:id", h.Session.Get)
	e.GET("/v1/sessions/:id/availability", h.Booking.Availability)
	e.GET("/v1/pay/notify", h.Payment.Notify)
	e.POST("/v1/pay/notify", h.Payment.Notify)

	limiter := middleware.NewTokenBucket(rlCfg, rdb)

	// Customer routes: any authenticated user may book and manage
	// their own registrations.
	customer := e.Group("/v1")
	customer.Use(middleware.JWTAuth(jwtSecret))
	customer.Use(middleware.RequireRole("CUSTOMER", "OWNER"))
	customer.Use(limiter)
	customer.POST("/sessions/:id/reserve", h.Booking.Reserve)
	customer.GET("/registrations/:id/checkout", h.Booking.Checkout)
	customer.GET("/my-registrations", h.Booking.MyRegistrations)
	customer.GET("/payments/:id/status", h.Payment.Status)
	customer.POST("/registrations/:id/refund-requests", h.Refund.Request)

	// Owner routes: publishing sessions and deciding refunds.
	owner := e.Group("/v1")
	owner.Use(middleware.JWTAuth(jwtSecret))
	owner.Use(middleware.RequireRole("OWNER"))
	owner.POST("/sessions", h.Session.Create)
	owner.PUT("/sessions/:id", h.Session.Update)
	owner.GET("/refund-requests", h.Refund.List)
	owner.POST("/refund-requests/:id/process", h.Refund.Process)
}
