// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/api/handlers"
	"github.com/parking-reservation/backend/internal/api/middleware"
	"github.com/parking-reservation/backend/internal/auth"
	"github.com/parking-reservation/backend/internal/websocket"
)

// RouterConfig carries the dependencies of the HTTP router.
type RouterConfig struct {
	Services *handlers.Services
	DB       handlers.Pinger
	Hub      *websocket.Hub
	Verifier middleware.TokenVerifier
	// Limiter throttles bookings per identity; nil disables throttling.
	Limiter *middleware.LimiterStore
	// Metrics is served on /metrics when non-nil.
	Metrics   http.Handler
	StaticDir string
	Logger    pslog.Logger
}

type chain []func(http.Handler) http.Handler

func (c chain) then(h http.HandlerFunc) http.Handler {
	var out http.Handler = h
	for i := len(c) - 1; i >= 0; i-- {
		out = c[i](out)
	}
	return out
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	svc := cfg.Services

	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(logger))
	r.Use(middleware.ErrorRecovery(logger))

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Authenticate(cfg.Verifier))

	admin := chain{middleware.Require(auth.CapManageLots)}
	slotAdmin := chain{middleware.Require(auth.CapManageSlots)}
	booking := chain{middleware.Require(auth.CapBookSlot)}
	if cfg.Limiter != nil {
		booking = append(booking, middleware.RateLimit(cfg.Limiter))
	}

	// Health and WebSocket endpoints
	api.HandleFunc("/health", handlers.HealthCheck(cfg.DB, cfg.Hub)).Methods("GET")
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(cfg.Hub, logger)).Methods("GET")

	// Lot endpoints
	api.HandleFunc("/lots", handlers.ListLots(svc)).Methods("GET")
	api.Handle("/lots", admin.then(handlers.CreateLot(svc))).Methods("POST")
	api.HandleFunc("/lots/{lotId}", handlers.GetLot(svc)).Methods("GET")
	api.Handle("/lots/{lotId}", admin.then(handlers.UpdateLot(svc))).Methods("PUT")
	api.Handle("/lots/{lotId}", admin.then(handlers.DeleteLot(svc))).Methods("DELETE")

	// Slot endpoints
	api.HandleFunc("/slots/lot/{lotId}", handlers.ListLotSlots(svc)).Methods("GET")
	api.Handle("/slots/lot/{lotId}", admin.then(handlers.AddSlots(svc))).Methods("POST")
	api.HandleFunc("/slots/{slotId}", handlers.GetSlot(svc)).Methods("GET")
	api.Handle("/slots/{slotId}/book", booking.then(handlers.BookSlot(svc))).Methods("PUT")
	api.Handle("/slots/{slotId}/occupy", slotAdmin.then(handlers.OccupySlot(svc))).Methods("PUT")
	api.Handle("/slots/{slotId}/clear", slotAdmin.then(handlers.ClearSlot(svc))).Methods("PUT")
	api.Handle("/slots/{slotId}", slotAdmin.then(handlers.UpdateSlotStatus(svc))).Methods("PUT")

	// Admin endpoints
	api.Handle("/admin/statistics", chain{middleware.Require(auth.CapViewStats)}.then(handlers.Statistics(svc))).Methods("GET")

	// Serve static frontend files
	if cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}
